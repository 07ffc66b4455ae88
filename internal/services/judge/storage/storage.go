// Package storage defines durable persistence for settlement outcomes.
//
// The settlement store is the primary defense against double
// settlement: the orchestrator consults it before entering the
// settling stage and records the confirmed transaction atomically.
package storage

import (
	"context"
	"time"
)

// SettlementRecord is the terminal state of a settled challenge.
type SettlementRecord struct {
	ChallengeID      int64
	WinnerActivityID int64
	TxHash           string
	ConfirmedAt      time.Time
}

// SettlementAttempt marks that settlement was started for a challenge,
// written before the transaction is submitted so an ambiguous crash or
// timeout leaves a durable trace. TxHash is filled in as soon as the
// transaction is on the wire, giving a later run something to resolve
// against chain state.
type SettlementAttempt struct {
	ChallengeID int64
	TxHash      string
	StartedAt   time.Time
}

// SettlementStore persists settlement records and attempt markers.
type SettlementStore interface {
	// GetSettlement returns the record for a challenge, or a NOT_FOUND
	// domain error when none exists.
	GetSettlement(ctx context.Context, challengeID int64) (SettlementRecord, error)
	// PutSettlement records a confirmed settlement. Writing a second
	// record for the same challenge is an error.
	PutSettlement(ctx context.Context, record SettlementRecord) error
	// MarkAttempt durably notes that settlement is being attempted.
	// Re-marking an existing attempt is allowed.
	MarkAttempt(ctx context.Context, attempt SettlementAttempt) error
	// GetAttempt returns the attempt marker for a challenge, or a
	// NOT_FOUND domain error when none exists.
	GetAttempt(ctx context.Context, challengeID int64) (SettlementAttempt, error)
}
