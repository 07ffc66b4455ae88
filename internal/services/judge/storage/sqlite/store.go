// Package sqlite provides SQLite-backed settlement persistence.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/platform/storage/sqlitemigrate"
	"github.com/rplusq/run-judge/internal/services/judge/storage"
	"github.com/rplusq/run-judge/internal/services/judge/storage/sqlite/migrations"
)

// Store provides SQLite-backed persistence for settlement records.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at the provided path and applies pending
// migrations. Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetSettlement fetches the settlement record for a challenge.
func (s *Store) GetSettlement(ctx context.Context, challengeID int64) (storage.SettlementRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SettlementRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SettlementRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT challenge_id, winner_activity_id, tx_hash, confirmed_at
FROM settlements
WHERE challenge_id = ?
`, challengeID)

	var rec storage.SettlementRecord
	var confirmedAt int64
	if err := row.Scan(&rec.ChallengeID, &rec.WinnerActivityID, &rec.TxHash, &confirmedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SettlementRecord{}, apperrors.New(apperrors.CodeNotFound,
				fmt.Sprintf("no settlement for challenge %d", challengeID))
		}
		return storage.SettlementRecord{}, apperrors.Wrap(apperrors.CodeStorageFailure, "get settlement", err)
	}
	rec.ConfirmedAt = fromMillis(confirmedAt)
	return rec, nil
}

// PutSettlement records a confirmed settlement. The primary key makes a
// duplicate write fail rather than overwrite, preserving the
// settle-once invariant at the storage layer.
func (s *Store) PutSettlement(ctx context.Context, record storage.SettlementRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if record.ChallengeID <= 0 {
		return fmt.Errorf("challenge id is required")
	}
	if record.WinnerActivityID <= 0 {
		return fmt.Errorf("winner activity id is required")
	}
	if strings.TrimSpace(record.TxHash) == "" {
		return fmt.Errorf("transaction hash is required")
	}
	if record.ConfirmedAt.IsZero() {
		record.ConfirmedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settlements (challenge_id, winner_activity_id, tx_hash, confirmed_at)
VALUES (?, ?, ?, ?)
`,
		record.ChallengeID,
		record.WinnerActivityID,
		record.TxHash,
		toMillis(record.ConfirmedAt),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "put settlement", err)
	}
	return nil
}

// MarkAttempt durably notes that settlement is underway for a
// challenge.
func (s *Store) MarkAttempt(ctx context.Context, attempt storage.SettlementAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if attempt.ChallengeID <= 0 {
		return fmt.Errorf("challenge id is required")
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now().UTC()
	}

	// A re-mark without a hash must not erase a previously recorded one.
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settlement_attempts (challenge_id, tx_hash, started_at)
VALUES (?, ?, ?)
ON CONFLICT(challenge_id) DO UPDATE SET
    started_at = excluded.started_at,
    tx_hash = CASE WHEN excluded.tx_hash != '' THEN excluded.tx_hash ELSE tx_hash END
`, attempt.ChallengeID, attempt.TxHash, toMillis(attempt.StartedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "mark settlement attempt", err)
	}
	return nil
}

// GetAttempt fetches the attempt marker for a challenge.
func (s *Store) GetAttempt(ctx context.Context, challengeID int64) (storage.SettlementAttempt, error) {
	if err := ctx.Err(); err != nil {
		return storage.SettlementAttempt{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SettlementAttempt{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT challenge_id, tx_hash, started_at FROM settlement_attempts WHERE challenge_id = ?
`, challengeID)

	var attempt storage.SettlementAttempt
	var startedAt int64
	if err := row.Scan(&attempt.ChallengeID, &attempt.TxHash, &startedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SettlementAttempt{}, apperrors.New(apperrors.CodeNotFound,
				fmt.Sprintf("no settlement attempt for challenge %d", challengeID))
		}
		return storage.SettlementAttempt{}, apperrors.Wrap(apperrors.CodeStorageFailure, "get settlement attempt", err)
	}
	attempt.StartedAt = fromMillis(startedAt)
	return attempt, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
