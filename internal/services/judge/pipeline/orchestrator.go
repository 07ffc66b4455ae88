// Package pipeline orchestrates the end-to-end adjudication run: it
// captures evidence for both activities, compresses it, submits it for
// multimodal reasoning, parses the verdict, and settles the winner on
// chain exactly once per challenge.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/services/judge/adjudicate"
	"github.com/rplusq/run-judge/internal/services/judge/capture"
	"github.com/rplusq/run-judge/internal/services/judge/compress"
	"github.com/rplusq/run-judge/internal/services/judge/domain/challenge"
	"github.com/rplusq/run-judge/internal/services/judge/domain/verdict"
	"github.com/rplusq/run-judge/internal/services/judge/settle"
	"github.com/rplusq/run-judge/internal/services/judge/storage"
)

// Capturer renders one activity page and screenshots it.
type Capturer interface {
	Capture(ctx context.Context, activityID int64) (capture.Evidence, error)
}

// Adjudicator submits compressed evidence to the reasoning model and
// returns the raw concatenated answer text.
type Adjudicator interface {
	Adjudicate(ctx context.Context, rules string, evidence []compress.Compressed) (string, error)
}

// Settler declares the winner on chain and returns the confirmed
// transaction hash. The submitted callback fires with the hash before
// the confirmation wait so the caller can record it durably. Resolve
// classifies chain state for a previously submitted hash.
type Settler interface {
	Declare(ctx context.Context, challengeID, winnerActivityID int64, submitted func(txHash string)) (string, error)
	Resolve(ctx context.Context, txHash string) (settle.Resolution, error)
}

// Result is the outcome of a completed adjudication run.
type Result struct {
	// Verdict holds the parsed model verdict. Zero for replayed runs,
	// where only the durable settlement record survives.
	Verdict verdict.Verdict
	// TxHash is set when a settlement transaction was confirmed, now or
	// in a prior run.
	TxHash string
	// Settled reports whether a winner is recorded on chain.
	Settled bool
	// Replayed reports the run short-circuited on an existing record.
	Replayed bool
	// WinnerActivityID mirrors the verdict winner, or the recorded one
	// for replayed runs. Zero when no winner was declared.
	WinnerActivityID int64
}

// Config configures an Orchestrator.
type Config struct {
	Capturer    Capturer
	Adjudicator Adjudicator
	Settler     Settler
	Store       storage.SettlementStore
	Logger      *log.Logger
}

// Orchestrator runs the adjudication pipeline for challenges.
//
// Concurrency: at most one run per challenge is in flight in this
// process, and settlement submissions are serialized across runs so a
// single signer nonce sequence never races.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	inFlight map[int64]struct{}

	settleMu sync.Mutex

	tracer trace.Tracer
}

// NewOrchestrator validates cfg and builds an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Capturer == nil {
		return nil, fmt.Errorf("capturer is required")
	}
	if cfg.Adjudicator == nil {
		return nil, fmt.Errorf("adjudicator is required")
	}
	if cfg.Settler == nil {
		return nil, fmt.Errorf("settler is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("settlement store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		inFlight: make(map[int64]struct{}),
		tracer:   otel.Tracer("run-judge/pipeline"),
	}, nil
}

// Run executes the full pipeline for one evidence request.
//
// A challenge that already has a durable settlement record
// short-circuits to a replayed Result without touching the browser,
// the model, or the chain. A challenge with a run already in flight
// fails with RUN_IN_PROGRESS.
func (o *Orchestrator) Run(ctx context.Context, req challenge.EvidenceRequest) (Result, error) {
	if err := o.acquire(req.ChallengeID); err != nil {
		return Result{}, err
	}
	defer o.release(req.ChallengeID)

	if rec, err := o.cfg.Store.GetSettlement(ctx, req.ChallengeID); err == nil {
		o.cfg.Logger.Printf("challenge=%d replay: settled in tx %s", req.ChallengeID, rec.TxHash)
		return Result{
			TxHash:           rec.TxHash,
			Settled:          true,
			Replayed:         true,
			WinnerActivityID: rec.WinnerActivityID,
		}, nil
	}

	r := &run{id: uuid.NewString(), state: StateIdle}
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.Int64("challenge.id", req.ChallengeID),
			attribute.String("run.id", r.id),
		))
	defer span.End()

	result, err := o.execute(ctx, r, req)
	if err != nil {
		span.RecordError(err)
		o.fail(r)
		o.cfg.Logger.Printf("challenge=%d run=%s failed in state %s: %v",
			req.ChallengeID, r.id, r.state, err)
		return Result{}, err
	}
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, req challenge.EvidenceRequest) (Result, error) {
	if err := o.advance(r, req.ChallengeID, StateCapturing); err != nil {
		return Result{}, err
	}
	evidence, err := o.captureAll(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if err := o.advance(r, req.ChallengeID, StateCompressing); err != nil {
		return Result{}, err
	}
	compressed, err := o.compressAll(ctx, evidence)
	if err != nil {
		return Result{}, err
	}

	v, err := o.adjudicate(ctx, r, req, compressed)
	if err != nil {
		return Result{}, err
	}

	if !v.HasWinner() {
		if err := o.advance(r, req.ChallengeID, StateSettled); err != nil {
			return Result{}, err
		}
		o.cfg.Logger.Printf("challenge=%d run=%s no valid winner, skipping settlement",
			req.ChallengeID, r.id)
		return Result{Verdict: v}, nil
	}

	txHash, err := o.settle(ctx, r, req.ChallengeID, *v.WinnerActivityID)
	if err != nil {
		return Result{}, err
	}
	if err := o.advance(r, req.ChallengeID, StateSettled); err != nil {
		return Result{}, err
	}
	return Result{
		Verdict:          v,
		TxHash:           txHash,
		Settled:          true,
		WinnerActivityID: *v.WinnerActivityID,
	}, nil
}

// captureAll renders both activity pages concurrently. Each capture
// drives its own browser session, so the two never contend.
func (o *Orchestrator) captureAll(ctx context.Context, req challenge.EvidenceRequest) ([]capture.Evidence, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.capture")
	defer span.End()

	evidence := make([]capture.Evidence, len(req.ActivityIDs))
	errs := make([]error, len(req.ActivityIDs))

	var wg sync.WaitGroup
	for i, activityID := range req.ActivityIDs {
		wg.Add(1)
		go func(i int, activityID int64) {
			defer wg.Done()
			evidence[i], errs[i] = o.cfg.Capturer.Capture(ctx, activityID)
		}(i, activityID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, apperrors.TagPhase(apperrors.PhaseCapture,
				fmt.Errorf("capture activity %d: %w", req.ActivityIDs[i], err))
		}
	}
	return evidence, nil
}

func (o *Orchestrator) compressAll(ctx context.Context, evidence []capture.Evidence) ([]compress.Compressed, error) {
	_, span := o.tracer.Start(ctx, "pipeline.compress")
	defer span.End()

	compressed := make([]compress.Compressed, 0, len(evidence))
	for _, ev := range evidence {
		c, err := compress.Compress(ev)
		if err != nil {
			return nil, apperrors.TagPhase(apperrors.PhaseCompress,
				fmt.Errorf("compress activity %d: %w", ev.ActivityID, err))
		}
		compressed = append(compressed, c)
	}
	return compressed, nil
}

// adjudicate submits evidence and parses the answer. A malformed model
// answer earns exactly one fresh adjudication before the run fails.
func (o *Orchestrator) adjudicate(ctx context.Context, r *run, req challenge.EvidenceRequest, compressed []compress.Compressed) (verdict.Verdict, error) {
	rules := adjudicate.Rules(req.DistanceMeters)

	for {
		if err := o.advance(r, req.ChallengeID, StateAdjudicating); err != nil {
			return verdict.Verdict{}, err
		}

		raw, err := o.invokeModel(ctx, rules, compressed)
		if err != nil {
			// A malformed stream from the model client earns the same
			// single re-adjudication as a malformed parsed answer.
			if apperrors.CodeOf(err) == apperrors.CodeModelOutputMalformed && !r.retried {
				if aerr := o.advance(r, req.ChallengeID, StateParsing); aerr != nil {
					return verdict.Verdict{}, aerr
				}
				o.cfg.Logger.Printf("challenge=%d run=%s malformed model output, re-adjudicating: %v",
					req.ChallengeID, r.id, err)
				continue
			}
			return verdict.Verdict{}, apperrors.TagPhase(apperrors.PhaseAdjudicate, err)
		}

		if err := o.advance(r, req.ChallengeID, StateParsing); err != nil {
			return verdict.Verdict{}, err
		}
		v, err := verdict.Parse(raw, req.ActivityIDs)
		if err == nil {
			return v, nil
		}
		if apperrors.CodeOf(err) != apperrors.CodeModelOutputMalformed || r.retried {
			return verdict.Verdict{}, apperrors.TagPhase(apperrors.PhaseAdjudicate, err)
		}
		o.cfg.Logger.Printf("challenge=%d run=%s malformed model output, re-adjudicating: %v",
			req.ChallengeID, r.id, err)
	}
}

func (o *Orchestrator) invokeModel(ctx context.Context, rules string, compressed []compress.Compressed) (string, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.adjudicate")
	defer span.End()
	return o.cfg.Adjudicator.Adjudicate(ctx, rules, compressed)
}

// settle declares the winner on chain. The settlement mutex and a
// re-check of the durable record make the declare-then-record sequence
// exactly-once across concurrent runs in this process; the store's
// primary key backstops it across processes.
func (o *Orchestrator) settle(ctx context.Context, r *run, challengeID, winnerActivityID int64) (string, error) {
	if err := o.advance(r, challengeID, StateSettling); err != nil {
		return "", err
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.settle")
	defer span.End()

	o.settleMu.Lock()
	defer o.settleMu.Unlock()

	if rec, err := o.cfg.Store.GetSettlement(ctx, challengeID); err == nil {
		o.cfg.Logger.Printf("challenge=%d run=%s settled concurrently in tx %s", challengeID, r.id, rec.TxHash)
		return rec.TxHash, nil
	}

	// A prior attempt with a recorded hash means an earlier submission
	// ended ambiguously. Chain state decides before anything is
	// re-submitted: a successful receipt is adopted as the settlement.
	if attempt, err := o.cfg.Store.GetAttempt(ctx, challengeID); err == nil && attempt.TxHash != "" {
		o.cfg.Logger.Printf("challenge=%d run=%s resolving prior settlement attempt tx=%s from %s",
			challengeID, r.id, attempt.TxHash, attempt.StartedAt.Format(time.RFC3339))
		recovered, err := o.resolveAttempt(ctx, challengeID, winnerActivityID, attempt.TxHash)
		if err != nil {
			return "", err
		}
		if recovered {
			o.cfg.Logger.Printf("challenge=%d run=%s adopted prior confirmed tx %s",
				challengeID, r.id, attempt.TxHash)
			return attempt.TxHash, nil
		}
	}

	if err := o.cfg.Store.MarkAttempt(ctx, storage.SettlementAttempt{ChallengeID: challengeID}); err != nil {
		return "", apperrors.TagPhase(apperrors.PhaseSettle, err)
	}

	txHash, err := o.cfg.Settler.Declare(ctx, challengeID, winnerActivityID, func(hash string) {
		if err := o.cfg.Store.MarkAttempt(ctx, storage.SettlementAttempt{
			ChallengeID: challengeID,
			TxHash:      hash,
		}); err != nil {
			o.cfg.Logger.Printf("challenge=%d run=%s failed to record submitted tx %s: %v",
				challengeID, r.id, hash, err)
		}
	})
	if err != nil {
		return "", apperrors.TagPhase(apperrors.PhaseSettle, err)
	}

	if err := o.cfg.Store.PutSettlement(ctx, storage.SettlementRecord{
		ChallengeID:      challengeID,
		WinnerActivityID: winnerActivityID,
		TxHash:           txHash,
	}); err != nil {
		// The transaction is on chain; surface the storage fault but
		// keep the hash in the log for manual reconciliation.
		o.cfg.Logger.Printf("challenge=%d run=%s confirmed tx %s but record write failed: %v",
			challengeID, r.id, txHash, err)
		return "", apperrors.TagPhase(apperrors.PhaseSettle, err)
	}

	o.cfg.Logger.Printf("challenge=%d run=%s settled winner=%d tx=%s",
		challengeID, r.id, winnerActivityID, txHash)
	return txHash, nil
}

// resolveAttempt checks chain state for a previously submitted hash.
// A confirmed receipt is recorded as the settlement; a reverted or
// still-unknown transaction leaves the challenge open for a fresh
// submission.
func (o *Orchestrator) resolveAttempt(ctx context.Context, challengeID, winnerActivityID int64, txHash string) (bool, error) {
	res, err := o.cfg.Settler.Resolve(ctx, txHash)
	if err != nil {
		return false, apperrors.TagPhase(apperrors.PhaseSettle, err)
	}
	switch res {
	case settle.ResolutionConfirmed:
		if err := o.cfg.Store.PutSettlement(ctx, storage.SettlementRecord{
			ChallengeID:      challengeID,
			WinnerActivityID: winnerActivityID,
			TxHash:           txHash,
		}); err != nil {
			return false, apperrors.TagPhase(apperrors.PhaseSettle, err)
		}
		return true, nil
	case settle.ResolutionReverted:
		o.cfg.Logger.Printf("challenge=%d prior tx %s reverted, submitting fresh declaration", challengeID, txHash)
		return false, nil
	default:
		o.cfg.Logger.Printf("challenge=%d prior tx %s not found on chain, submitting fresh declaration", challengeID, txHash)
		return false, nil
	}
}

func (o *Orchestrator) advance(r *run, challengeID int64, to State) error {
	from := r.state
	if err := r.advance(to); err != nil {
		return err
	}
	o.cfg.Logger.Printf("challenge=%d run=%s %s -> %s", challengeID, r.id, from, to)
	return nil
}

func (o *Orchestrator) fail(r *run) {
	if r.state.Terminal() {
		return
	}
	// Failure is reachable from every non-terminal state.
	r.state = StateFailed
}

func (o *Orchestrator) acquire(challengeID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[challengeID]; ok {
		return apperrors.New(apperrors.CodeRunInProgress,
			fmt.Sprintf("challenge %d already has a run in flight", challengeID))
	}
	o.inFlight[challengeID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(challengeID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, challengeID)
}
