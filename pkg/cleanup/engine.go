package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/registry"
)

const (
	defaultHistoryLimit = 256
	defaultStaleAfter   = time.Hour
)

// Engine executes cleanup transactions against the external registry. A
// transaction walks five phases: validate, snapshot, execute, verify,
// finalize. The ledger is only updated in finalize, and only when every
// removal was verified; any failure or panic leaves the ledger exactly as
// it was.
type Engine struct {
	ledger *ledger.Ledger
	store  registry.Store
	logger zerolog.Logger

	metrics Metrics
	events  EventPublisher
	history HistorySink

	historyLimit int
	staleAfter   time.Duration

	// mu protects the claim table, active transactions, recent history,
	// and the cumulative counters.
	mu       sync.RWMutex
	inflight map[string]string
	active   map[string]*Transaction
	recent   []*Transaction

	totalTransactions  int
	committed          int
	rolledBack         int
	emergencyRollbacks int
	validationFailures int
}

// NewEngine creates a cleanup engine operating on the given ledger and
// registry store.
func NewEngine(led *ledger.Ledger, store registry.Store, logger zerolog.Logger, opts Options) *Engine {
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	return &Engine{
		ledger:       led,
		store:        store,
		logger:       logger.With().Str("component", "cleanup_engine").Logger(),
		metrics:      opts.Metrics,
		events:       opts.Events,
		history:      opts.History,
		historyLimit: historyLimit,
		staleAfter:   staleAfter,
		inflight:     make(map[string]string),
		active:       make(map[string]*Transaction),
	}
}

// ExecuteCleanup runs one atomic cleanup transaction over the given
// entities. Duplicate IDs are collapsed. The call blocks until the
// transaction reaches a terminal state and always returns a Result; errors
// are reported through the result status rather than an error return so
// callers always receive the per-entity breakdown.
func (e *Engine) ExecuteCleanup(ctx context.Context, entityIDs []string, reason string) *Result {
	start := time.Now()
	targets := dedupeIDs(entityIDs)

	tx, rejection := e.validateAndClaim(targets, reason)
	if rejection != nil {
		rejection.Duration = time.Since(start)
		if e.metrics != nil {
			e.metrics.RecordError(string(ErrorClassPermanent), ErrCodeValidation)
		}
		e.logger.Warn().
			Str("reason", reason).
			Str("error", rejection.Error).
			Msg("cleanup request rejected in validation")
		return rejection
	}

	logger := e.logger.With().Str("transaction_id", tx.ID).Logger()
	logger.Info().
		Int("entities", len(targets)).
		Str("reason", reason).
		Msg("cleanup transaction started")

	if e.metrics != nil {
		e.metrics.RecordTransactionStarted()
	}
	if e.events != nil {
		_ = e.events.PublishCleanupStarted(tx.ID, len(targets), reason)
	}

	outcome := e.runPhases(ctx, tx, logger)
	return e.finalize(ctx, tx, outcome, start, logger)
}

// phaseOutcome carries the verified result of phases two through four into
// finalize.
type phaseOutcome struct {
	successes []string
	failures  []RemovalFailure
	emergency error
}

// validateAndClaim checks every target and atomically claims them for a new
// transaction. Validation and claiming happen under one lock acquisition so
// two concurrent requests for the same entity cannot both pass: the loser
// sees the winner's claim and is rejected. On rejection no transaction is
// allocated and the returned result carries the failed validate phase.
func (e *Engine) validateAndClaim(targets []string, reason string) (*Transaction, *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reject := func(msg string) *Result {
		e.validationFailures++
		return &Result{
			Status: ResultValidationFailed,
			Phases: []PhaseResult{{
				Phase:       PhaseValidate,
				OK:          false,
				Error:       msg,
				CompletedAt: time.Now().UTC(),
			}},
			Error: msg,
		}
	}

	if len(targets) == 0 {
		return nil, reject("no entities requested")
	}
	for _, id := range targets {
		rec := e.ledger.Provenance(id)
		if rec == nil {
			return nil, reject(fmt.Sprintf("entity not tracked: %s", id))
		}
		if rec.VerifiedRemoved {
			return nil, reject(fmt.Sprintf("entity already verified removed: %s", id))
		}
		if holder, claimed := e.inflight[id]; claimed {
			return nil, reject(fmt.Sprintf("entity %s claimed by transaction %s", id, holder))
		}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:        uuid.New().String(),
		EntityIDs: targets,
		Reason:    reason,
		Status:    StatusInProgress,
		StartedAt: now,
		Phases: []PhaseResult{{
			Phase:       PhaseValidate,
			OK:          true,
			Detail:      fmt.Sprintf("%d entities tracked and unclaimed", len(targets)),
			CompletedAt: now,
		}},
	}
	for _, id := range targets {
		e.inflight[id] = tx.ID
	}
	e.active[tx.ID] = tx
	e.totalTransactions++
	return tx, nil
}

// runPhases executes snapshot, execute, and verify. Any panic is converted
// into an emergency outcome so finalize always runs and the claim table is
// always released.
func (e *Engine) runPhases(ctx context.Context, tx *Transaction, logger zerolog.Logger) (out phaseOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.emergency = NewPermanentError(fmt.Sprintf("panic during cleanup: %v", r), nil).
				WithCode(ErrCodeInternal)
			logger.Error().Interface("panic", r).Msg("cleanup transaction panicked")
		}
	}()

	// Phase 2: snapshot the registry state of every target. A transport
	// failure here means the registry is unreachable, so the whole
	// transaction aborts.
	snapshot := make(map[string]*registry.Entity, len(tx.EntityIDs))
	for _, id := range tx.EntityIDs {
		entity, err := e.store.Get(ctx, id)
		if err != nil {
			e.recordPhase(tx, PhaseSnapshot, false, "", fmt.Sprintf("snapshot of %s failed: %v", id, err))
			out.emergency = NewTransientError("failed to snapshot entity", err).
				WithEntity(id).
				WithOperation("snapshot").
				WithCode(ErrCodeTransport)
			return out
		}
		snapshot[id] = entity
	}
	e.setSnapshot(tx, snapshot)
	e.recordPhase(tx, PhaseSnapshot, true, fmt.Sprintf("captured %d entities", len(snapshot)), "")

	// Phase 3: remove every target. Removal errors are collected, never
	// short-circuited, so the result reports the complete breakdown.
	removed := make([]string, 0, len(tx.EntityIDs))
	var failures []RemovalFailure
	for _, id := range tx.EntityIDs {
		if err := e.store.Remove(ctx, id); err != nil {
			failures = append(failures, RemovalFailure{EntityID: id, Reason: err.Error()})
			if e.metrics != nil {
				e.metrics.RecordEntityRemoval("failure")
			}
			logger.Warn().Err(err).Str("entity_id", id).Msg("entity removal failed")
			continue
		}
		removed = append(removed, id)
	}
	e.recordPhase(tx, PhaseExecute, len(failures) == 0,
		fmt.Sprintf("%d removed, %d failed", len(removed), len(failures)), "")

	// Phase 4: re-read every reported removal. An entity still present is a
	// failed removal regardless of what Remove claimed. Transport failures
	// abort: an unverifiable transaction must not commit.
	verified := make([]string, 0, len(removed))
	for _, id := range removed {
		entity, err := e.store.Get(ctx, id)
		if err != nil {
			e.recordPhase(tx, PhaseVerify, false, "", fmt.Sprintf("verification of %s failed: %v", id, err))
			out.emergency = NewTransientError("failed to verify removal", err).
				WithEntity(id).
				WithOperation("verify").
				WithCode(ErrCodeTransport)
			return out
		}
		if entity != nil {
			failures = append(failures, RemovalFailure{EntityID: id, Reason: "entity still present after removal"})
			if e.metrics != nil {
				e.metrics.RecordEntityRemoval("unverified")
			}
			logger.Warn().Str("entity_id", id).Msg("entity still present after removal")
			continue
		}
		verified = append(verified, id)
		if e.metrics != nil {
			e.metrics.RecordEntityRemoval("success")
		}
	}
	e.recordPhase(tx, PhaseVerify, len(failures) == 0,
		fmt.Sprintf("%d verified absent", len(verified)), "")

	out.successes = verified
	out.failures = failures
	return out
}

// finalize commits or rolls back, releases the claims, and builds the
// caller-facing result. The ledger is touched only on the commit path.
func (e *Engine) finalize(ctx context.Context, tx *Transaction, out phaseOutcome, start time.Time, logger zerolog.Logger) *Result {
	duration := time.Since(start)

	switch {
	case out.emergency != nil:
		errMsg := out.emergency.Error()
		e.recordPhase(tx, PhaseFinalize, false, "emergency rollback, ledger untouched", errMsg)
		e.completeTransaction(tx, StatusRolledBack, out.successes, out.failures, errMsg, true)
		e.archive(ctx, tx)

		if e.metrics != nil {
			e.metrics.RecordTransactionCompleted(string(ResultEmergencyRollback), duration)
			var lerr *LifecycleError
			if errors.As(out.emergency, &lerr) {
				e.metrics.RecordError(string(lerr.Class), lerr.Code)
			}
		}
		if e.events != nil {
			_ = e.events.PublishEmergencyRollback(tx.ID, errMsg)
		}
		logger.Error().Str("error", errMsg).Msg("cleanup transaction aborted with emergency rollback")

		return &Result{
			Status:             ResultEmergencyRollback,
			TransactionID:      tx.ID,
			SuccessCount:       len(out.successes),
			FailureCount:       len(out.failures),
			SuccessfulRemovals: out.successes,
			FailedRemovals:     out.failures,
			Phases:             e.phasesCopy(tx),
			Duration:           duration,
			Error:              errMsg,
		}

	case len(out.failures) > 0:
		errMsg := fmt.Sprintf("%d of %d removals failed", len(out.failures), len(tx.EntityIDs))
		e.recordPhase(tx, PhaseFinalize, false, "rolled back, ledger untouched", errMsg)
		e.completeTransaction(tx, StatusRolledBack, out.successes, out.failures, errMsg, false)
		e.archive(ctx, tx)

		if e.metrics != nil {
			e.metrics.RecordTransactionCompleted(string(ResultRolledBack), duration)
		}
		if e.events != nil {
			_ = e.events.PublishCleanupRolledBack(tx.ID, len(out.failures), errMsg)
		}
		logger.Warn().
			Int("succeeded", len(out.successes)).
			Int("failed", len(out.failures)).
			Msg("cleanup transaction rolled back")

		return &Result{
			Status:             ResultRolledBack,
			TransactionID:      tx.ID,
			SuccessCount:       len(out.successes),
			FailureCount:       len(out.failures),
			SuccessfulRemovals: out.successes,
			FailedRemovals:     out.failures,
			Phases:             e.phasesCopy(tx),
			Duration:           duration,
			Error:              errMsg,
		}

	default:
		if !e.completeTransaction(tx, StatusCommitted, out.successes, nil, "", false) {
			// Force released while the phases were running. The release
			// already rolled the transaction back, so the ledger stays
			// untouched.
			errMsg := "transaction force released before commit"
			e.recordPhase(tx, PhaseFinalize, false, "", errMsg)
			logger.Warn().Msg("cleanup transaction force released before commit")
			return &Result{
				Status:             ResultRolledBack,
				TransactionID:      tx.ID,
				SuccessCount:       len(out.successes),
				SuccessfulRemovals: out.successes,
				Phases:             e.phasesCopy(tx),
				Duration:           duration,
				Error:              errMsg,
			}
		}
		for _, id := range out.successes {
			e.ledger.VerifyCleanupCompletion(id)
		}
		e.recordPhase(tx, PhaseFinalize, true,
			fmt.Sprintf("committed, %d removals verified in ledger", len(out.successes)), "")
		e.archive(ctx, tx)

		if e.metrics != nil {
			e.metrics.RecordTransactionCompleted(string(StatusCommitted), duration)
			e.metrics.SetCleanupCandidates(float64(len(e.ledger.CleanupCandidates())))
		}
		if e.events != nil {
			_ = e.events.PublishCleanupCommitted(tx.ID, len(out.successes), duration)
		}
		logger.Info().
			Int("entities", len(out.successes)).
			Dur("duration", duration).
			Msg("cleanup transaction committed")

		return &Result{
			Status:             ResultSuccess,
			TransactionID:      tx.ID,
			SuccessCount:       len(out.successes),
			SuccessfulRemovals: out.successes,
			Phases:             e.phasesCopy(tx),
			Duration:           duration,
		}
	}
}

// recordPhase appends a tagged phase result to the transaction.
func (e *Engine) recordPhase(tx *Transaction, phase Phase, ok bool, detail, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx.Phases = append(tx.Phases, PhaseResult{
		Phase:       phase,
		OK:          ok,
		Detail:      detail,
		Error:       errMsg,
		CompletedAt: time.Now().UTC(),
	})
}

// setSnapshot attaches the pre-execution registry snapshot.
func (e *Engine) setSnapshot(tx *Transaction, snapshot map[string]*registry.Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx.Snapshot = snapshot
}

// phasesCopy returns a copy of the transaction's phase results.
func (e *Engine) phasesCopy(tx *Transaction) []PhaseResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PhaseResult, len(tx.Phases))
	copy(out, tx.Phases)
	return out
}

// completeTransaction moves a transaction to a terminal status, releases
// its claims, and appends it to the bounded recent history. It reports
// false when the transaction was already terminal so a force release and a
// late finalize cannot double-count.
func (e *Engine) completeTransaction(tx *Transaction, status TransactionStatus, successes []string, failures []RemovalFailure, errMsg string, emergency bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completeLocked(tx, status, successes, failures, errMsg, emergency)
}

func (e *Engine) completeLocked(tx *Transaction, status TransactionStatus, successes []string, failures []RemovalFailure, errMsg string, emergency bool) bool {
	if tx.Status.IsTerminal() {
		return false
	}

	now := time.Now().UTC()
	tx.Status = status
	tx.CompletedAt = &now
	tx.SuccessfulRemovals = successes
	tx.FailedRemovals = failures
	tx.Error = errMsg

	for _, id := range tx.EntityIDs {
		if e.inflight[id] == tx.ID {
			delete(e.inflight, id)
		}
	}
	delete(e.active, tx.ID)

	e.recent = append(e.recent, tx)
	if len(e.recent) > e.historyLimit {
		e.recent = e.recent[len(e.recent)-e.historyLimit:]
	}

	switch {
	case status == StatusCommitted:
		e.committed++
	case emergency:
		e.emergencyRollbacks++
	default:
		e.rolledBack++
	}
	return true
}

// archive hands a terminal transaction and the ledger records it touched to
// the history sink. Archive failures are logged, never propagated: the
// transaction outcome is already decided.
func (e *Engine) archive(ctx context.Context, tx *Transaction) {
	if e.history == nil {
		return
	}

	records := make([]*ledger.Record, 0, len(tx.EntityIDs))
	for _, id := range tx.EntityIDs {
		if rec := e.ledger.Provenance(id); rec != nil {
			records = append(records, rec)
		}
	}

	if err := e.history.ArchiveTransaction(ctx, e.transactionCopy(tx), records); err != nil {
		e.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("failed to archive transaction")
	}
}

// Transaction returns a copy of a transaction by ID, active or recent, or
// nil when the engine does not know it.
func (e *Engine) Transaction(id string) *Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if tx, ok := e.active[id]; ok {
		return e.transactionCopyLocked(tx)
	}
	for i := len(e.recent) - 1; i >= 0; i-- {
		if e.recent[i].ID == id {
			return e.transactionCopyLocked(e.recent[i])
		}
	}
	return nil
}

// RecentTransactions returns copies of the most recent terminal
// transactions, newest first, up to limit. A non-positive limit returns
// everything retained.
func (e *Engine) RecentTransactions(limit int) []*Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Transaction, 0, n)
	for i := len(e.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.transactionCopyLocked(e.recent[i]))
	}
	return out
}

// Statistics returns the engine's cumulative counters.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Statistics{
		TotalTransactions:  e.totalTransactions,
		Committed:          e.committed,
		RolledBack:         e.rolledBack,
		EmergencyRollbacks: e.emergencyRollbacks,
		ValidationFailures: e.validationFailures,
		InProgress:         len(e.active),
	}
	terminal := e.committed + e.rolledBack + e.emergencyRollbacks
	if terminal > 0 {
		stats.SuccessRate = float64(e.committed) / float64(terminal)
	}
	return stats
}

// CheckIntegrity reports transactions stuck in a non-terminal state beyond
// the stale deadline.
func (e *Engine) CheckIntegrity() []IntegrityIssue {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	var issues []IntegrityIssue
	for _, tx := range e.active {
		age := now.Sub(tx.StartedAt)
		if age > e.staleAfter {
			ids := make([]string, len(tx.EntityIDs))
			copy(ids, tx.EntityIDs)
			issues = append(issues, IntegrityIssue{
				TransactionID: tx.ID,
				Status:        tx.Status,
				Age:           age,
				EntityIDs:     ids,
			})
		}
	}
	return issues
}

// ReleaseStaleTransactions force-rolls-back every transaction stuck beyond
// the stale deadline, releasing its entity claims so new cleanups can
// target them. It returns the number of transactions released.
func (e *Engine) ReleaseStaleTransactions(ctx context.Context) int {
	e.mu.Lock()
	now := time.Now()
	var released []*Transaction
	for _, tx := range e.active {
		if now.Sub(tx.StartedAt) > e.staleAfter {
			e.completeLocked(tx, StatusRolledBack, nil, nil, "transaction exceeded stale deadline, force released", false)
			released = append(released, tx)
		}
	}
	e.mu.Unlock()

	for _, tx := range released {
		e.logger.Warn().
			Str("transaction_id", tx.ID).
			Msg("stale transaction force released")
		if e.metrics != nil {
			e.metrics.RecordStaleTransactionReleased()
		}
		e.archive(ctx, tx)
	}
	return len(released)
}

// transactionCopy returns a deep copy safe to hand outside the engine.
func (e *Engine) transactionCopy(tx *Transaction) *Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transactionCopyLocked(tx)
}

func (e *Engine) transactionCopyLocked(tx *Transaction) *Transaction {
	out := *tx
	out.EntityIDs = append([]string(nil), tx.EntityIDs...)
	out.Phases = append([]PhaseResult(nil), tx.Phases...)
	out.SuccessfulRemovals = append([]string(nil), tx.SuccessfulRemovals...)
	out.FailedRemovals = append([]RemovalFailure(nil), tx.FailedRemovals...)
	if tx.Snapshot != nil {
		out.Snapshot = make(map[string]*registry.Entity, len(tx.Snapshot))
		for k, v := range tx.Snapshot {
			out.Snapshot[k] = v
		}
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// dedupeIDs collapses duplicates preserving first-occurrence order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
