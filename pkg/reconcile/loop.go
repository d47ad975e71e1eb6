// Package reconcile implements the state reconciliation loop. Each cycle
// compares the creation ledger against the external registry, classifies
// every divergence, and applies policy-gated corrections where a safe
// automated correction exists.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/cleanup"
	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/policy"
	"github.com/entwarden/entwarden/pkg/registry"
)

const (
	defaultInterval          = 5 * time.Minute
	defaultHistoryLimit      = 512
	defaultDegradedThreshold = 10

	// criticalRateThreshold is the historical critical issues per cycle
	// above which health degrades even with none currently active.
	criticalRateThreshold = 0.25

	// adoptionOwner is recorded on ledger records the loop creates when it
	// adopts an orphan prior to removal.
	adoptionOwner = "reconciler"
)

// Loop runs reconciliation cycles against a ledger and a registry store.
type Loop struct {
	ledger  *ledger.Ledger
	store   registry.Store
	cleaner Cleaner
	gate    CorrectionGate
	logger  zerolog.Logger

	metrics  Metrics
	events   EventPublisher
	archiver Archiver

	interval          time.Duration
	autoCorrect       bool
	historyLimit      int
	degradedThreshold int

	// cycleMu serializes cycles: a manual cycle never interleaves with a
	// scheduled one.
	cycleMu sync.Mutex

	// mu protects the maps, history, and counters below.
	mu              sync.RWMutex
	active          map[string]*Inconsistency
	history         []*Inconsistency
	resolvedInCycle []*Inconsistency

	cyclesRun          int
	totalDetected      int
	totalResolved      int
	correctionsApplied int
	correctionsDenied  int
	correctionsFailed  int
	criticalIssues     int
	lastCycleAt        time.Time
	lastCycleDuration  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLoop creates a reconciliation loop. Detection always runs; corrections
// only run when opts.AutoCorrect is set.
func NewLoop(led *ledger.Ledger, store registry.Store, cleaner Cleaner, logger zerolog.Logger, opts Options) *Loop {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	degradedThreshold := opts.DegradedThreshold
	if degradedThreshold <= 0 {
		degradedThreshold = defaultDegradedThreshold
	}

	return &Loop{
		ledger:            led,
		store:             store,
		cleaner:           cleaner,
		gate:              opts.Gate,
		logger:            logger.With().Str("component", "reconcile_loop").Logger(),
		metrics:           opts.Metrics,
		events:            opts.Events,
		archiver:          opts.Archiver,
		interval:          interval,
		autoCorrect:       opts.AutoCorrect,
		historyLimit:      historyLimit,
		degradedThreshold: degradedThreshold,
		active:            make(map[string]*Inconsistency),
		stop:              make(chan struct{}),
	}
}

// Start launches the scheduled cycle runner. The first cycle runs
// immediately; later ones follow the configured interval.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	if _, err := l.RunCycle(ctx, TriggerScheduled); err != nil {
		l.logger.Error().Err(err).Msg("reconciliation cycle failed")
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			if _, err := l.RunCycle(ctx, TriggerScheduled); err != nil {
				l.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		}
	}
}

// Stop halts the scheduled runner and waits for an in-flight cycle to
// finish, honoring the context deadline.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmergencyReconcile runs a cycle immediately, serialized with any
// scheduled cycle in flight.
func (l *Loop) EmergencyReconcile(ctx context.Context) (*Report, error) {
	return l.RunCycle(ctx, TriggerManual)
}

// detection is one classified divergence within a cycle, with the facts the
// correction step needs.
type detection struct {
	kind       InconsistencyKind
	detail     string
	platform   string
	owner      string
	disabledBy string
}

type correctionOutcome int

const (
	outcomeApplied correctionOutcome = iota
	outcomeDenied
	outcomeFailed
)

// RunCycle executes one full reconciliation cycle and returns its report.
// The cycle aborts with an error only when the registry cannot be listed;
// per-entity read failures are logged and skipped.
func (l *Loop) RunCycle(ctx context.Context, trigger Trigger) (*Report, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	start := time.Now()
	cycleID := uuid.New().String()
	logger := l.logger.With().Str("cycle_id", cycleID).Str("trigger", string(trigger)).Logger()

	if l.events != nil {
		_ = l.events.PublishCycleStarted(cycleID, string(trigger))
	}
	logger.Info().Msg("reconciliation cycle started")

	l.mu.Lock()
	l.resolvedInCycle = nil
	l.mu.Unlock()

	external, err := l.store.ListAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list registry entities, cycle aborted")
		return nil, fmt.Errorf("failed to list registry entities: %w", err)
	}
	tracked := l.ledger.TrackedEntityIDs()

	detections := l.classify(ctx, logger, external, tracked)

	newCount, resolvedCount := l.mergeDetections(cycleID, detections, logger)

	corrected, denied, failed := l.applyCorrections(ctx, logger, cycleID, detections)
	resolvedCount += corrected

	duration := time.Since(start)

	l.mu.Lock()
	l.cyclesRun++
	l.lastCycleAt = time.Now().UTC()
	l.lastCycleDuration = duration
	l.correctionsApplied += corrected
	l.correctionsDenied += denied
	l.correctionsFailed += failed

	activeByKind := map[InconsistencyKind]int{
		KindOrphaned:             0,
		KindZombie:               0,
		KindPendingCleanupStuck:  0,
		KindDisabledUnexpectedly: 0,
	}
	criticalActive := 0
	for _, inc := range l.active {
		activeByKind[inc.Kind]++
		if inc.Severity == SeverityCritical || inc.Kind == KindZombie {
			criticalActive++
		}
	}
	activeTotal := len(l.active)

	affected := make([]*Inconsistency, 0, activeTotal+len(l.resolvedInCycle))
	for _, inc := range l.active {
		affected = append(affected, copyInconsistency(inc))
	}
	for _, inc := range l.resolvedInCycle {
		affected = append(affected, copyInconsistency(inc))
	}
	l.mu.Unlock()

	sort.Slice(affected, func(i, j int) bool { return affected[i].EntityID < affected[j].EntityID })

	detectedByKind := make(map[InconsistencyKind]int)
	for _, det := range detections {
		detectedByKind[det.kind]++
	}

	report := &Report{
		CycleID:          cycleID,
		Trigger:          trigger,
		StartedAt:        start.UTC(),
		Duration:         duration,
		ExternalEntities: len(external),
		TrackedEntities:  len(tracked),
		Detected:         detectedByKind,
		New:              newCount,
		Resolved:         resolvedCount,
		Corrected:        corrected,
		Denied:           denied,
		Failed:           failed,
		CriticalIssues:   criticalActive,
		ActiveTotal:      activeTotal,
	}
	if len(external) > 0 {
		report.Coverage = float64(len(tracked)) / float64(len(external))
	}
	if len(tracked) > 0 {
		report.InverseCoverage = float64(len(external)) / float64(len(tracked))
	}

	if l.metrics != nil {
		l.metrics.RecordCycleCompleted(string(trigger), duration)
		l.metrics.SetExternalEntities(float64(len(external)))
		l.metrics.SetTrackedEntities(float64(len(tracked)))
		for kind, count := range activeByKind {
			l.metrics.SetActiveInconsistencies(string(kind), float64(count))
		}
	}
	if l.events != nil {
		_ = l.events.PublishCycleCompleted(cycleID, len(detections), duration)
	}
	if l.archiver != nil {
		if err := l.archiver.ArchiveCycle(ctx, report, affected); err != nil {
			logger.Warn().Err(err).Msg("failed to archive cycle")
		}
	}

	logger.Info().
		Int("external", len(external)).
		Int("tracked", len(tracked)).
		Int("detected", len(detections)).
		Int("new", newCount).
		Int("resolved", resolvedCount).
		Int("corrected", corrected).
		Dur("duration", duration).
		Msg("reconciliation cycle completed")

	return report, nil
}

// classify buckets every entity into at most one inconsistency kind.
// Presence in the registry decides between orphan and zombie; candidacy and
// the disabled flag split the remaining tracked entities.
func (l *Loop) classify(ctx context.Context, logger zerolog.Logger, external, tracked []string) map[string]detection {
	externalSet := make(map[string]struct{}, len(external))
	for _, id := range external {
		externalSet[id] = struct{}{}
	}
	trackedSet := make(map[string]struct{}, len(tracked))
	for _, id := range tracked {
		trackedSet[id] = struct{}{}
	}
	candidateSet := make(map[string]struct{})
	for _, id := range l.ledger.CleanupCandidates() {
		candidateSet[id] = struct{}{}
	}

	detections := make(map[string]detection)

	for _, id := range external {
		if _, ok := trackedSet[id]; ok {
			continue
		}
		det := detection{
			kind:   KindOrphaned,
			detail: "entity present in registry with no ledger record",
		}
		if entity, err := l.store.Get(ctx, id); err == nil && entity != nil {
			det.platform = entity.Platform
		}
		detections[id] = det
	}

	for _, id := range tracked {
		owner := ""
		if rec := l.ledger.Provenance(id); rec != nil {
			owner = rec.Owner
		}

		if _, ok := externalSet[id]; !ok {
			detections[id] = detection{
				kind:   KindZombie,
				detail: "active ledger record but entity missing from registry",
				owner:  owner,
			}
			continue
		}
		if _, ok := candidateSet[id]; ok {
			detections[id] = detection{
				kind:   KindPendingCleanupStuck,
				detail: "marked for cleanup but still present in registry",
				owner:  owner,
			}
			continue
		}

		entity, err := l.store.Get(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("entity_id", id).Msg("failed to read entity state, skipping")
			continue
		}
		if entity == nil {
			// Vanished between the listing and this read; the next cycle
			// will classify it.
			continue
		}
		if entity.Disabled {
			detections[id] = detection{
				kind:       KindDisabledUnexpectedly,
				detail:     fmt.Sprintf("entity disabled by %q without a lifecycle event", entity.DisabledBy),
				platform:   entity.Platform,
				owner:      owner,
				disabledBy: entity.DisabledBy,
			}
		}
	}

	return detections
}

// mergeDetections folds this cycle's detections into the active set:
// vanished inconsistencies resolve, repeats age, kind changes escalate to
// critical, and the rest are new.
func (l *Loop) mergeDetections(cycleID string, detections map[string]detection, logger zerolog.Logger) (newCount, resolvedCount int) {
	now := time.Now().UTC()

	l.mu.Lock()
	var vanished []*Inconsistency
	for entityID, inc := range l.active {
		if _, still := detections[entityID]; !still {
			vanished = append(vanished, inc)
		}
	}
	l.mu.Unlock()

	sort.Slice(vanished, func(i, j int) bool { return vanished[i].EntityID < vanished[j].EntityID })
	for _, inc := range vanished {
		l.resolve(inc, MethodSelfResolved, now)
		resolvedCount++
		logger.Info().
			Str("entity_id", inc.EntityID).
			Str("kind", string(inc.Kind)).
			Msg("inconsistency no longer detected, resolved")
	}

	for _, entityID := range sortedKeys(detections) {
		det := detections[entityID]

		l.mu.Lock()
		if inc, exists := l.active[entityID]; exists {
			if inc.Kind == det.kind {
				inc.LastSeenAt = now
				inc.CyclesSeen++
				l.mu.Unlock()
				continue
			}

			// The divergence changed shape between cycles. Something is
			// actively fighting the warden; stop correcting and escalate.
			previous := inc.Kind
			inc.Kind = det.kind
			inc.Severity = SeverityCritical
			inc.Detail = fmt.Sprintf("%s (previously %s)", det.detail, previous)
			inc.LastSeenAt = now
			inc.CyclesSeen++
			l.criticalIssues++
			l.mu.Unlock()

			if l.metrics != nil {
				l.metrics.RecordCriticalIssue()
			}
			logger.Error().
				Str("entity_id", entityID).
				Str("kind", string(det.kind)).
				Str("previous_kind", string(previous)).
				Msg("inconsistency changed kind across cycles, escalated to critical")
			continue
		}

		inc := &Inconsistency{
			ID:         uuid.New().String(),
			EntityID:   entityID,
			Kind:       det.kind,
			Severity:   severityFor(det.kind),
			Detail:     det.detail,
			CycleID:    cycleID,
			DetectedAt: now,
			LastSeenAt: now,
			CyclesSeen: 1,
		}
		l.active[entityID] = inc
		l.totalDetected++
		if det.kind == KindZombie {
			l.criticalIssues++
		}
		l.mu.Unlock()
		newCount++

		if l.metrics != nil {
			l.metrics.RecordInconsistency(string(det.kind), string(inc.Severity))
			if det.kind == KindZombie {
				l.metrics.RecordCriticalIssue()
			}
		}
		if l.events != nil {
			_ = l.events.PublishInconsistencyDetected(cycleID, entityID, string(det.kind), string(inc.Severity))
		}

		if det.kind == KindZombie {
			logger.Error().
				Str("entity_id", entityID).
				Str("detail", det.detail).
				Msg("zombie record detected, operator attention required")
		} else {
			logger.Warn().
				Str("entity_id", entityID).
				Str("kind", string(det.kind)).
				Str("detail", det.detail).
				Msg("inconsistency detected")
		}
	}

	return newCount, resolvedCount
}

// applyCorrections walks the active inconsistencies detected this cycle and
// applies the policy-gated correction for each. Zombies and escalated
// criticals are never touched.
func (l *Loop) applyCorrections(ctx context.Context, logger zerolog.Logger, cycleID string, detections map[string]detection) (corrected, denied, failed int) {
	if !l.autoCorrect {
		return 0, 0, 0
	}

	for _, entityID := range sortedKeys(detections) {
		l.mu.RLock()
		inc, ok := l.active[entityID]
		l.mu.RUnlock()
		if !ok {
			continue
		}
		if inc.Severity == SeverityCritical || inc.Kind == KindZombie {
			continue
		}
		method := methodFor(inc.Kind)
		if method == "" {
			continue
		}

		switch l.correct(ctx, logger, cycleID, inc, detections[entityID], method) {
		case outcomeApplied:
			corrected++
		case outcomeDenied:
			denied++
		case outcomeFailed:
			failed++
		}
	}

	return corrected, denied, failed
}

// correct gates one correction through policy and applies it.
func (l *Loop) correct(ctx context.Context, logger zerolog.Logger, cycleID string, inc *Inconsistency, det detection, method CorrectionMethod) correctionOutcome {
	input := &policy.CorrectionInput{
		EntityID:  inc.EntityID,
		Kind:      string(inc.Kind),
		Severity:  string(inc.Severity),
		Method:    string(method),
		Platform:  det.platform,
		Owner:     det.owner,
		Timestamp: time.Now().UTC(),
	}
	if det.disabledBy != "" {
		input.Context = map[string]interface{}{"disabled_by": det.disabledBy}
	}

	if l.gate != nil {
		decision, err := l.gate.EvaluateCorrection(ctx, input)
		if err != nil {
			logger.Warn().Err(err).
				Str("entity_id", inc.EntityID).
				Str("method", string(method)).
				Msg("policy evaluation failed, correction skipped")
			if l.metrics != nil {
				l.metrics.RecordCorrection(string(method), "failed")
			}
			return outcomeFailed
		}
		if !decision.Allowed {
			reason := denialReason(decision)
			logger.Info().
				Str("entity_id", inc.EntityID).
				Str("method", string(method)).
				Str("reason", reason).
				Msg("correction denied by policy")
			if l.metrics != nil {
				l.metrics.RecordCorrection(string(method), "denied")
			}
			if l.events != nil {
				_ = l.events.PublishCorrectionDenied(cycleID, inc.EntityID, string(method), reason)
			}
			return outcomeDenied
		}
	}

	var applyErr error
	switch inc.Kind {
	case KindOrphaned:
		applyErr = l.removeOrphan(ctx, inc, cycleID, det)
	case KindPendingCleanupStuck:
		applyErr = l.retryCleanup(ctx, inc)
	case KindDisabledUnexpectedly:
		applyErr = l.reenable(ctx, inc)
	}

	if applyErr != nil {
		logger.Warn().Err(applyErr).
			Str("entity_id", inc.EntityID).
			Str("method", string(method)).
			Msg("correction failed")
		if l.metrics != nil {
			l.metrics.RecordCorrection(string(method), "failed")
		}
		return outcomeFailed
	}

	l.resolve(inc, method, time.Now().UTC())
	if l.metrics != nil {
		l.metrics.RecordCorrection(string(method), "applied")
	}
	if l.events != nil {
		_ = l.events.PublishCorrectionApplied(cycleID, inc.EntityID, string(method))
	}
	logger.Info().
		Str("entity_id", inc.EntityID).
		Str("method", string(method)).
		Msg("correction applied")

	return outcomeApplied
}

// removeOrphan adopts an orphan into the ledger, marks it, and runs a
// cleanup transaction. Adoption first: the cleanup engine refuses targets
// it cannot trace.
func (l *Loop) removeOrphan(ctx context.Context, inc *Inconsistency, cycleID string, det detection) error {
	l.ledger.LogCreation(inc.EntityID, adoptionOwner, "", entityKind(inc.EntityID), map[string]interface{}{
		"adopted":  true,
		"cycle_id": cycleID,
		"platform": det.platform,
	})
	l.ledger.MarkForCleanup(inc.EntityID, "orphaned entity adopted for removal")

	result := l.cleaner.ExecuteCleanup(ctx, []string{inc.EntityID}, "orphaned entity removal")
	if result.Status != cleanup.ResultSuccess {
		return fmt.Errorf("cleanup ended %s: %s", result.Status, result.Error)
	}
	return nil
}

// retryCleanup re-runs the cleanup for a stuck candidate.
func (l *Loop) retryCleanup(ctx context.Context, inc *Inconsistency) error {
	result := l.cleaner.ExecuteCleanup(ctx, []string{inc.EntityID}, "stuck cleanup retried")
	if result.Status != cleanup.ResultSuccess {
		return fmt.Errorf("cleanup ended %s: %s", result.Status, result.Error)
	}
	return nil
}

// reenable clears the disabled flag on an unexpectedly disabled entity.
func (l *Loop) reenable(ctx context.Context, inc *Inconsistency) error {
	enabled := false
	return l.store.Update(ctx, inc.EntityID, registry.EntityUpdate{Disabled: &enabled})
}

// resolve moves an inconsistency out of the active set into history.
func (l *Loop) resolve(inc *Inconsistency, method CorrectionMethod, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inc.Resolved = true
	inc.Method = method
	t := now
	inc.ResolvedAt = &t

	delete(l.active, inc.EntityID)
	l.history = append(l.history, inc)
	if len(l.history) > l.historyLimit {
		l.history = l.history[len(l.history)-l.historyLimit:]
	}
	l.resolvedInCycle = append(l.resolvedInCycle, inc)
	l.totalResolved++
}

// ActiveInconsistencies returns copies of the unresolved inconsistencies,
// ordered by entity ID.
func (l *Loop) ActiveInconsistencies() []*Inconsistency {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Inconsistency, 0, len(l.active))
	for _, inc := range l.active {
		out = append(out, copyInconsistency(inc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// ResolvedInconsistencies returns copies of resolved inconsistencies,
// newest first, up to limit. A non-positive limit returns everything
// retained.
func (l *Loop) ResolvedInconsistencies(limit int) []*Inconsistency {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Inconsistency, 0, n)
	for i := len(l.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, copyInconsistency(l.history[i]))
	}
	return out
}

// Statistics returns the loop's cumulative counters.
func (l *Loop) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Statistics{
		CyclesRun:          l.cyclesRun,
		TotalDetected:      l.totalDetected,
		TotalResolved:      l.totalResolved,
		CorrectionsApplied: l.correctionsApplied,
		CorrectionsDenied:  l.correctionsDenied,
		CorrectionsFailed:  l.correctionsFailed,
		CriticalIssues:     l.criticalIssues,
		ActiveTotal:        len(l.active),
		LastCycleAt:        l.lastCycleAt,
		LastCycleDuration:  l.lastCycleDuration,
	}
}

// CheckSystemHealth grades the current divergence level for the health
// surface.
func (l *Loop) CheckSystemHealth() Health {
	l.mu.RLock()
	defer l.mu.RUnlock()

	health := Health{
		ActiveTotal: len(l.active),
		CyclesRun:   l.cyclesRun,
		LastCycleAt: l.lastCycleAt,
	}

	criticalActive := 0
	for _, inc := range l.active {
		if inc.Severity == SeverityCritical || inc.Kind == KindZombie {
			criticalActive++
		}
	}
	health.CriticalIssues = criticalActive

	var avgDetected, criticalRate float64
	if l.cyclesRun > 0 {
		avgDetected = float64(l.totalDetected) / float64(l.cyclesRun)
		criticalRate = float64(l.criticalIssues) / float64(l.cyclesRun)
	}

	switch {
	case criticalActive > 0:
		health.Status = HealthCritical
		health.Notes = append(health.Notes,
			fmt.Sprintf("%d inconsistencies require operator attention", criticalActive))
	case l.cyclesRun == 0:
		health.Status = HealthDegraded
		health.Notes = append(health.Notes, "no reconciliation cycle has run yet")
	case len(l.active) > l.degradedThreshold:
		health.Status = HealthDegraded
		health.Notes = append(health.Notes,
			fmt.Sprintf("%d active inconsistencies exceed the threshold of %d", len(l.active), l.degradedThreshold))
	case avgDetected > float64(l.degradedThreshold):
		health.Status = HealthDegraded
		health.Notes = append(health.Notes,
			fmt.Sprintf("averaging %.1f inconsistencies per cycle over %d cycles", avgDetected, l.cyclesRun))
	case criticalRate > criticalRateThreshold:
		health.Status = HealthDegraded
		health.Notes = append(health.Notes,
			fmt.Sprintf("critical issue rate of %.2f per cycle exceeds %.2f", criticalRate, criticalRateThreshold))
	default:
		health.Status = HealthHealthy
	}

	return health
}

// engineInspector is the optional read surface a cleaner can expose for
// the comprehensive report.
type engineInspector interface {
	Statistics() cleanup.Statistics
	CheckIntegrity() []cleanup.IntegrityIssue
}

// ComprehensiveReport merges loop statistics, cleanup engine statistics,
// ledger integrity, health, and the active inconsistencies into a single
// snapshot for the health surface.
func (l *Loop) ComprehensiveReport() *ComprehensiveReport {
	report := &ComprehensiveReport{
		GeneratedAt: time.Now().UTC(),
		Health:      l.CheckSystemHealth(),
		Loop:        l.Statistics(),
		Ledger:      l.ledger.CheckIntegrity(),
		Active:      l.ActiveInconsistencies(),
	}

	if inspector, ok := l.cleaner.(engineInspector); ok {
		stats := inspector.Statistics()
		report.Cleanup = &stats
		report.CleanupIssues = inspector.CheckIntegrity()
	}
	return report
}

func copyInconsistency(inc *Inconsistency) *Inconsistency {
	out := *inc
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// entityKind derives the kind segment from a dotted entity ID, e.g.
// "light.hallway_3" yields "light".
func entityKind(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return ""
}

func sortedKeys(m map[string]detection) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func denialReason(decision *policy.Decision) string {
	for _, v := range decision.Violations {
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			return v.Message
		}
	}
	if len(decision.Violations) > 0 {
		return decision.Violations[0].Message
	}
	return "denied by policy"
}
