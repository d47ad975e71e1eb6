package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/cleanup"
	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/policy"
	"github.com/entwarden/entwarden/pkg/registry"
)

// flakyStore wraps the in-memory registry with injectable failures.
type flakyStore struct {
	*registry.Memory
	failList bool
	failGet  map[string]bool
}

func (s *flakyStore) ListAll(ctx context.Context) ([]string, error) {
	if s.failList {
		return nil, fmt.Errorf("websocket closed")
	}
	return s.Memory.ListAll(ctx)
}

func (s *flakyStore) Get(ctx context.Context, id string) (*registry.Entity, error) {
	if s.failGet[id] {
		return nil, fmt.Errorf("connection reset")
	}
	return s.Memory.Get(ctx, id)
}

// stubCleaner records cleanup requests and answers with a fixed status.
type stubCleaner struct {
	mu      sync.Mutex
	calls   [][]string
	reasons []string
	status  cleanup.ResultStatus
}

func (c *stubCleaner) ExecuteCleanup(ctx context.Context, entityIDs []string, reason string) *cleanup.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, entityIDs)
	c.reasons = append(c.reasons, reason)
	if c.status != "" {
		return &cleanup.Result{Status: c.status, Error: "forced failure"}
	}
	return &cleanup.Result{
		Status:             cleanup.ResultSuccess,
		SuccessCount:       len(entityIDs),
		SuccessfulRemovals: entityIDs,
	}
}

// mockGate answers policy checks from a canned denial map.
type mockGate struct {
	mu     sync.Mutex
	deny   map[string]string
	err    error
	inputs []*policy.CorrectionInput
}

func (g *mockGate) EvaluateCorrection(ctx context.Context, input *policy.CorrectionInput) (*policy.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = append(g.inputs, input)
	if g.err != nil {
		return nil, g.err
	}
	if msg, ok := g.deny[input.EntityID]; ok {
		return &policy.Decision{
			Allowed: false,
			Violations: []policy.Violation{{
				Policy:   "test-policy",
				EntityID: input.EntityID,
				Message:  msg,
				Severity: policy.SeverityError,
			}},
		}, nil
	}
	return &policy.Decision{Allowed: true}, nil
}

type mockLoopMetrics struct {
	mu              sync.Mutex
	cycles          []string
	inconsistencies map[string]int
	gauges          map[string]float64
	corrections     map[string]int
	criticalIssues  int
	external        float64
	tracked         float64
}

func newMockLoopMetrics() *mockLoopMetrics {
	return &mockLoopMetrics{
		inconsistencies: make(map[string]int),
		gauges:          make(map[string]float64),
		corrections:     make(map[string]int),
	}
}

func (m *mockLoopMetrics) RecordCycleCompleted(trigger string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, trigger)
}

func (m *mockLoopMetrics) RecordInconsistency(kind, severity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inconsistencies[kind]++
}

func (m *mockLoopMetrics) SetActiveInconsistencies(kind string, count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[kind] = count
}

func (m *mockLoopMetrics) RecordCorrection(method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections[method+"/"+outcome]++
}

func (m *mockLoopMetrics) RecordCriticalIssue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criticalIssues++
}

func (m *mockLoopMetrics) SetExternalEntities(count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external = count
}

func (m *mockLoopMetrics) SetTrackedEntities(count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = count
}

type mockLoopEvents struct {
	mu        sync.Mutex
	started   []string
	completed []string
	detected  []string
	applied   []string
	denied    []string
}

func (e *mockLoopEvents) PublishCycleStarted(cycleID, trigger string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, trigger)
	return nil
}

func (e *mockLoopEvents) PublishCycleCompleted(cycleID string, detected int, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, cycleID)
	return nil
}

func (e *mockLoopEvents) PublishInconsistencyDetected(cycleID, entityID, kind, severity string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detected = append(e.detected, entityID+":"+kind)
	return nil
}

func (e *mockLoopEvents) PublishCorrectionApplied(cycleID, entityID, method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, entityID+":"+method)
	return nil
}

func (e *mockLoopEvents) PublishCorrectionDenied(cycleID, entityID, method, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.denied = append(e.denied, entityID+":"+reason)
	return nil
}

type mockArchiver struct {
	mu      sync.Mutex
	reports []*Report
	counts  []int
	err     error
}

func (a *mockArchiver) ArchiveCycle(ctx context.Context, report *Report, inconsistencies []*Inconsistency) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, report)
	a.counts = append(a.counts, len(inconsistencies))
	return a.err
}

// newAligned builds a ledger and registry that agree on the given entities.
func newAligned(ids ...string) (*ledger.Ledger, *registry.Memory) {
	led := ledger.New()
	store := registry.NewMemory()
	for _, id := range ids {
		led.LogCreation(id, "automation_suite", "device-1", entityKind(id), nil)
		store.Seed(registry.Entity{ID: id, Platform: "mqtt"})
	}
	return led, store
}

func newTestLoop(led *ledger.Ledger, store registry.Store, opts Options) *Loop {
	eng := cleanup.NewEngine(led, store, zerolog.Nop(), cleanup.Options{})
	return NewLoop(led, store, eng, zerolog.Nop(), opts)
}

func TestRunCycle_AlignedSystemDetectsNothing(t *testing.T) {
	led, store := newAligned("light.hallway", "switch.porch")
	loop := newTestLoop(led, store, Options{})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.ExternalEntities != 2 {
		t.Errorf("Expected 2 external entities, got %d", report.ExternalEntities)
	}
	if report.TrackedEntities != 2 {
		t.Errorf("Expected 2 tracked entities, got %d", report.TrackedEntities)
	}
	if report.Coverage != 1 || report.InverseCoverage != 1 {
		t.Errorf("Expected full coverage, got %v / %v", report.Coverage, report.InverseCoverage)
	}
	if report.New != 0 || report.ActiveTotal != 0 {
		t.Errorf("Expected clean report, got new=%d active=%d", report.New, report.ActiveTotal)
	}

	health := loop.CheckSystemHealth()
	if health.Status != HealthHealthy {
		t.Errorf("Expected healthy status, got %s: %v", health.Status, health.Notes)
	}
}

func TestRunCycle_DetectsOrphan(t *testing.T) {
	led, store := newAligned("switch.porch")
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	events := &mockLoopEvents{}
	metrics := newMockLoopMetrics()
	loop := newTestLoop(led, store, Options{Events: events, Metrics: metrics})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Detected[KindOrphaned] != 1 {
		t.Fatalf("Expected 1 orphan detected, got %d", report.Detected[KindOrphaned])
	}
	if report.New != 1 {
		t.Errorf("Expected 1 new inconsistency, got %d", report.New)
	}
	if report.Coverage != 0.5 || report.InverseCoverage != 2 {
		t.Errorf("Expected coverage 0.5 and inverse 2, got %v / %v", report.Coverage, report.InverseCoverage)
	}

	active := loop.ActiveInconsistencies()
	if len(active) != 1 {
		t.Fatalf("Expected 1 active inconsistency, got %d", len(active))
	}
	inc := active[0]
	if inc.EntityID != "light.hallway" || inc.Kind != KindOrphaned {
		t.Errorf("Unexpected inconsistency: %s %s", inc.EntityID, inc.Kind)
	}
	if inc.Severity != SeverityMedium {
		t.Errorf("Expected medium severity for orphan, got %s", inc.Severity)
	}
	if inc.CyclesSeen != 1 {
		t.Errorf("Expected CyclesSeen 1, got %d", inc.CyclesSeen)
	}

	if len(events.detected) != 1 || events.detected[0] != "light.hallway:orphaned" {
		t.Errorf("Unexpected detected events: %v", events.detected)
	}
	if metrics.gauges[string(KindOrphaned)] != 1 {
		t.Errorf("Expected orphaned gauge 1, got %v", metrics.gauges)
	}
}

func TestRunCycle_DetectsZombieAndNeverCorrects(t *testing.T) {
	led := ledger.New()
	store := registry.NewMemory()
	led.LogCreation("switch.vanished", "automation_suite", "device-1", "switch", nil)

	cleaner := &stubCleaner{}
	loop := NewLoop(led, store, cleaner, zerolog.Nop(), Options{AutoCorrect: true})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Detected[KindZombie] != 1 {
		t.Fatalf("Expected 1 zombie detected, got %d", report.Detected[KindZombie])
	}
	if report.Corrected != 0 {
		t.Errorf("Expected no corrections for a zombie, got %d", report.Corrected)
	}
	if len(cleaner.calls) != 0 {
		t.Errorf("Expected no cleanup calls for a zombie, got %v", cleaner.calls)
	}

	active := loop.ActiveInconsistencies()
	if len(active) != 1 || active[0].Severity != SeverityHigh {
		t.Fatalf("Expected 1 high-severity zombie, got %+v", active)
	}

	health := loop.CheckSystemHealth()
	if health.Status != HealthCritical {
		t.Errorf("Expected critical health with an active zombie, got %s", health.Status)
	}
	if loop.Statistics().CriticalIssues != 1 {
		t.Errorf("Expected 1 critical issue recorded, got %d", loop.Statistics().CriticalIssues)
	}
}

func TestRunCycle_DetectsStuckCleanup(t *testing.T) {
	led, store := newAligned("fan.attic")
	led.MarkForCleanup("fan.attic", "source removed")

	loop := newTestLoop(led, store, Options{})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Detected[KindPendingCleanupStuck] != 1 {
		t.Fatalf("Expected 1 stuck cleanup, got %+v", report.Detected)
	}
	active := loop.ActiveInconsistencies()
	if len(active) != 1 || active[0].Severity != SeverityMedium {
		t.Fatalf("Expected 1 medium-severity inconsistency, got %+v", active)
	}
}

func TestRunCycle_DetectsUnexpectedDisable(t *testing.T) {
	led, store := newAligned("light.hallway")
	store.SetDisabled("light.hallway", true, "integration")

	loop := newTestLoop(led, store, Options{})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Detected[KindDisabledUnexpectedly] != 1 {
		t.Fatalf("Expected 1 unexpected disable, got %+v", report.Detected)
	}
	active := loop.ActiveInconsistencies()
	if len(active) != 1 || active[0].Severity != SeverityLow {
		t.Fatalf("Expected 1 low-severity inconsistency, got %+v", active)
	}
	if !strings.Contains(active[0].Detail, "integration") {
		t.Errorf("Expected detail to name the disabler, got %q", active[0].Detail)
	}
}

func TestRunCycle_KindsAreMutuallyExclusive(t *testing.T) {
	// Marked for cleanup, still present, and disabled: stuck wins, the
	// disable is not reported separately.
	led, store := newAligned("fan.attic")
	led.MarkForCleanup("fan.attic", "source removed")
	store.SetDisabled("fan.attic", true, "integration")

	loop := newTestLoop(led, store, Options{})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	total := 0
	for _, n := range report.Detected {
		total += n
	}
	if total != 1 {
		t.Fatalf("Expected exactly one detection, got %+v", report.Detected)
	}
	if report.Detected[KindPendingCleanupStuck] != 1 {
		t.Errorf("Expected the stuck classification to win, got %+v", report.Detected)
	}
}

func TestRunCycle_AutoCorrectRemovesOrphan(t *testing.T) {
	led, store := newAligned("switch.porch")
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	events := &mockLoopEvents{}
	loop := newTestLoop(led, store, Options{AutoCorrect: true, Events: events})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Corrected != 1 {
		t.Fatalf("Expected 1 correction, got %d (failed=%d denied=%d)", report.Corrected, report.Failed, report.Denied)
	}

	entity, err := store.Get(context.Background(), "light.hallway")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if entity != nil {
		t.Error("Expected orphan to be removed from the registry")
	}

	rec := led.Provenance("light.hallway")
	if rec == nil {
		t.Fatal("Expected an adoption record in the ledger")
	}
	if rec.Owner != adoptionOwner {
		t.Errorf("Expected adoption owner %q, got %q", adoptionOwner, rec.Owner)
	}
	if rec.Kind != "light" {
		t.Errorf("Expected adopted kind light, got %q", rec.Kind)
	}
	if adopted, ok := rec.Context["adopted"].(bool); !ok || !adopted {
		t.Errorf("Expected adopted context flag, got %v", rec.Context)
	}
	if !rec.VerifiedRemoved {
		t.Error("Expected adoption record to be verified removed after cleanup")
	}

	resolved := loop.ResolvedInconsistencies(0)
	if len(resolved) != 1 || resolved[0].Method != MethodAutoRemoval {
		t.Fatalf("Expected 1 resolution via auto_removal, got %+v", resolved)
	}
	if len(events.applied) != 1 || events.applied[0] != "light.hallway:auto_removal" {
		t.Errorf("Unexpected applied events: %v", events.applied)
	}

	// The next cycle must see a fully aligned system.
	report, err = loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.New != 0 || report.ActiveTotal != 0 {
		t.Errorf("Expected aligned follow-up cycle, got new=%d active=%d", report.New, report.ActiveTotal)
	}
}

func TestRunCycle_AutoCorrectRetriesStuckCleanup(t *testing.T) {
	led, store := newAligned("fan.attic")
	led.MarkForCleanup("fan.attic", "source removed")

	loop := newTestLoop(led, store, Options{AutoCorrect: true})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Corrected != 1 {
		t.Fatalf("Expected 1 correction, got %d", report.Corrected)
	}
	if len(led.CleanupCandidates()) != 0 {
		t.Errorf("Expected no cleanup candidates left, got %v", led.CleanupCandidates())
	}
	rec := led.Provenance("fan.attic")
	if rec == nil || !rec.VerifiedRemoved {
		t.Error("Expected ledger record to be verified removed")
	}

	resolved := loop.ResolvedInconsistencies(0)
	if len(resolved) != 1 || resolved[0].Method != MethodAutoCleanup {
		t.Fatalf("Expected 1 resolution via auto_cleanup, got %+v", resolved)
	}
}

func TestRunCycle_AutoCorrectReenables(t *testing.T) {
	led, store := newAligned("light.hallway")
	store.SetDisabled("light.hallway", true, "integration")

	gate, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	loop := newTestLoop(led, store, Options{AutoCorrect: true, Gate: gate})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Corrected != 1 {
		t.Fatalf("Expected 1 correction, got %d (denied=%d failed=%d)", report.Corrected, report.Denied, report.Failed)
	}

	entity, err := store.Get(context.Background(), "light.hallway")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if entity == nil || entity.Disabled {
		t.Errorf("Expected entity to be re-enabled, got %+v", entity)
	}

	resolved := loop.ResolvedInconsistencies(0)
	if len(resolved) != 1 || resolved[0].Method != MethodAutoReenable {
		t.Fatalf("Expected 1 resolution via auto_reenable, got %+v", resolved)
	}
}

func TestRunCycle_UserDisabledStaysDisabled(t *testing.T) {
	led, store := newAligned("light.hallway")
	store.SetDisabled("light.hallway", true, "user")

	gate, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	events := &mockLoopEvents{}
	loop := newTestLoop(led, store, Options{AutoCorrect: true, Gate: gate, Events: events})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Denied != 1 {
		t.Fatalf("Expected 1 denial, got %d (corrected=%d)", report.Denied, report.Corrected)
	}

	entity, _ := store.Get(context.Background(), "light.hallway")
	if entity == nil || !entity.Disabled {
		t.Error("Expected entity to stay disabled")
	}
	if len(loop.ActiveInconsistencies()) != 1 {
		t.Error("Expected denied inconsistency to stay active")
	}
	if len(events.denied) != 1 {
		t.Fatalf("Expected 1 denied event, got %v", events.denied)
	}
	if !strings.Contains(events.denied[0], "light.hallway:") {
		t.Errorf("Unexpected denied event: %s", events.denied[0])
	}
}

func TestRunCycle_GateErrorCountsAsFailed(t *testing.T) {
	led, store := newAligned("switch.porch")
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	gate := &mockGate{err: fmt.Errorf("policy store unavailable")}
	loop := newTestLoop(led, store, Options{AutoCorrect: true, Gate: gate})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Failed != 1 {
		t.Fatalf("Expected 1 failed correction, got %d", report.Failed)
	}
	if entity, _ := store.Get(context.Background(), "light.hallway"); entity == nil {
		t.Error("Expected orphan to remain when the gate cannot be consulted")
	}
	if len(loop.ActiveInconsistencies()) != 1 {
		t.Error("Expected inconsistency to stay active after gate failure")
	}
}

func TestRunCycle_CorrectionFailureKeepsInconsistency(t *testing.T) {
	led := ledger.New()
	store := registry.NewMemory()
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	cleaner := &stubCleaner{status: cleanup.ResultRolledBack}
	metrics := newMockLoopMetrics()
	loop := NewLoop(led, store, cleaner, zerolog.Nop(), Options{AutoCorrect: true, Metrics: metrics})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Failed != 1 {
		t.Fatalf("Expected 1 failed correction, got %d", report.Failed)
	}
	if len(loop.ActiveInconsistencies()) != 1 {
		t.Error("Expected inconsistency to stay active after a failed cleanup")
	}
	if metrics.corrections["auto_removal/failed"] != 1 {
		t.Errorf("Expected failed correction metric, got %v", metrics.corrections)
	}
	if loop.Statistics().CorrectionsFailed != 1 {
		t.Errorf("Expected 1 failed correction in statistics, got %d", loop.Statistics().CorrectionsFailed)
	}
}

func TestRunCycle_PersistentInconsistencyAges(t *testing.T) {
	led, store := newAligned("switch.porch")
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	loop := newTestLoop(led, store, Options{})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.New != 0 {
		t.Errorf("Expected no new inconsistencies on the second cycle, got %d", report.New)
	}
	active := loop.ActiveInconsistencies()
	if len(active) != 1 {
		t.Fatalf("Expected 1 active inconsistency, got %d", len(active))
	}
	if active[0].CyclesSeen != 2 {
		t.Errorf("Expected CyclesSeen 2, got %d", active[0].CyclesSeen)
	}
	if loop.Statistics().TotalDetected != 1 {
		t.Errorf("Expected TotalDetected 1, got %d", loop.Statistics().TotalDetected)
	}
}

func TestRunCycle_SelfResolution(t *testing.T) {
	led, store := newAligned("switch.porch")
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	loop := newTestLoop(led, store, Options{})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Someone removed the orphan out of band.
	if err := store.Remove(context.Background(), "light.hallway"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Resolved != 1 {
		t.Fatalf("Expected 1 resolution, got %d", report.Resolved)
	}
	if len(loop.ActiveInconsistencies()) != 0 {
		t.Error("Expected no active inconsistencies after self-resolution")
	}
	resolved := loop.ResolvedInconsistencies(0)
	if len(resolved) != 1 || resolved[0].Method != MethodSelfResolved {
		t.Fatalf("Expected self_resolved entry, got %+v", resolved)
	}
	if resolved[0].ResolvedAt == nil {
		t.Error("Expected ResolvedAt to be set")
	}
}

func TestRunCycle_KindChangeEscalatesToCritical(t *testing.T) {
	led := ledger.New()
	store := registry.NewMemory()
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	metrics := newMockLoopMetrics()
	loop := newTestLoop(led, store, Options{AutoCorrect: false, Metrics: metrics})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Between cycles the entity gains a ledger record and flips to
	// disabled: same entity, different divergence.
	led.LogCreation("light.hallway", "automation_suite", "device-1", "light", nil)
	store.SetDisabled("light.hallway", true, "integration")

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	active := loop.ActiveInconsistencies()
	if len(active) != 1 {
		t.Fatalf("Expected 1 active inconsistency, got %d", len(active))
	}
	inc := active[0]
	if inc.Severity != SeverityCritical {
		t.Errorf("Expected critical severity after kind change, got %s", inc.Severity)
	}
	if inc.Kind != KindDisabledUnexpectedly {
		t.Errorf("Expected kind to track the latest detection, got %s", inc.Kind)
	}
	if !strings.Contains(inc.Detail, "previously orphaned") {
		t.Errorf("Expected detail to mention the previous kind, got %q", inc.Detail)
	}
	if inc.CyclesSeen != 2 {
		t.Errorf("Expected CyclesSeen 2, got %d", inc.CyclesSeen)
	}
	if report.CriticalIssues != 1 {
		t.Errorf("Expected 1 critical issue in the report, got %d", report.CriticalIssues)
	}
	if metrics.criticalIssues != 1 {
		t.Errorf("Expected 1 critical issue metric, got %d", metrics.criticalIssues)
	}
	if loop.CheckSystemHealth().Status != HealthCritical {
		t.Error("Expected critical health after escalation")
	}
}

func TestRunCycle_EscalatedInconsistencyNeverCorrected(t *testing.T) {
	led := ledger.New()
	store := registry.NewMemory()
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	cleaner := &stubCleaner{}
	loop := NewLoop(led, store, cleaner, zerolog.Nop(), Options{AutoCorrect: true})

	// Deny-free first cycle would normally correct the orphan; stage the
	// escalation first by running detection with the cleaner failing.
	cleaner.status = cleanup.ResultRolledBack
	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	led.LogCreation("light.hallway", "automation_suite", "device-1", "light", nil)
	store.SetDisabled("light.hallway", true, "integration")
	cleaner.status = ""

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Corrected != 0 {
		t.Errorf("Expected no corrections on an escalated inconsistency, got %d", report.Corrected)
	}
	entity, _ := store.Get(context.Background(), "light.hallway")
	if entity == nil || !entity.Disabled {
		t.Error("Expected escalated entity to be left untouched")
	}
}

func TestRunCycle_ListFailureAbortsCycle(t *testing.T) {
	led := ledger.New()
	store := &flakyStore{Memory: registry.NewMemory(), failList: true}
	cleaner := &stubCleaner{}
	loop := NewLoop(led, store, cleaner, zerolog.Nop(), Options{})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err == nil {
		t.Fatal("Expected an error when the registry cannot be listed")
	}
	if report != nil {
		t.Errorf("Expected nil report, got %+v", report)
	}
	if loop.Statistics().CyclesRun != 0 {
		t.Errorf("Expected no completed cycles, got %d", loop.Statistics().CyclesRun)
	}

	health := loop.CheckSystemHealth()
	if health.Status != HealthDegraded {
		t.Errorf("Expected degraded health before the first completed cycle, got %s", health.Status)
	}
}

func TestRunCycle_EntityReadFailureSkipsEntity(t *testing.T) {
	led, store := newAligned("light.hallway", "switch.porch")
	flaky := &flakyStore{Memory: store, failGet: map[string]bool{"light.hallway": true}}
	store.SetDisabled("light.hallway", true, "integration")

	cleaner := &stubCleaner{}
	loop := NewLoop(led, flaky, cleaner, zerolog.Nop(), Options{AutoCorrect: true})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Detected[KindDisabledUnexpectedly] != 0 {
		t.Errorf("Expected unreadable entity to be skipped, got %+v", report.Detected)
	}
	if len(loop.ActiveInconsistencies()) != 0 {
		t.Error("Expected no active inconsistencies")
	}
}

func TestEmergencyReconcile_UsesManualTrigger(t *testing.T) {
	led, store := newAligned("light.hallway")
	events := &mockLoopEvents{}
	loop := newTestLoop(led, store, Options{Events: events})

	report, err := loop.EmergencyReconcile(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Trigger != TriggerManual {
		t.Errorf("Expected manual trigger, got %s", report.Trigger)
	}
	if len(events.started) != 1 || events.started[0] != string(TriggerManual) {
		t.Errorf("Unexpected started events: %v", events.started)
	}
}

func TestStartStop(t *testing.T) {
	led, store := newAligned("light.hallway")
	loop := newTestLoop(led, store, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)

	deadline := time.After(2 * time.Second)
	for loop.Statistics().CyclesRun < 2 {
		select {
		case <-deadline:
			t.Fatal("Expected at least two cycles before the deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := loop.Stop(stopCtx); err != nil {
		t.Fatalf("Expected clean stop, got: %v", err)
	}

	ran := loop.Statistics().CyclesRun
	time.Sleep(50 * time.Millisecond)
	if loop.Statistics().CyclesRun != ran {
		t.Error("Expected no cycles after Stop")
	}
}

func TestCheckSystemHealth_DegradedAboveThreshold(t *testing.T) {
	led, store := newAligned()
	store.Seed(
		registry.Entity{ID: "light.a", Platform: "hue"},
		registry.Entity{ID: "light.b", Platform: "hue"},
	)

	loop := newTestLoop(led, store, Options{DegradedThreshold: 1})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	health := loop.CheckSystemHealth()
	if health.Status != HealthDegraded {
		t.Fatalf("Expected degraded health, got %s", health.Status)
	}
	if len(health.Notes) == 0 {
		t.Error("Expected a note explaining the degradation")
	}
}

func TestCheckSystemHealth_DegradedByAverageDetections(t *testing.T) {
	led, store := newAligned()
	store.Seed(
		registry.Entity{ID: "light.a", Platform: "hue"},
		registry.Entity{ID: "light.b", Platform: "hue"},
		registry.Entity{ID: "light.c", Platform: "hue"},
	)

	loop := newTestLoop(led, store, Options{DegradedThreshold: 1})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, id := range []string{"light.a", "light.b", "light.c"} {
		if err := store.Remove(context.Background(), id); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	health := loop.CheckSystemHealth()
	if health.ActiveTotal != 0 {
		t.Fatalf("Expected no active inconsistencies, got %d", health.ActiveTotal)
	}
	if health.Status != HealthDegraded {
		t.Errorf("Expected degraded health from the detection average, got %s: %v",
			health.Status, health.Notes)
	}
}

func TestCheckSystemHealth_DegradedByCriticalRate(t *testing.T) {
	led := ledger.New()
	store := registry.NewMemory()
	led.LogCreation("switch.vanished", "automation_suite", "device-1", "switch", nil)

	loop := newTestLoop(led, store, Options{})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// The entity reappears, resolving the zombie on the next cycle.
	store.Seed(registry.Entity{ID: "switch.vanished", Platform: "mqtt"})
	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	health := loop.CheckSystemHealth()
	if health.CriticalIssues != 0 {
		t.Fatalf("Expected no active critical issues, got %d", health.CriticalIssues)
	}
	if health.Status != HealthDegraded {
		t.Errorf("Expected degraded health from the critical issue rate, got %s: %v",
			health.Status, health.Notes)
	}
}

func TestStatistics_Accumulate(t *testing.T) {
	led, store := newAligned("switch.tracked")
	store.Seed(registry.Entity{ID: "light.orphan", Platform: "hue"})
	store.SetDisabled("switch.tracked", true, "user")

	gate, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	loop := newTestLoop(led, store, Options{AutoCorrect: true, Gate: gate})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Corrected != 1 || report.Denied != 1 {
		t.Fatalf("Expected 1 correction and 1 denial, got corrected=%d denied=%d failed=%d",
			report.Corrected, report.Denied, report.Failed)
	}

	stats := loop.Statistics()
	if stats.CyclesRun != 1 {
		t.Errorf("Expected 1 cycle, got %d", stats.CyclesRun)
	}
	if stats.TotalDetected != 2 {
		t.Errorf("Expected 2 detections, got %d", stats.TotalDetected)
	}
	if stats.TotalResolved != 1 {
		t.Errorf("Expected 1 resolution, got %d", stats.TotalResolved)
	}
	if stats.CorrectionsApplied != 1 || stats.CorrectionsDenied != 1 {
		t.Errorf("Expected applied=1 denied=1, got applied=%d denied=%d",
			stats.CorrectionsApplied, stats.CorrectionsDenied)
	}
	if stats.ActiveTotal != 1 {
		t.Errorf("Expected 1 active inconsistency, got %d", stats.ActiveTotal)
	}
	if stats.LastCycleAt.IsZero() {
		t.Error("Expected LastCycleAt to be set")
	}
}

func TestComprehensiveReport(t *testing.T) {
	led, store := newAligned("switch.tracked")
	store.Seed(registry.Entity{ID: "light.orphan", Platform: "hue"})

	loop := newTestLoop(led, store, Options{AutoCorrect: true})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	report := loop.ComprehensiveReport()
	if report.GeneratedAt.IsZero() {
		t.Error("Expected GeneratedAt to be set")
	}
	if report.Health.Status != HealthHealthy {
		t.Errorf("Expected healthy status, got %s", report.Health.Status)
	}
	if report.Loop.CyclesRun != 1 {
		t.Errorf("Expected 1 cycle in loop stats, got %d", report.Loop.CyclesRun)
	}
	if report.Cleanup == nil {
		t.Fatal("Expected cleanup statistics from the engine")
	}
	if report.Cleanup.TotalTransactions != 1 || report.Cleanup.Committed != 1 {
		t.Errorf("Expected 1 committed transaction, got %+v", report.Cleanup)
	}
	if report.Ledger == nil || !report.Ledger.Healthy {
		t.Errorf("Expected healthy ledger integrity, got %+v", report.Ledger)
	}
	if len(report.Active) != 0 {
		t.Errorf("Expected no active inconsistencies, got %d", len(report.Active))
	}
}

func TestComprehensiveReportWithoutEngineStats(t *testing.T) {
	led, store := newAligned("light.a")
	loop := NewLoop(led, store, &stubCleaner{}, zerolog.Nop(), Options{})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	report := loop.ComprehensiveReport()
	if report.Cleanup != nil {
		t.Errorf("Expected no cleanup statistics from a bare cleaner, got %+v", report.Cleanup)
	}
	if report.Health.Status != HealthHealthy {
		t.Errorf("Expected healthy status, got %s", report.Health.Status)
	}
}

func TestResolvedInconsistenciesBounded(t *testing.T) {
	led, store := newAligned()
	store.Seed(
		registry.Entity{ID: "light.a", Platform: "hue"},
		registry.Entity{ID: "light.b", Platform: "hue"},
		registry.Entity{ID: "light.c", Platform: "hue"},
	)

	loop := newTestLoop(led, store, Options{HistoryLimit: 2})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, id := range []string{"light.a", "light.b", "light.c"} {
		if err := store.Remove(context.Background(), id); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	resolved := loop.ResolvedInconsistencies(0)
	if len(resolved) != 2 {
		t.Fatalf("Expected history bounded to 2, got %d", len(resolved))
	}
	if resolved[0].EntityID != "light.c" || resolved[1].EntityID != "light.b" {
		t.Errorf("Expected newest-first order c,b, got %s,%s", resolved[0].EntityID, resolved[1].EntityID)
	}
}

func TestRunCycle_ArchiverReceivesCycle(t *testing.T) {
	led, store := newAligned("switch.porch")
	store.Seed(registry.Entity{ID: "light.hallway", Platform: "hue"})

	archiver := &mockArchiver{}
	loop := newTestLoop(led, store, Options{Archiver: archiver})

	report, err := loop.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(archiver.reports) != 1 {
		t.Fatalf("Expected 1 archived report, got %d", len(archiver.reports))
	}
	if archiver.reports[0].CycleID != report.CycleID {
		t.Error("Expected the archived report to match the returned one")
	}
	if archiver.counts[0] != 1 {
		t.Errorf("Expected 1 archived inconsistency, got %d", archiver.counts[0])
	}

	// Archive failures must not fail the cycle.
	archiver.err = fmt.Errorf("disk full")
	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected cycle to tolerate archive failure, got: %v", err)
	}
}

func TestRunCycle_PolicyInputCarriesEntityFacts(t *testing.T) {
	led, store := newAligned("light.hallway")
	store.SetDisabled("light.hallway", true, "integration")

	gate := &mockGate{}
	loop := newTestLoop(led, store, Options{AutoCorrect: true, Gate: gate})

	if _, err := loop.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(gate.inputs) != 1 {
		t.Fatalf("Expected 1 policy evaluation, got %d", len(gate.inputs))
	}
	input := gate.inputs[0]
	if input.EntityID != "light.hallway" {
		t.Errorf("Expected entity ID light.hallway, got %s", input.EntityID)
	}
	if input.Kind != string(KindDisabledUnexpectedly) {
		t.Errorf("Expected kind disabled_unexpectedly, got %s", input.Kind)
	}
	if input.Method != string(MethodAutoReenable) {
		t.Errorf("Expected method auto_reenable, got %s", input.Method)
	}
	if input.Platform != "mqtt" {
		t.Errorf("Expected platform mqtt, got %q", input.Platform)
	}
	if input.Owner != "automation_suite" {
		t.Errorf("Expected owner automation_suite, got %q", input.Owner)
	}
	if by, ok := input.Context["disabled_by"].(string); !ok || by != "integration" {
		t.Errorf("Expected disabled_by context, got %v", input.Context)
	}
}

func TestEntityKind(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"light.hallway_3", "light"},
		{"binary_sensor.door", "binary_sensor"},
		{"nodomain", ""},
		{".leading", ""},
	}
	for _, tc := range cases {
		if got := entityKind(tc.id); got != tc.want {
			t.Errorf("entityKind(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}
