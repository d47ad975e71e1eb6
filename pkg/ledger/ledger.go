package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger is the in-memory creation ledger. Records live in an append-only
// arena; lookup indexes map entity IDs, owners, and devices to arena
// positions. The entity index always points at the latest record for an
// entity, so re-created entities shadow their earlier records without
// erasing them.
type Ledger struct {
	mu         sync.RWMutex
	records    []*Record
	byEntity   map[string]int
	byOwner    map[string][]int
	byDevice   map[string][]int
	candidates map[string]struct{}
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		records:    make([]*Record, 0, 64),
		byEntity:   make(map[string]int),
		byOwner:    make(map[string][]int),
		byDevice:   make(map[string][]int),
		candidates: make(map[string]struct{}),
	}
}

// LogCreation appends a creation record and returns its record ID. The
// context map is copied in, so the caller keeps ownership of its map. A
// fresh creation for an entity that still had a stale cleanup candidacy
// clears that candidacy: eligibility belongs to the latest record, and the
// latest record now is this one.
func (l *Ledger) LogCreation(entityID, owner, deviceID, kind string, context map[string]interface{}) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := &Record{
		RecordID:  uuid.New().String(),
		EntityID:  entityID,
		Owner:     owner,
		DeviceID:  deviceID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if context != nil {
		rec.Context = make(map[string]interface{}, len(context))
		for k, v := range context {
			rec.Context[k] = v
		}
	}

	l.append(rec)
	delete(l.candidates, entityID)
	return rec.RecordID
}

// append adds a record to the arena and updates every index. Callers must
// hold the write lock.
func (l *Ledger) append(rec *Record) {
	idx := len(l.records)
	l.records = append(l.records, rec)
	l.byEntity[rec.EntityID] = idx
	if rec.Owner != "" {
		l.byOwner[rec.Owner] = append(l.byOwner[rec.Owner], idx)
	}
	if rec.DeviceID != "" {
		l.byDevice[rec.DeviceID] = append(l.byDevice[rec.DeviceID], idx)
	}
}

// MarkForCleanup flags the latest record for an entity as a cleanup
// candidate. It returns false when the entity was never logged. Marking is
// idempotent: the first call sets the reason and timestamp, repeat calls
// leave them untouched. Records already verified removed cannot become
// candidates again.
func (l *Ledger) MarkForCleanup(entityID, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byEntity[entityID]
	if !ok {
		return false
	}
	rec := l.records[idx]
	if rec.VerifiedRemoved {
		return false
	}
	if !rec.CleanupEligible {
		now := time.Now().UTC()
		rec.CleanupEligible = true
		rec.CleanupReason = reason
		rec.CleanupMarkedAt = &now
	}
	l.candidates[entityID] = struct{}{}
	return true
}

// VerifyCleanupCompletion records that the entity was confirmed absent from
// the external registry. It returns false when the entity was never logged.
// Verification is idempotent and removes the entity from the candidate set.
func (l *Ledger) VerifyCleanupCompletion(entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byEntity[entityID]
	if !ok {
		return false
	}
	rec := l.records[idx]
	if !rec.VerifiedRemoved {
		now := time.Now().UTC()
		rec.VerifiedRemoved = true
		rec.VerifiedAt = &now
	}
	delete(l.candidates, entityID)
	return true
}

// Provenance returns a copy of the latest record for an entity, or nil when
// the entity was never logged.
func (l *Ledger) Provenance(entityID string) *Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byEntity[entityID]
	if !ok {
		return nil
	}
	return l.records[idx].clone()
}

// History returns copies of every record for an entity in creation order,
// including records shadowed by later re-creations.
func (l *Ledger) History(entityID string) []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Record
	for _, rec := range l.records {
		if rec.EntityID == entityID {
			out = append(out, rec.clone())
		}
	}
	return out
}

// ByOwner returns copies of every record created by an owner, in creation
// order.
func (l *Ledger) ByOwner(owner string) []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byOwner[owner])
}

// ByDevice returns copies of every record attached to a device, in creation
// order.
func (l *Ledger) ByDevice(deviceID string) []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byDevice[deviceID])
}

// collect clones the records at the given arena positions. Callers must
// hold at least the read lock.
func (l *Ledger) collect(indices []int) []*Record {
	if len(indices) == 0 {
		return nil
	}
	out := make([]*Record, 0, len(indices))
	for _, idx := range indices {
		out = append(out, l.records[idx].clone())
	}
	return out
}

// CleanupCandidates returns the entity IDs currently marked for cleanup and
// not yet verified removed, sorted for deterministic iteration.
func (l *Ledger) CleanupCandidates() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.candidates))
	for id := range l.candidates {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PendingVerification returns copies of the latest records that were marked
// for cleanup but whose removal has not been confirmed.
func (l *Ledger) PendingVerification() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Record
	for _, id := range l.sortedEntityIDs() {
		rec := l.records[l.byEntity[id]]
		if rec.CleanupEligible && !rec.VerifiedRemoved {
			out = append(out, rec.clone())
		}
	}
	return out
}

// TrackedEntityIDs returns the IDs of every entity whose latest record has
// not been verified removed. These are the entities the warden considers
// alive, sorted for deterministic iteration.
func (l *Ledger) TrackedEntityIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for _, id := range l.sortedEntityIDs() {
		if !l.records[l.byEntity[id]].VerifiedRemoved {
			out = append(out, id)
		}
	}
	return out
}

// sortedEntityIDs returns all indexed entity IDs in sorted order. Callers
// must hold at least the read lock.
func (l *Ledger) sortedEntityIDs() []string {
	ids := make([]string, 0, len(l.byEntity))
	for id := range l.byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of records in the arena.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// CheckIntegrity verifies that every index agrees with the record arena and
// that the candidate set matches the lifecycle flags of the latest records.
func (l *Ledger) CheckIntegrity() *IntegrityReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := &IntegrityReport{
		Healthy:        true,
		RecordCount:    len(l.records),
		CandidateCount: len(l.candidates),
		CheckedAt:      time.Now().UTC(),
	}
	fail := func(format string, args ...interface{}) {
		report.Healthy = false
		report.Issues = append(report.Issues, fmt.Sprintf(format, args...))
	}

	latest := make(map[string]int, len(l.byEntity))
	for idx, rec := range l.records {
		latest[rec.EntityID] = idx
	}

	for id, idx := range l.byEntity {
		switch {
		case idx < 0 || idx >= len(l.records):
			fail("entity index for %q out of range: %d", id, idx)
		case l.records[idx].EntityID != id:
			fail("entity index for %q points at record for %q", id, l.records[idx].EntityID)
		case latest[id] != idx:
			fail("entity index for %q is stale: points at %d, latest is %d", id, idx, latest[id])
		}
	}
	for id := range latest {
		if _, ok := l.byEntity[id]; !ok {
			fail("entity %q has records but no index entry", id)
		}
	}

	for owner, indices := range l.byOwner {
		for _, idx := range indices {
			if idx < 0 || idx >= len(l.records) {
				fail("owner index for %q out of range: %d", owner, idx)
				continue
			}
			if l.records[idx].Owner != owner {
				fail("owner index for %q points at record owned by %q", owner, l.records[idx].Owner)
			}
		}
	}
	for device, indices := range l.byDevice {
		for _, idx := range indices {
			if idx < 0 || idx >= len(l.records) {
				fail("device index for %q out of range: %d", device, idx)
				continue
			}
			if l.records[idx].DeviceID != device {
				fail("device index for %q points at record on device %q", device, l.records[idx].DeviceID)
			}
		}
	}

	for id := range l.candidates {
		idx, ok := l.byEntity[id]
		if !ok {
			fail("candidate %q has no ledger record", id)
			continue
		}
		rec := l.records[idx]
		if !rec.CleanupEligible {
			fail("candidate %q latest record is not cleanup eligible", id)
		}
		if rec.VerifiedRemoved {
			fail("candidate %q latest record is already verified removed", id)
		}
	}
	for id, idx := range l.byEntity {
		rec := l.records[idx]
		if rec.CleanupEligible && !rec.VerifiedRemoved {
			if _, ok := l.candidates[id]; !ok {
				fail("entity %q is cleanup eligible but missing from candidate set", id)
			}
		}
	}

	return report
}

// Records returns clones of every record in append order. Together with
// Restore it forms the persistence round trip.
func (l *Ledger) Records() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.clone())
	}
	return out
}

// Restore replaces the ledger content with previously archived records,
// rebuilding every index and the candidate set from the latest record of
// each entity. Record IDs are preserved. Records are replayed in creation
// order so re-creations shadow correctly.
func (l *Ledger) Restore(records []*Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make([]*Record, 0, len(records))
	l.byEntity = make(map[string]int, len(records))
	l.byOwner = make(map[string][]int)
	l.byDevice = make(map[string][]int)
	l.candidates = make(map[string]struct{})

	ordered := make([]*Record, len(records))
	for i, rec := range records {
		ordered[i] = rec.clone()
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, rec := range ordered {
		l.append(rec)
	}
	for id, idx := range l.byEntity {
		rec := l.records[idx]
		if rec.CleanupEligible && !rec.VerifiedRemoved {
			l.candidates[id] = struct{}{}
		}
	}
}
