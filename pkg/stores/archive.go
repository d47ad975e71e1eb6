package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/cleanup"
	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/reconcile"
)

// Archive persists cleanup transactions, reconciliation cycles, and ledger
// records through a Store. The cleanup engine and the reconciliation loop
// both accept it as their history sink.
type Archive struct {
	store  Store
	logger zerolog.Logger
}

// NewArchive creates an archive backed by the given store.
func NewArchive(store Store, logger zerolog.Logger) *Archive {
	return &Archive{
		store:  store,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// ArchiveTransaction persists a terminal cleanup transaction along with the
// ledger records it touched.
func (a *Archive) ArchiveTransaction(ctx context.Context, tx *cleanup.Transaction, records []*ledger.Record) error {
	row, err := transactionRow(tx)
	if err != nil {
		return err
	}
	if err := a.store.UpsertTransaction(ctx, row); err != nil {
		return err
	}
	return a.PersistLedgerRecords(ctx, records)
}

// ArchiveCycle persists a reconciliation cycle summary and the
// inconsistencies it touched.
func (a *Archive) ArchiveCycle(ctx context.Context, report *reconcile.Report, inconsistencies []*reconcile.Inconsistency) error {
	row, err := cycleRow(report)
	if err != nil {
		return err
	}
	if err := a.store.InsertCycle(ctx, row); err != nil {
		return err
	}

	rows := make([]*Inconsistency, 0, len(inconsistencies))
	for _, inc := range inconsistencies {
		rows = append(rows, inconsistencyRow(inc))
	}
	return a.store.UpsertInconsistencies(ctx, rows)
}

// PersistLedgerRecords upserts ledger records into the store.
func (a *Archive) PersistLedgerRecords(ctx context.Context, records []*ledger.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*CreationRecord, 0, len(records))
	for _, rec := range records {
		row, err := creationRecordRow(rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return a.store.UpsertCreationRecords(ctx, rows)
}

// RestoreLedger builds a ledger from the persisted creation records.
// Records that cannot be decoded are skipped with a warning rather than
// blocking startup.
func (a *Archive) RestoreLedger(ctx context.Context) (*ledger.Ledger, error) {
	rows, err := a.store.LoadCreationRecords(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*ledger.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := ledgerRecord(row)
		if err != nil {
			a.logger.Warn().Err(err).Str("record_id", row.RecordID).Msg("skipping unreadable creation record")
			continue
		}
		records = append(records, rec)
	}

	led := ledger.New()
	led.Restore(records)
	a.logger.Info().Int("records", len(records)).Msg("ledger restored from store")
	return led, nil
}

func transactionRow(tx *cleanup.Transaction) (*Transaction, error) {
	entityIDs, err := json.Marshal(tx.EntityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity IDs: %w", err)
	}

	row := &Transaction{
		ID:          tx.ID,
		Status:      string(tx.Status),
		Reason:      tx.Reason,
		EntityIDs:   string(entityIDs),
		StartedAt:   tx.StartedAt,
		CompletedAt: tx.CompletedAt,
	}

	if tx.Error != "" {
		msg := tx.Error
		row.Error = &msg
	}
	if len(tx.SuccessfulRemovals) > 0 {
		if row.SuccessfulRemovals, err = jsonColumn(tx.SuccessfulRemovals); err != nil {
			return nil, fmt.Errorf("failed to encode successful removals: %w", err)
		}
	}
	if len(tx.FailedRemovals) > 0 {
		if row.FailedRemovals, err = jsonColumn(tx.FailedRemovals); err != nil {
			return nil, fmt.Errorf("failed to encode failed removals: %w", err)
		}
	}
	if len(tx.Phases) > 0 {
		if row.Phases, err = jsonColumn(tx.Phases); err != nil {
			return nil, fmt.Errorf("failed to encode phases: %w", err)
		}
	}
	if len(tx.Snapshot) > 0 {
		if row.Snapshot, err = jsonColumn(tx.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to encode snapshot: %w", err)
		}
	}

	return row, nil
}

func cycleRow(report *reconcile.Report) (*Cycle, error) {
	row := &Cycle{
		CycleID:          report.CycleID,
		Trigger:          string(report.Trigger),
		StartedAt:        report.StartedAt,
		DurationMS:       report.Duration.Milliseconds(),
		ExternalEntities: report.ExternalEntities,
		TrackedEntities:  report.TrackedEntities,
		NewCount:         report.New,
		ResolvedCount:    report.Resolved,
		CorrectedCount:   report.Corrected,
		DeniedCount:      report.Denied,
		FailedCount:      report.Failed,
		CriticalIssues:   report.CriticalIssues,
		ActiveTotal:      report.ActiveTotal,
	}

	if len(report.Detected) > 0 {
		detected, err := jsonColumn(report.Detected)
		if err != nil {
			return nil, fmt.Errorf("failed to encode detection counts: %w", err)
		}
		row.Detected = detected
	}

	return row, nil
}

func inconsistencyRow(inc *reconcile.Inconsistency) *Inconsistency {
	row := &Inconsistency{
		ID:         inc.ID,
		EntityID:   inc.EntityID,
		Kind:       string(inc.Kind),
		Severity:   string(inc.Severity),
		Detail:     inc.Detail,
		CycleID:    inc.CycleID,
		DetectedAt: inc.DetectedAt,
		LastSeenAt: inc.LastSeenAt,
		CyclesSeen: inc.CyclesSeen,
		Resolved:   inc.Resolved,
		ResolvedAt: inc.ResolvedAt,
	}
	if inc.Method != "" {
		method := string(inc.Method)
		row.Method = &method
	}
	return row
}

func creationRecordRow(rec *ledger.Record) (*CreationRecord, error) {
	row := &CreationRecord{
		RecordID:        rec.RecordID,
		EntityID:        rec.EntityID,
		Owner:           rec.Owner,
		DeviceID:        rec.DeviceID,
		Kind:            rec.Kind,
		CreatedAt:       rec.CreatedAt,
		CleanupEligible: rec.CleanupEligible,
		CleanupMarkedAt: rec.CleanupMarkedAt,
		VerifiedRemoved: rec.VerifiedRemoved,
		VerifiedAt:      rec.VerifiedAt,
	}

	if rec.CleanupReason != "" {
		reason := rec.CleanupReason
		row.CleanupReason = &reason
	}
	if len(rec.Context) > 0 {
		contextJSON, err := jsonColumn(rec.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record context: %w", err)
		}
		row.Context = contextJSON
	}

	return row, nil
}

func ledgerRecord(row *CreationRecord) (*ledger.Record, error) {
	rec := &ledger.Record{
		RecordID:        row.RecordID,
		EntityID:        row.EntityID,
		Owner:           row.Owner,
		DeviceID:        row.DeviceID,
		Kind:            row.Kind,
		CreatedAt:       row.CreatedAt,
		CleanupEligible: row.CleanupEligible,
		CleanupMarkedAt: row.CleanupMarkedAt,
		VerifiedRemoved: row.VerifiedRemoved,
		VerifiedAt:      row.VerifiedAt,
	}

	if row.CleanupReason != nil {
		rec.CleanupReason = *row.CleanupReason
	}
	if row.Context != nil {
		if err := json.Unmarshal([]byte(*row.Context), &rec.Context); err != nil {
			return nil, fmt.Errorf("failed to decode record context: %w", err)
		}
	}

	return rec, nil
}

func jsonColumn(v interface{}) (*string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}
