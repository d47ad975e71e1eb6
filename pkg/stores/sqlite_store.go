package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. The pool settings are
// ignored for :memory: databases, which are limited to one connection.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool. A :memory: database exists per
	// connection, so the pool collapses to one connection there.
	if s.cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// UpsertCreationRecords writes ledger records, replacing existing rows with
// the same record ID. The batch runs in a single transaction so a partial
// write can never leave the persisted ledger torn.
func (s *SQLiteStore) UpsertCreationRecords(ctx context.Context, records []*CreationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO creation_records (
			record_id, entity_id, owner, device_id, kind, context, created_at,
			cleanup_eligible, cleanup_reason, cleanup_marked_at,
			verified_removed, verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			cleanup_eligible = excluded.cleanup_eligible,
			cleanup_reason = excluded.cleanup_reason,
			cleanup_marked_at = excluded.cleanup_marked_at,
			verified_removed = excluded.verified_removed,
			verified_at = excluded.verified_at
	`

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, query,
			rec.RecordID,
			rec.EntityID,
			rec.Owner,
			rec.DeviceID,
			rec.Kind,
			rec.Context,
			rec.CreatedAt,
			rec.CleanupEligible,
			rec.CleanupReason,
			rec.CleanupMarkedAt,
			rec.VerifiedRemoved,
			rec.VerifiedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert creation record %s: %w", rec.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit creation records: %w", err)
	}

	return nil
}

// LoadCreationRecords returns every creation record in insertion order, the
// order a ledger restore needs.
func (s *SQLiteStore) LoadCreationRecords(ctx context.Context) ([]*CreationRecord, error) {
	query := `
		SELECT seq, record_id, entity_id, owner, device_id, kind, context, created_at,
			   cleanup_eligible, cleanup_reason, cleanup_marked_at,
			   verified_removed, verified_at
		FROM creation_records
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load creation records: %w", err)
	}
	defer rows.Close()

	return scanCreationRecords(rows)
}

// ListCreationRecords lists creation records with optional filters and
// pagination, newest first.
func (s *SQLiteStore) ListCreationRecords(ctx context.Context, entityID *string, owner *string, limit, offset int) ([]*CreationRecord, error) {
	query := `
		SELECT seq, record_id, entity_id, owner, device_id, kind, context, created_at,
			   cleanup_eligible, cleanup_reason, cleanup_marked_at,
			   verified_removed, verified_at
		FROM creation_records
		WHERE (? IS NULL OR entity_id = ?)
		  AND (? IS NULL OR owner = ?)
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, entityID, entityID, owner, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list creation records: %w", err)
	}
	defer rows.Close()

	return scanCreationRecords(rows)
}

func scanCreationRecords(rows *sql.Rows) ([]*CreationRecord, error) {
	records := []*CreationRecord{}
	for rows.Next() {
		rec := &CreationRecord{}
		err := rows.Scan(
			&rec.Seq,
			&rec.RecordID,
			&rec.EntityID,
			&rec.Owner,
			&rec.DeviceID,
			&rec.Kind,
			&rec.Context,
			&rec.CreatedAt,
			&rec.CleanupEligible,
			&rec.CleanupReason,
			&rec.CleanupMarkedAt,
			&rec.VerifiedRemoved,
			&rec.VerifiedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan creation record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating creation records: %w", err)
	}

	return records, nil
}

// UpsertTransaction writes a cleanup transaction, replacing an existing row
// with the same ID.
func (s *SQLiteStore) UpsertTransaction(ctx context.Context, txRow *Transaction) error {
	query := `
		INSERT INTO cleanup_transactions (
			id, status, reason, entity_ids, successful_removals, failed_removals,
			phases, snapshot, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			successful_removals = excluded.successful_removals,
			failed_removals = excluded.failed_removals,
			phases = excluded.phases,
			snapshot = excluded.snapshot,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		txRow.ID,
		txRow.Status,
		txRow.Reason,
		txRow.EntityIDs,
		txRow.SuccessfulRemovals,
		txRow.FailedRemovals,
		txRow.Phases,
		txRow.Snapshot,
		txRow.Error,
		txRow.StartedAt,
		txRow.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	return nil
}

// GetTransaction retrieves a cleanup transaction by ID
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	query := `
		SELECT id, status, reason, entity_ids, successful_removals, failed_removals,
			   phases, snapshot, error, started_at, completed_at
		FROM cleanup_transactions
		WHERE id = ?
	`

	txRow := &Transaction{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&txRow.ID,
		&txRow.Status,
		&txRow.Reason,
		&txRow.EntityIDs,
		&txRow.SuccessfulRemovals,
		&txRow.FailedRemovals,
		&txRow.Phases,
		&txRow.Snapshot,
		&txRow.Error,
		&txRow.StartedAt,
		&txRow.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return txRow, nil
}

// ListTransactions lists cleanup transactions with an optional status
// filter and pagination, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, status *string, limit, offset int) ([]*Transaction, error) {
	query := `
		SELECT id, status, reason, entity_ids, successful_removals, failed_removals,
			   phases, snapshot, error, started_at, completed_at
		FROM cleanup_transactions
		WHERE (? IS NULL OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []*Transaction{}
	for rows.Next() {
		txRow := &Transaction{}
		err := rows.Scan(
			&txRow.ID,
			&txRow.Status,
			&txRow.Reason,
			&txRow.EntityIDs,
			&txRow.SuccessfulRemovals,
			&txRow.FailedRemovals,
			&txRow.Phases,
			&txRow.Snapshot,
			&txRow.Error,
			&txRow.StartedAt,
			&txRow.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txRow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// UpsertInconsistencies writes inconsistencies, replacing existing rows
// with the same ID. The batch runs in a single transaction.
func (s *SQLiteStore) UpsertInconsistencies(ctx context.Context, inconsistencies []*Inconsistency) error {
	if len(inconsistencies) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO inconsistencies (
			id, entity_id, kind, severity, detail, cycle_id,
			detected_at, last_seen_at, cycles_seen, resolved, method, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			severity = excluded.severity,
			detail = excluded.detail,
			last_seen_at = excluded.last_seen_at,
			cycles_seen = excluded.cycles_seen,
			resolved = excluded.resolved,
			method = excluded.method,
			resolved_at = excluded.resolved_at
	`

	for _, inc := range inconsistencies {
		_, err := tx.ExecContext(ctx, query,
			inc.ID,
			inc.EntityID,
			inc.Kind,
			inc.Severity,
			inc.Detail,
			inc.CycleID,
			inc.DetectedAt,
			inc.LastSeenAt,
			inc.CyclesSeen,
			inc.Resolved,
			inc.Method,
			inc.ResolvedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert inconsistency %s: %w", inc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit inconsistencies: %w", err)
	}

	return nil
}

// ListInconsistencies lists inconsistencies with an optional resolved
// filter and pagination, most recently seen first.
func (s *SQLiteStore) ListInconsistencies(ctx context.Context, resolved *bool, limit, offset int) ([]*Inconsistency, error) {
	query := `
		SELECT id, entity_id, kind, severity, detail, cycle_id,
			   detected_at, last_seen_at, cycles_seen, resolved, method, resolved_at
		FROM inconsistencies
		WHERE (? IS NULL OR resolved = ?)
		ORDER BY last_seen_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, resolved, resolved, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list inconsistencies: %w", err)
	}
	defer rows.Close()

	inconsistencies := []*Inconsistency{}
	for rows.Next() {
		inc := &Inconsistency{}
		err := rows.Scan(
			&inc.ID,
			&inc.EntityID,
			&inc.Kind,
			&inc.Severity,
			&inc.Detail,
			&inc.CycleID,
			&inc.DetectedAt,
			&inc.LastSeenAt,
			&inc.CyclesSeen,
			&inc.Resolved,
			&inc.Method,
			&inc.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inconsistency: %w", err)
		}
		inconsistencies = append(inconsistencies, inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inconsistencies: %w", err)
	}

	return inconsistencies, nil
}

// InsertCycle writes a reconciliation cycle summary
func (s *SQLiteStore) InsertCycle(ctx context.Context, cycle *Cycle) error {
	query := `
		INSERT INTO reconcile_cycles (
			cycle_id, trigger_kind, started_at, duration_ms,
			external_entities, tracked_entities, detected,
			new_count, resolved_count, corrected_count, denied_count, failed_count,
			critical_issues, active_total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cycle.CycleID,
		cycle.Trigger,
		cycle.StartedAt,
		cycle.DurationMS,
		cycle.ExternalEntities,
		cycle.TrackedEntities,
		cycle.Detected,
		cycle.NewCount,
		cycle.ResolvedCount,
		cycle.CorrectedCount,
		cycle.DeniedCount,
		cycle.FailedCount,
		cycle.CriticalIssues,
		cycle.ActiveTotal,
	)

	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	return nil
}

// ListCycles lists reconciliation cycle summaries with pagination, newest
// first.
func (s *SQLiteStore) ListCycles(ctx context.Context, limit, offset int) ([]*Cycle, error) {
	query := `
		SELECT cycle_id, trigger_kind, started_at, duration_ms,
			   external_entities, tracked_entities, detected,
			   new_count, resolved_count, corrected_count, denied_count, failed_count,
			   critical_issues, active_total
		FROM reconcile_cycles
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	cycles := []*Cycle{}
	for rows.Next() {
		cycle := &Cycle{}
		err := rows.Scan(
			&cycle.CycleID,
			&cycle.Trigger,
			&cycle.StartedAt,
			&cycle.DurationMS,
			&cycle.ExternalEntities,
			&cycle.TrackedEntities,
			&cycle.Detected,
			&cycle.NewCount,
			&cycle.ResolvedCount,
			&cycle.CorrectedCount,
			&cycle.DeniedCount,
			&cycle.FailedCount,
			&cycle.CriticalIssues,
			&cycle.ActiveTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, cycle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	return cycles, nil
}

// PruneHistory deletes terminal transactions, resolved inconsistencies, and
// cycle summaries older than the cutoff. Creation records are never pruned:
// the ledger is append-only.
func (s *SQLiteStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64

	result, err := tx.ExecContext(ctx,
		`DELETE FROM cleanup_transactions WHERE completed_at IS NOT NULL AND completed_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	total += rows

	result, err = tx.ExecContext(ctx,
		`DELETE FROM inconsistencies WHERE resolved = 1 AND resolved_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune inconsistencies: %w", err)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	total += rows

	result, err = tx.ExecContext(ctx,
		`DELETE FROM reconcile_cycles WHERE started_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycles: %w", err)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	total += rows

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	return total, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
