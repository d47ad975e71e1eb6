// Package stores provides the persistence layer for entwarden.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for creation records, cleanup transactions,
// inconsistencies, and reconciliation cycle summaries, plus the Archive
// adapter the engine and the reconciliation loop write through.
package stores
