// Package ledger provides the append-only creation ledger for entwarden.
// Every entity creation is recorded with its owner, device, and kind, and
// indexed for O(1) provenance lookup. Records are never deleted; lifecycle
// flags (cleanup eligibility, verified removal) only move forward. The
// ledger performs no I/O against the external registry.
package ledger
