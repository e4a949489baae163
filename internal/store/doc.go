// Package store provides SQLite-backed durable storage for reconciled
// process instances.
//
// The store holds:
//   - Entries: exactly one live row per serialized instance key
//   - Merge log: append-only audit trail of every entry write, including
//     the key an entry was filed under before a re-key
//   - Catalogs: every catalog a commit was made under, by fingerprint
//   - Meta: the store version and the catalog fingerprint of the last commit
//
// # Concurrency
//
// Readers take a Snapshot at some store version V. A commit carries the
// version its delta was computed against; if the store moved on, the commit
// fails with a *ConflictError and nothing is written. A successful commit
// bumps the store version by one. All writes of a commit happen in a single
// IMMEDIATE transaction, so a partial commit is never observable.
//
// # Validation
//
// Every Read checks each entry structurally (key round-trip, versions,
// evidence ids). A failure returns *CorruptionError and is never repaired.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Take the write lock when a transaction begins
package store
