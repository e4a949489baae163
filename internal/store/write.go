package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/procrecon/internal/ir"
)

// Change is one entry write of a commit.
type Change struct {
	Entry *ir.StoreEntry

	// PrevKey is the serialized key the entry was filed under before this
	// commit, when the commit re-keys it. The old live row is removed;
	// the merge log keeps it.
	PrevKey string

	Decision string
	Score    string
}

// Commit is the delta of one reconciliation pass.
type Commit struct {
	RunID   string
	At      time.Time
	Changes []Change
	Catalog *CatalogRecord // catalog the delta was computed under; may be nil
}

// Commit atomically applies a delta computed against expectedVersion.
// On success the store version becomes expectedVersion+1 and is returned.
// If the store version differs, nothing is written and a *ConflictError
// is returned.
func (s *Store) Commit(ctx context.Context, expectedVersion int64, c Commit) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	if err := tx.QueryRowContext(ctx, "SELECT version FROM store_meta WHERE id = 1").Scan(&current); err != nil {
		return 0, fmt.Errorf("commit: read version: %w", err)
	}
	if current != expectedVersion {
		return 0, &ConflictError{Expected: expectedVersion, Current: current}
	}
	next := current + 1
	at := formatTime(c.At)

	for _, ch := range c.Changes {
		key := ch.Entry.Key.String()
		body, err := marshalEntry(ch.Entry)
		if err != nil {
			return 0, fmt.Errorf("commit %s: %w", key, err)
		}
		if ch.PrevKey != "" && ch.PrevKey != key {
			if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE instance_key = ?", ch.PrevKey); err != nil {
				return 0, fmt.Errorf("commit %s: retire %s: %w", key, ch.PrevKey, err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (instance_key, body, version, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(instance_key) DO UPDATE SET
				body = excluded.body,
				version = excluded.version,
				updated_at = excluded.updated_at
		`, key, body, ch.Entry.Version, formatTime(ch.Entry.UpdatedAt))
		if err != nil {
			return 0, fmt.Errorf("commit %s: write entry: %w", key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO merge_log
			(store_version, instance_key, prev_key, run_id, decision, score, entry_version, body, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, next, key, ch.PrevKey, c.RunID, ch.Decision, ch.Score, ch.Entry.Version, body, at)
		if err != nil {
			return 0, fmt.Errorf("commit %s: append merge log: %w", key, err)
		}
	}

	fingerprint := ""
	if c.Catalog != nil {
		fingerprint = c.Catalog.Fingerprint
		if err := insertCatalog(ctx, tx, c.Catalog, at); err != nil {
			return 0, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE store_meta
		SET version = ?,
			catalog_fingerprint = CASE WHEN ? = '' THEN catalog_fingerprint ELSE ? END,
			last_run_id = ?,
			updated_at = ?
		WHERE id = 1
	`, next, fingerprint, fingerprint, c.RunID, at)
	if err != nil {
		return 0, fmt.Errorf("commit: bump version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCatalog(ctx context.Context, db execer, rec *CatalogRecord, at string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO catalogs (fingerprint, format, source, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, rec.Fingerprint, rec.Format, rec.Source, at)
	if err != nil {
		return fmt.Errorf("record catalog %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// AdvanceCatalog records a catalog source and makes it the store's catalog
// fingerprint without bumping the store version. It is the no-change
// counterpart of Commit: if the store version differs from expectedVersion
// nothing is written and a *ConflictError is returned. Recording the same
// fingerprint twice keeps the first source.
func (s *Store) AdvanceCatalog(ctx context.Context, expectedVersion int64, rec CatalogRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("advance catalog: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	if err := tx.QueryRowContext(ctx, "SELECT version FROM store_meta WHERE id = 1").Scan(&current); err != nil {
		return fmt.Errorf("advance catalog: read version: %w", err)
	}
	if current != expectedVersion {
		return &ConflictError{Expected: expectedVersion, Current: current}
	}

	at := rec.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := insertCatalog(ctx, tx, &rec, formatTime(at)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE store_meta SET catalog_fingerprint = ? WHERE id = 1", rec.Fingerprint,
	); err != nil {
		return fmt.Errorf("advance catalog: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("advance catalog: %w", err)
	}
	return nil
}
