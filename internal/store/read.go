package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/procrecon/internal/ir"
)

// Snapshot is an immutable view of the store at one version.
// Entries are keyed by serialized instance key; callers must Clone an
// entry before changing it.
type Snapshot struct {
	Version            int64
	CatalogFingerprint string
	LastRunID          string
	UpdatedAt          time.Time
	Entries            map[string]*ir.StoreEntry
}

// Keys returns the serialized keys in store order.
func (s *Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.Entries))
}

// Read returns a consistent snapshot of every live entry.
// Returns *CorruptionError if any row fails structural validation.
func (s *Store) Read(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{Entries: make(map[string]*ir.StoreEntry)}
	var updatedAt string
	err = tx.QueryRowContext(ctx, `
		SELECT version, catalog_fingerprint, last_run_id, updated_at
		FROM store_meta WHERE id = 1
	`).Scan(&snap.Version, &snap.CatalogFingerprint, &snap.LastRunID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &CorruptionError{Reason: "store_meta row missing"}
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: meta: %w", err)
	}
	if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, &CorruptionError{Reason: fmt.Sprintf("store_meta.updated_at: %v", err)}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT instance_key, body, version
		FROM entries
		ORDER BY instance_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, body string
		var version int64
		if err := rows.Scan(&key, &body, &version); err != nil {
			return nil, fmt.Errorf("read snapshot: scan entry: %w", err)
		}
		if version > snap.Version {
			return nil, &CorruptionError{Key: key, Reason: fmt.Sprintf("entry version %d ahead of store version %d", version, snap.Version)}
		}
		e, err := unmarshalEntry(body)
		if err != nil {
			return nil, &CorruptionError{Key: key, Reason: err.Error()}
		}
		if err := validateEntry(key, version, e); err != nil {
			return nil, err
		}
		snap.Entries[key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: iterate entries: %w", err)
	}

	return snap, nil
}

// Get returns one live entry, or nil if the key has no live entry.
func (s *Store) Get(ctx context.Context, key string) (*ir.StoreEntry, error) {
	var body string
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT body, version FROM entries WHERE instance_key = ?
	`, key).Scan(&body, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	e, err := unmarshalEntry(body)
	if err != nil {
		return nil, &CorruptionError{Key: key, Reason: err.Error()}
	}
	if err := validateEntry(key, version, e); err != nil {
		return nil, err
	}
	return e, nil
}

// LogRecord is one row of the append-only merge log.
type LogRecord struct {
	Seq          int64          `json:"seq"`
	StoreVersion int64          `json:"store_version"`
	Key          string         `json:"instance_key"`
	PrevKey      string         `json:"prev_key,omitempty"`
	RunID        string         `json:"run_id"`
	Decision     string         `json:"decision"`
	Score        string         `json:"score,omitempty"`
	EntryVersion int64          `json:"entry_version"`
	Entry        *ir.StoreEntry `json:"entry"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// History returns the audit chain of an entry: every log record filed
// under the key, plus the records of keys that were folded into it,
// followed transitively. Records are ordered by seq.
func (s *Store) History(ctx context.Context, key string) ([]LogRecord, error) {
	keys := []string{key}
	seen := map[string]bool{key: true}
	var out []LogRecord
	for len(keys) > 0 {
		k := keys[0]
		keys = keys[1:]
		recs, err := s.logFor(ctx, k)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.PrevKey != "" && !seen[r.PrevKey] {
				seen[r.PrevKey] = true
				keys = append(keys, r.PrevKey)
			}
			for _, m := range r.Entry.MergedFrom {
				if !seen[m.Key] {
					seen[m.Key] = true
					keys = append(keys, m.Key)
				}
			}
		}
		out = append(out, recs...)
	}
	slices.SortFunc(out, func(a, b LogRecord) int { return cmp.Compare(a.Seq, b.Seq) })
	out = slices.CompactFunc(out, func(a, b LogRecord) bool { return a.Seq == b.Seq })
	if out == nil {
		out = []LogRecord{}
	}
	return out, nil
}

func (s *Store) logFor(ctx context.Context, key string) ([]LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, store_version, instance_key, prev_key, run_id, decision, score, entry_version, body, recorded_at
		FROM merge_log
		WHERE instance_key = ?
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query merge log: %w", err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		var body, recordedAt string
		if err := rows.Scan(&r.Seq, &r.StoreVersion, &r.Key, &r.PrevKey, &r.RunID,
			&r.Decision, &r.Score, &r.EntryVersion, &body, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan merge log: %w", err)
		}
		if r.Entry, err = unmarshalEntry(body); err != nil {
			return nil, &CorruptionError{Key: r.Key, Reason: fmt.Sprintf("merge_log seq %d: %v", r.Seq, err)}
		}
		if r.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, &CorruptionError{Key: r.Key, Reason: fmt.Sprintf("merge_log seq %d: %v", r.Seq, err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge log: %w", err)
	}
	return out, nil
}

// Export renders the live store as a flat JSON object mapping serialized
// instance keys to entries, keys in store order.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	snap, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return ExportSnapshot(snap)
}

// ExportSnapshot renders a snapshot the way Export does.
func ExportSnapshot(snap *Snapshot) ([]byte, error) {
	entries := snap.Entries
	if entries == nil {
		entries = map[string]*ir.StoreEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export store: %w", err)
	}
	return append(data, '\n'), nil
}

// CatalogRecord is a catalog source kept by fingerprint.
type CatalogRecord struct {
	Fingerprint string
	Format      string
	Source      []byte
	RecordedAt  time.Time
}

// Catalog returns the catalog source stored under a fingerprint, or nil.
func (s *Store) Catalog(ctx context.Context, fingerprint string) (*CatalogRecord, error) {
	rec := &CatalogRecord{Fingerprint: fingerprint}
	var recordedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT format, source, recorded_at FROM catalogs WHERE fingerprint = ?
	`, fingerprint).Scan(&rec.Format, &rec.Source, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", fingerprint, err)
	}
	if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, &CorruptionError{Reason: fmt.Sprintf("catalogs.recorded_at: %v", err)}
	}
	return rec, nil
}
