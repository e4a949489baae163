package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/procrecon/internal/ir"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates a structurally valid entry.
func createTestEntry(client, candidateID string, version int64, msgIDs ...string) *ir.StoreEntry {
	e := &ir.StoreEntry{
		Key:         ir.InstanceKey{ProcessID: "recruiting", Client: client, Role: "AI Engineer", CandidateID: candidateID},
		DisplayName: "AI Engineer - " + client,
		Identity:    ir.EntryIdentity{Signal: ir.SignalNone},
		Health:      ir.HealthUnknown,
		MergedFrom:  []ir.MergeRef{},
		FirstSeenAt: t0,
		UpdatedAt:   t0,
		LastRunID:   "run-1",
		Version:     version,
	}
	for _, id := range msgIDs {
		e.Evidence = append(e.Evidence, ir.Evidence{MessageID: id, Timestamp: t0})
	}
	return e
}
