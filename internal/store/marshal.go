package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/procrecon/internal/ir"
)

// marshalEntry converts a StoreEntry to JSON TEXT for storage.
// Struct field order is fixed and map keys are sorted by encoding/json,
// so equal entries always produce equal bodies.
func marshalEntry(e *ir.StoreEntry) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalEntry parses JSON TEXT to a StoreEntry.
func unmarshalEntry(data string) (*ir.StoreEntry, error) {
	var e ir.StoreEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

var validHealth = map[ir.Health]bool{
	ir.HealthOnTrack: true,
	ir.HealthAtRisk:  true,
	ir.HealthOverdue: true,
	ir.HealthUnknown: true,
}

// validateEntry checks a persisted entry against its row.
func validateEntry(rowKey string, rowVersion int64, e *ir.StoreEntry) error {
	corrupt := func(format string, args ...any) error {
		return &CorruptionError{Key: rowKey, Reason: fmt.Sprintf(format, args...)}
	}

	parsed, err := ir.ParseInstanceKey(rowKey)
	if err != nil {
		return corrupt("row key: %v", err)
	}
	if parsed != e.Key {
		return corrupt("body key %s does not match row key", e.Key.String())
	}
	if e.Version < 1 || e.Version != rowVersion {
		return corrupt("body version %d, row version %d", e.Version, rowVersion)
	}
	if !validHealth[e.Health] {
		return corrupt("invalid health %q", e.Health)
	}
	if e.FirstSeenAt.IsZero() || e.UpdatedAt.Before(e.FirstSeenAt) {
		return corrupt("invalid timestamps first_seen_at=%s updated_at=%s",
			formatTime(e.FirstSeenAt), formatTime(e.UpdatedAt))
	}
	seen := make(map[string]bool, len(e.Evidence))
	for i, ev := range e.Evidence {
		if ev.MessageID == "" {
			return corrupt("evidence_set[%d] has no message_id", i)
		}
		if seen[ev.MessageID] {
			return corrupt("duplicate evidence message_id %q", ev.MessageID)
		}
		seen[ev.MessageID] = true
	}
	// Inferred labels are configurable, so only empty statuses are rejected.
	for _, step := range slices.Sorted(maps.Keys(e.StepsState)) {
		if e.StepsState[step] == "" {
			return corrupt("step %q has empty status", step)
		}
	}
	if slices.ContainsFunc(e.MergedFrom, func(r ir.MergeRef) bool { return r.Key == "" }) {
		return corrupt("merged_from has an empty key")
	}
	return nil
}
