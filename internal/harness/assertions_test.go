package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/procrecon/internal/store"
)

func TestMatchValue(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"equal strings", "done", "done", true},
		{"different strings", "done", "blocked", false},
		{"json number vs yaml int", float64(2), 2, true},
		{"int64 vs int", int64(3), 3, true},
		{"number mismatch", float64(2), 3, false},
		{"bool", true, true, true},
		{"string vs number", "1", 1, false},
		{"list exact", []any{"m1", "m2"}, []any{"m1", "m2"}, true},
		{"list order matters", []any{"m1", "m2"}, []any{"m2", "m1"}, false},
		{"list length", []any{"m1", "m2"}, []any{"m1"}, false},
		{"string list", []string{"a"}, []any{"a"}, true},
		{"empty lists", []any{}, []any{}, true},
		{"map subset", map[string]any{"a": "x", "b": "y"}, map[string]any{"a": "x"}, true},
		{"map missing key", map[string]any{"a": "x"}, map[string]any{"b": "y"}, false},
		{"nested subset", []any{map[string]any{"key": "k", "run_id": "run-2"}}, []any{map[string]any{"run_id": "run-2"}}, true},
		{"map vs scalar", "x", map[string]any{"a": "x"}, false},
		{"nil both", nil, nil, true},
		{"nil expected", "x", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchValue(tt.actual, tt.expected))
		})
	}
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEntry,
		Expected: `field "version" = 2`,
		Actual:   `field "version" = 1`,
		Trace: []TraceEvent{
			{Type: EventDecision, Run: "run-1", Index: 0, Decision: "NEW", Action: "created", Key: "k"},
			{Type: EventPass, Run: "run-1", StoreVersion: 1, Committed: true, Attempts: 1},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: entry")
	assert.Contains(t, msg, `Expected: field "version" = 2`)
	assert.Contains(t, msg, `Actual: field "version" = 1`)
	assert.Contains(t, msg, "[1] run-1 #0 NEW created k")
	assert.NotContains(t, msg, "[2]", "pass events are not listed")
}

func TestEvaluateAssertions_NoStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertEntryCount}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a store")
}

func TestEvaluateAssertions_AgainstStore(t *testing.T) {
	result, err := Run(newInstanceScenario(t))
	require.NoError(t, err)
	require.True(t, result.Pass)

	// Run closes its store, so replay the scenario's single run into a
	// store the assertions can see.
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h := newTestHarness(t, st)
	require.NoError(t, h.executeRun(context.Background(), newInstanceScenario(t).Runs[0], NewResult()))

	actx := &AssertionContext{Store: st, Ctx: context.Background()}
	other := &KeySpec{Process: "recruiting", Client: "Globex", Role: "AI Engineer"}

	tests := []struct {
		name      string
		assertion Assertion
		fails     string
	}{
		{"count", Assertion{Type: AssertEntryCount, Count: 1}, ""},
		{"count mismatch", Assertion{Type: AssertEntryCount, Count: 2}, "2 entries"},
		{"entry fields", Assertion{Type: AssertEntry, Key: acmeKey(), Expect: map[string]any{
			"version":      1,
			"evidence_ids": []any{"m1"},
			"instance_key": map[string]any{"canonical_client": "Acme"},
			"health":       "on_track",
		}}, ""},
		{"entry mismatch", Assertion{Type: AssertEntry, Key: acmeKey(), Expect: map[string]any{"version": 2}}, `field "version" = 2`},
		{"entry unknown field", Assertion{Type: AssertEntry, Key: acmeKey(), Expect: map[string]any{"nope": 1}}, "field not present"},
		{"entry missing", Assertion{Type: AssertEntry, Key: other, Expect: map[string]any{"version": 1}}, "entry not found"},
		{"no entry", Assertion{Type: AssertNoEntry, Key: other}, ""},
		{"no entry but present", Assertion{Type: AssertNoEntry, Key: acmeKey()}, "entry at version 1"},
		{"history", Assertion{Type: AssertHistoryLength, Key: acmeKey(), Count: 1}, ""},
		{"history mismatch", Assertion{Type: AssertHistoryLength, Key: acmeKey(), Count: 3}, "1 log records"},
		{"unknown", Assertion{Type: "trace_order"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(result, []Assertion{tt.assertion}, actx)
			if tt.fails == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.fails)
		})
	}
}
