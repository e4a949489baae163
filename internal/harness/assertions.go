package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/procrecon/internal/ir"
	"github.com/roach88/procrecon/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventDecision {
				fmt.Fprintf(&buf, "  [%d] %s #%d %s %s %s\n", i+1, event.Run, event.Index, event.Decision, event.Action, event.Key)
			}
		}
	}

	return buf.String()
}

// assertEntryCount checks the number of entries in the final snapshot.
func assertEntryCount(ctx context.Context, st *store.Store, trace []TraceEvent, assertion Assertion) error {
	snap, err := st.Read(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if len(snap.Entries) != assertion.Count {
		return &AssertionError{
			Type:     AssertEntryCount,
			Expected: fmt.Sprintf("%d entries", assertion.Count),
			Actual:   fmt.Sprintf("%d entries: %v", len(snap.Entries), snap.Keys()),
			Trace:    trace,
		}
	}
	return nil
}

// assertEntry checks that the entry at the assertion's key exists and
// carries the expected fields (subset semantics).
func assertEntry(ctx context.Context, st *store.Store, trace []TraceEvent, assertion Assertion) error {
	key := assertion.Key.InstanceKey().String()
	e, err := st.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if e == nil {
		return &AssertionError{
			Type:     AssertEntry,
			Expected: fmt.Sprintf("entry %s", key),
			Actual:   "entry not found",
			Trace:    trace,
		}
	}

	fields, err := entryFields(e)
	if err != nil {
		return err
	}

	for _, name := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[name]
		got, ok := fields[name]
		if !ok {
			return &AssertionError{
				Type:     AssertEntry,
				Expected: fmt.Sprintf("field %q on %s", name, key),
				Actual:   "field not present",
			}
		}
		if !matchValue(got, want) {
			return &AssertionError{
				Type:     AssertEntry,
				Expected: fmt.Sprintf("field %q = %v", name, want),
				Actual:   fmt.Sprintf("field %q = %v", name, got),
			}
		}
	}
	return nil
}

// assertNoEntry checks that no entry exists at the assertion's key.
func assertNoEntry(ctx context.Context, st *store.Store, trace []TraceEvent, assertion Assertion) error {
	key := assertion.Key.InstanceKey().String()
	e, err := st.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if e != nil {
		return &AssertionError{
			Type:     AssertNoEntry,
			Expected: fmt.Sprintf("no entry %s", key),
			Actual:   fmt.Sprintf("entry at version %d", e.Version),
			Trace:    trace,
		}
	}
	return nil
}

// assertHistoryLength checks the number of merge log records for a key.
func assertHistoryLength(ctx context.Context, st *store.Store, assertion Assertion) error {
	key := assertion.Key.InstanceKey().String()
	recs, err := st.History(ctx, key)
	if err != nil {
		return fmt.Errorf("history %s: %w", key, err)
	}
	if len(recs) != assertion.Count {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d log records for %s", assertion.Count, key),
			Actual:   fmt.Sprintf("%d log records", len(recs)),
		}
	}
	return nil
}

// entryFields flattens an entry to its JSON field map plus the computed
// evidence_ids list.
func entryFields(e *ir.StoreEntry) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	ids := make([]any, 0, len(e.Evidence))
	for _, id := range e.EvidenceIDs() {
		ids = append(ids, id)
	}
	fields["evidence_ids"] = ids
	return fields, nil
}

// matchValue compares a decoded JSON value against a YAML expectation.
// Maps match as subsets; lists match element by element; numbers compare
// by value regardless of their Go type.
func matchValue(actual, expected any) bool {
	actual, expected = normalize(actual), normalize(expected)

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, exists := act[k]
			if !exists || !matchValue(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchValue(act[i], exp[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}

// normalize widens numbers to float64 and string lists to []any.
func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides the store assertions are evaluated against.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the final store.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if actx == nil || actx.Store == nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s requires a store", i, assertion.Type))
			continue
		}
		ctx := actx.Ctx
		if ctx == nil {
			ctx = context.Background()
		}

		switch assertion.Type {
		case AssertEntryCount:
			err = assertEntryCount(ctx, actx.Store, result.Trace, assertion)
		case AssertEntry:
			err = assertEntry(ctx, actx.Store, result.Trace, assertion)
		case AssertNoEntry:
			err = assertNoEntry(ctx, actx.Store, result.Trace, assertion)
		case AssertHistoryLength:
			err = assertHistoryLength(ctx, actx.Store, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
