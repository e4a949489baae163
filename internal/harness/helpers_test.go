package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/store"
	"github.com/roach88/procrecon/internal/testutil"
)

const scenariosDir = "../../testdata/scenarios"

// catalogPath is the shared test catalog, absolute so scenarios written to
// temp dirs can reference it.
func catalogPath(t *testing.T) string {
	t.Helper()
	p, err := filepath.Abs("../../testdata/catalog.yaml")
	require.NoError(t, err)
	return p
}

// writeScenario writes a scenario file into a temp dir and returns its path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func candidate(client, role string, evidence ...map[string]any) map[string]any {
	evs := make([]any, len(evidence))
	for i, e := range evidence {
		evs[i] = e
	}
	return map[string]any{
		"canonical_process": "recruiting",
		"canonical_client":  client,
		"canonical_role":    role,
		"evidence":          evs,
	}
}

func ev(id, ts string) map[string]any {
	return map[string]any{"message_id": id, "timestamp": ts}
}

// newInstanceScenario is a one-run scenario creating a single entry.
func newInstanceScenario(t *testing.T) *Scenario {
	return &Scenario{
		Name:        "inline_new_instance",
		Description: "one candidate, one entry",
		Catalog:     catalogPath(t),
		Runs: []RunStep{{
			RunID:      "run-1",
			Candidates: []map[string]any{candidate("Acme", "AI Engineer", ev("m1", "2026-02-27T10:00:00Z"))},
			Expect:     &RunExpect{Decisions: []string{"NEW"}},
		}},
		Assertions: []Assertion{
			{Type: AssertEntryCount, Count: 1},
		},
	}
}

func acmeKey() *KeySpec {
	return &KeySpec{Process: "recruiting", Client: "Acme", Role: "AI Engineer"}
}

// newTestHarness wires a harness over st with the shared catalog and the
// stock configuration.
func newTestHarness(t *testing.T, st *store.Store) *Harness {
	t.Helper()
	cat, err := catalog.Load(catalogPath(t))
	require.NoError(t, err)
	cfg := config.Default()
	cfg.RetryBackoff = 0
	h, err := newHarness(st, cat, cfg, testutil.DefaultTime)
	require.NoError(t, err)
	return h
}
