package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/ir"
	"github.com/roach88/procrecon/internal/store"
	"github.com/roach88/procrecon/internal/testutil"
)

// t0 is the reference instant of engine tests; evidence is stamped
// relative to it and the clock starts one day later.
var t0 = testutil.DefaultTime

func at(days float64) time.Time {
	return t0.Add(time.Duration(days * float64(24*time.Hour)))
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	return cat
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type testEnv struct {
	engine  *Engine
	store   *store.Store
	catalog *catalog.Catalog
	clock   *testutil.FixedClock
}

func newTestEnv(t *testing.T, mutate func(*config.Config), opts ...Option) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.RetryBackoff = 0
	if mutate != nil {
		mutate(&cfg)
	}
	env := &testEnv{
		store:   setupTestStore(t),
		catalog: testCatalog(t),
		clock:   testutil.NewFixedClock(at(1)),
	}
	opts = append([]Option{
		WithClock(env.clock),
		WithRunIDGenerator(testutil.NewCountingRunIDGenerator("run")),
	}, opts...)
	e, err := New(env.store, env.catalog, cfg, opts...)
	require.NoError(t, err)
	env.engine = e
	return env
}

// sibling returns a second engine sharing the env's store, standing in for
// a concurrent pipeline run.
func (env *testEnv) sibling(t *testing.T) *Engine {
	t.Helper()
	e, err := New(env.store, env.catalog, env.engine.cfg,
		WithClock(env.clock),
		WithRunIDGenerator(testutil.NewCountingRunIDGenerator("sibling")),
	)
	require.NoError(t, err)
	return e
}

func candidate(client, role string, evidence ...ir.Evidence) ir.InstanceCandidate {
	return ir.InstanceCandidate{
		CanonicalProcess: "recruiting",
		CanonicalClient:  client,
		CanonicalRole:    role,
		Evidence:         evidence,
	}
}

func withEmail(c ir.InstanceCandidate, name, email string, confidence float64) ir.InstanceCandidate {
	c.Identity = ir.CandidateIdentity{NameRaw: name, Email: email, Confidence: confidence}
	return c
}

func ev(id string, days float64) ir.Evidence {
	return ir.Evidence{MessageID: id, Timestamp: at(days)}
}

func stepEvent(id string, days float64, step, eventType string) ir.Evidence {
	return ir.Evidence{MessageID: id, Timestamp: at(days), Step: step, EventType: eventType}
}

func exportStore(t *testing.T, s *store.Store) string {
	t.Helper()
	data, err := s.Export(context.Background())
	require.NoError(t, err)
	return string(data)
}
