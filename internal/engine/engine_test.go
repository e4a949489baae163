package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/ir"
	"github.com/roach88/procrecon/internal/store"
	"github.com/roach88/procrecon/internal/testutil"
)

func reconcile(t *testing.T, e *Engine, runID string, cands ...ir.InstanceCandidate) *Result {
	t.Helper()
	res, err := e.Reconcile(context.Background(), RunInput{RunID: runID, Candidates: cands})
	require.NoError(t, err)
	return res
}

func actions(res *Result) []Action {
	out := make([]Action, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		out = append(out, o.Action)
	}
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.FuzzyThreshold = 0
	_, err := New(setupTestStore(t), testCatalog(t), cfg)
	require.Error(t, err)
}

func TestReconcile_ScenarioA_NewInstance(t *testing.T) {
	env := newTestEnv(t, nil)

	res := reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", ev("m1", 0)))

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, DecisionNew, o.Decision.Kind)
	assert.Equal(t, ActionCreated, o.Action)
	assert.Equal(t, 1, o.EvidenceAdded)
	assert.True(t, res.Committed)
	assert.Equal(t, int64(0), res.BaseVersion)
	assert.Equal(t, int64(1), res.StoreVersion)
	assert.Equal(t, []string{o.Key}, res.Changed)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	require.Contains(t, snap.Entries, o.Key)
	assert.Equal(t, int64(1), snap.Entries[o.Key].Version)
	assert.False(t, snap.Entries[o.Key].Key.HasIdentity())
}

func TestReconcile_ScenarioB_ResubmitIsExactAndUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	c := candidate("Acme", "AI Engineer", ev("m1", 0))

	first := reconcile(t, env.engine, "run-1", c)
	before := exportStore(t, env.store)

	env.clock.Advance(24 * time.Hour)
	second := reconcile(t, env.engine, "run-2", c)

	o := second.Outcomes[0]
	assert.Equal(t, DecisionExact, o.Decision.Kind)
	assert.Equal(t, ActionUnchanged, o.Action)
	assert.Zero(t, o.EvidenceAdded)
	assert.Equal(t, first.Outcomes[0].Key, o.Key)
	assert.False(t, second.Committed)
	assert.Equal(t, first.StoreVersion, second.StoreVersion)
	assert.Empty(t, second.Changed)
	assert.Equal(t, before, exportStore(t, env.store), "store bytes unchanged")
}

func TestReconcile_ScenarioC_DistinctIdentitiesStayApart(t *testing.T) {
	env := newTestEnv(t, nil)
	a := withEmail(candidate("Acme", "AI Engineer", ev("m1", 0)), "Ada Lovelace", "ada@example.com", 0.95)
	b := withEmail(candidate("Acme", "AI Engineer", ev("m2", 0)), "Ada Lovelace", "ada.l@example.com", 0.95)

	res := reconcile(t, env.engine, "run-1", a, b)

	assert.Equal(t, []Action{ActionCreated, ActionCreated}, actions(res))
	require.Len(t, res.Changed, 2)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	ids := []string{}
	for _, e := range snap.Entries {
		ids = append(ids, e.Key.CandidateID)
		assert.Len(t, e.Evidence, 1)
	}
	assert.ElementsMatch(t, []string{
		ir.CandidateIDFromEmail("ada@example.com"),
		ir.CandidateIDFromEmail("ada.l@example.com"),
	}, ids)

	// Re-running either side keeps them apart.
	again := reconcile(t, env.engine, "run-2", b, a)
	assert.Equal(t, []Action{ActionUnchanged, ActionUnchanged}, actions(again))
}

func TestReconcile_ScenarioD_PositionalInference(t *testing.T) {
	env := newTestEnv(t, nil)
	c := candidate("Acme", "AI Engineer", stepEvent("m1", 0, "offer-sent", "done"))

	res := reconcile(t, env.engine, "run-1", c)
	e := res.Entries[res.Outcomes[0].Key]
	require.NotNil(t, e)

	assert.Equal(t, ir.StepDone, e.StepsState["offer_sent"])
	assert.Equal(t, ir.StepInferredDone, e.StepsState["interview"])
	assert.Equal(t, ir.StepUnknown, e.StepsState["hired"])
	assert.Equal(t, "offer_sent", e.CurrentStep)
	assert.Equal(t, "closing", e.CurrentPhase)
}

func TestReconcile_ScenarioD_BlockedWins(t *testing.T) {
	env := newTestEnv(t, nil)
	c := candidate("Acme", "AI Engineer",
		stepEvent("m1", 0, "offer-sent", "done"),
		stepEvent("m2", 0.1, "interview", "blocked"),
	)

	res := reconcile(t, env.engine, "run-1", c)
	e := res.Entries[res.Outcomes[0].Key]
	require.NotNil(t, e)

	assert.Equal(t, ir.StepBlocked, e.StepsState["interview"])
	assert.Equal(t, ir.StepInferredDone, e.StepsState["screen"])
	assert.Equal(t, "interview", e.CurrentStep)
	assert.Equal(t, ir.HealthAtRisk, e.Health)
}

func TestReconcile_BlockedSurvivesAnyEvidenceOrder(t *testing.T) {
	evs := []ir.Evidence{
		stepEvent("m1", 0, "sourced", "done"),
		stepEvent("m2", 0.2, "interview", "blocked"),
		stepEvent("m3", 0.4, "offer-sent", "done"),
		stepEvent("m4", 0.6, "hired", "done"),
	}
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 10 {
		t.Run(fmt.Sprintf("order-%d", i), func(t *testing.T) {
			env := newTestEnv(t, nil)
			shuffled := slices.Clone(evs)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

			// Split over two runs to exercise merging as well.
			reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", shuffled[:2]...))
			res := reconcile(t, env.engine, "run-2", candidate("Acme", "AI Engineer", shuffled[2:]...))

			e := res.Entries[res.Outcomes[0].Key]
			require.NotNil(t, e)
			assert.Equal(t, ir.StepBlocked, e.StepsState["interview"])
		})
	}
}

func TestReconcile_NoLostRow(t *testing.T) {
	env := newTestEnv(t, nil)
	strong := withEmail(candidate("Acme", "AI Engineer", ev("m1", 0)), "Ada Lovelace", "ada@example.com", 0.95)
	reconcile(t, env.engine, "run-1", strong)

	// Same fields, first name only: low confidence, never merged into the
	// identified entry.
	weakCand := candidate("Acme", "AI Engineer", ev("m2", 0.5))
	weakCand.Identity = ir.CandidateIdentity{NameRaw: "Ada", Confidence: 0.99}
	res := reconcile(t, env.engine, "run-2", weakCand)

	o := res.Outcomes[0]
	assert.Equal(t, DecisionNew, o.Decision.Kind)
	assert.Equal(t, ActionCreated, o.Action)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	for _, e := range snap.Entries {
		assert.Len(t, e.Evidence, 1, e.Key.String())
	}
}

func TestReconcile_PromotionRekeysNullEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	first := reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", ev("m1", 0)))
	nullKey := first.Outcomes[0].Key

	strong := withEmail(candidate("Acme", "AI Engineer", ev("m2", 0.5)), "Ada Lovelace", "ada@example.com", 0.95)
	res := reconcile(t, env.engine, "run-2", strong)

	o := res.Outcomes[0]
	require.Equal(t, DecisionExact, o.Decision.Kind)
	assert.True(t, o.Decision.Promote)
	assert.NotEqual(t, nullKey, o.Key)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1, "one live row per instance")
	e := snap.Entries[o.Key]
	require.NotNil(t, e)
	assert.Equal(t, int64(2), e.Version)
	assert.Equal(t, []string{"m1", "m2"}, e.EvidenceIDs())
	assert.Equal(t, []ir.MergeRef{{Key: nullKey, RunID: "run-2"}}, e.MergedFrom)

	history, err := env.store.History(context.Background(), o.Key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, nullKey, history[0].Key)
	assert.Equal(t, nullKey, history[1].PrevKey)
}

func TestReconcile_NoPromotionOfEntryCreatedInPass(t *testing.T) {
	env := newTestEnv(t, nil)
	null := candidate("Acme", "AI Engineer", ev("m1", 0))
	strong := withEmail(candidate("Acme", "AI Engineer", ev("m2", 0.5)), "Ada Lovelace", "ada@example.com", 0.95)

	res := reconcile(t, env.engine, "run-1", strong, null)

	assert.Equal(t, []Action{ActionCreated, ActionCreated}, actions(res))
	assert.NotEqual(t, res.Outcomes[0].Key, res.Outcomes[1].Key)
	require.Len(t, res.Changed, 2)
	for _, k := range res.Changed {
		assert.Equal(t, int64(1), res.Entries[k].Version)
	}

	again := reconcile(t, env.engine, "run-2", strong, null)
	assert.Equal(t, []Action{ActionUnchanged, ActionUnchanged}, actions(again))
	assert.False(t, again.Committed)
}

func TestReconcile_FuzzyMerge(t *testing.T) {
	env := newTestEnv(t, nil)
	first := reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", ev("m1", 0)))

	res := reconcile(t, env.engine, "run-2", candidate("Acme", "AI Engineers", ev("m2", 0.5)))

	o := res.Outcomes[0]
	assert.Equal(t, DecisionFuzzy, o.Decision.Kind)
	assert.Equal(t, ActionMerged, o.Action)
	assert.Equal(t, first.Outcomes[0].Key, o.Key)
	assert.Equal(t, map[string]map[string]int{FieldRole: {"AI Engineers": 1}}, res.Unmatched)
}

func TestReconcile_AmbiguousIsReportedNotMerged(t *testing.T) {
	env := newTestEnv(t, nil)
	// The two entries are too far apart to match each other; the
	// candidate sits between them.
	seeded := reconcile(t, env.engine, "run-1",
		candidate("Acme", "AI Engineer", ev("m1", 0)),
		candidate("Acme", "ML Engineer II", ev("m2", 0)),
	)
	require.Equal(t, []Action{ActionCreated, ActionCreated}, actions(seeded))
	before := exportStore(t, env.store)

	res := reconcile(t, env.engine, "run-2", candidate("Acme", "ML Engineer", ev("m3", 0.5)))

	o := res.Outcomes[0]
	assert.Equal(t, ActionAmbiguous, o.Action)
	assert.Len(t, o.Decision.Candidates, 2)
	assert.Empty(t, o.Key)
	assert.False(t, res.Committed)
	assert.Equal(t, before, exportStore(t, env.store))
}

func TestReconcile_SkipsMalformedAndOutOfScope(t *testing.T) {
	env := newTestEnv(t, nil)
	malformed := candidate("", "AI Engineer", ev("m1", 0))
	malformed.SourceKey = "up-bad"
	sales := candidate("Acme", "AI Engineer", ev("m2", 0))
	sales.CanonicalProcess = "sales"
	good := candidate("Acme", "AI Engineer", ev("m3", 0))

	res := reconcile(t, env.engine, "run-1", malformed, sales, good)

	assert.Equal(t, []Action{ActionSkipped, ActionSkipped, ActionCreated}, actions(res))
	assert.True(t, IsMalformed(res.Outcomes[0].Error))
	assert.Equal(t, "up-bad", res.Outcomes[0].SourceKey)
	assert.True(t, IsOutOfScope(res.Outcomes[1].Error))
	assert.Nil(t, res.Outcomes[2].Error)
	assert.Len(t, res.Changed, 1)
}

func TestReconcile_UnknownStepDegrades(t *testing.T) {
	env := newTestEnv(t, nil)
	c := candidate("Acme", "AI Engineer", stepEvent("m1", 0, "reference check", "done"))

	res := reconcile(t, env.engine, "run-1", c)

	o := res.Outcomes[0]
	assert.Equal(t, ActionCreated, o.Action)
	require.Len(t, o.Warnings, 1)
	assert.True(t, IsCatalogInconsistency(o.Warnings[0]))
	assert.Equal(t, map[string]map[string]int{FieldStep: {"reference check": 1}}, res.Unmatched)

	e := res.Entries[o.Key]
	assert.Empty(t, e.CurrentStep)
	assert.Equal(t, map[string]string{"reference check": ""}, e.Mapping.StepLabels)
}

func TestReconcile_EvidenceFallback(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.FallbackMax = 2 })
	c := candidate("Acme", "AI Engineer")
	c.SourceKey = "up-1"

	res, err := env.engine.Reconcile(context.Background(), RunInput{
		RunID:      "run-1",
		Candidates: []ir.InstanceCandidate{c},
		Timeline: []TimelineItem{
			{SourceKey: "up-1", Evidence: ev("t1", 0)},
			{SourceKey: "up-1", Evidence: ev("t3", 0.3)},
			{SourceKey: "up-1", Evidence: ev("t2", 0.2)},
			{SourceKey: "up-2", Evidence: ev("x1", 0.1)},
		},
	})
	require.NoError(t, err)

	o := res.Outcomes[0]
	assert.True(t, o.FallbackUsed)
	assert.Equal(t, []string{"t2", "t3"}, res.Entries[o.Key].EvidenceIDs(), "last fallback_max items of the source")
}

func TestReconcile_EvidenceMonotonic(t *testing.T) {
	env := newTestEnv(t, nil)
	var prev []string
	for run := range 4 {
		var evs []ir.Evidence
		for i := range 3 {
			evs = append(evs, ev(fmt.Sprintf("r%d-m%d", run, i), float64(run)+float64(i)/10))
		}
		res := reconcile(t, env.engine, fmt.Sprintf("run-%d", run), candidate("Acme", "AI Engineer", evs...))
		got := res.Entries[res.Outcomes[0].Key].EvidenceIDs()
		for _, id := range prev {
			assert.Contains(t, got, id)
		}
		prev = got
	}
	assert.Len(t, prev, 12)
}

func TestReconcile_EvidenceCapKeepsEndsAcrossRuns(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxEvidence = 4 })
	reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", ev("a", 0), ev("b", 1), ev("c", 2)))
	res := reconcile(t, env.engine, "run-2", candidate("Acme", "AI Engineer", ev("d", 3), ev("e", 4)))

	assert.Equal(t, []string{"a", "b", "d", "e"}, res.Entries[res.Outcomes[0].Key].EvidenceIDs())
}

func TestReconcile_DeterministicAcrossInputOrder(t *testing.T) {
	cands := []ir.InstanceCandidate{
		candidate("Acme", "AI Engineer", ev("m1", 0), stepEvent("m2", 0.5, "screening", "done")),
		candidate("Acme", "AI Engineers", ev("m3", 0.7)),
		withEmail(candidate("Globex", "Data Scientist", ev("m4", 0.1)), "Grace Hopper", "grace@example.com", 0.9),
		withEmail(candidate("Globex", "Data Scientist", ev("m5", 0.2)), "Alan Turing", "alan@example.com", 0.9),
		candidate("Globex", "Data Scientist", ev("m6", 0.3)),
	}

	var exports []string
	rng := rand.New(rand.NewPCG(7, 11))
	for range 5 {
		env := newTestEnv(t, nil)
		shuffled := slices.Clone(cands)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		reconcile(t, env.engine, "run-1", shuffled...)
		exports = append(exports, exportStore(t, env.store))
	}
	for _, x := range exports[1:] {
		assert.Equal(t, exports[0], x)
	}
}

func TestReconcile_IdempotentOverMixedRun(t *testing.T) {
	env := newTestEnv(t, nil)
	cands := []ir.InstanceCandidate{
		candidate("Acme", "AI Engineer", ev("m1", 0), stepEvent("m2", 0.5, "onsite", "blocked")),
		withEmail(candidate("Globex", "Data Scientist", ev("m4", 0.1)), "Grace Hopper", "grace@example.com", 0.9),
		candidate("Globex", "Data Scientist", ev("m6", 0.3)),
	}

	first := reconcile(t, env.engine, "run-1", cands...)
	require.True(t, first.Committed)
	before := exportStore(t, env.store)

	second := reconcile(t, env.engine, "run-2", cands...)
	assert.False(t, second.Committed)
	assert.Equal(t, first.StoreVersion, second.StoreVersion)
	for _, o := range second.Outcomes {
		assert.Equal(t, ActionUnchanged, o.Action, o.Key)
	}
	assert.Equal(t, before, exportStore(t, env.store))
}

func TestReconcile_IdempotentAfterPromotion(t *testing.T) {
	env := newTestEnv(t, nil)
	weakCand := candidate("Acme", "AI Engineer", ev("m1", 0))
	strongCand := withEmail(candidate("Acme", "AI Engineer", ev("m2", 0.5)), "Ada Lovelace", "ada@example.com", 0.95)

	first := reconcile(t, env.engine, "run-1", weakCand)
	require.Equal(t, []Action{ActionCreated}, actions(first))

	second := reconcile(t, env.engine, "run-2", weakCand, strongCand)
	assert.Equal(t, []Action{ActionUnchanged, ActionMerged}, actions(second))
	assert.True(t, second.Outcomes[1].Decision.Promote)
	assert.Equal(t, second.Outcomes[1].Key, second.Outcomes[0].Key, "weak outcome follows the re-key")
	before := exportStore(t, env.store)

	third := reconcile(t, env.engine, "run-3", weakCand, strongCand)
	assert.Equal(t, []Action{ActionUnchanged, ActionUnchanged}, actions(third))
	assert.Equal(t, DecisionExact, third.Outcomes[0].Decision.Kind)
	assert.Equal(t, second.Outcomes[1].Key, third.Outcomes[0].Key)
	assert.False(t, third.Committed)
	assert.Equal(t, second.StoreVersion, third.StoreVersion)
	assert.Equal(t, before, exportStore(t, env.store))

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 1)
}

func TestReconcile_SnapshotIsThisPassView(t *testing.T) {
	env := newTestEnv(t, nil)
	weakCand := candidate("Acme", "AI Engineer", ev("m1", 0))
	strongCand := withEmail(candidate("Acme", "AI Engineer", ev("m2", 0.5)), "Ada Lovelace", "ada@example.com", 0.95)
	reconcile(t, env.engine, "run-1", weakCand, candidate("Globex", "Data Scientist", ev("g1", 0)))

	res := reconcile(t, env.engine, "run-2", weakCand, strongCand)
	require.True(t, res.Committed)
	require.NotNil(t, res.Snapshot)
	after := exportStore(t, env.store)

	later := reconcile(t, env.sibling(t), "later", candidate("Globex", "Data Scientist", ev("g2", 0.2)))
	require.True(t, later.Committed)

	assert.Equal(t, res.StoreVersion, res.Snapshot.Version)
	assert.Equal(t, "run-2", res.Snapshot.LastRunID)
	data, err := store.ExportSnapshot(res.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, after, string(data), "later commits stay out of the pass view")
	assert.Len(t, res.Snapshot.Entries, 2)

	unchanged := reconcile(t, env.engine, "run-3", weakCand)
	assert.False(t, unchanged.Committed)
	assert.Equal(t, unchanged.StoreVersion, unchanged.Snapshot.Version)
	assert.Equal(t, later.StoreVersion, unchanged.Snapshot.Version)
	assert.Len(t, unchanged.Snapshot.Entries, 2)
}

func TestReconcile_ConflictRecomputes(t *testing.T) {
	env := newTestEnv(t, nil)
	other := env.sibling(t)
	env.engine.beforeCommit = func(ctx context.Context, attempt int) {
		if attempt == 1 {
			_, err := other.Reconcile(ctx, RunInput{
				RunID:      "concurrent",
				Candidates: []ir.InstanceCandidate{candidate("Acme", "AI Engineer", ev("c1", 0))},
			})
			require.NoError(t, err)
		}
	}

	res := reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", ev("m1", 0.5)))

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(1), res.BaseVersion, "recomputed against the concurrent commit")
	assert.Equal(t, int64(2), res.StoreVersion)
	o := res.Outcomes[0]
	assert.Equal(t, DecisionExact, o.Decision.Kind, "sees the concurrently created entry")

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, []string{"c1", "m1"}, snap.Entries[o.Key].EvidenceIDs(), "no lost update")
}

func TestReconcile_RetriesExhausted(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.CommitAttempts = 3 })
	other := env.sibling(t)
	env.engine.beforeCommit = func(ctx context.Context, attempt int) {
		_, err := other.Reconcile(ctx, RunInput{
			RunID:      fmt.Sprintf("concurrent-%d", attempt),
			Candidates: []ir.InstanceCandidate{candidate("Globex", "Data Scientist", ev(fmt.Sprintf("c%d", attempt), 0))},
		})
		require.NoError(t, err)
	}

	_, err := env.engine.Reconcile(context.Background(), RunInput{
		RunID:      "run-1",
		Candidates: []ir.InstanceCandidate{candidate("Acme", "AI Engineer", ev("m1", 0))},
	})

	require.Error(t, err)
	assert.True(t, IsRetriesExhausted(err))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))
	var pe *PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Equal(t, "run-1", pe.RunID)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version, "only the concurrent commits landed")
	for _, e := range snap.Entries {
		assert.Equal(t, "Globex", e.Key.Client)
	}
}

func TestReconcile_CancelledBeforeCommit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	env.engine.beforeCommit = func(context.Context, int) { cancel() }

	_, err := env.engine.Reconcile(ctx, RunInput{
		RunID:      "run-1",
		Candidates: []ir.InstanceCandidate{candidate("Acme", "AI Engineer", ev("m1", 0))},
	})

	require.ErrorIs(t, err, context.Canceled)
	v, err := env.store.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestReconcile_RecordsCatalog(t *testing.T) {
	source := []byte("catalog source")
	env := newTestEnv(t, nil, WithCatalogSource("yaml", source))

	res := reconcile(t, env.engine, "run-1", candidate("Acme", "AI Engineer", ev("m1", 0)))
	assert.Empty(t, res.PreviousCatalog)
	assert.Equal(t, env.catalog.Fingerprint(), res.Catalog)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.catalog.Fingerprint(), snap.CatalogFingerprint)

	rec, err := env.store.Catalog(context.Background(), env.catalog.Fingerprint())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, source, rec.Source)
	assert.Equal(t, "yaml", rec.Format)

	again := reconcile(t, env.engine, "run-2", candidate("Acme", "AI Engineer", ev("m1", 0)))
	assert.Equal(t, env.catalog.Fingerprint(), again.PreviousCatalog)
}

func TestReconcile_NoChangePassAdvancesCatalog(t *testing.T) {
	env := newTestEnv(t, nil)
	cand := candidate("Acme", "AI Engineer", ev("m1", 0))
	first := reconcile(t, env.engine, "run-1", cand)
	require.True(t, first.Committed)

	withSource, err := New(env.store, env.catalog, env.engine.cfg,
		WithClock(env.clock),
		WithCatalogSource("yaml", []byte("catalog source")),
	)
	require.NoError(t, err)
	before := exportStore(t, env.store)

	res := reconcile(t, withSource, "run-2", cand)
	assert.False(t, res.Committed)
	assert.Empty(t, res.PreviousCatalog)
	assert.Equal(t, first.StoreVersion, res.StoreVersion)

	snap, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.catalog.Fingerprint(), snap.CatalogFingerprint)
	assert.Equal(t, first.StoreVersion, snap.Version)
	assert.Equal(t, before, exportStore(t, env.store), "entries untouched")

	again := reconcile(t, withSource, "run-3", cand)
	assert.Equal(t, env.catalog.Fingerprint(), again.PreviousCatalog)
}

func TestReconcile_CorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	e, err := New(st, testCatalog(t), config.Default(), WithClock(testutil.NewFixedClock(at(1))))
	require.NoError(t, err)

	first := reconcile(t, e, "run-1", candidate("Acme", "AI Engineer", ev("m1", 0)))
	key := first.Outcomes[0].Key

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec("UPDATE entries SET body = '{not json' WHERE instance_key = ?", key)
	require.NoError(t, err)

	_, err = e.Reconcile(context.Background(), RunInput{
		RunID:      "run-2",
		Candidates: []ir.InstanceCandidate{candidate("Globex", "Data Scientist", ev("m2", 0))},
	})
	require.Error(t, err)
	assert.True(t, store.IsCorruption(err))
	var ce *store.CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, key, ce.Key)

	v, err := st.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.StoreVersion, v, "nothing committed")
	var rows int
	require.NoError(t, raw.QueryRow("SELECT COUNT(*) FROM entries").Scan(&rows))
	assert.Equal(t, 1, rows)
	var body string
	require.NoError(t, raw.QueryRow("SELECT body FROM entries WHERE instance_key = ?", key).Scan(&body))
	assert.Equal(t, "{not json", body, "never repaired")
}

func TestReconcile_GeneratesRunID(t *testing.T) {
	env := newTestEnv(t, nil)
	res, err := env.engine.Reconcile(context.Background(), RunInput{
		Candidates: []ir.InstanceCandidate{candidate("Acme", "AI Engineer", ev("m1", 0))},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "run-1", res.Entries[res.Outcomes[0].Key].LastRunID)
}
