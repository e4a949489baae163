package report

import (
	"time"

	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/ir"
)

var runAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func key(client, role string) string {
	return ir.InstanceKey{ProcessID: "recruiting", Client: client, Role: role}.String()
}

// sampleResult is a hand-built pass: one creation, a fuzzy merge into it,
// one ambiguous candidate and one malformed candidate.
func sampleResult() *engine.Result {
	k1 := key("Acme", "AI Engineer")
	malformed := engine.NewMalformedError(3, "up-4", &ir.ValidationError{
		SourceKey: "up-4",
		Fields:    []ir.FieldError{{Field: "canonical_client", Message: "is required"}},
	})
	return &engine.Result{
		RunID:        "run-1",
		Attempts:     1,
		Committed:    true,
		BaseVersion:  0,
		StoreVersion: 1,
		Catalog:      "fp-current",
		At:           runAt,
		Outcomes: []engine.Outcome{
			{
				Index: 0, SourceKey: "up-1", Key: k1,
				Decision:      &engine.Decision{Kind: engine.DecisionNew},
				Action:        engine.ActionCreated,
				EvidenceCount: 2, EvidenceAdded: 2,
			},
			{
				Index: 1, SourceKey: "up-2", Key: k1,
				Decision:      &engine.Decision{Kind: engine.DecisionFuzzy, Key: k1, Score: 0.96078431},
				Action:        engine.ActionMerged,
				EvidenceCount: 1, EvidenceAdded: 1,
				Unmatched:     []string{engine.FieldRole},
			},
			{
				Index: 2, SourceKey: "up-3",
				Decision: &engine.Decision{Kind: engine.DecisionAmbiguous, Candidates: []engine.ScoredEntry{
					{Key: key("Acme", "ML Engineer II"), Score: 0.91443, UpdatedAt: runAt},
					{Key: key("Acme", "AI Engineer II"), Score: 0.89921, UpdatedAt: runAt},
				}},
				Action:        engine.ActionAmbiguous,
				EvidenceCount: 1,
			},
			{Index: 3, SourceKey: "up-4", Action: engine.ActionSkipped, Error: malformed},
		},
		Entries: map[string]*ir.StoreEntry{
			k1: {
				Key:         ir.InstanceKey{ProcessID: "recruiting", Client: "Acme", Role: "AI Engineer"},
				CurrentStep: "screen",
				Health:      ir.HealthAtRisk,
			},
		},
		Touched:   []string{k1},
		Changed:   []string{k1},
		Unmatched: map[string]map[string]int{engine.FieldRole: {"AI Engineers": 1}},
	}
}
