package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/procrecon/internal/engine"
)

func TestNewReconciliation_Records(t *testing.T) {
	r := NewReconciliation(sampleResult())

	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, 1, r.Attempts)
	assert.True(t, r.Committed)
	assert.Equal(t, map[string]int{
		"EXACT": 0, "FUZZY": 1, "AMBIGUOUS": 1, "NEW": 1, "SKIPPED": 1,
	}, r.MatchCounts)

	require.Len(t, r.Records, 4)
	for i, rec := range r.Records {
		assert.Equal(t, i, rec.Index, "records keep input order")
	}

	fuzzy := r.Records[1]
	assert.Equal(t, "FUZZY", fuzzy.Decision)
	assert.Equal(t, 0.9608, fuzzy.Score, "scores are rounded to four decimals")
	assert.Equal(t, engine.ActionMerged, fuzzy.Action)
	assert.Equal(t, []string{"role"}, fuzzy.Unmatched)

	amb := r.Records[2]
	assert.Equal(t, "AMBIGUOUS", amb.Decision)
	assert.Empty(t, amb.Key, "ambiguous candidates are not written")
	require.Len(t, amb.Candidates, 2)
	assert.Equal(t, 0.9144, amb.Candidates[0].Score)
	assert.Equal(t, 0.8992, amb.Candidates[1].Score)

	skipped := r.Records[3]
	assert.Equal(t, DecisionSkipped, skipped.Decision)
	require.NotNil(t, skipped.Error)
	assert.Equal(t, "MALFORMED_CANDIDATE", skipped.Error.Code)
	assert.Contains(t, skipped.Error.Message, "canonical_client")
}

func TestNewReconciliation_DoesNotMutateResult(t *testing.T) {
	res := sampleResult()
	NewReconciliation(res)
	assert.Equal(t, 0.91443, res.Outcomes[2].Decision.Candidates[0].Score)
}

func TestNewReconciliation_Warnings(t *testing.T) {
	res := &engine.Result{
		RunID: "run-3",
		Outcomes: []engine.Outcome{{
			Index:    0,
			Decision: &engine.Decision{Kind: engine.DecisionNew},
			Action:   engine.ActionCreated,
			Warnings: []*engine.CandidateError{
				engine.NewCatalogError(0, "up-1", engine.FieldStep, "reference check"),
			},
		}},
	}

	r := NewReconciliation(res)
	require.Len(t, r.Records[0].Warnings, 1)
	assert.Equal(t, Issue{
		Code:    "CATALOG_INCONSISTENCY",
		Message: `step "reference check" has no catalog entry`,
	}, r.Records[0].Warnings[0])
	assert.Nil(t, r.Records[0].Error)
}
