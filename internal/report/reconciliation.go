package report

import (
	"math"
	"time"

	"github.com/roach88/procrecon/internal/engine"
)

// Issue is a candidate error or warning as reported.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record is the reconciliation record of one candidate.
type Record struct {
	Index     int    `json:"index"`
	SourceKey string `json:"source_key,omitempty"`

	// Decision is EXACT, FUZZY, AMBIGUOUS, NEW, or SKIPPED when the
	// candidate never reached the matcher.
	Decision   string               `json:"decision"`
	Score      float64              `json:"score,omitempty"`
	Promoted   bool                 `json:"promoted,omitempty"`
	Candidates []engine.ScoredEntry `json:"candidates,omitempty"`

	Key    string        `json:"key,omitempty"`
	Action engine.Action `json:"action"`

	EvidenceAdded int  `json:"evidence_added"`
	FallbackUsed  bool `json:"fallback_used,omitempty"`

	Unmatched []string `json:"unmatched,omitempty"`
	Error     *Issue   `json:"error,omitempty"`
	Warnings  []Issue  `json:"warnings,omitempty"`
}

// Reconciliation is the per-run reconciliation report: one record per
// candidate, in input order.
type Reconciliation struct {
	RunID        string         `json:"run_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Attempts     int            `json:"attempts"`
	Committed    bool           `json:"committed"`
	BaseVersion  int64          `json:"base_version"`
	StoreVersion int64          `json:"store_version"`
	MatchCounts  map[string]int `json:"match_counts"`
	Records      []Record       `json:"records"`
}

// Decision label of candidates that never reached the matcher.
const DecisionSkipped = "SKIPPED"

// NewReconciliation builds the reconciliation report of a pass.
func NewReconciliation(res *engine.Result) *Reconciliation {
	r := &Reconciliation{
		RunID:        res.RunID,
		GeneratedAt:  res.At,
		Attempts:     res.Attempts,
		Committed:    res.Committed,
		BaseVersion:  res.BaseVersion,
		StoreVersion: res.StoreVersion,
		MatchCounts: map[string]int{
			string(engine.DecisionExact):     0,
			string(engine.DecisionFuzzy):     0,
			string(engine.DecisionAmbiguous): 0,
			string(engine.DecisionNew):       0,
			DecisionSkipped:                  0,
		},
		Records: make([]Record, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		rec := Record{
			Index:         o.Index,
			SourceKey:     o.SourceKey,
			Decision:      DecisionSkipped,
			Key:           o.Key,
			Action:        o.Action,
			EvidenceAdded: o.EvidenceAdded,
			FallbackUsed:  o.FallbackUsed,
			Unmatched:     o.Unmatched,
		}
		if d := o.Decision; d != nil {
			rec.Decision = string(d.Kind)
			rec.Score = round4(d.Score)
			rec.Promoted = d.Promote
			for _, c := range d.Candidates {
				c.Score = round4(c.Score)
				rec.Candidates = append(rec.Candidates, c)
			}
		}
		if o.Error != nil {
			rec.Error = &Issue{Code: string(o.Error.Code), Message: o.Error.Message}
		}
		for _, w := range o.Warnings {
			rec.Warnings = append(rec.Warnings, Issue{Code: string(w.Code), Message: w.Message})
		}
		r.MatchCounts[rec.Decision]++
		r.Records = append(r.Records, rec)
	}
	return r
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
