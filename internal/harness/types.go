package harness

import (
	"strconv"

	"github.com/roach88/procrecon/internal/engine"
)

// Trace event types.
const (
	EventDecision = "decision"
	EventPass     = "pass"
)

// TraceEvent is one line of a scenario trace: either the decision taken
// for a candidate or the commit summary of a pass.
type TraceEvent struct {
	Type string `json:"type"` // "decision" or "pass"
	Run  string `json:"run"`

	// Decision events.
	Index         int    `json:"index,omitempty"`
	SourceKey     string `json:"source_key,omitempty"`
	Decision      string `json:"decision,omitempty"` // EXACT, FUZZY, AMBIGUOUS, NEW or SKIPPED
	Action        string `json:"action,omitempty"`
	Key           string `json:"key,omitempty"`
	Score         string `json:"score,omitempty"` // FUZZY only, four decimals
	EvidenceAdded int    `json:"evidence_added,omitempty"`

	// Pass events.
	StoreVersion int64 `json:"store_version,omitempty"`
	Committed    bool  `json:"committed,omitempty"`
	Attempts     int   `json:"attempts,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every run expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists decision events in input order per run, each run
	// closed by its pass event.
	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// Runs holds the engine result of each run, in scenario order.
	Runs []*engine.Result `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddDecisionTrace records what a pass did with one candidate.
func (r *Result) AddDecisionTrace(runID string, o engine.Outcome) {
	ev := TraceEvent{
		Type:          EventDecision,
		Run:           runID,
		Index:         o.Index,
		SourceKey:     o.SourceKey,
		Decision:      decisionName(o),
		Action:        string(o.Action),
		Key:           o.Key,
		EvidenceAdded: o.EvidenceAdded,
	}
	if o.Decision != nil && o.Decision.Kind == engine.DecisionFuzzy {
		ev.Score = formatScore(o.Decision.Score)
	}
	r.Trace = append(r.Trace, ev)
}

// AddPassTrace records the commit summary of a pass.
func (r *Result) AddPassTrace(res *engine.Result) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:         EventPass,
		Run:          res.RunID,
		StoreVersion: res.StoreVersion,
		Committed:    res.Committed,
		Attempts:     res.Attempts,
	})
}

// decisionName is the decision kind, or SKIPPED for candidates that never
// reached the matcher.
func decisionName(o engine.Outcome) string {
	if o.Decision == nil {
		return DecisionSkipped
	}
	return string(o.Decision.Kind)
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 4, 64)
}
