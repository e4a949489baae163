package report

import (
	"slices"
	"time"

	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/ir"
)

// Counts tallies what a pass did with its candidates.
type Counts struct {
	Seen       int `json:"seen"`
	Reconciled int `json:"reconciled"`

	Exact     int `json:"exact"`
	Fuzzy     int `json:"fuzzy"`
	Ambiguous int `json:"ambiguous"`
	New       int `json:"new"`

	Created   int `json:"created"`
	Merged    int `json:"merged"`
	Unchanged int `json:"unchanged"`

	Skipped    int `json:"skipped"`
	Malformed  int `json:"malformed"`
	OutOfScope int `json:"out_of_scope"`

	CatalogWarnings int `json:"catalog_warnings"`
}

// Rates are coverage fractions in [0, 1], rounded to four decimals.
// Resolution and evidence rates are over reconciled candidates; step and
// health rates are over the distinct entries the pass touched.
type Rates struct {
	CanonicalProcess float64 `json:"canonical_process_pct"`
	CanonicalClient  float64 `json:"canonical_client_pct"`
	CanonicalRole    float64 `json:"canonical_role_pct"`
	Evidence         float64 `json:"evidence_ids_pct"`
	CurrentStep      float64 `json:"current_step_pct"`
	HealthKnown      float64 `json:"health_known_pct"`
}

// Coverage is the per-run coverage report.
type Coverage struct {
	RunID        string            `json:"run_id"`
	GeneratedAt  time.Time         `json:"generated_at"`
	StoreVersion int64             `json:"store_version"`
	Counts       Counts            `json:"counts"`
	Coverage     Rates             `json:"coverage"`
	Health       map[ir.Health]int `json:"health"`
}

// NewCoverage builds the coverage report of a pass.
func NewCoverage(res *engine.Result) *Coverage {
	c := &Coverage{
		RunID:        res.RunID,
		GeneratedAt:  res.At,
		StoreVersion: res.StoreVersion,
		Health: map[ir.Health]int{
			ir.HealthOnTrack: 0,
			ir.HealthAtRisk:  0,
			ir.HealthOverdue: 0,
			ir.HealthUnknown: 0,
		},
	}
	n := &c.Counts
	n.Seen = len(res.Outcomes)

	var process, client, role, evidence int
	for _, o := range res.Outcomes {
		if o.Action == engine.ActionSkipped {
			n.Skipped++
			if o.Error != nil {
				switch o.Error.Code {
				case engine.ErrCodeMalformedCandidate:
					n.Malformed++
				case engine.ErrCodeOutOfScope:
					n.OutOfScope++
				}
			}
			continue
		}
		n.Reconciled++
		n.CatalogWarnings += len(o.Warnings)

		if o.Decision != nil {
			switch o.Decision.Kind {
			case engine.DecisionExact:
				n.Exact++
			case engine.DecisionFuzzy:
				n.Fuzzy++
			case engine.DecisionAmbiguous:
				n.Ambiguous++
			case engine.DecisionNew:
				n.New++
			}
		}
		switch o.Action {
		case engine.ActionCreated:
			n.Created++
		case engine.ActionMerged:
			n.Merged++
		case engine.ActionUnchanged:
			n.Unchanged++
		}

		if !slices.Contains(o.Unmatched, engine.FieldProcess) {
			process++
		}
		if !slices.Contains(o.Unmatched, engine.FieldClient) {
			client++
		}
		if !slices.Contains(o.Unmatched, engine.FieldRole) {
			role++
		}
		if o.EvidenceCount > 0 {
			evidence++
		}
	}

	var step, health int
	for _, key := range res.Touched {
		e := res.Entries[key]
		if e == nil {
			continue
		}
		h := e.Health
		if h == "" {
			h = ir.HealthUnknown
		}
		c.Health[h]++
		if h != ir.HealthUnknown {
			health++
		}
		if e.CurrentStep != "" {
			step++
		}
	}

	c.Coverage = Rates{
		CanonicalProcess: pct(process, n.Reconciled),
		CanonicalClient:  pct(client, n.Reconciled),
		CanonicalRole:    pct(role, n.Reconciled),
		Evidence:         pct(evidence, n.Reconciled),
		CurrentStep:      pct(step, len(res.Touched)),
		HealthKnown:      pct(health, len(res.Touched)),
	}
	return c
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round4(float64(n) / float64(total))
}
