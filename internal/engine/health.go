package engine

import (
	"time"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/ir"
)

const day = 24 * time.Hour

// EvaluateHealth derives the health label of an entry at now.
//
// The SLA is the current step's, else its phase's, else the process
// default. Elapsed time runs from the step-entry time when known, else from
// the state's last update. Below the warn threshold is on_track, from warn
// up to breach is at_risk, at or past breach is overdue. A current step that
// is explicitly blocked is at_risk unless already overdue. Without an SLA or
// a timestamp the label is unknown.
func EvaluateHealth(e *ir.StoreEntry, cat *catalog.Catalog, now time.Time) ir.Health {
	sla, ok := cat.SLAFor(e.Key.ProcessID, e.CurrentStep)
	if !ok {
		return ir.HealthUnknown
	}
	since := e.StepEnteredAt
	if since.IsZero() {
		since = e.State.LastUpdated
	}
	if since.IsZero() {
		return ir.HealthUnknown
	}

	elapsed := max(now.Sub(since), 0)
	switch {
	case elapsed >= time.Duration(sla.BreachAfterDays)*day:
		return ir.HealthOverdue
	case e.CurrentStep != "" && e.StepsState[e.CurrentStep] == ir.StepBlocked:
		return ir.HealthAtRisk
	case elapsed >= time.Duration(sla.WarnAfterDays)*day:
		return ir.HealthAtRisk
	default:
		return ir.HealthOnTrack
	}
}
