package engine

import (
	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/ir"
)

// InferenceConfig controls positional inference.
type InferenceConfig struct {
	Positional bool
	Label      ir.StepStatus
}

// InferenceConfigFrom extracts the inference settings from a config.
func InferenceConfigFrom(c config.Config) InferenceConfig {
	return InferenceConfig{Positional: c.PositionalInference, Label: ir.StepStatus(c.InferredLabel)}
}

// Progress is the derived step and phase view of an entry.
type Progress struct {
	Steps        map[string]ir.StepStatus
	Phases       map[string]ir.PhaseStatus
	CurrentStep  string
	CurrentPhase string
}

// Infer derives step and phase status from an entry's explicit step
// statuses and the catalog's step order.
//
// Explicit done and blocked statuses are kept as they are. When positional
// inference is on, every step before the furthest explicit done step that
// has no explicit status gets the inferred label; a blocked step is never
// relabeled, even when a later step is done. Steps past the furthest done
// step stay unknown. A process missing from the catalog yields an empty
// Progress.
func Infer(e *ir.StoreEntry, cat *catalog.Catalog, ic InferenceConfig) Progress {
	processID := e.Key.ProcessID
	steps := cat.Steps(processID)
	if len(steps) == 0 {
		return Progress{}
	}

	statuses := make(map[string]ir.StepStatus, len(steps))
	furthestDone := -1
	for i, id := range steps {
		st := e.ExplicitSteps[id]
		if !st.Explicit() {
			statuses[id] = ir.StepUnknown
			continue
		}
		statuses[id] = st
		if st == ir.StepDone {
			furthestDone = i
		}
	}
	if ic.Positional {
		for _, id := range steps[:max(furthestDone, 0)] {
			if statuses[id] == ir.StepUnknown {
				statuses[id] = ic.Label
			}
		}
	}

	p := Progress{Steps: statuses, Phases: make(map[string]ir.PhaseStatus)}
	for _, phase := range cat.Phases(processID) {
		p.Phases[phase] = phaseStatus(cat.PhaseSteps(processID, phase), statuses, ic.Label)
	}
	p.CurrentStep = currentStep(e, steps, statuses, cat, ic.Label)
	if p.CurrentStep != "" {
		p.CurrentPhase, _ = cat.PhaseOf(processID, p.CurrentStep)
	}
	return p
}

func isDone(s, label ir.StepStatus) bool {
	return s == ir.StepDone || (label != "" && s == label)
}

func phaseStatus(stepIDs []string, statuses map[string]ir.StepStatus, label ir.StepStatus) ir.PhaseStatus {
	done, blocked := 0, false
	for _, id := range stepIDs {
		switch s := statuses[id]; {
		case s == ir.StepBlocked:
			blocked = true
		case isDone(s, label):
			done++
		}
	}
	switch {
	case blocked:
		return ir.PhaseBlocked
	case len(stepIDs) > 0 && done == len(stepIDs):
		return ir.PhaseDone
	case done > 0:
		return ir.PhaseInProgress
	default:
		return ir.PhaseUnknown
	}
}

// currentStep is the step named by the entry state when it resolves, else
// the first blocked step, else the furthest done or inferred step.
func currentStep(e *ir.StoreEntry, steps []string, statuses map[string]ir.StepStatus, cat *catalog.Catalog, label ir.StepStatus) string {
	if e.State.Step != "" {
		if id, ok := cat.ResolveStep(e.Key.ProcessID, e.State.Step); ok {
			return id
		}
	}
	for _, id := range steps {
		if statuses[id] == ir.StepBlocked {
			return id
		}
	}
	current := ""
	for _, id := range steps {
		if isDone(statuses[id], label) {
			current = id
		}
	}
	return current
}
