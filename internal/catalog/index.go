package catalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/procrecon/internal/ir"
)

type stepInfo struct {
	id    string
	phase string
	pos   int
	sla   *SLA
}

type processIndex struct {
	proc       *Process
	steps      []stepInfo // catalog order
	stepPos    map[string]int
	stepLabels map[string]string // normalized id, name or alias -> step id
	stepNeedle []needle          // normalized id and aliases for containment
	phaseOrder []string
	phaseSLA   map[string]*SLA
}

type needle struct {
	text   string
	stepID string
}

type index struct {
	processes map[string]*processIndex
	procLabel map[string]string // normalized id, name or alias -> process id
	procOrder []string
	clients   map[string]string // normalized name or alias -> canonical name
	roles     map[string]string
}

func fieldErr(field, format string, args ...any) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// compile applies defaults, checks cross-field constraints the schema cannot
// express, and builds the lookup index.
func (c *Catalog) compile() error {
	if c.Identity.HighConfidence == 0 {
		c.Identity.HighConfidence = DefaultHighConfidence
	}
	if c.Identity.Signals == (SignalCaps{}) {
		c.Identity.Signals = SignalCaps{
			Email:     DefaultEmailCap,
			FullName:  DefaultFullNameCap,
			FirstName: DefaultFirstNameCap,
		}
	}
	if c.Identity.Signals.FirstName >= c.Identity.HighConfidence {
		return fieldErr("identity.signals.first_name",
			"cap %.2f must be below high_confidence_threshold %.2f",
			c.Identity.Signals.FirstName, c.Identity.HighConfidence)
	}
	if len(c.Processes) == 0 {
		return fieldErr("processes", "at least one process is required")
	}

	idx := &index{
		processes: make(map[string]*processIndex, len(c.Processes)),
		procLabel: make(map[string]string),
		clients:   make(map[string]string),
		roles:     make(map[string]string),
	}
	for i := range c.Processes {
		p := &c.Processes[i]
		field := fmt.Sprintf("processes[%d]", i)
		if p.ID == "" {
			return fieldErr(field+".id", "is required")
		}
		if _, dup := idx.processes[p.ID]; dup {
			return fieldErr(field+".id", "duplicate process %q", p.ID)
		}
		if p.Health == nil {
			p.Health = &SLA{WarnAfterDays: DefaultWarnAfterDays, BreachAfterDays: DefaultBreachAfterDays}
		}
		if err := checkSLA(field+".health", p.Health); err != nil {
			return err
		}
		for _, label := range labels(p.ID, p.Name, p.Aliases) {
			if err := claim(idx.procLabel, label, p.ID, field); err != nil {
				return err
			}
		}
		pi, err := indexProcess(p, field)
		if err != nil {
			return err
		}
		idx.processes[p.ID] = pi
		idx.procOrder = append(idx.procOrder, p.ID)
	}
	for i, n := range c.Clients {
		for _, label := range labels(n.Name, "", n.Aliases) {
			if err := claim(idx.clients, label, n.Name, fmt.Sprintf("clients[%d]", i)); err != nil {
				return err
			}
		}
	}
	for i, n := range c.Roles {
		for _, label := range labels(n.Name, "", n.Aliases) {
			if err := claim(idx.roles, label, n.Name, fmt.Sprintf("roles[%d]", i)); err != nil {
				return err
			}
		}
	}

	fp, err := ir.Fingerprint(ir.DomainCatalog, c.canonicalForm())
	if err != nil {
		return fieldErr("catalog", "%v", err)
	}
	c.idx = idx
	c.fingerprint = fp
	return nil
}

func indexProcess(p *Process, field string) (*processIndex, error) {
	pi := &processIndex{
		proc:       p,
		stepPos:    make(map[string]int),
		stepLabels: make(map[string]string),
		phaseSLA:   make(map[string]*SLA),
	}
	for j := range p.Phases {
		ph := &p.Phases[j]
		phField := fmt.Sprintf("%s.phases[%d]", field, j)
		if slices.Contains(pi.phaseOrder, ph.ID) {
			return nil, fieldErr(phField+".id", "duplicate phase %q", ph.ID)
		}
		if len(ph.Steps) == 0 {
			return nil, fieldErr(phField+".steps", "at least one step is required")
		}
		if ph.SLA != nil {
			if err := checkSLA(phField+".sla", ph.SLA); err != nil {
				return nil, err
			}
		}
		pi.phaseOrder = append(pi.phaseOrder, ph.ID)
		pi.phaseSLA[ph.ID] = ph.SLA
		for k := range ph.Steps {
			st := &ph.Steps[k]
			stField := fmt.Sprintf("%s.steps[%d]", phField, k)
			if _, dup := pi.stepPos[st.ID]; dup {
				return nil, fieldErr(stField+".id", "duplicate step %q in process %q", st.ID, p.ID)
			}
			if st.SLA != nil {
				if err := checkSLA(stField+".sla", st.SLA); err != nil {
					return nil, err
				}
			}
			pi.stepPos[st.ID] = len(pi.steps)
			pi.steps = append(pi.steps, stepInfo{id: st.ID, phase: ph.ID, pos: len(pi.steps), sla: st.SLA})
			for _, label := range labels(st.ID, st.Name, st.Aliases) {
				if err := claim(pi.stepLabels, label, st.ID, stField); err != nil {
					return nil, err
				}
			}
			for _, text := range labels(st.ID, "", st.Aliases) {
				pi.stepNeedle = append(pi.stepNeedle, needle{text: text, stepID: st.ID})
			}
		}
	}
	return pi, nil
}

func checkSLA(field string, s *SLA) error {
	if s.WarnAfterDays < 0 || s.BreachAfterDays <= 0 {
		return fieldErr(field, "thresholds must be positive")
	}
	if s.WarnAfterDays > s.BreachAfterDays {
		return fieldErr(field, "warn_after_days %d exceeds breach_after_days %d", s.WarnAfterDays, s.BreachAfterDays)
	}
	return nil
}

// labels returns the distinct normalized forms of a name, display name and aliases.
func labels(id, name string, aliases []string) []string {
	var out []string
	for _, raw := range append([]string{id, name}, aliases...) {
		n := NormalizeText(raw)
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// claim registers a label, rejecting a label that already names something else.
func claim(m map[string]string, label, target, field string) error {
	if prev, ok := m[label]; ok && prev != target {
		return fieldErr(field, "label %q already refers to %q", label, prev)
	}
	m[label] = target
	return nil
}

// canonicalForm is the catalog as canonical-JSON-compatible values.
// Confidences are rendered as fixed-precision strings because canonical
// JSON carries no floats.
func (c *Catalog) canonicalForm() map[string]any {
	sla := func(s *SLA) any {
		if s == nil {
			return ""
		}
		return map[string]any{"warn": s.WarnAfterDays, "breach": s.BreachAfterDays}
	}
	strs := func(ss []string) []any {
		out := make([]any, 0, len(ss))
		for _, s := range ss {
			out = append(out, s)
		}
		return out
	}
	named := func(ns []Named) []any {
		out := make([]any, 0, len(ns))
		for _, n := range ns {
			out = append(out, map[string]any{"name": n.Name, "aliases": strs(n.Aliases)})
		}
		return out
	}
	conf := func(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }

	procs := make([]any, 0, len(c.Processes))
	for _, p := range c.Processes {
		phases := make([]any, 0, len(p.Phases))
		for _, ph := range p.Phases {
			steps := make([]any, 0, len(ph.Steps))
			for _, st := range ph.Steps {
				steps = append(steps, map[string]any{
					"id": st.ID, "name": st.Name, "aliases": strs(st.Aliases), "sla": sla(st.SLA),
				})
			}
			phases = append(phases, map[string]any{"id": ph.ID, "name": ph.Name, "sla": sla(ph.SLA), "steps": steps})
		}
		procs = append(procs, map[string]any{
			"id": p.ID, "name": p.Name, "owner": p.Owner, "aliases": strs(p.Aliases),
			"health": sla(p.Health), "phases": phases,
		})
	}
	return map[string]any{
		"version": c.Version,
		"identity": map[string]any{
			"high_confidence_threshold": conf(c.Identity.HighConfidence),
			"email":                     conf(c.Identity.Signals.Email),
			"full_name":                 conf(c.Identity.Signals.FullName),
			"first_name":                conf(c.Identity.Signals.FirstName),
		},
		"processes": procs,
		"clients":   named(c.Clients),
		"roles":     named(c.Roles),
	}
}

// Fingerprint identifies the catalog content. Two catalogs with equal
// fingerprints resolve every label identically.
func (c *Catalog) Fingerprint() string {
	return c.fingerprint
}

// ProcessIDs lists process ids in catalog order.
func (c *Catalog) ProcessIDs() []string {
	return slices.Clone(c.idx.procOrder)
}

// Process returns the catalog process with the given id.
func (c *Catalog) Process(id string) (*Process, bool) {
	pi, ok := c.idx.processes[id]
	if !ok {
		return nil, false
	}
	return pi.proc, true
}

// ResolveProcess maps a free-form process label to a process id by id,
// display name or alias after normalization.
func (c *Catalog) ResolveProcess(raw string) (string, bool) {
	id, ok := c.idx.procLabel[NormalizeText(raw)]
	return id, ok
}

// ResolveStep maps a free-form step label to a step id of the process:
// exact id, name or alias first, then the unique step whose id or alias is
// contained in the label.
func (c *Catalog) ResolveStep(processID, raw string) (string, bool) {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return "", false
	}
	n := NormalizeText(raw)
	if n == "" {
		return "", false
	}
	if id, ok := pi.stepLabels[n]; ok {
		return id, true
	}
	padded := " " + n + " "
	match := ""
	for _, nd := range pi.stepNeedle {
		if !strings.Contains(padded, " "+nd.text+" ") {
			continue
		}
		if match != "" && match != nd.stepID {
			return "", false
		}
		match = nd.stepID
	}
	return match, match != ""
}

// Steps returns the process's step ids in catalog order.
func (c *Catalog) Steps(processID string) []string {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return nil
	}
	ids := make([]string, len(pi.steps))
	for i, s := range pi.steps {
		ids[i] = s.id
	}
	return ids
}

// Phases returns the process's phase ids in catalog order.
func (c *Catalog) Phases(processID string) []string {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return nil
	}
	return slices.Clone(pi.phaseOrder)
}

// PhaseSteps returns the step ids of one phase in order.
func (c *Catalog) PhaseSteps(processID, phaseID string) []string {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return nil
	}
	var ids []string
	for _, s := range pi.steps {
		if s.phase == phaseID {
			ids = append(ids, s.id)
		}
	}
	return ids
}

// StepIndex returns the position of a step in its process, or -1.
func (c *Catalog) StepIndex(processID, stepID string) int {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return -1
	}
	pos, ok := pi.stepPos[stepID]
	if !ok {
		return -1
	}
	return pos
}

// PhaseOf returns the phase containing a step.
func (c *Catalog) PhaseOf(processID, stepID string) (string, bool) {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return "", false
	}
	pos, ok := pi.stepPos[stepID]
	if !ok {
		return "", false
	}
	return pi.steps[pos].phase, true
}

// SLAFor returns the most specific SLA for a step: its own, then its
// phase's, then the process health default. An empty stepID yields the
// process default.
func (c *Catalog) SLAFor(processID, stepID string) (SLA, bool) {
	pi, ok := c.idx.processes[processID]
	if !ok {
		return SLA{}, false
	}
	if pos, ok := pi.stepPos[stepID]; ok {
		st := pi.steps[pos]
		if st.sla != nil {
			return *st.sla, true
		}
		if s := pi.phaseSLA[st.phase]; s != nil {
			return *s, true
		}
	}
	if pi.proc.Health != nil {
		return *pi.proc.Health, true
	}
	return SLA{}, false
}

// CanonicalClient maps a client label to its canonical name. Catalogs
// without a client list accept every label unchanged.
func (c *Catalog) CanonicalClient(raw string) (string, bool) {
	return canonicalName(c.idx.clients, raw)
}

// CanonicalRole maps a role label to its canonical name. Catalogs without
// a role list accept every label unchanged.
func (c *Catalog) CanonicalRole(raw string) (string, bool) {
	return canonicalName(c.idx.roles, raw)
}

func canonicalName(m map[string]string, raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if len(m) == 0 {
		return trimmed, trimmed != ""
	}
	name, ok := m[NormalizeText(trimmed)]
	if !ok {
		return trimmed, false
	}
	return name, true
}
