package engine

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/ir"
)

// TimelineItem is one evidence item of the run's flat fallback timeline,
// attributed to the upstream instance it was clustered into.
type TimelineItem struct {
	SourceKey string `json:"source_key"`
	ir.Evidence
}

// Resolved is a validated candidate with its taxonomy resolved against the
// catalog. It is the matcher's and merger's view of a candidate.
type Resolved struct {
	Index     int
	Candidate ir.InstanceCandidate // normalized, evidence deduplicated or taken from the fallback

	// Key is the instance key derived from the candidate. CandidateID is
	// only set when Identity.High.
	Key      ir.InstanceKey
	Identity catalog.IdentityAssessment

	ProcessKnown bool
	FallbackUsed bool

	// Claims are the explicit step statuses the candidate supports, by step id.
	Claims map[string]StepClaim

	// StepLabels maps every raw step label seen to its step id ("" if unresolved).
	StepLabels map[string]string

	// Warnings are catalog inconsistencies; they degrade inference but do
	// not skip the candidate.
	Warnings []*CandidateError

	// Unmatched lists raw labels per field that failed to resolve.
	Unmatched map[string][]string
}

// StepClaim is an explicit step status with what backs it.
type StepClaim struct {
	Status    ir.StepStatus
	At        time.Time
	MessageID string
	rank      int // 0 state, 1 steps_state, 2 evidence event
}

// Drift fields for unmatched labels.
const (
	FieldProcess = "process"
	FieldClient  = "client"
	FieldRole    = "role"
	FieldStep    = "step"
)

var eventStatuses = map[string]ir.StepStatus{
	"done":           ir.StepDone,
	"completed":      ir.StepDone,
	"step_done":      ir.StepDone,
	"step_completed": ir.StepDone,
	"blocked":        ir.StepBlocked,
	"step_blocked":   ir.StepBlocked,
}

func explicitStatus(label string) (ir.StepStatus, bool) {
	s, ok := eventStatuses[strings.ToLower(strings.TrimSpace(label))]
	return s, ok
}

// resolver prepares candidates for one pass. Preparation depends only on
// the candidate, the catalog and the config, never on the store, so it is
// done once per pass and reused across commit attempts.
type resolver struct {
	cat      *catalog.Catalog
	cfg      config.Config
	timeline map[string][]ir.Evidence
}

func newResolver(cat *catalog.Catalog, cfg config.Config, timeline []TimelineItem) *resolver {
	r := &resolver{cat: cat, cfg: cfg, timeline: make(map[string][]ir.Evidence)}
	for _, item := range timeline {
		if item.SourceKey == "" || item.MessageID == "" {
			continue
		}
		r.timeline[item.SourceKey] = append(r.timeline[item.SourceKey], item.Evidence)
	}
	return r
}

// Resolve validates and resolves one candidate. A returned *CandidateError
// means the candidate is skipped.
func (r *resolver) Resolve(index int, c ir.InstanceCandidate) (*Resolved, *CandidateError) {
	n := c.Normalized()
	if err := n.Validate(); err != nil {
		return nil, NewMalformedError(index, n.SourceKey, err)
	}

	out := &Resolved{
		Index:      index,
		Claims:     make(map[string]StepClaim),
		StepLabels: make(map[string]string),
		Unmatched:  make(map[string][]string),
	}

	processID, ok := r.cat.ResolveProcess(n.CanonicalProcess)
	if !ok {
		processID = n.CanonicalProcess
		out.Warnings = append(out.Warnings, NewCatalogError(index, n.SourceKey, FieldProcess, n.CanonicalProcess))
		out.Unmatched[FieldProcess] = append(out.Unmatched[FieldProcess], rawOr(n.ProcessRaw, n.CanonicalProcess))
	}
	out.ProcessKnown = ok
	if !r.cfg.InScope(processID) {
		return nil, NewOutOfScopeError(index, n.SourceKey, processID)
	}

	client, ok := r.cat.CanonicalClient(n.CanonicalClient)
	if !ok {
		out.Unmatched[FieldClient] = append(out.Unmatched[FieldClient], rawOr(n.ClientRaw, n.CanonicalClient))
	}
	role, ok := r.cat.CanonicalRole(n.CanonicalRole)
	if !ok {
		out.Unmatched[FieldRole] = append(out.Unmatched[FieldRole], rawOr(n.RoleRaw, n.CanonicalRole))
	}

	n.Evidence = dedupeEvidence(n.Evidence)
	if len(n.Evidence) == 0 && n.SourceKey != "" {
		if fb := r.fallback(n.SourceKey); len(fb) > 0 {
			n.Evidence = fb
			out.FallbackUsed = true
		}
	}
	for i := range n.Evidence {
		n.Evidence[i].Timestamp = n.Evidence[i].Timestamp.UTC()
	}
	n.State.LastUpdated = n.State.LastUpdated.UTC()
	if latest, ok := latestEvidence(n.Evidence); ok {
		if n.State.LastUpdated.IsZero() {
			n.State.LastUpdated = latest.Timestamp
		}
		if n.State.MessageID == "" {
			n.State.MessageID = latest.MessageID
		}
	}

	out.Identity = r.cat.AssessIdentity(n.Identity)
	out.Key = ir.InstanceKey{ProcessID: processID, Client: client, Role: role}
	if out.Identity.High {
		out.Key.CandidateID = out.Identity.CandidateID
	}
	out.Candidate = n

	r.resolveSteps(out)
	return out, nil
}

func (r *resolver) resolveSteps(out *Resolved) {
	n := &out.Candidate
	processID := out.Key.ProcessID

	resolve := func(label string) (string, bool) {
		if id, seen := out.StepLabels[label]; seen {
			return id, id != ""
		}
		id, ok := "", false
		if out.ProcessKnown {
			id, ok = r.cat.ResolveStep(processID, label)
		}
		out.StepLabels[label] = id
		if !ok {
			out.Unmatched[FieldStep] = append(out.Unmatched[FieldStep], label)
			if out.ProcessKnown {
				out.Warnings = append(out.Warnings, NewCatalogError(out.Index, n.SourceKey, FieldStep, label))
			}
		}
		return id, ok
	}
	claim := func(stepID string, c StepClaim) {
		prev, ok := out.Claims[stepID]
		if !ok || c.rank > prev.rank || (c.rank == prev.rank && claimAfter(c, prev)) {
			out.Claims[stepID] = c
		}
	}

	if label := strings.TrimSpace(n.State.Step); label != "" {
		if id, ok := resolve(label); ok {
			if status, ok := explicitStatus(n.State.Status); ok {
				claim(id, StepClaim{Status: status, At: n.State.LastUpdated, MessageID: n.State.MessageID, rank: 0})
			}
		}
	}
	for _, label := range slices.Sorted(maps.Keys(n.StepsState)) {
		id, ok := resolve(strings.TrimSpace(label))
		if ok && n.StepsState[label].Explicit() {
			claim(id, StepClaim{Status: n.StepsState[label], rank: 1})
		}
	}
	for _, ev := range n.Evidence {
		label := strings.TrimSpace(ev.Step)
		if label == "" {
			continue
		}
		id, ok := resolve(label)
		if !ok {
			continue
		}
		if status, ok := explicitStatus(ev.EventType); ok {
			claim(id, StepClaim{Status: status, At: ev.Timestamp, MessageID: ev.MessageID, rank: 2})
		}
	}
}

// fallback returns the last FallbackMax timeline items of a source key.
func (r *resolver) fallback(sourceKey string) []ir.Evidence {
	items := dedupeEvidence(r.timeline[sourceKey])
	if len(items) == 0 || r.cfg.FallbackMax == 0 {
		return nil
	}
	sortEvidence(items)
	if len(items) > r.cfg.FallbackMax {
		items = items[len(items)-r.cfg.FallbackMax:]
	}
	return items
}

func claimAfter(a, b StepClaim) bool {
	if c := a.At.Compare(b.At); c != 0 {
		return c > 0
	}
	return a.MessageID > b.MessageID
}

func rawOr(raw, canonical string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return canonical
}

// dedupeEvidence keeps the first item per message id, preserving order.
func dedupeEvidence(in []ir.Evidence) []ir.Evidence {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]ir.Evidence, 0, len(in))
	for _, ev := range in {
		if seen[ev.MessageID] {
			continue
		}
		seen[ev.MessageID] = true
		out = append(out, ev)
	}
	return out
}

// compareEvidence orders evidence by (timestamp, message_id).
func compareEvidence(a, b ir.Evidence) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.MessageID, b.MessageID)
}

func sortEvidence(evs []ir.Evidence) {
	slices.SortFunc(evs, compareEvidence)
}

func latestEvidence(evs []ir.Evidence) (ir.Evidence, bool) {
	if len(evs) == 0 {
		return ir.Evidence{}, false
	}
	return slices.MaxFunc(evs, compareEvidence), true
}

// orderKey is the deterministic processing order of a resolved candidate:
// instance key, then smallest evidence message id, then source key.
func (r *Resolved) orderKey() (string, string, string) {
	minID := ""
	for _, ev := range r.Candidate.Evidence {
		if minID == "" || ev.MessageID < minID {
			minID = ev.MessageID
		}
	}
	return r.Key.String(), minID, r.Candidate.SourceKey
}

func compareResolved(a, b *Resolved) int {
	ak, am, as := a.orderKey()
	bk, bm, bs := b.orderKey()
	return cmp.Or(cmp.Compare(ak, bk), cmp.Compare(am, bm), cmp.Compare(as, bs), cmp.Compare(a.Index, b.Index))
}
