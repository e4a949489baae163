package engine

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/ir"
)

// Merger applies match decisions to a working set of entries.
//
// The working set maps serialized keys to entries. The merger never
// modifies an entry in place: it clones, edits the clone, and replaces the
// map value, so entries shared with a snapshot stay untouched.
type Merger struct {
	Catalog     *catalog.Catalog
	Inference   InferenceConfig
	MaxEvidence int
	RunID       string
	Now         time.Time
}

// MergeResult describes the effect of one Apply.
type MergeResult struct {
	Entry         *ir.StoreEntry // resulting entry; nil for AMBIGUOUS
	PrevKey       string         // key the entry was filed under before a re-key
	Created       bool
	Changed       bool // content changed and the version was bumped
	EvidenceAdded int  // new message ids retained in the evidence set
}

// Apply merges a candidate into entries according to d.
//
// NEW creates an entry at version 1. EXACT and FUZZY merge into the matched
// entry and bump its version by one only when content changed, so applying
// the same candidate twice is a no-op. AMBIGUOUS leaves entries untouched.
func (m *Merger) Apply(r *Resolved, d Decision, entries map[string]*ir.StoreEntry) MergeResult {
	switch d.Kind {
	case DecisionNew:
		e := m.create(r)
		entries[e.Key.String()] = e
		return MergeResult{Entry: e, Created: true, Changed: true, EvidenceAdded: len(e.Evidence)}
	case DecisionExact, DecisionFuzzy:
		base, ok := entries[d.Key]
		if !ok {
			return MergeResult{}
		}
		res := m.merge(r, d, base)
		if !res.Changed {
			return res
		}
		if res.PrevKey != "" {
			delete(entries, res.PrevKey)
		}
		entries[res.Entry.Key.String()] = res.Entry
		return res
	default:
		return MergeResult{}
	}
}

func (m *Merger) create(r *Resolved) *ir.StoreEntry {
	c := r.Candidate
	e := &ir.StoreEntry{
		Key:           r.Key,
		DisplayName:   r.Key.Role + " - " + r.Key.Client,
		Identity:      entryIdentity(r),
		State:         c.State,
		ExplicitSteps: claimStatuses(r.Claims),
		Evidence:      capEvidence(c.Evidence, m.MaxEvidence),
		MergedFrom:    []ir.MergeRef{},
		Mapping: ir.Mapping{
			ProcessRaw: rawOr(c.ProcessRaw, c.CanonicalProcess),
			StepLabels: cloneLabels(r.StepLabels),
		},
		FirstSeenAt: m.Now,
		UpdatedAt:   m.Now,
		LastRunID:   m.RunID,
		Version:     1,
	}
	if c.SourceKey != "" {
		e.SourceKeys = []string{c.SourceKey}
	}
	m.derive(e, r, nil)
	e.Health = EvaluateHealth(e, m.Catalog, m.Now)
	return e
}

func (m *Merger) merge(r *Resolved, d Decision, base *ir.StoreEntry) MergeResult {
	e := base.Clone()
	res := MergeResult{}

	if d.Promote {
		res.PrevKey = base.Key.String()
		e.Key = r.Key
		e.Identity = entryIdentity(r)
		e.MergedFrom = appendRef(e.MergedFrom, ir.MergeRef{Key: res.PrevKey, RunID: m.RunID})
	}
	if d.Kind == DecisionFuzzy {
		if derived := r.Key.String(); derived != e.Key.String() {
			e.MergedFrom = appendRef(e.MergedFrom, ir.MergeRef{Key: derived, RunID: m.RunID})
		}
	}
	if !e.Key.HasIdentity() && e.Identity.NameRaw == "" && r.Candidate.Identity.NameRaw != "" {
		e.Identity = entryIdentity(r)
		e.Identity.CandidateID = ""
	}

	known := make(map[string]bool, len(e.Evidence))
	for _, ev := range e.Evidence {
		known[ev.MessageID] = true
	}
	union := slices.Clone(e.Evidence)
	for _, ev := range r.Candidate.Evidence {
		if !known[ev.MessageID] {
			known[ev.MessageID] = true
			union = append(union, ev)
		}
	}
	e.Evidence = capEvidence(union, m.MaxEvidence)
	for _, ev := range e.Evidence {
		if !slices.ContainsFunc(base.Evidence, func(b ir.Evidence) bool { return b.MessageID == ev.MessageID }) {
			res.EvidenceAdded++
		}
	}

	newer := stateNewer(r.Candidate.State, e.State)
	if newer {
		e.State = r.Candidate.State
	}
	for _, step := range slices.Sorted(maps.Keys(r.Claims)) {
		c := r.Claims[step]
		if cur, ok := e.ExplicitSteps[step]; !ok || (newer && cur != c.Status) {
			if e.ExplicitSteps == nil {
				e.ExplicitSteps = make(map[string]ir.StepStatus)
			}
			e.ExplicitSteps[step] = c.Status
		}
	}

	if sk := r.Candidate.SourceKey; sk != "" && !slices.Contains(e.SourceKeys, sk) {
		e.SourceKeys = append(e.SourceKeys, sk)
		slices.Sort(e.SourceKeys)
	}
	if e.Mapping.ProcessRaw == "" {
		e.Mapping.ProcessRaw = rawOr(r.Candidate.ProcessRaw, r.Candidate.CanonicalProcess)
	}
	for label, id := range r.StepLabels {
		if e.Mapping.StepLabels == nil {
			e.Mapping.StepLabels = make(map[string]string)
		}
		e.Mapping.StepLabels[label] = id
	}

	m.derive(e, r, base)

	if contentEqual(base, e) {
		return MergeResult{Entry: base}
	}
	e.Version = base.Version + 1
	e.UpdatedAt = m.Now
	e.LastRunID = m.RunID
	e.Health = EvaluateHealth(e, m.Catalog, m.Now)
	res.Entry = e
	res.Changed = true
	return res
}

// derive recomputes the inferred fields of e. prev is the entry before the
// merge, nil on creation.
func (m *Merger) derive(e *ir.StoreEntry, r *Resolved, prev *ir.StoreEntry) {
	p := Infer(e, m.Catalog, m.Inference)
	e.StepsState = p.Steps
	e.PhasesState = p.Phases
	e.CurrentStep = p.CurrentStep
	e.CurrentPhase = p.CurrentPhase

	if prev != nil && prev.CurrentStep == e.CurrentStep {
		e.StepEnteredAt = prev.StepEnteredAt
		return
	}
	e.StepEnteredAt = time.Time{}
	if e.CurrentStep == "" {
		return
	}
	if c, ok := r.Claims[e.CurrentStep]; ok && !c.At.IsZero() {
		e.StepEnteredAt = c.At
		return
	}
	if id, ok := m.Catalog.ResolveStep(e.Key.ProcessID, r.Candidate.State.Step); ok && id == e.CurrentStep {
		e.StepEnteredAt = r.Candidate.State.LastUpdated
	}
}

// capEvidence orders evidence by (timestamp, message_id) and, above limit,
// keeps the limit/2 earliest and the remaining most recent items.
func capEvidence(evs []ir.Evidence, limit int) []ir.Evidence {
	if len(evs) == 0 {
		return nil
	}
	sorted := slices.Clone(evs)
	sortEvidence(sorted)
	if limit <= 0 || len(sorted) <= limit {
		return sorted
	}
	head := limit / 2
	tail := limit - head
	out := make([]ir.Evidence, 0, limit)
	out = append(out, sorted[:head]...)
	return append(out, sorted[len(sorted)-tail:]...)
}

// stateNewer reports whether candidate state c supersedes cur: strictly
// newer last_updated, or equal last_updated and a greater backing message id.
func stateNewer(c, cur ir.State) bool {
	if d := c.LastUpdated.Compare(cur.LastUpdated); d != 0 {
		return d > 0
	}
	return c.MessageID > cur.MessageID
}

func entryIdentity(r *Resolved) ir.EntryIdentity {
	return ir.EntryIdentity{
		NameRaw:     r.Candidate.Identity.NameRaw,
		CandidateID: r.Key.CandidateID,
		Signal:      r.Identity.Signal,
		Confidence:  r.Identity.Confidence,
	}
}

func claimStatuses(claims map[string]StepClaim) map[string]ir.StepStatus {
	if len(claims) == 0 {
		return nil
	}
	out := make(map[string]ir.StepStatus, len(claims))
	for id, c := range claims {
		out[id] = c.Status
	}
	return out
}

func cloneLabels(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

func appendRef(refs []ir.MergeRef, ref ir.MergeRef) []ir.MergeRef {
	if slices.ContainsFunc(refs, func(r ir.MergeRef) bool { return r.Key == ref.Key }) {
		return refs
	}
	return append(refs, ref)
}

// contentEqual compares entries ignoring the fields a write stamps.
func contentEqual(a, b *ir.StoreEntry) bool {
	strip := func(e *ir.StoreEntry) []byte {
		c := *e
		c.Health = ""
		c.UpdatedAt = time.Time{}
		c.LastRunID = ""
		c.Version = 0
		data, err := json.Marshal(&c)
		if err != nil {
			return nil
		}
		return data
	}
	x, y := strip(a), strip(b)
	return x != nil && y != nil && string(x) == string(y)
}
