package report

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/ir"
)

// Tally is a raw label and how often it failed to resolve.
type Tally struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// MappingChange is one taxonomy resolution of a stored entry that differs
// between two catalog versions. An empty Previous or Current means the
// label did not resolve under that catalog.
type MappingChange struct {
	Key      string `json:"key"`
	Field    string `json:"field"` // process or step
	Label    string `json:"label"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Drift is the per-run mapping drift report.
type Drift struct {
	RunID       string    `json:"run_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitzero"`

	PreviousCatalog string `json:"previous_catalog,omitempty"`
	CurrentCatalog  string `json:"current_catalog"`
	CatalogChanged  bool   `json:"catalog_changed"`

	Changes   []MappingChange    `json:"mapping_changes"`
	Unmatched map[string][]Tally `json:"unmatched"`
}

// CompareMappings re-resolves the recorded raw process and step labels of
// every entry under both catalogs and returns the resolutions that differ,
// ordered by key, field and label. A nil prev, or two catalogs with the
// same fingerprint, yield no changes.
func CompareMappings(entries map[string]*ir.StoreEntry, prev, cur *catalog.Catalog) []MappingChange {
	changes := []MappingChange{}
	if prev == nil || cur == nil || prev.Fingerprint() == cur.Fingerprint() {
		return changes
	}
	for _, key := range slices.Sorted(maps.Keys(entries)) {
		m := entries[key].Mapping
		p0, _ := prev.ResolveProcess(m.ProcessRaw)
		p1, _ := cur.ResolveProcess(m.ProcessRaw)
		if p0 != p1 {
			changes = append(changes, MappingChange{Key: key, Field: engine.FieldProcess, Label: m.ProcessRaw, Previous: p0, Current: p1})
		}
		for _, label := range slices.Sorted(maps.Keys(m.StepLabels)) {
			s0 := resolveStep(prev, p0, label)
			s1 := resolveStep(cur, p1, label)
			if s0 != s1 {
				changes = append(changes, MappingChange{Key: key, Field: engine.FieldStep, Label: label, Previous: s0, Current: s1})
			}
		}
	}
	return changes
}

func resolveStep(cat *catalog.Catalog, processID, label string) string {
	if processID == "" {
		return ""
	}
	id, _ := cat.ResolveStep(processID, label)
	return id
}

// NewDrift builds the drift report from mapping changes and the pass's
// unmatched label tallies, keeping the top entries per field. res may be
// nil when drift is computed outside a pass.
func NewDrift(res *engine.Result, prevFingerprint, curFingerprint string, changes []MappingChange, top int) *Drift {
	d := &Drift{
		PreviousCatalog: prevFingerprint,
		CurrentCatalog:  curFingerprint,
		CatalogChanged:  prevFingerprint != "" && prevFingerprint != curFingerprint,
		Changes:         changes,
		Unmatched:       make(map[string][]Tally),
	}
	if d.Changes == nil {
		d.Changes = []MappingChange{}
	}
	for _, field := range []string{engine.FieldProcess, engine.FieldClient, engine.FieldRole, engine.FieldStep} {
		d.Unmatched[field] = []Tally{}
	}
	if res == nil {
		return d
	}
	d.RunID = res.RunID
	d.GeneratedAt = res.At
	for field, counts := range res.Unmatched {
		d.Unmatched[field] = topTallies(counts, top)
	}
	return d
}

// topTallies orders by count desc, then value asc, and keeps n.
func topTallies(counts map[string]int, n int) []Tally {
	out := make([]Tally, 0, len(counts))
	for v, c := range counts {
		out = append(out, Tally{Value: v, Count: c})
	}
	slices.SortFunc(out, func(a, b Tally) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Value, b.Value))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
