package engine

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/ir"
)

// DecisionKind is the outcome class of matching one candidate.
type DecisionKind string

const (
	DecisionExact     DecisionKind = "EXACT"
	DecisionFuzzy     DecisionKind = "FUZZY"
	DecisionAmbiguous DecisionKind = "AMBIGUOUS"
	DecisionNew       DecisionKind = "NEW"
)

// ScoredEntry is a store entry that scored at or above the fuzzy threshold.
type ScoredEntry struct {
	Key       string    `json:"key"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the result of matching one candidate against a snapshot.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// Key is the matched entry for EXACT and FUZZY.
	Key string `json:"key,omitempty"`

	// Score is the similarity for FUZZY.
	Score float64 `json:"score,omitempty"`

	// Promote is set when a high-confidence candidate matched the single
	// null-identity entry of its group; the merger re-keys that entry.
	Promote bool `json:"promote,omitempty"`

	// Candidates lists the competing entries for AMBIGUOUS, in tie-break order.
	Candidates []ScoredEntry `json:"candidates,omitempty"`
}

// String renders the decision as EXACT, FUZZY(0.9312), AMBIGUOUS(3) or NEW.
func (d Decision) String() string {
	switch d.Kind {
	case DecisionFuzzy:
		return fmt.Sprintf("FUZZY(%.4f)", d.Score)
	case DecisionAmbiguous:
		return fmt.Sprintf("AMBIGUOUS(%d)", len(d.Candidates))
	}
	return string(d.Kind)
}

// MatchConfig is the part of the configuration the matcher reads.
type MatchConfig struct {
	ExactKeyFields []string
	Threshold      float64
	Weights        config.Weights
}

// MatchConfigFrom extracts the matcher settings from a config.
func MatchConfigFrom(c config.Config) MatchConfig {
	return MatchConfig{ExactKeyFields: c.ExactKeyFields, Threshold: c.FuzzyThreshold, Weights: c.Weights}
}

// Match resolves a candidate against the live entries of a snapshot, keyed
// by serialized instance key. It reads entries and never modifies them.
//
//  1. A high-confidence identity matches only its full key (EXACT). If the
//     key is absent and its group holds exactly one null-identity entry and
//     no identified entry, that entry is promoted (EXACT). Otherwise NEW.
//     Distinct identities never match each other, whatever their score.
//  2. Otherwise the configured exact key fields are compared against
//     null-identity entries; exactly one hit is EXACT. With no hit, an
//     identified entry that absorbed the candidate's null key through a
//     promotion is the same instance and is EXACT too.
//  3. Otherwise null-identity entries of the same process are scored. None
//     at or above the threshold is NEW, one is FUZZY, more is AMBIGUOUS.
func Match(r *Resolved, entries map[string]*ir.StoreEntry, mc MatchConfig) Decision {
	if r.Identity.High {
		full := r.Key.String()
		if _, ok := entries[full]; ok {
			return Decision{Kind: DecisionExact, Key: full}
		}
		group := r.Key.Group()
		if _, ok := entries[group.String()]; ok && !groupHasIdentity(entries, group) {
			return Decision{Kind: DecisionExact, Key: group.String(), Promote: true}
		}
		return Decision{Kind: DecisionNew}
	}

	var exact []string
	for k, e := range entries {
		if !e.Key.HasIdentity() && exactFieldsEqual(r.Key, e.Key, mc.ExactKeyFields) {
			exact = append(exact, k)
		}
	}
	if len(exact) == 1 {
		return Decision{Kind: DecisionExact, Key: exact[0]}
	}
	if len(exact) == 0 {
		if k, ok := promotedFrom(entries, r.Key.String()); ok {
			return Decision{Kind: DecisionExact, Key: k}
		}
	}

	fields := ScoreFields{Client: r.Key.Client, Role: r.Key.Role, Name: r.Candidate.Identity.NameRaw}
	var scored []ScoredEntry
	for k, e := range entries {
		if e.Key.HasIdentity() || e.Key.ProcessID != r.Key.ProcessID {
			continue
		}
		s := Score(fields, ScoreFields{Client: e.Key.Client, Role: e.Key.Role, Name: e.Identity.NameRaw}, mc.Weights)
		if s >= mc.Threshold {
			scored = append(scored, ScoredEntry{Key: k, Score: s, UpdatedAt: e.UpdatedAt})
		}
	}
	slices.SortFunc(scored, compareScored)

	switch len(scored) {
	case 0:
		// The derived key may already be live when the exact fields are a
		// subset of the key; one live row per key wins over NEW.
		if _, ok := entries[r.Key.String()]; ok {
			return Decision{Kind: DecisionExact, Key: r.Key.String()}
		}
		return Decision{Kind: DecisionNew}
	case 1:
		return Decision{Kind: DecisionFuzzy, Key: scored[0].Key, Score: scored[0].Score}
	default:
		return Decision{Kind: DecisionAmbiguous, Candidates: scored}
	}
}

// compareScored orders by score desc, updated_at desc, key asc.
func compareScored(a, b ScoredEntry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

// promotedFrom returns the single identified entry whose merged_from holds
// nullKey.
func promotedFrom(entries map[string]*ir.StoreEntry, nullKey string) (string, bool) {
	found := ""
	for k, e := range entries {
		if !e.Key.HasIdentity() {
			continue
		}
		if !slices.ContainsFunc(e.MergedFrom, func(m ir.MergeRef) bool { return m.Key == nullKey }) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = k
	}
	return found, found != ""
}

func groupHasIdentity(entries map[string]*ir.StoreEntry, group ir.InstanceKey) bool {
	for _, e := range entries {
		if e.Key.HasIdentity() && e.Key.Group() == group {
			return true
		}
	}
	return false
}

func exactFieldsEqual(a, b ir.InstanceKey, fields []string) bool {
	for _, f := range fields {
		switch f {
		case config.FieldProcess:
			if a.ProcessID != b.ProcessID {
				return false
			}
		case config.FieldClient:
			if a.Client != b.Client {
				return false
			}
		case config.FieldRole:
			if a.Role != b.Role {
				return false
			}
		}
	}
	return true
}
