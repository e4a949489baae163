package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/ir"
	"github.com/roach88/procrecon/internal/store"
)

// Engine runs reconciliation passes against one persistent store.
//
// A pass reads a snapshot, matches and merges every candidate against a
// snapshot-local working set, and commits the delta atomically with the
// snapshot version as the expected version. A lost race re-reads and
// recomputes from scratch; two uncommitted deltas are never combined.
//
// Thread-safety model:
//   - Reconcile(): safe from several goroutines and several processes
//     sharing the same store file
//   - The catalog and config are read-only for the engine's lifetime
type Engine struct {
	store   *store.Store
	catalog *catalog.Catalog
	source  *store.CatalogRecord
	cfg     config.Config
	runIDs  RunIDGenerator
	clock   Clock
	logger  *slog.Logger

	// beforeCommit runs after a delta is computed and before it is committed.
	beforeCommit func(ctx context.Context, attempt int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunIDGenerator overrides the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithClock overrides the wall clock used for write stamps and health.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCatalogSource records the catalog's source text in the store with
// every commit, so later passes can compute drift against it.
func WithCatalogSource(format catalog.Format, source []byte) Option {
	return func(e *Engine) {
		e.source = &store.CatalogRecord{Format: string(format), Source: slices.Clone(source)}
	}
}

// New creates an engine. The config is validated here so a pass never
// starts with settings it cannot honor.
func New(st *store.Store, cat *catalog.Catalog, cfg config.Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("engine: nil store")
	}
	if cat == nil {
		return nil, fmt.Errorf("engine: nil catalog")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		store:   st,
		catalog: cat,
		cfg:     cfg,
		runIDs:  UUIDv7Generator{},
		clock:   SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.source != nil {
		e.source.Fingerprint = cat.Fingerprint()
	}
	return e, nil
}

// Catalog returns the catalog the engine reconciles under.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Config returns the engine configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// RunInput is one run's worth of upstream output.
type RunInput struct {
	// RunID identifies the run in the merge log; generated when empty.
	RunID string

	Candidates []ir.InstanceCandidate

	// Timeline is the optional flat evidence source used for candidates
	// whose own evidence list is empty.
	Timeline []TimelineItem
}

// Action is what a pass did with one candidate.
type Action string

const (
	ActionCreated   Action = "created"
	ActionMerged    Action = "merged"
	ActionUnchanged Action = "unchanged"
	ActionAmbiguous Action = "ambiguous"
	ActionSkipped   Action = "skipped"
)

// Outcome is the reconciliation record of one candidate.
type Outcome struct {
	Index     int    `json:"index"`
	SourceKey string `json:"source_key,omitempty"`

	// Key is the entry the candidate ended up in, after any re-key later
	// in the same pass. Empty for skipped and ambiguous candidates.
	Key      string    `json:"key,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
	Action   Action    `json:"action"`

	EvidenceCount int  `json:"evidence_count"` // evidence items the candidate carried, after fallback
	EvidenceAdded int  `json:"evidence_added"`
	FallbackUsed  bool `json:"fallback_used,omitempty"`

	// Unmatched lists the fields (process, client, role, step) with a raw
	// label that failed to resolve against the catalog.
	Unmatched []string `json:"unmatched,omitempty"`

	// Error is set for skipped candidates.
	Error *CandidateError `json:"-"`

	// Warnings are catalog inconsistencies that degraded inference.
	Warnings []*CandidateError `json:"-"`
}

// Result is the outcome of a committed (or no-op) pass.
type Result struct {
	RunID     string
	Attempts  int
	Committed bool

	// BaseVersion is the snapshot version the delta was computed against.
	// StoreVersion is the version after the pass; equal to BaseVersion
	// when nothing changed.
	BaseVersion  int64
	StoreVersion int64

	// PreviousCatalog is the fingerprint the store was last committed
	// under; Catalog is the fingerprint of this pass.
	PreviousCatalog string
	Catalog         string

	At       time.Time
	Outcomes []Outcome // in input order

	// Entries holds the post-pass state of every entry a candidate
	// resolved to, keyed by serialized key. Touched lists those keys
	// sorted; Changed the subset this pass wrote.
	Entries map[string]*ir.StoreEntry
	Touched []string
	Changed []string

	// Unmatched tallies raw labels that failed to resolve, by field.
	Unmatched map[string]map[string]int

	// Snapshot is the store as this pass left it, at StoreVersion. Commits
	// other passes land afterwards are not in it.
	Snapshot *store.Snapshot
}

// Reconcile runs one reconciliation pass.
//
// Malformed and out-of-scope candidates are skipped and reported in the
// result; they never fail the pass. The returned error is non-nil only for
// store failures: *store.CorruptionError on a snapshot that fails
// validation, *PassError when every commit attempt lost to a concurrent
// commit, or the context's error when cancelled before commit. In every
// error case the store is unchanged by this pass.
func (e *Engine) Reconcile(ctx context.Context, in RunInput) (*Result, error) {
	runID := in.RunID
	if runID == "" {
		runID = e.runIDs.Generate()
	}
	now := e.clock.Now().UTC()
	log := e.logger.With("run_id", runID)

	res := &Result{
		RunID:     runID,
		Catalog:   e.catalog.Fingerprint(),
		At:        now,
		Outcomes:  make([]Outcome, len(in.Candidates)),
		Unmatched: make(map[string]map[string]int),
	}

	rs := newResolver(e.catalog, e.cfg, in.Timeline)
	var work []*Resolved
	for i, c := range in.Candidates {
		r, cerr := rs.Resolve(i, c)
		if cerr != nil {
			res.Outcomes[i] = Outcome{Index: i, SourceKey: cerr.SourceKey, Action: ActionSkipped, Error: cerr}
			log.Debug("candidate skipped", "index", i, "code", cerr.Code, "reason", cerr.Message)
			continue
		}
		for field, labels := range r.Unmatched {
			if res.Unmatched[field] == nil {
				res.Unmatched[field] = make(map[string]int)
			}
			for _, l := range labels {
				res.Unmatched[field][l]++
			}
		}
		work = append(work, r)
	}
	slices.SortFunc(work, compareResolved)

	log.Info("reconciliation pass starting",
		"candidates", len(in.Candidates),
		"resolved", len(work),
		"catalog", res.Catalog,
	)

	var lastConflict error
	for attempt := 1; attempt <= e.cfg.CommitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Attempts = attempt

		snap, err := e.store.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", runID, err)
		}
		res.BaseVersion = snap.Version
		res.PreviousCatalog = snap.CatalogFingerprint

		d := e.compute(snap, work, runID, now, log)
		for _, o := range d.outcomes {
			res.Outcomes[o.Index] = o
		}
		res.Entries = d.entries
		res.Touched = d.touched
		res.Changed = d.changedKeys()

		if e.beforeCommit != nil {
			e.beforeCommit(ctx, attempt)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(d.changes) == 0 {
			if e.source != nil && e.source.Fingerprint != snap.CatalogFingerprint {
				err := e.store.AdvanceCatalog(ctx, snap.Version, *e.source)
				if store.IsConflict(err) {
					lastConflict = err
					log.Warn("catalog advance conflict, recomputing", "attempt", attempt, "error", err)
					if err := e.backoff(ctx, attempt); err != nil {
						return nil, err
					}
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("reconcile %s: %w", runID, err)
				}
			}
			res.StoreVersion = snap.Version
			res.Snapshot = snap
			if e.source != nil {
				view := *snap
				view.CatalogFingerprint = e.source.Fingerprint
				res.Snapshot = &view
			}
			log.Info("reconciliation pass unchanged", "store_version", snap.Version, "attempt", attempt)
			return res, nil
		}

		version, err := e.store.Commit(ctx, snap.Version, store.Commit{
			RunID:   runID,
			At:      now,
			Changes: d.changes,
			Catalog: e.source,
		})
		if store.IsConflict(err) {
			lastConflict = err
			log.Warn("commit conflict, recomputing",
				"attempt", attempt,
				"expected_version", snap.Version,
				"error", err,
			)
			if err := e.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", runID, err)
		}

		res.Committed = true
		res.StoreVersion = version
		res.Snapshot = &store.Snapshot{
			Version:            version,
			CatalogFingerprint: snap.CatalogFingerprint,
			LastRunID:          runID,
			UpdatedAt:          now,
			Entries:            d.view,
		}
		if e.source != nil {
			res.Snapshot.CatalogFingerprint = e.source.Fingerprint
		}
		log.Info("reconciliation pass committed",
			"store_version", version,
			"attempt", attempt,
			"changed", len(d.changes),
		)
		return res, nil
	}

	return nil, &PassError{RunID: runID, Attempts: e.cfg.CommitAttempts, Err: lastConflict}
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	if e.cfg.RetryBackoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.cfg.RetryBackoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// delta is the snapshot-local result of one attempt.
type delta struct {
	outcomes []Outcome
	changes  []store.Change
	entries  map[string]*ir.StoreEntry
	touched  []string
	view     map[string]*ir.StoreEntry // every live entry once the delta lands
}

func (d *delta) changedKeys() []string {
	keys := make([]string, 0, len(d.changes))
	for _, c := range d.changes {
		keys = append(keys, c.Entry.Key.String())
	}
	return keys
}

// pending is the accumulated write for one live key during an attempt.
type pending struct {
	prevKey  string // key in the snapshot this entry replaces, if re-keyed
	inStore  bool   // the entry (under prevKey or its own key) exists in the snapshot
	decision Decision
}

// compute matches and merges every resolved candidate, in order, against a
// working copy of the snapshot. The snapshot itself is never modified.
func (e *Engine) compute(snap *store.Snapshot, work []*Resolved, runID string, now time.Time, log *slog.Logger) *delta {
	working := maps.Clone(snap.Entries)
	if working == nil {
		working = make(map[string]*ir.StoreEntry)
	}
	merger := &Merger{
		Catalog:     e.catalog,
		Inference:   InferenceConfigFrom(e.cfg),
		MaxEvidence: e.cfg.MaxEvidence,
		RunID:       runID,
		Now:         now,
	}
	mc := MatchConfigFrom(e.cfg)

	writes := make(map[string]*pending)
	renames := make(map[string]string)
	outcomes := make([]Outcome, 0, len(work))

	created := make(map[string]bool)
	for _, r := range work {
		dec := Match(r, working, mc)
		// Entries created in this pass are not promoted, so reconciling the
		// same input again finds each weak candidate's entry where it left it.
		if dec.Promote && created[dec.Key] {
			dec = Decision{Kind: DecisionNew}
		}
		mr := merger.Apply(r, dec, working)
		if mr.Created {
			created[mr.Entry.Key.String()] = true
		}

		o := Outcome{
			Index:         r.Index,
			SourceKey:     r.Candidate.SourceKey,
			Decision:      &dec,
			EvidenceCount: len(r.Candidate.Evidence),
			EvidenceAdded: mr.EvidenceAdded,
			FallbackUsed:  r.FallbackUsed,
			Warnings:      r.Warnings,
		}
		for _, field := range slices.Sorted(maps.Keys(r.Unmatched)) {
			if len(r.Unmatched[field]) > 0 {
				o.Unmatched = append(o.Unmatched, field)
			}
		}
		switch {
		case dec.Kind == DecisionAmbiguous:
			o.Action = ActionAmbiguous
		case mr.Created:
			o.Action = ActionCreated
		case mr.Changed:
			o.Action = ActionMerged
		default:
			o.Action = ActionUnchanged
		}
		if mr.Entry != nil {
			o.Key = mr.Entry.Key.String()
		}

		if mr.Changed {
			key := mr.Entry.Key.String()
			p := &pending{decision: dec}
			switch {
			case mr.Created:
			case mr.PrevKey != "":
				renames[mr.PrevKey] = key
				if prior, ok := writes[mr.PrevKey]; ok {
					p.prevKey, p.inStore = prior.prevKey, prior.inStore
					delete(writes, mr.PrevKey)
				} else {
					p.prevKey, p.inStore = mr.PrevKey, true
				}
			default:
				if prior, ok := writes[key]; ok {
					p.prevKey, p.inStore = prior.prevKey, prior.inStore
				} else {
					p.inStore = true
				}
			}
			writes[key] = p
		}

		log.Debug("candidate reconciled",
			"index", r.Index,
			"key", o.Key,
			"decision", dec.String(),
			"action", o.Action,
		)
		outcomes = append(outcomes, o)
	}

	touched := make(map[string]bool)
	for i := range outcomes {
		if outcomes[i].Key == "" {
			continue
		}
		outcomes[i].Key = followRenames(renames, outcomes[i].Key)
		touched[outcomes[i].Key] = true
	}

	d := &delta{
		outcomes: outcomes,
		entries:  make(map[string]*ir.StoreEntry, len(touched)),
		touched:  slices.Sorted(maps.Keys(touched)),
		view:     working,
	}
	for _, k := range d.touched {
		d.entries[k] = working[k]
	}

	for _, key := range slices.Sorted(maps.Keys(writes)) {
		p := writes[key]
		entry := working[key]
		if entry == nil {
			continue
		}
		entry = entry.Clone()
		// One commit bumps an entry's version at most once, however many
		// candidates of the pass merged into it.
		origin := key
		if p.prevKey != "" {
			origin = p.prevKey
		}
		if base, ok := snap.Entries[origin]; ok && p.inStore {
			entry.Version = base.Version + 1
			if contentEqual(base, entry) && origin == key {
				working[key] = base
				continue
			}
		} else {
			entry.Version = 1
		}
		working[key] = entry
		d.entries[key] = entry
		d.changes = append(d.changes, store.Change{
			Entry:    entry,
			PrevKey:  p.prevKey,
			Decision: string(p.decision.Kind),
			Score:    scoreString(p.decision),
		})
	}
	return d
}

func followRenames(renames map[string]string, key string) string {
	for range len(renames) + 1 {
		next, ok := renames[key]
		if !ok {
			return key
		}
		key = next
	}
	return key
}

func scoreString(d Decision) string {
	if d.Kind != DecisionFuzzy {
		return ""
	}
	return fmt.Sprintf("%.4f", d.Score)
}
