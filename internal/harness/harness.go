package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/report"
	"github.com/roach88/procrecon/internal/store"
	"github.com/roach88/procrecon/internal/testutil"
)

// Harness is the scenario execution engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.FixedClock
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Load the catalog and apply the scenario's config overrides
//  2. Execute each run, checking its expectations
//  3. Evaluate assertions against the final store
//
// A non-nil error means the scenario could not be executed at all; failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	cat, err := catalog.Load(scenario.Catalog)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	cfg.RetryBackoff = 0
	scenario.Config.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}

	start := testutil.DefaultTime
	if scenario.Start != "" {
		if start, err = time.Parse(time.RFC3339, scenario.Start); err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, cat, cfg, start)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	result := NewResult()
	for _, run := range scenario.Runs {
		if err := h.executeRun(ctx, run, result); err != nil {
			return nil, fmt.Errorf("run %s: %w", run.RunID, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(st *store.Store, cat *catalog.Catalog, cfg config.Config, start time.Time) (*Harness, error) {
	clock := testutil.NewFixedClock(start)
	eng, err := engine.New(st, cat, cfg,
		engine.WithClock(clock),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, err
	}
	return &Harness{store: st, engine: eng, clock: clock}, nil
}

// executeRun runs one pass and records its trace.
func (h *Harness) executeRun(ctx context.Context, run RunStep, result *Result) error {
	if run.Advance != "" {
		d, err := time.ParseDuration(run.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
	}

	in, err := run.Input()
	if err != nil {
		return err
	}

	res, err := h.engine.Reconcile(ctx, in)
	if err != nil {
		return err
	}
	result.Runs = append(result.Runs, res)

	for _, o := range res.Outcomes {
		result.AddDecisionTrace(res.RunID, o)
	}
	result.AddPassTrace(res)

	if run.Expect != nil {
		for _, msg := range checkExpect(res, run.Expect) {
			result.AddError(fmt.Sprintf("run %s: %s", run.RunID, msg))
		}
	}
	return nil
}

// checkExpect compares a pass against its expectations.
func checkExpect(res *engine.Result, want *RunExpect) []string {
	var errs []string

	for i, d := range want.Decisions {
		if i >= len(res.Outcomes) {
			break
		}
		if got := decisionName(res.Outcomes[i]); got != d {
			errs = append(errs, fmt.Sprintf("candidate %d: expected decision %s, got %s", i, d, got))
		}
	}

	if len(want.Counts) > 0 {
		counts, err := countsByName(report.NewCoverage(res).Counts)
		if err != nil {
			return append(errs, err.Error())
		}
		for name, n := range want.Counts {
			got, ok := counts[name]
			if !ok {
				errs = append(errs, fmt.Sprintf("unknown count %q", name))
				continue
			}
			if got != n {
				errs = append(errs, fmt.Sprintf("count %s: expected %d, got %d", name, n, got))
			}
		}
	}

	if want.Committed != nil && *want.Committed != res.Committed {
		errs = append(errs, fmt.Sprintf("expected committed=%t, got %t", *want.Committed, res.Committed))
	}
	return errs
}

func countsByName(c report.Counts) (map[string]int, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]int
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
