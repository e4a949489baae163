package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/report"
	"github.com/roach88/procrecon/internal/store"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Catalog    string
	RunID      string
	NoSnapshot bool
	Parallel   int

	FuzzyThreshold float64
	Scope          []string
	MaxEvidence    int

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <run-dir>...",
		Short: "Reconcile run directories into the store",
		Long: `Reconcile the instance candidates of one or more run directories into
the persistent store.

Each run directory holds instances.json (or instances.yaml) with an
"instances" list and optionally timeline.json with a "by_instance" map.
Coverage, reconciliation and mapping drift reports plus a store snapshot
are written into the run directory. The snapshot and the drift report show
the store as that directory's pass left it, without commits from other
directories that landed afterwards.

Several run directories are reconciled concurrently against the same store;
each commits atomically and retries on a lost race.

Example:
  procrecon reconcile --db ./procrecon.db --catalog ./catalog.yaml ./runs/2026-03-01
  procrecon reconcile --catalog ./catalog.cue --config ./procrecon.toml ./runs/*`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to catalog file, .yaml or .cue (required)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id (single run directory only; generated when empty)")
	cmd.Flags().BoolVar(&opts.NoSnapshot, "no-snapshot", false, "do not write the store snapshot into the run directory")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 4, "run directories reconciled at once")
	cmd.Flags().Float64Var(&opts.FuzzyThreshold, "fuzzy-threshold", 0, "override match.fuzzy_threshold")
	cmd.Flags().StringSliceVar(&opts.Scope, "scope", nil, "override scope.processes")
	cmd.Flags().IntVar(&opts.MaxEvidence, "max-evidence", 0, "override evidence.max_ids_per_instance")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

// runOutput is what one run directory produced.
type runOutput struct {
	Dir          string        `json:"dir"`
	RunID        string        `json:"run_id"`
	Committed    bool          `json:"committed"`
	Attempts     int           `json:"attempts"`
	StoreVersion int64         `json:"store_version"`
	Files        []string      `json:"files"`
	Counts       report.Counts `json:"counts"`

	set report.Set
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

func runReconcile(opts *ReconcileOptions, dirs []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	if opts.RunID != "" && len(dirs) > 1 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidFlags, "--run-id needs exactly one run directory", nil)
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return failLoad(formatter, err)
	}
	flags := cmd.Flags()
	if flags.Changed("fuzzy-threshold") {
		cfg.FuzzyThreshold = opts.FuzzyThreshold
	}
	if flags.Changed("scope") {
		cfg.ScopeProcesses = opts.Scope
	}
	if flags.Changed("max-evidence") {
		cfg.MaxEvidence = opts.MaxEvidence
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	src, err := loadCatalog(opts.Catalog)
	if err != nil {
		return failLoad(formatter, err)
	}
	formatter.VerboseLog("catalog %s: %d process(es), fingerprint %s",
		src.Path, len(src.Catalog.ProcessIDs()), src.Catalog.Fingerprint())

	// All inputs are read before the store is touched, so a bad run
	// directory never leaves a partial batch behind.
	inputs := make([]engine.RunInput, len(dirs))
	for i, dir := range dirs {
		if inputs[i], err = loadRunInput(dir); err != nil {
			return failLoad(formatter, err)
		}
		inputs[i].RunID = opts.RunID
		formatter.VerboseLog("%s: %d candidate(s), %d timeline item(s)",
			dir, len(inputs[i].Candidates), len(inputs[i].Timeline))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithCatalogSource(src.Format, src.Source),
		engine.WithClock(clockFunc(opts.now)),
	}
	if opts.RunIDs != nil {
		engOpts = append(engOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	eng, err := engine.New(st, src.Catalog, cfg, engOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to create engine", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputs := make([]*runOutput, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for i, dir := range dirs {
		g.Go(func() error {
			out, err := reconcileDir(gctx, eng, st, src, dir, inputs[i], !opts.NoSnapshot, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failPass(formatter, err)
	}

	return formatter.Success(outputs, func(w io.Writer) error {
		for i, out := range outputs {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := report.WriteSummary(w, out.set); err != nil {
				return err
			}
			fmt.Fprintf(w, "  reports:    %s\n", out.Dir)
		}
		return nil
	})
}

func reconcileDir(ctx context.Context, eng *engine.Engine, st *store.Store, src *catalogSource,
	dir string, in engine.RunInput, snapshot bool, logger *slog.Logger) (*runOutput, error) {
	res, err := eng.Reconcile(ctx, in)
	if err != nil {
		return nil, err
	}

	snap := res.Snapshot
	prev, err := storedCatalog(ctx, st, res.PreviousCatalog, res.Catalog)
	if err != nil {
		logger.Warn("previous catalog unavailable, skipping mapping drift",
			"run_id", res.RunID, "fingerprint", res.PreviousCatalog, "error", err)
	}
	changes := report.CompareMappings(snap.Entries, prev, src.Catalog)

	set := report.Set{
		Coverage:       report.NewCoverage(res),
		Reconciliation: report.NewReconciliation(res),
		Drift:          report.NewDrift(res, res.PreviousCatalog, res.Catalog, changes, eng.Config().DriftTop),
	}
	files, err := report.WriteSet(dir, set)
	if err != nil {
		return nil, &writeError{err}
	}
	if snapshot {
		data, err := store.ExportSnapshot(snap)
		if err != nil {
			return nil, err
		}
		path, err := report.WriteSnapshot(dir, data)
		if err != nil {
			return nil, &writeError{err}
		}
		files = append(files, path)
	}
	for i, f := range files {
		files[i] = filepath.Base(f)
	}

	return &runOutput{
		Dir:          dir,
		RunID:        res.RunID,
		Committed:    res.Committed,
		Attempts:     res.Attempts,
		StoreVersion: res.StoreVersion,
		Files:        files,
		Counts:       set.Coverage.Counts,
		set:          set,
	}, nil
}

// storedCatalog returns the catalog a store was last committed under, or
// nil when there is none or it is the current one.
func storedCatalog(ctx context.Context, st *store.Store, fingerprint, current string) (*catalog.Catalog, error) {
	if fingerprint == "" || fingerprint == current {
		return nil, nil
	}
	rec, err := st.Catalog(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("catalog %s not recorded in store", fingerprint)
	}
	return catalog.Parse(rec.Source, catalog.Format(rec.Format), "stored:"+fingerprint)
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func failLoad(f *OutputFormatter, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return f.Fail(ExitCommandError, le.Code, le.Message, err)
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to load inputs", err)
}

func failPass(f *OutputFormatter, err error) error {
	var we *writeError
	switch {
	case engine.IsRetriesExhausted(err):
		return f.Fail(ExitFailure, ErrCodeRetries, "commit retries exhausted", err)
	case store.IsCorruption(err):
		return f.Fail(ExitFailure, ErrCodeCorruption, "store failed validation", err)
	case errors.As(err, &we):
		return f.Fail(ExitFailure, ErrCodeWriteFailed, "failed to write reports", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return f.Fail(ExitFailure, ErrCodeGeneric, "reconciliation interrupted", err)
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, "reconciliation failed", err)
	}
}
