package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/ir"
)

// HealthOptions holds flags for the health command.
type HealthOptions struct {
	*RootOptions
	Catalog string
	At      string
	All     bool
}

// HealthRow is the read-time health of one entry.
type HealthRow struct {
	Key         string    `json:"key"`
	CurrentStep string    `json:"current_step,omitempty"`
	Stored      ir.Health `json:"stored"`
	Current     ir.Health `json:"current"`
}

// HealthReport is the health of every live entry at one instant.
type HealthReport struct {
	At           time.Time         `json:"at"`
	StoreVersion int64             `json:"store_version"`
	Counts       map[ir.Health]int `json:"counts"`
	Entries      []HealthRow       `json:"entries"`
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HealthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Evaluate SLA health of live entries now",
		Long: `Re-evaluate the SLA health of every live entry at the current time (or
--at) under the given catalog. Stored entries are only rewritten by a
reconciliation pass with new content, so the stored label can lag behind.
This command reports the current label without writing.

By default only entries that are not on track are listed.

Example:
  procrecon health --db ./procrecon.db --catalog ./catalog.yaml
  procrecon health --catalog ./catalog.yaml --at 2026-03-15T00:00:00Z --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to catalog file, .yaml or .cue (required)")
	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate at this RFC 3339 time instead of now")
	cmd.Flags().BoolVar(&opts.All, "all", false, "list every entry, not only those needing attention")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runHealth(opts *HealthOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	now := opts.now()
	if opts.At != "" {
		t, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidFlags, "invalid --at time", err)
		}
		now = t.UTC()
	}

	src, err := loadCatalog(opts.Catalog)
	if err != nil {
		return failLoad(formatter, err)
	}
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()

	snap, err := st.Read(commandContext(cmd))
	if err != nil {
		return failRead(formatter, err)
	}

	rep := HealthReport{
		At:           now,
		StoreVersion: snap.Version,
		Counts: map[ir.Health]int{
			ir.HealthOnTrack: 0,
			ir.HealthAtRisk:  0,
			ir.HealthOverdue: 0,
			ir.HealthUnknown: 0,
		},
		Entries: []HealthRow{},
	}
	for _, key := range snap.Keys() {
		e := snap.Entries[key]
		h := engine.EvaluateHealth(e, src.Catalog, now)
		rep.Counts[h]++
		if !opts.All && h == ir.HealthOnTrack {
			continue
		}
		rep.Entries = append(rep.Entries, HealthRow{
			Key:         key,
			CurrentStep: e.CurrentStep,
			Stored:      e.Health,
			Current:     h,
		})
	}

	return formatter.Success(rep, func(w io.Writer) error {
		fmt.Fprintf(w, "Health at %s (store version %d)\n", now.Format(time.RFC3339), rep.StoreVersion)
		fmt.Fprintf(w, "  %d on_track, %d at_risk, %d overdue, %d unknown\n",
			rep.Counts[ir.HealthOnTrack], rep.Counts[ir.HealthAtRisk],
			rep.Counts[ir.HealthOverdue], rep.Counts[ir.HealthUnknown])
		for _, r := range rep.Entries {
			fmt.Fprintf(w, "  %-8s %s step=%s", r.Current, r.Key, orDash(r.CurrentStep))
			if r.Stored != r.Current {
				fmt.Fprintf(w, " (stored %s)", r.Stored)
			}
			fmt.Fprintln(w)
		}
		return nil
	})
}
