package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/report"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect catalog files",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	cmd.AddCommand(newCatalogDriftCommand(rootOpts))
	return cmd
}

// CatalogSummary describes a valid catalog.
type CatalogSummary struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	Version     string   `json:"version,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Processes   []string `json:"processes"`
	Steps       int      `json:"steps"`
	Clients     int      `json:"clients"`
	Roles       int      `json:"roles"`
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog-file>",
		Short: "Validate a catalog against the schema",
		Long: `Validate a YAML or CUE catalog against the catalog schema and check that
aliases are unambiguous and SLA thresholds are ordered.

Example:
  procrecon catalog validate ./catalog.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogValidate(rootOpts, args[0], cmd)
		},
	}
}

func runCatalogValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	src, err := loadCatalog(path)
	if err != nil {
		var ce *catalog.Error
		if errors.As(err, &ce) {
			// An invalid catalog is a validation result, not a usage error.
			return formatter.Fail(ExitFailure, ErrCodeCatalog, "invalid catalog", ce)
		}
		return failLoad(formatter, err)
	}

	cat := src.Catalog
	summary := CatalogSummary{
		Path:        path,
		Format:      string(src.Format),
		Version:     cat.Version,
		Fingerprint: cat.Fingerprint(),
		Processes:   cat.ProcessIDs(),
		Clients:     len(cat.Clients),
		Roles:       len(cat.Roles),
	}
	for _, id := range summary.Processes {
		summary.Steps += len(cat.Steps(id))
	}

	return formatter.Success(summary, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s: valid (%d process(es), %d step(s), %d client(s), %d role(s))\nfingerprint %s\n",
			path, len(summary.Processes), summary.Steps, summary.Clients, summary.Roles, summary.Fingerprint)
		return err
	})
}

func newCatalogDriftCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift <catalog-file>",
		Short: "Compare a catalog against the one the store was last committed under",
		Long: `Re-resolve the recorded process and step labels of every live entry under
the catalog the store was last committed with and under the given catalog,
and list the resolutions that would change. The store is not modified.

Example:
  procrecon catalog drift --db ./procrecon.db ./catalog-next.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogDrift(rootOpts, args[0], cmd)
		},
	}
}

func runCatalogDrift(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return failLoad(formatter, err)
	}
	src, err := loadCatalog(path)
	if err != nil {
		return failLoad(formatter, err)
	}
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	snap, err := st.Read(ctx)
	if err != nil {
		return failRead(formatter, err)
	}
	cur := src.Catalog.Fingerprint()
	prev, err := storedCatalog(ctx, st, snap.CatalogFingerprint, cur)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeCatalog, "stored catalog unavailable", err)
	}
	changes := report.CompareMappings(snap.Entries, prev, src.Catalog)
	drift := report.NewDrift(nil, snap.CatalogFingerprint, cur, changes, cfg.DriftTop)

	return formatter.Success(drift, func(w io.Writer) error {
		switch {
		case drift.PreviousCatalog == "":
			fmt.Fprintln(w, "store has no recorded catalog; nothing to compare")
			return nil
		case !drift.CatalogChanged:
			fmt.Fprintf(w, "catalog %s matches the store; no drift\n", cur)
			return nil
		}
		fmt.Fprintf(w, "catalog %s -> %s: %d mapping change(s)\n", drift.PreviousCatalog, cur, len(drift.Changes))
		for _, c := range drift.Changes {
			fmt.Fprintf(w, "  %s %s %q: %s -> %s\n", c.Key, c.Field, c.Label, orDash(c.Previous), orDash(c.Current))
		}
		return nil
	})
}
