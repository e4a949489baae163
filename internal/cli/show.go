package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/procrecon/internal/ir"
	"github.com/roach88/procrecon/internal/store"
)

// KeyOptions selects one instance key, either as the serialized key
// argument or through the component flags.
type KeyOptions struct {
	Process   string
	Client    string
	Role      string
	Candidate string
}

func (k *KeyOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.Process, "process", "", "process id")
	cmd.Flags().StringVar(&k.Client, "client", "", "canonical client")
	cmd.Flags().StringVar(&k.Role, "role", "", "canonical role")
	cmd.Flags().StringVar(&k.Candidate, "candidate", "", "candidate id (empty for the null identity)")
}

// resolve returns the serialized key named by args or flags.
func (k *KeyOptions) resolve(args []string) (string, error) {
	if len(args) == 1 {
		key, err := ir.ParseInstanceKey(strings.TrimSpace(args[0]))
		if err != nil {
			return "", err
		}
		return key.String(), nil
	}
	if k.Process == "" || k.Client == "" || k.Role == "" {
		return "", fmt.Errorf(`pass a serialized key like '["recruiting","Acme","AI Engineer",""]' or --process, --client and --role`)
	}
	return ir.InstanceKey{ProcessID: k.Process, Client: k.Client, Role: k.Role, CandidateID: k.Candidate}.String(), nil
}

// openExistingStore opens the store for reading; unlike reconcile it
// never creates a new database file.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "store not found", Path: path}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStore, Message: "failed to open store", Path: path, Err: err}
	}
	return st, nil
}

func failRead(f *OutputFormatter, err error) error {
	if store.IsCorruption(err) {
		return f.Fail(ExitFailure, ErrCodeCorruption, "store failed validation", err)
	}
	return f.Fail(ExitFailure, ErrCodeStore, "failed to read store", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	keyOpts := &KeyOptions{}
	cmd := &cobra.Command{
		Use:   "show [key]",
		Short: "Show one store entry",
		Long: `Show the live store entry filed under an instance key.

Example:
  procrecon show '["recruiting","Acme","AI Engineer",""]'
  procrecon show --process recruiting --client Acme --role "AI Engineer"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, keyOpts, args, cmd)
		},
	}
	keyOpts.register(cmd)
	return cmd
}

func runShow(opts *RootOptions, keyOpts *KeyOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	key, err := keyOpts.resolve(args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidFlags, "invalid instance key", err)
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()

	entry, err := st.Get(commandContext(cmd), key)
	if err != nil {
		return failRead(formatter, err)
	}
	if entry == nil {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no live entry for %s", key), nil)
	}

	return formatter.Success(entry, func(w io.Writer) error {
		return writeEntry(w, key, entry)
	})
}

func writeEntry(w io.Writer, key string, e *ir.StoreEntry) error {
	fmt.Fprintf(w, "%s\n", key)
	fmt.Fprintf(w, "  id:        %s\n", ir.KeyID(e.Key))
	fmt.Fprintf(w, "  display:   %s\n", e.DisplayName)
	fmt.Fprintf(w, "  version:   %d (last run %s)\n", e.Version, e.LastRunID)
	fmt.Fprintf(w, "  identity:  %s", e.Identity.Signal)
	if e.Identity.NameRaw != "" {
		fmt.Fprintf(w, " %q", e.Identity.NameRaw)
	}
	fmt.Fprintf(w, " (%.2f)\n", e.Identity.Confidence)
	if e.State.Status != "" {
		fmt.Fprintf(w, "  state:     %s\n", e.State.Status)
	}
	fmt.Fprintf(w, "  step:      %s / %s\n", orDash(e.CurrentPhase), orDash(e.CurrentStep))
	fmt.Fprintf(w, "  health:    %s\n", e.Health)
	fmt.Fprintf(w, "  evidence:  %d message(s)\n", len(e.Evidence))
	for _, m := range e.MergedFrom {
		fmt.Fprintf(w, "  merged:    %s (run %s)\n", m.Key, m.RunID)
	}
	_, err := fmt.Fprintf(w, "  updated:   %s\n", e.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	keyOpts := &KeyOptions{}
	cmd := &cobra.Command{
		Use:   "history [key]",
		Short: "Show the merge log of an entry",
		Long: `Show every merge log record of an entry, including the records of keys
that were promoted or folded into it, oldest first.

Example:
  procrecon history '["recruiting","Acme","AI Engineer","<candidate-id>"]'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, keyOpts, args, cmd)
		},
	}
	keyOpts.register(cmd)
	return cmd
}

func runHistory(opts *RootOptions, keyOpts *KeyOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	key, err := keyOpts.resolve(args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidFlags, "invalid instance key", err)
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()

	records, err := st.History(commandContext(cmd), key)
	if err != nil {
		return failRead(formatter, err)
	}
	if len(records) == 0 {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no history for %s", key), nil)
	}

	return formatter.Success(records, func(w io.Writer) error {
		for _, r := range records {
			decision := r.Decision
			if r.Score != "" {
				decision += "(" + r.Score + ")"
			}
			fmt.Fprintf(w, "#%d  v%d  %-16s  %-14s  %s", r.Seq, r.StoreVersion, r.RunID, decision, r.Key)
			if r.PrevKey != "" {
				fmt.Fprintf(w, " <- %s", r.PrevKey)
			}
			fmt.Fprintln(w)
		}
		return nil
	})
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the store as a key to entry JSON mapping",
		Long: `Export every live entry as one JSON object mapping serialized instance
keys to entries, keys in store order. The output is the same as the
snapshot written next to each run's reports.

Example:
  procrecon export --db ./procrecon.db -o store.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, output, cmd)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runExport(opts *RootOptions, output string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()

	data, err := st.Export(commandContext(cmd))
	if err != nil {
		return failRead(formatter, err)
	}

	if output == "" {
		if opts.Format == "json" {
			return formatter.Success(json.RawMessage(data), nil)
		}
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeWriteFailed, "failed to write export", err)
	}
	return formatter.Success(map[string]string{"output": output}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Exported store to %s\n", output)
		return err
	})
}
