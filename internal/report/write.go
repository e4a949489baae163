package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// File names of the per-run outputs inside a run directory.
const (
	CoverageFile       = "coverage_report.json"
	ReconciliationFile = "reconciliation_report.json"
	DriftFile          = "mapping_drift_report.json"
	SnapshotFile       = "store.snapshot.json"
)

// Set is the three reports of one pass.
type Set struct {
	Coverage       *Coverage
	Reconciliation *Reconciliation
	Drift          *Drift
}

// Marshal renders a report as indented JSON with a trailing newline.
// HTML characters are not escaped so labels stay readable.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes a report to path, replacing the file atomically.
func WriteJSON(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

// WriteSet writes the three reports into dir and returns the paths written.
func WriteSet(dir string, s Set) ([]string, error) {
	files := []struct {
		name string
		v    any
	}{
		{CoverageFile, s.Coverage},
		{ReconciliationFile, s.Reconciliation},
		{DriftFile, s.Drift},
	}
	var paths []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := WriteJSON(path, f.v); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteSnapshot writes an exported store mapping next to the reports.
func WriteSnapshot(dir string, data []byte) (string, error) {
	path := filepath.Join(dir, SnapshotFile)
	return path, writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name()) // No-op after rename
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteSummary prints a short human-readable digest of a pass.
func WriteSummary(w io.Writer, s Set) error {
	var b strings.Builder
	c := s.Coverage
	n := c.Counts

	fmt.Fprintf(&b, "Run %s\n", c.RunID)
	if s.Reconciliation != nil {
		r := s.Reconciliation
		state := "unchanged"
		if r.Committed {
			state = "committed"
		}
		fmt.Fprintf(&b, "  store:      version %d -> %d (%s, %d attempt(s))\n", r.BaseVersion, r.StoreVersion, state, r.Attempts)
	}
	fmt.Fprintf(&b, "  candidates: %d seen, %d reconciled, %d skipped (%d malformed, %d out of scope)\n",
		n.Seen, n.Reconciled, n.Skipped, n.Malformed, n.OutOfScope)
	fmt.Fprintf(&b, "  decisions:  %d exact, %d fuzzy, %d ambiguous, %d new\n", n.Exact, n.Fuzzy, n.Ambiguous, n.New)
	fmt.Fprintf(&b, "  entries:    %d created, %d merged, %d unchanged\n", n.Created, n.Merged, n.Unchanged)
	fmt.Fprintf(&b, "  health:     %d on_track, %d at_risk, %d overdue, %d unknown\n",
		c.Health["on_track"], c.Health["at_risk"], c.Health["overdue"], c.Health["unknown"])

	if r := s.Reconciliation; r != nil {
		for _, rec := range r.Records {
			if rec.Decision != "AMBIGUOUS" {
				continue
			}
			keys := make([]string, 0, len(rec.Candidates))
			for _, c := range rec.Candidates {
				keys = append(keys, c.Key)
			}
			fmt.Fprintf(&b, "  ambiguous:  candidate %d -> %s\n", rec.Index, strings.Join(keys, " | "))
		}
	}
	if d := s.Drift; d != nil {
		if d.CatalogChanged {
			fmt.Fprintf(&b, "  drift:      catalog changed, %d mapping change(s)\n", len(d.Changes))
		}
		for _, field := range []string{"process", "client", "role", "step"} {
			if ts := d.Unmatched[field]; len(ts) > 0 {
				fmt.Fprintf(&b, "  unmatched %s: %s (%d)\n", field, ts[0].Value, ts[0].Count)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
