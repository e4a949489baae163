package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/procrecon/internal/catalog"
	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/ir"
)

// Run directory inputs. The first instances file found is used.
var InstancesFiles = []string{"instances.json", "instances.yaml", "instances.yml"}

// TimelineFile is the optional per-instance evidence timeline of a run.
const TimelineFile = "timeline.json"

// LoadError represents an error that occurred while loading CLI inputs.
type LoadError struct {
	Code    string
	Message string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// catalogSource is a parsed catalog and the bytes it was parsed from, so
// the source can be recorded in the store for later drift comparison.
type catalogSource struct {
	Path    string
	Format  catalog.Format
	Source  []byte
	Catalog *catalog.Catalog
}

func loadCatalog(path string) (*catalogSource, error) {
	if path == "" {
		return nil, &LoadError{Code: ErrCodeInvalidFlags, Message: "--catalog is required"}
	}
	format, err := catalog.FormatFromPath(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCatalog, Message: "unsupported catalog file", Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "catalog not found", Path: path}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCatalog, Message: "read catalog", Path: path, Err: err}
	}
	cat, err := catalog.Parse(data, format, path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCatalog, Message: "invalid catalog", Path: path, Err: err}
	}
	return &catalogSource{Path: path, Format: format, Source: data, Catalog: cat}, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: "invalid config", Path: path, Err: err}
	}
	return cfg, nil
}

type instancesFile struct {
	Instances []ir.InstanceCandidate `json:"instances"`
}

type timelineFile struct {
	ByInstance map[string][]ir.Evidence `json:"by_instance"`
}

// loadRunInput reads the candidate set of a run directory and, when
// present, its timeline. Timeline items are flattened in source-key order.
func loadRunInput(dir string) (engine.RunInput, error) {
	var in engine.RunInput

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return in, &LoadError{Code: ErrCodeNotFound, Message: "run directory not found", Path: dir}
	}

	path, err := findInstancesFile(dir)
	if err != nil {
		return in, err
	}
	var inst instancesFile
	if err := decodeFile(path, &inst); err != nil {
		return in, &LoadError{Code: ErrCodeInput, Message: "malformed instances file", Path: path, Err: err}
	}
	in.Candidates = inst.Instances

	tpath := filepath.Join(dir, TimelineFile)
	if _, err := os.Stat(tpath); err == nil {
		var tl timelineFile
		if err := decodeFile(tpath, &tl); err != nil {
			return in, &LoadError{Code: ErrCodeInput, Message: "malformed timeline file", Path: tpath, Err: err}
		}
		for _, key := range slices.Sorted(maps.Keys(tl.ByInstance)) {
			for _, ev := range tl.ByInstance[key] {
				in.Timeline = append(in.Timeline, engine.TimelineItem{SourceKey: key, Evidence: ev})
			}
		}
	}
	return in, nil
}

func findInstancesFile(dir string) (string, error) {
	for _, name := range InstancesFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &LoadError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("no instances file (want one of %v)", InstancesFiles),
		Path:    dir,
	}
}

// decodeFile decodes JSON, or YAML by way of JSON so the json tags of the
// target types apply to both.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
		if data, err = json.Marshal(raw); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, v)
}
