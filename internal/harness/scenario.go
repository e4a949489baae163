package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/procrecon/internal/config"
	"github.com/roach88/procrecon/internal/engine"
	"github.com/roach88/procrecon/internal/ir"
)

// DecisionSkipped is the trace decision of a candidate that never reached
// the matcher.
const DecisionSkipped = "SKIPPED"

// Scenario defines a reconciliation scenario: a catalog, a sequence of
// runs fed to the engine, and assertions over the resulting store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Catalog is the path of the catalog file, resolved relative to the
	// scenario file unless absolute.
	Catalog string `yaml:"catalog"`

	// Config overrides the stock engine configuration.
	Config *Settings `yaml:"config,omitempty"`

	// Start is the RFC3339 instant the clock starts at. Defaults to
	// testutil.DefaultTime.
	Start string `yaml:"start,omitempty"`

	// Runs are executed in order against one store.
	Runs []RunStep `yaml:"runs"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Settings are the configuration overrides a scenario may set.
type Settings struct {
	FuzzyThreshold      *float64 `yaml:"fuzzy_threshold,omitempty"`
	MaxEvidence         *int     `yaml:"max_evidence,omitempty"`
	FallbackMax         *int     `yaml:"fallback_max,omitempty"`
	PositionalInference *bool    `yaml:"positional_inference,omitempty"`
	Scope               []string `yaml:"scope,omitempty"`
	ExactKeyFields      []string `yaml:"exact_key_fields,omitempty"`
}

// apply overlays the settings on cfg.
func (s *Settings) apply(cfg *config.Config) {
	if s == nil {
		return
	}
	if s.FuzzyThreshold != nil {
		cfg.FuzzyThreshold = *s.FuzzyThreshold
	}
	if s.MaxEvidence != nil {
		cfg.MaxEvidence = *s.MaxEvidence
	}
	if s.FallbackMax != nil {
		cfg.FallbackMax = *s.FallbackMax
	}
	if s.PositionalInference != nil {
		cfg.PositionalInference = *s.PositionalInference
	}
	if s.Scope != nil {
		cfg.ScopeProcesses = s.Scope
	}
	if s.ExactKeyFields != nil {
		cfg.ExactKeyFields = s.ExactKeyFields
	}
}

// RunStep is one reconciliation pass.
type RunStep struct {
	RunID string `yaml:"run_id"`

	// Advance moves the clock forward before the run (Go duration syntax).
	Advance string `yaml:"advance,omitempty"`

	// Candidates and Timeline are written in the upstream JSON shape.
	Candidates []map[string]any `yaml:"candidates"`
	Timeline   []map[string]any `yaml:"timeline,omitempty"`

	Expect *RunExpect `yaml:"expect,omitempty"`
}

// RunExpect checks a pass before the next run starts.
type RunExpect struct {
	// Decisions lists the decision of every candidate in input order.
	Decisions []string `yaml:"decisions,omitempty"`

	// Counts are checked against the pass coverage counts by JSON name.
	// Subset match.
	Counts map[string]int `yaml:"counts,omitempty"`

	Committed *bool `yaml:"committed,omitempty"`
}

// Input decodes the run's candidates and timeline into engine input.
// Unknown candidate fields are rejected.
func (r RunStep) Input() (engine.RunInput, error) {
	in := engine.RunInput{RunID: r.RunID}
	for i, raw := range r.Candidates {
		var c ir.InstanceCandidate
		if err := redecode(raw, &c); err != nil {
			return engine.RunInput{}, fmt.Errorf("candidates[%d]: %w", i, err)
		}
		in.Candidates = append(in.Candidates, c)
	}
	for i, raw := range r.Timeline {
		var item engine.TimelineItem
		if err := redecode(raw, &item); err != nil {
			return engine.RunInput{}, fmt.Errorf("timeline[%d]: %w", i, err)
		}
		in.Timeline = append(in.Timeline, item)
	}
	return in, nil
}

func redecode(raw map[string]any, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Assertion validates the store after the last run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "entry_count": the snapshot holds exactly Count entries
	// - "entry": the entry at Key exists and matches Expect
	// - "no_entry": no entry exists at Key
	// - "history_length": the merge log holds Count records touching Key
	Type string `yaml:"type"`

	Key *KeySpec `yaml:"key,omitempty"`

	// Expect contains expected entry fields by JSON name, plus the
	// computed "evidence_ids". Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertEntryCount    = "entry_count"
	AssertEntry         = "entry"
	AssertNoEntry       = "no_entry"
	AssertHistoryLength = "history_length"
)

// KeySpec names an instance key. Email stands in for CandidateID and is
// hashed the way the resolver hashes it.
type KeySpec struct {
	Process     string `yaml:"process"`
	Client      string `yaml:"client"`
	Role        string `yaml:"role"`
	CandidateID string `yaml:"candidate_id,omitempty"`
	Email       string `yaml:"email,omitempty"`
}

// InstanceKey builds the selected key. An email is hashed the way the
// engine derives candidate ids.
func (k KeySpec) InstanceKey() ir.InstanceKey {
	id := k.CandidateID
	if id == "" && k.Email != "" {
		id = ir.CandidateIDFromEmail(k.Email)
	}
	return ir.InstanceKey{ProcessID: k.Process, Client: k.Client, Role: k.Role, CandidateID: id}
}

// LoadScenario reads and parses a scenario YAML file, resolving the
// catalog path relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the catalog path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) && basePath != "" {
		scenario.Catalog = filepath.Join(basePath, scenario.Catalog)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

var decisionNames = []string{
	string(engine.DecisionExact),
	string(engine.DecisionFuzzy),
	string(engine.DecisionAmbiguous),
	string(engine.DecisionNew),
	DecisionSkipped,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if _, err := os.Stat(s.Catalog); os.IsNotExist(err) {
		return fmt.Errorf("catalog file not found: %s", s.Catalog)
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	seen := map[string]bool{}
	for i, run := range s.Runs {
		if run.RunID == "" {
			return fmt.Errorf("runs[%d]: run_id is required", i)
		}
		if seen[run.RunID] {
			return fmt.Errorf("runs[%d]: duplicate run_id %q", i, run.RunID)
		}
		seen[run.RunID] = true
		if run.Advance != "" {
			d, err := time.ParseDuration(run.Advance)
			if err != nil {
				return fmt.Errorf("runs[%d].advance: %w", i, err)
			}
			if d < 0 {
				return fmt.Errorf("runs[%d].advance: must not be negative", i)
			}
		}
		if run.Expect != nil {
			if n := len(run.Expect.Decisions); n > 0 && n != len(run.Candidates) {
				return fmt.Errorf("runs[%d].expect: %d decisions for %d candidates", i, n, len(run.Candidates))
			}
			for _, d := range run.Expect.Decisions {
				if !slices.Contains(decisionNames, d) {
					return fmt.Errorf("runs[%d].expect: unknown decision %q", i, d)
				}
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for entry_count", index)
		}
		return nil
	case AssertEntry, AssertNoEntry, AssertHistoryLength:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Key == nil {
		return fmt.Errorf("assertions[%d]: key is required for %s", index, a.Type)
	}
	if a.Key.Process == "" || a.Key.Client == "" || a.Key.Role == "" {
		return fmt.Errorf("assertions[%d]: key needs process, client and role", index)
	}
	if a.Key.CandidateID != "" && a.Key.Email != "" {
		return fmt.Errorf("assertions[%d]: key takes candidate_id or email, not both", index)
	}
	if a.Type == AssertEntry && len(a.Expect) == 0 {
		return fmt.Errorf("assertions[%d]: expect is required for entry", index)
	}
	if a.Type == AssertHistoryLength && a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative for history_length", index)
	}
	return nil
}
