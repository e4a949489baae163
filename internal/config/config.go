// Package config holds the reconciliation settings and their TOML overlay.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Exact-match key fields.
const (
	FieldProcess = "canonical_process"
	FieldClient  = "canonical_client"
	FieldRole    = "canonical_role"
)

// Weights are the per-field weights of the similarity score.
type Weights struct {
	Client float64
	Role   float64
	Name   float64
}

// Config is the engine configuration surface.
type Config struct {
	// ScopeProcesses restricts reconciliation to these process ids.
	// Empty means every catalog process is in scope.
	ScopeProcesses []string

	// ExactKeyFields are the candidate fields compared by the exact
	// null-identity lookup. canonical_process is always required.
	ExactKeyFields []string

	FuzzyThreshold float64
	Weights        Weights

	MaxEvidence int // evidence cap per instance
	FallbackMax int // evidence items taken from the timeline fallback

	PositionalInference bool
	InferredLabel       string

	CommitAttempts int
	RetryBackoff   time.Duration

	DriftTop int // unmatched label tallies kept per field
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ScopeProcesses:      []string{"recruiting"},
		ExactKeyFields:      []string{FieldProcess, FieldClient, FieldRole},
		FuzzyThreshold:      0.88,
		Weights:             Weights{Client: 0.45, Role: 0.40, Name: 0.15},
		MaxEvidence:         200,
		FallbackMax:         30,
		PositionalInference: true,
		InferredLabel:       "inferred_done",
		CommitAttempts:      5,
		RetryBackoff:        20 * time.Millisecond,
		DriftTop:            10,
	}
}

// InScope reports whether a process id is reconciled under this config.
func (c Config) InScope(processID string) bool {
	return len(c.ScopeProcesses) == 0 || slices.Contains(c.ScopeProcesses, processID)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("config: fuzzy_threshold must be in (0, 1], got %v", c.FuzzyThreshold)
	}
	if c.Weights.Client < 0 || c.Weights.Role < 0 || c.Weights.Name < 0 {
		return fmt.Errorf("config: match weights must not be negative")
	}
	if c.Weights.Client+c.Weights.Role+c.Weights.Name == 0 {
		return fmt.Errorf("config: match weights must not all be zero")
	}
	if c.MaxEvidence <= 0 {
		return fmt.Errorf("config: max_ids_per_instance must be positive, got %d", c.MaxEvidence)
	}
	if c.FallbackMax < 0 {
		return fmt.Errorf("config: fallback_max must not be negative, got %d", c.FallbackMax)
	}
	if !slices.Contains(c.ExactKeyFields, FieldProcess) {
		return fmt.Errorf("config: exact_key_fields must include %s", FieldProcess)
	}
	for _, f := range c.ExactKeyFields {
		switch f {
		case FieldProcess, FieldClient, FieldRole:
		default:
			return fmt.Errorf("config: unknown exact key field %q", f)
		}
	}
	if c.PositionalInference && strings.TrimSpace(c.InferredLabel) == "" {
		return fmt.Errorf("config: inferred label must be set when positional inference is enabled")
	}
	if c.CommitAttempts <= 0 {
		return fmt.Errorf("config: commit attempts must be positive, got %d", c.CommitAttempts)
	}
	if c.DriftTop <= 0 {
		return fmt.Errorf("config: drift top must be positive, got %d", c.DriftTop)
	}
	return nil
}

type fileConfig struct {
	Scope struct {
		Processes []string `toml:"processes"`
	} `toml:"scope"`
	Match struct {
		ExactKeyFields []string `toml:"exact_key_fields"`
		FuzzyThreshold float64  `toml:"fuzzy_threshold"`
		Weights        struct {
			Client float64 `toml:"client"`
			Role   float64 `toml:"role"`
			Name   float64 `toml:"name"`
		} `toml:"weights"`
	} `toml:"match"`
	Evidence struct {
		MaxIDsPerInstance int `toml:"max_ids_per_instance"`
		FallbackMax       int `toml:"fallback_max"`
	} `toml:"evidence"`
	Inference struct {
		Positional bool   `toml:"positional"`
		Label      string `toml:"label"`
	} `toml:"inference"`
	Store struct {
		CommitAttempts int    `toml:"commit_attempts"`
		RetryBackoff   string `toml:"retry_backoff"`
	} `toml:"store"`
	Reports struct {
		DriftTop int `toml:"drift_top"`
	} `toml:"reports"`
}

// Load overlays a TOML file on Default. Only keys present in the file
// override defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("scope", "processes") {
		cfg.ScopeProcesses = trimAll(raw.Scope.Processes)
	}
	if meta.IsDefined("match", "exact_key_fields") {
		cfg.ExactKeyFields = trimAll(raw.Match.ExactKeyFields)
	}
	if meta.IsDefined("match", "fuzzy_threshold") {
		cfg.FuzzyThreshold = raw.Match.FuzzyThreshold
	}
	if meta.IsDefined("match", "weights", "client") {
		cfg.Weights.Client = raw.Match.Weights.Client
	}
	if meta.IsDefined("match", "weights", "role") {
		cfg.Weights.Role = raw.Match.Weights.Role
	}
	if meta.IsDefined("match", "weights", "name") {
		cfg.Weights.Name = raw.Match.Weights.Name
	}
	if meta.IsDefined("evidence", "max_ids_per_instance") {
		cfg.MaxEvidence = raw.Evidence.MaxIDsPerInstance
	}
	if meta.IsDefined("evidence", "fallback_max") {
		cfg.FallbackMax = raw.Evidence.FallbackMax
	}
	if meta.IsDefined("inference", "positional") {
		cfg.PositionalInference = raw.Inference.Positional
	}
	if meta.IsDefined("inference", "label") {
		cfg.InferredLabel = strings.TrimSpace(raw.Inference.Label)
	}
	if meta.IsDefined("store", "commit_attempts") {
		cfg.CommitAttempts = raw.Store.CommitAttempts
	}
	if meta.IsDefined("store", "retry_backoff") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Store.RetryBackoff))
		if err != nil {
			return Config{}, fmt.Errorf("load config: store.retry_backoff: %w", err)
		}
		cfg.RetryBackoff = d
	}
	if meta.IsDefined("reports", "drift_top") {
		cfg.DriftTop = raw.Reports.DriftTop
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
