package catalog

// SLA holds the warn and breach thresholds for a step, phase or process,
// in days since the last update.
type SLA struct {
	WarnAfterDays   int `yaml:"warn_after_days" json:"warn_after_days"`
	BreachAfterDays int `yaml:"breach_after_days" json:"breach_after_days"`
}

// Step is one ordered step inside a phase.
type Step struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	SLA     *SLA     `yaml:"sla,omitempty" json:"sla,omitempty"`
}

// Phase groups consecutive steps.
type Phase struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	SLA   *SLA   `yaml:"sla,omitempty" json:"sla,omitempty"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Process is a tracked process type.
type Process struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Owner   string   `yaml:"owner,omitempty" json:"owner,omitempty"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Health  *SLA     `yaml:"health,omitempty" json:"health,omitempty"` // fallback when step and phase have no SLA
	Phases  []Phase  `yaml:"phases" json:"phases"`
}

// Named is a client or role with its aliases.
type Named struct {
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// SignalCaps bounds the confidence an identity signal can carry.
type SignalCaps struct {
	Email     float64 `yaml:"email" json:"email"`
	FullName  float64 `yaml:"full_name" json:"full_name"`
	FirstName float64 `yaml:"first_name" json:"first_name"`
}

// IdentityRules decide when a candidate id is strong enough to be a merge key.
type IdentityRules struct {
	HighConfidence float64    `yaml:"high_confidence_threshold" json:"high_confidence_threshold"`
	Signals        SignalCaps `yaml:"signals" json:"signals"`
}

// Default identity rules. The first-name cap sits below the threshold so a
// first name alone never qualifies.
const (
	DefaultHighConfidence = 0.8
	DefaultEmailCap       = 1.0
	DefaultFullNameCap    = 0.85
	DefaultFirstNameCap   = 0.5
)

// Default process health, used when a process declares none.
const (
	DefaultWarnAfterDays   = 7
	DefaultBreachAfterDays = 14
)

// Catalog is the compiled taxonomy. Construct with Load, Parse or New.
type Catalog struct {
	Version   string        `yaml:"version,omitempty" json:"version,omitempty"`
	Identity  IdentityRules `yaml:"identity" json:"identity"`
	Processes []Process     `yaml:"processes" json:"processes"`
	Clients   []Named       `yaml:"clients,omitempty" json:"clients,omitempty"`
	Roles     []Named       `yaml:"roles,omitempty" json:"roles,omitempty"`

	idx         *index
	fingerprint string
}
