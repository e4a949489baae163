package ir

import (
	"maps"
	"slices"
	"time"
)

// StepStatus is the progress label of a single catalog step.
type StepStatus string

const (
	StepDone         StepStatus = "done"
	StepBlocked      StepStatus = "blocked"
	StepInferredDone StepStatus = "inferred_done"
	StepUnknown      StepStatus = "unknown"
)

// ValidStepStatuses lists the statuses accepted on candidate input.
var ValidStepStatuses = map[StepStatus]bool{
	StepDone:         true,
	StepBlocked:      true,
	StepInferredDone: true,
	StepUnknown:      true,
}

// Explicit reports whether the status is evidence-backed rather than inferred.
func (s StepStatus) Explicit() bool {
	return s == StepDone || s == StepBlocked
}

// PhaseStatus is the aggregate progress label of a catalog phase.
type PhaseStatus string

const (
	PhaseDone       PhaseStatus = "done"
	PhaseBlocked    PhaseStatus = "blocked"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseUnknown    PhaseStatus = "unknown"
)

// Health is the coarse SLA-derived label of an instance.
type Health string

const (
	HealthOnTrack Health = "on_track"
	HealthAtRisk  Health = "at_risk"
	HealthOverdue Health = "overdue"
	HealthUnknown Health = "unknown"
)

// IdentitySignal names the strongest identity signal present on a candidate.
// Ranking: email > full name > first name only. An upstream candidate id
// with no email or name behind it is opaque and ranks with a full name.
type IdentitySignal string

const (
	SignalNone      IdentitySignal = "none"
	SignalEmail     IdentitySignal = "email"
	SignalFullName  IdentitySignal = "full_name"
	SignalOpaque    IdentitySignal = "opaque"
	SignalFirstName IdentitySignal = "first_name"
)

// Evidence is a message-derived fact, always traceable to a message id.
type Evidence struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Snippet   string    `json:"snippet,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	Step      string    `json:"step,omitempty"` // raw step label the event refers to
}

// CandidateIdentity is the identity signal attached to a candidate by the
// upstream clustering stage.
type CandidateIdentity struct {
	NameRaw     string  `json:"name_raw,omitempty"`
	Email       string  `json:"email,omitempty"`
	CandidateID string  `json:"candidate_id,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// State is the inferred status of an instance at some point in time.
type State struct {
	Status      string    `json:"status,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Step        string    `json:"step,omitempty"` // raw current step label
	LastUpdated time.Time `json:"last_updated,omitzero"`
	MessageID   string    `json:"message_id,omitempty"` // evidence backing this state
	Confidence  float64   `json:"confidence"`
}

// InstanceCandidate is one per-run instance produced by upstream clustering.
// Read-only input to the engine.
type InstanceCandidate struct {
	SourceKey        string                `json:"source_key,omitempty"` // upstream instance key
	CanonicalProcess string                `json:"canonical_process"`
	CanonicalClient  string                `json:"canonical_client"`
	CanonicalRole    string                `json:"canonical_role"`
	ProcessRaw       string                `json:"process_raw,omitempty"`
	ClientRaw        string                `json:"client_raw,omitempty"`
	RoleRaw          string                `json:"role_raw,omitempty"`
	Identity         CandidateIdentity     `json:"candidate_identity"`
	State            State                 `json:"state"`
	Evidence         []Evidence            `json:"evidence"`
	StepsState       map[string]StepStatus `json:"steps_state,omitempty"`
}

// EntryIdentity is the identity a store entry is filed under.
type EntryIdentity struct {
	NameRaw     string         `json:"name_raw,omitempty"`
	CandidateID string         `json:"candidate_id,omitempty"`
	Signal      IdentitySignal `json:"signal"`
	Confidence  float64        `json:"confidence"`
}

// MergeRef records a key or candidate folded into an entry, with the run
// that folded it.
type MergeRef struct {
	Key   string `json:"key"`
	RunID string `json:"run_id"`
}

// Mapping keeps the free-text inputs an entry's taxonomy resolution was
// derived from, so resolution can be replayed against another catalog.
type Mapping struct {
	ProcessRaw string            `json:"process_raw"`
	StepLabels map[string]string `json:"step_labels,omitempty"` // raw label -> step id ("" if unresolved)
}

// StoreEntry is the durable, cross-run record of one instance.
// Created on the first unmatched candidate for a key, mutated only by the
// merger, never deleted (only superseded).
type StoreEntry struct {
	Key           InstanceKey            `json:"instance_key"`
	DisplayName   string                 `json:"display_name"`
	Identity      EntryIdentity          `json:"identity"`
	State         State                  `json:"state"`
	ExplicitSteps map[string]StepStatus  `json:"explicit_steps,omitempty"`
	StepsState    map[string]StepStatus  `json:"steps_state,omitempty"`
	PhasesState   map[string]PhaseStatus `json:"phases_state,omitempty"`
	CurrentStep   string                 `json:"current_step,omitempty"`
	CurrentPhase  string                 `json:"current_phase,omitempty"`
	StepEnteredAt time.Time              `json:"step_entered_at,omitzero"`
	Health        Health                 `json:"health"`
	Evidence      []Evidence             `json:"evidence_set"`
	MergedFrom    []MergeRef             `json:"merged_from"`
	SourceKeys    []string               `json:"source_keys,omitempty"`
	Mapping       Mapping                `json:"mapping"`
	FirstSeenAt   time.Time              `json:"first_seen_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	LastRunID     string                 `json:"last_run_id"`
	Version       int64                  `json:"version"`
}

// Clone returns a deep copy so callers can mutate it without touching the
// snapshot it came from.
func (e *StoreEntry) Clone() *StoreEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.ExplicitSteps = maps.Clone(e.ExplicitSteps)
	c.StepsState = maps.Clone(e.StepsState)
	c.PhasesState = maps.Clone(e.PhasesState)
	c.Evidence = slices.Clone(e.Evidence)
	c.MergedFrom = slices.Clone(e.MergedFrom)
	c.SourceKeys = slices.Clone(e.SourceKeys)
	c.Mapping.StepLabels = maps.Clone(e.Mapping.StepLabels)
	return &c
}

// EvidenceIDs returns the message ids of the entry's evidence set in stored order.
func (e *StoreEntry) EvidenceIDs() []string {
	ids := make([]string, 0, len(e.Evidence))
	for _, ev := range e.Evidence {
		ids = append(ids, ev.MessageID)
	}
	return ids
}
