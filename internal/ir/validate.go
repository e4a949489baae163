package ir

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FieldError describes one problem with a candidate field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found on a candidate.
// A candidate with a ValidationError is malformed and must be skipped.
type ValidationError struct {
	SourceKey string       `json:"source_key,omitempty"`
	Fields    []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	if e.SourceKey != "" {
		return fmt.Sprintf("malformed candidate %s: %s", e.SourceKey, strings.Join(parts, "; "))
	}
	return "malformed candidate: " + strings.Join(parts, "; ")
}

// Validate checks the candidate's required canonical fields and value ranges.
// Returns nil or a *ValidationError.
func (c *InstanceCandidate) Validate() error {
	var fields []FieldError
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(c.CanonicalProcess) == "" {
		add("canonical_process", "is required")
	}
	if strings.TrimSpace(c.CanonicalClient) == "" {
		add("canonical_client", "is required")
	}
	if strings.TrimSpace(c.CanonicalRole) == "" {
		add("canonical_role", "is required")
	}
	if c.Identity.Confidence < 0 || c.Identity.Confidence > 1 {
		add("candidate_identity.confidence", fmt.Sprintf("must be within [0,1], got %v", c.Identity.Confidence))
	}
	if c.State.Confidence < 0 || c.State.Confidence > 1 {
		add("state.confidence", fmt.Sprintf("must be within [0,1], got %v", c.State.Confidence))
	}
	for i, ev := range c.Evidence {
		if strings.TrimSpace(ev.MessageID) == "" {
			add(fmt.Sprintf("evidence[%d].message_id", i), "is required")
		}
	}
	for _, step := range slices.Sorted(maps.Keys(c.StepsState)) {
		if status := c.StepsState[step]; !ValidStepStatuses[status] {
			add("steps_state."+step, fmt.Sprintf("unknown status %q", status))
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{SourceKey: c.SourceKey, Fields: fields}
}

// Normalized returns a copy with surrounding whitespace trimmed from the
// canonical fields and the email lowercased. Evidence and steps are shared.
func (c InstanceCandidate) Normalized() InstanceCandidate {
	c.CanonicalProcess = strings.TrimSpace(c.CanonicalProcess)
	c.CanonicalClient = strings.TrimSpace(c.CanonicalClient)
	c.CanonicalRole = strings.TrimSpace(c.CanonicalRole)
	c.Identity.NameRaw = strings.Join(strings.Fields(c.Identity.NameRaw), " ")
	c.Identity.Email = strings.ToLower(strings.TrimSpace(c.Identity.Email))
	c.Identity.CandidateID = strings.TrimSpace(c.Identity.CandidateID)
	return c
}
