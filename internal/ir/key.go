package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InstanceKey identifies an instance uniquely in the persistent store.
// An empty CandidateID is the null identity.
type InstanceKey struct {
	ProcessID   string `json:"process_id"`
	Client      string `json:"canonical_client"`
	Role        string `json:"canonical_role"`
	CandidateID string `json:"candidate_id,omitempty"`
}

// String serializes the key as a canonical JSON array:
//
//	["recruiting","Acme","AI Engineer",""]
//
// Lexical order of serialized keys is the store's total order over keys.
func (k InstanceKey) String() string {
	data, err := MarshalCanonical([]string{k.ProcessID, k.Client, k.Role, k.CandidateID})
	if err != nil {
		// Only strings are marshaled; failure means a broken encoder.
		panic(fmt.Sprintf("instance key: %v", err))
	}
	return string(data)
}

// Group returns the key without its identity component.
func (k InstanceKey) Group() InstanceKey {
	k.CandidateID = ""
	return k
}

// HasIdentity reports whether the key carries a candidate id.
func (k InstanceKey) HasIdentity() bool {
	return k.CandidateID != ""
}

// IsZero reports whether no component is set.
func (k InstanceKey) IsZero() bool {
	return k == InstanceKey{}
}

// ParseInstanceKey parses the String() form of a key.
func ParseInstanceKey(s string) (InstanceKey, error) {
	var parts []string
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return InstanceKey{}, fmt.Errorf("parse instance key %q: %w", s, err)
	}
	if len(parts) != 4 {
		return InstanceKey{}, fmt.Errorf("parse instance key %q: want 4 components, got %d", s, len(parts))
	}
	for i, p := range parts[:3] {
		if strings.TrimSpace(p) == "" {
			return InstanceKey{}, fmt.Errorf("parse instance key %q: component %d is empty", s, i)
		}
	}
	return InstanceKey{ProcessID: parts[0], Client: parts[1], Role: parts[2], CandidateID: parts[3]}, nil
}

// CompareKeys orders keys lexicographically by their serialized form.
func CompareKeys(a, b InstanceKey) int {
	return strings.Compare(a.String(), b.String())
}
