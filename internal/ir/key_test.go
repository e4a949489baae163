package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceKey_String(t *testing.T) {
	k := InstanceKey{ProcessID: "recruiting", Client: "Acme", Role: "AI Engineer"}
	assert.Equal(t, `["recruiting","Acme","AI Engineer",""]`, k.String())

	k.CandidateID = "cand_1"
	assert.Equal(t, `["recruiting","Acme","AI Engineer","cand_1"]`, k.String())
}

func TestInstanceKey_RoundTrip(t *testing.T) {
	k := InstanceKey{ProcessID: "recruiting", Client: `Quote "Co"`, Role: "Eng|Ops", CandidateID: "cand_9"}

	parsed, err := ParseInstanceKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseInstanceKey_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "recruiting|Acme"},
		{"wrong arity", `["recruiting","Acme"]`},
		{"empty component", `["recruiting","","Role",""]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInstanceKey(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestInstanceKey_Group(t *testing.T) {
	k := InstanceKey{ProcessID: "p", Client: "c", Role: "r", CandidateID: "x"}
	g := k.Group()
	assert.False(t, g.HasIdentity())
	assert.True(t, k.HasIdentity())
	assert.Equal(t, "p", g.ProcessID)
}

func TestCompareKeys_TotalOrder(t *testing.T) {
	a := InstanceKey{ProcessID: "recruiting", Client: "Acme", Role: "AI Engineer"}
	b := InstanceKey{ProcessID: "recruiting", Client: "Acme", Role: "AI Engineer", CandidateID: "cand_a"}
	c := InstanceKey{ProcessID: "recruiting", Client: "Beta", Role: "AI Engineer"}

	assert.Equal(t, -1, CompareKeys(a, b))
	assert.Equal(t, -1, CompareKeys(b, c))
	assert.Equal(t, 0, CompareKeys(a, a))
}
