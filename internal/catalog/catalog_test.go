package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRecruiting(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Load(filepath.Join("testdata", "recruiting.yaml"))
	require.NoError(t, err)
	return cat
}

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cat := loadRecruiting(t)

	assert.Equal(t, []string{"recruiting", "sales"}, cat.ProcessIDs())
	assert.Equal(t, []string{"sourced", "screen", "interview", "debrief", "offer_sent", "hired"}, cat.Steps("recruiting"))
	assert.Equal(t, []string{"sourcing", "interviewing", "closing"}, cat.Phases("recruiting"))
	assert.Equal(t, []string{"offer_sent", "hired"}, cat.PhaseSteps("recruiting", "closing"))
	assert.Equal(t, 0.8, cat.Identity.HighConfidence)
	assert.NotEmpty(t, cat.Fingerprint())

	p, ok := cat.Process("recruiting")
	require.True(t, ok)
	assert.Equal(t, "talent", p.Owner)
}

func TestLoad_CUE(t *testing.T) {
	cat, err := Load(filepath.Join("testdata", "recruiting.cue"))
	require.NoError(t, err)

	assert.Equal(t, []string{"sourced", "screen", "offer_sent", "hired"}, cat.Steps("recruiting"))
	// Identity rules and process health fall back to defaults.
	assert.Equal(t, DefaultHighConfidence, cat.Identity.HighConfidence)
	assert.Equal(t, DefaultFirstNameCap, cat.Identity.Signals.FirstName)
	sla, ok := cat.SLAFor("recruiting", "hired")
	require.True(t, ok)
	assert.Equal(t, SLA{WarnAfterDays: DefaultWarnAfterDays, BreachAfterDays: DefaultBreachAfterDays}, sla)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load("catalog.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "no processes",
			src:     "version: x\nprocesses: []\n",
			wantErr: "processes",
		},
		{
			name:    "unknown field",
			src:     "processes:\n  - id: p\n    colour: red\n    phases: [{id: a, steps: [{id: s}]}]\n",
			wantErr: "colour",
		},
		{
			name:    "bad id",
			src:     "processes:\n  - id: Bad Id\n    phases: [{id: a, steps: [{id: s}]}]\n",
			wantErr: "id",
		},
		{
			name:    "confidence out of range",
			src:     "identity:\n  high_confidence_threshold: 1.5\nprocesses:\n  - id: p\n    phases: [{id: a, steps: [{id: s}]}]\n",
			wantErr: "high_confidence_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), FormatYAML, "inline.yaml")
			require.Error(t, err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_StructuralChecks(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "duplicate process",
			src:     "processes:\n  - {id: p, phases: [{id: a, steps: [{id: s}]}]}\n  - {id: p, phases: [{id: a, steps: [{id: s}]}]}\n",
			wantErr: "duplicate process",
		},
		{
			name:    "duplicate step across phases",
			src:     "processes:\n  - {id: p, phases: [{id: a, steps: [{id: s}]}, {id: b, steps: [{id: s}]}]}\n",
			wantErr: "duplicate step",
		},
		{
			name:    "warn after breach",
			src:     "processes:\n  - {id: p, health: {warn_after_days: 9, breach_after_days: 3}, phases: [{id: a, steps: [{id: s}]}]}\n",
			wantErr: "exceeds",
		},
		{
			name:    "alias collision",
			src:     "processes:\n  - {id: p, phases: [{id: a, steps: [{id: s, aliases: [x]}, {id: t, aliases: [x]}]}]}\n",
			wantErr: "already refers",
		},
		{
			name:    "first name cap reaches threshold",
			src:     "identity: {high_confidence_threshold: 0.6, signals: {email: 1, full_name: 0.8, first_name: 0.6}}\nprocesses:\n  - {id: p, phases: [{id: a, steps: [{id: s}]}]}\n",
			wantErr: "first_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), FormatYAML, "inline.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_CUEPosition(t *testing.T) {
	path := writeCatalog(t, "bad.cue", "processes: [{id: \"p\", phases: [{id: \"a\", steps: [{id: 3}]}]}]\n")

	_, err := Load(path)
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cue", ce.Field)
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	a := loadRecruiting(t)
	b := loadRecruiting(t)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	data, err := os.ReadFile(filepath.Join("testdata", "recruiting.yaml"))
	require.NoError(t, err)
	changed := append([]byte{}, data...)
	changed = append(changed, []byte("  - name: Initech\n")...)
	c, err := Parse(changed, FormatYAML, "changed.yaml")
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestNew_DoesNotMutateInput(t *testing.T) {
	in := Catalog{Processes: []Process{{ID: "p", Phases: []Phase{{ID: "a", Steps: []Step{{ID: "s"}}}}}}}

	cat, err := New(in)
	require.NoError(t, err)
	assert.Nil(t, in.Processes[0].Health)
	p, _ := cat.Process("p")
	assert.NotNil(t, p.Health)
}
