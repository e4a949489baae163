package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with the golden file next to it.
func TestScenarios(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := filepath.Base(file)
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)

			match, err := CompareGolden(file, scenario.Name, result)
			require.NoError(t, err)
			if !match {
				got, _ := CanonicalTrace(scenario.Name, result.Trace)
				t.Errorf("trace does not match %s:\n%s", GoldenPath(file), got)
			}
		})
	}
}

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "")
	require.NoError(t, err)

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	assert.Equal(t, []string{
		"blocked_step.yaml",
		"distinct_identities.yaml",
		"fuzzy_merge.yaml",
		"new_instance.yaml",
		"resubmit_is_noop.yaml",
	}, names)
}

func TestFindScenarios_Filter(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "[bf]*")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "blocked_step.yaml", filepath.Base(files[0]))
	assert.Equal(t, "fuzzy_merge.yaml", filepath.Base(files[1]))

	_, err = FindScenarios(scenariosDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarios_MissingDir(t *testing.T) {
	_, err := FindScenarios(filepath.Join(t.TempDir(), "nope"), "")
	var dirErr *ScenarioDirError
	require.ErrorAs(t, err, &dirErr)
	assert.Contains(t, err.Error(), "scenarios directory not found")
}
