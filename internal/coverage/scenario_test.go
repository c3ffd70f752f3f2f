package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, `
name: clinics
decay:
  elasticity: 0.7
  reference_distance: 500
  max_distance: 20000
grades: 5
grid_delta: 0.05
h3_resolution: 8
points: clinics.geojson
population: worldpop-2025
out: results
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "clinics", sc.Name)
	assert.Equal(t, "clinics.geojson", sc.Points)
	assert.Equal(t, "worldpop-2025", sc.Population)
	assert.Equal(t, "results", sc.Out)

	params := sc.Params()
	assert.Equal(t, 0.7, params.Decay.Elasticity)
	assert.Equal(t, 500.0, params.Decay.ReferenceDistance)
	assert.Equal(t, 20000.0, params.Decay.MaxDistance)
	assert.Equal(t, 5, params.Grades)
	assert.Equal(t, 0.05, params.GridDelta)
	assert.Equal(t, 8, params.H3Resolution)
	require.NoError(t, params.Validate())
}

func TestLoadScenarioDefaults(t *testing.T) {
	path := writeScenario(t, "name: minimal\n")

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	params := sc.Params()
	assert.Equal(t, DefaultParams(), params)
	assert.Equal(t, -1, params.H3Resolution)
}

func TestLoadScenarioZeroResolution(t *testing.T) {
	// Resolution 0 is a valid coarse grid and must not read as "absent".
	path := writeScenario(t, "h3_resolution: 0\n")

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 0, sc.Params().H3Resolution)
}

func TestLoadScenarioErrors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadScenario(writeScenario(t, "decay: [not, a, map]\n"))
	assert.Error(t, err)
}
