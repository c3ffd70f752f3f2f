package ingest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePopulationNC writes a 2x3 COARDS grid: lat centers 0.005/0.015, lon
// centers 10.005/10.015/10.025, one fill-valued pixel.
func writePopulationNC(t *testing.T, fillAttr string) string {
	t.Helper()

	h := cdf.NewHeader([]string{"lat", "lon"}, []int{2, 3})
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddVariable("population", []string{"lat", "lon"}, []float32{0})
	if fillAttr != "" {
		h.AddAttribute("population", fillAttr, []float32{-9999})
	}
	h.Define()

	path := filepath.Join(t.TempDir(), "pop.nc")
	f, err := os.Create(path)
	require.NoError(t, err)
	nc, err := cdf.Create(f, h)
	require.NoError(t, err)

	writeVar := func(name string, data interface{}) {
		end := nc.Header.Lengths(name)
		start := make([]int, len(end))
		w := nc.Writer(name, start, end)
		_, err := w.Write(data)
		require.NoError(t, err)
	}
	writeVar("lat", []float64{0.005, 0.015})
	writeVar("lon", []float64{10.005, 10.015, 10.025})
	writeVar("population", []float32{1, 2, 3, 4, 5, -9999})

	require.NoError(t, cdf.UpdateNumRecs(f))
	require.NoError(t, f.Close())
	return path
}

func TestLoadPopulationRaster(t *testing.T) {
	path := writePopulationNC(t, "_FillValue")

	r, err := LoadPopulationRaster(path, "")
	require.NoError(t, err)

	rows, cols := r.Data.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.InDelta(t, 1, r.Data.At(0, 0), 1e-6)
	assert.InDelta(t, 5, r.Data.At(1, 1), 1e-6)
	assert.InDelta(t, -9999, r.Data.At(1, 2), 1e-6)
	assert.InDelta(t, -9999, r.NoData, 1e-6)

	// Centers back out to corner-anchored transform.
	assert.InDelta(t, 0.01, r.Transform.A, 1e-9)
	assert.InDelta(t, 10.0, r.Transform.C, 1e-9)
	assert.InDelta(t, 0.01, r.Transform.E, 1e-9)
	assert.InDelta(t, 0.0, r.Transform.F, 1e-9)
	assert.Empty(t, r.Proj)
}

func TestLoadPopulationRasterNamedVariable(t *testing.T) {
	path := writePopulationNC(t, "missing_value")

	r, err := LoadPopulationRaster(path, "population")
	require.NoError(t, err)
	assert.InDelta(t, -9999, r.NoData, 1e-6)
}

func TestLoadPopulationRasterNoFillAttribute(t *testing.T) {
	path := writePopulationNC(t, "")

	r, err := LoadPopulationRaster(path, "")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(r.NoData))
}

func TestLoadPopulationRasterNotAGrid(t *testing.T) {
	path := writePopulationNC(t, "_FillValue")

	_, err := LoadPopulationRaster(path, "lat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a 2-d grid")
}

func TestLoadPopulationRasterMissingFile(t *testing.T) {
	_, err := LoadPopulationRaster(filepath.Join(t.TempDir(), "absent.nc"), "")
	require.Error(t, err)
}
