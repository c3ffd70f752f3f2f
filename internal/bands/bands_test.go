package bands

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/quality"
)

func wpt(id string, lon, lat, stars float64) model.WeightedPoint {
	return model.WeightedPoint{
		ID:    id,
		Geom:  geom.NewPointFlat(geom.XY, []float64{lon, lat}),
		Stars: stars,
	}
}

// utmArea measures a WGS84 geometry in the UTM zone containing (lon, lat).
func utmArea(t *testing.T, g geom.T, lon, lat float64) float64 {
	t.Helper()
	r, err := geospatial.UTMFor(lon, lat)
	require.NoError(t, err)
	planar, err := r.Forward(g)
	require.NoError(t, err)
	ops := geospatial.NewOps()
	gg, err := ops.ToGeos(planar)
	require.NoError(t, err)
	defer gg.Destroy()
	return ops.Area(gg)
}

func bandContains(t *testing.T, band geom.T, lon, lat float64) bool {
	t.Helper()
	ops := geospatial.NewOps()
	poly, err := ops.ToGeos(band)
	require.NoError(t, err)
	defer poly.Destroy()
	pt, err := ops.Point(lon, lat)
	require.NoError(t, err)
	defer pt.Destroy()
	return ops.Contains(poly, pt)
}

func overlapArea(t *testing.T, a, b geom.T) float64 {
	t.Helper()
	ops := geospatial.NewOps()
	ga, err := ops.ToGeos(a)
	require.NoError(t, err)
	defer ga.Destroy()
	gb, err := ops.ToGeos(b)
	require.NoError(t, err)
	defer gb.Destroy()
	inter := ga.Intersection(gb)
	defer inter.Destroy()
	return ops.Area(inter)
}

func TestCoverageSinglePointBands(t *testing.T) {
	points := []model.WeightedPoint{wpt("a", 0.05, 0.05, 5)}
	m := &quality.Matrix{
		Qualities: []float64{1.0},
		Distances: []float64{100, 200},
		Levels:    [][]float64{{1.0, 0.5}},
	}

	bands, warns, err := Coverage(points, m, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, bands, 2)

	assert.Equal(t, "1.000", bands[0].Label)
	assert.Equal(t, 1, bands[0].Rank)
	assert.Equal(t, "0.500", bands[1].Label)
	assert.Equal(t, 2, bands[1].Rank)

	// Rank 1 is the 100m disk, rank 2 the 100-200m ring around it.
	circle := math.Pi * 100 * 100
	inner := utmArea(t, bands[0].Geom, 0.05, 0.05)
	assert.Greater(t, inner, 0.95*circle)
	assert.Less(t, inner, circle)

	ring := math.Pi * (200*200 - 100*100)
	outer := utmArea(t, bands[1].Geom, 0.05, 0.05)
	assert.Greater(t, outer, 0.95*ring)
	assert.Less(t, outer, ring)

	assert.True(t, bandContains(t, bands[0].Geom, 0.05, 0.05))
	assert.False(t, bandContains(t, bands[1].Geom, 0.05, 0.05))
	assert.InDelta(t, 0, overlapArea(t, bands[0].Geom, bands[1].Geom), 1e-9)
}

func TestCoverageQualityGroups(t *testing.T) {
	// Two groups with the same reach but different levels. The points are
	// ~1.1km apart, far beyond both buffers, so each disk lands whole in
	// its group's band.
	pA := wpt("a", 0.05, 0.05, 5)
	pB := wpt("b", 0.06, 0.05, 2.5)
	m := &quality.Matrix{
		Qualities: []float64{0.5, 1.0},
		Distances: []float64{100},
		Levels:    [][]float64{{0.5}, {1.0}},
	}

	bands, warns, err := Coverage([]model.WeightedPoint{pA, pB}, m, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, bands, 2)

	assert.True(t, bandContains(t, bands[0].Geom, pA.Lon(), pA.Lat()))
	assert.False(t, bandContains(t, bands[0].Geom, pB.Lon(), pB.Lat()))
	assert.True(t, bandContains(t, bands[1].Geom, pB.Lon(), pB.Lat()))

	circle := math.Pi * 100 * 100
	for _, b := range bands {
		area := utmArea(t, b.Geom, 0.05, 0.05)
		assert.Greater(t, area, 0.95*circle)
		assert.Less(t, area, circle)
	}
}

func TestCoverageRunningDifference(t *testing.T) {
	// The strong point grades 1.0 to 100m and 0.5 to 200m; the weak point
	// grades 0.5 to 100m and 0.2 to 200m. The 0.5 band is the strong
	// point's ring plus the weak point's whole disk.
	pA := wpt("a", 0.05, 0.05, 5)
	pB := wpt("b", 0.06, 0.05, 2.5)
	m := &quality.Matrix{
		Qualities: []float64{0.5, 1.0},
		Distances: []float64{100, 200},
		Levels:    [][]float64{{0.5, 0.2}, {1.0, 0.5}},
	}

	bands, _, err := Coverage([]model.WeightedPoint{pA, pB}, m, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, bands, 3)
	labels := []string{bands[0].Label, bands[1].Label, bands[2].Label}
	assert.Equal(t, []string{"1.000", "0.500", "0.200"}, labels)

	circle := func(r float64) float64 { return math.Pi * r * r }

	a0 := utmArea(t, bands[0].Geom, 0.05, 0.05)
	assert.Greater(t, a0, 0.95*circle(100))
	assert.Less(t, a0, circle(100))

	a1 := utmArea(t, bands[1].Geom, 0.05, 0.05)
	assert.Greater(t, a1, 0.95*circle(200))
	assert.Less(t, a1, circle(200))

	a2 := utmArea(t, bands[2].Geom, 0.05, 0.05)
	assert.Greater(t, a2, 0.95*(circle(200)-circle(100)))
	assert.Less(t, a2, circle(200)-circle(100))

	for i := range bands {
		for j := i + 1; j < len(bands); j++ {
			assert.InDelta(t, 0, overlapArea(t, bands[i].Geom, bands[j].Geom), 1e-9)
		}
	}
}

func TestCoverageOuterBoundaryAtMaxDistance(t *testing.T) {
	params := quality.DecayParams{Elasticity: 0.5, ReferenceDistance: 1000, MaxDistance: 50000}
	points := []model.WeightedPoint{wpt("a", 0.05, 0.05, 5)}
	m, err := quality.BuildMatrix(points, params, []float64{1000, 25000, 50000}, 10)
	require.NoError(t, err)

	bands, _, err := Coverage(points, m, DefaultOptions())
	require.NoError(t, err)

	// Bands partition the full max-distance buffer.
	var total float64
	for _, b := range bands {
		total += utmArea(t, b.Geom, 0.05, 0.05)
	}
	circle := math.Pi * 50000 * 50000
	assert.Greater(t, total, 0.95*circle)
	assert.Less(t, total, circle)
}

func TestCoverageEmptyPoints(t *testing.T) {
	m := &quality.Matrix{
		Qualities: []float64{1.0},
		Distances: []float64{100},
		Levels:    [][]float64{{0.7}},
	}

	bands, warns, err := Coverage(nil, m, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, bands, 1)
	assert.Equal(t, "0.700", bands[0].Label)
	assert.Equal(t, 1, bands[0].Rank)

	poly, ok := bands[0].Geom.(*geom.Polygon)
	require.True(t, ok)
	assert.Empty(t, poly.FlatCoords())

	require.Len(t, warns, 1)
	assert.Equal(t, model.WarnEmptyInput, warns[0].Code)
}

func TestCoverageRejectsEmptyMatrix(t *testing.T) {
	_, _, err := Coverage([]model.WeightedPoint{wpt("a", 0, 0, 5)}, nil, DefaultOptions())
	assert.True(t, eris.Is(err, model.ErrConfiguration))

	_, _, err = Coverage([]model.WeightedPoint{wpt("a", 0, 0, 5)}, &quality.Matrix{}, DefaultOptions())
	assert.True(t, eris.Is(err, model.ErrConfiguration))
}

func TestStepCoords(t *testing.T) {
	byKey := map[float64][]float64{
		0.5: {1, 2},
		1.0: {3, 4},
	}

	assert.Equal(t, []float64{1, 2}, stepCoords(byKey, []float64{0.5}))
	assert.Equal(t, []float64{1, 2, 3, 4}, stepCoords(byKey, nil))
	assert.Empty(t, stepCoords(byKey, []float64{0.9}))
}
