package geospatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestCentroid(t *testing.T) {
	tests := []struct {
		name string
		g    geom.T
		want geom.Coord
	}{
		{
			name: "point",
			g:    geom.NewPointFlat(geom.XY, []float64{3, 7}),
			want: geom.Coord{3, 7},
		},
		{
			name: "multipoint mean",
			g:    geom.NewMultiPointFlat(geom.XY, []float64{0, 0, 4, 0, 4, 4, 0, 4}),
			want: geom.Coord{2, 2},
		},
		{
			name: "linestring length weighted",
			g:    geom.NewLineStringFlat(geom.XY, []float64{0, 0, 10, 0}),
			want: geom.Coord{5, 0},
		},
		{
			name: "square polygon",
			g:    geom.NewPolygonFlat(geom.XY, []float64{0, 0, 2, 0, 2, 2, 0, 2, 0, 0}, []int{10}),
			want: geom.Coord{1, 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Centroid(tc.g)
			require.NoError(t, err)
			assert.InDelta(t, tc.want[0], got[0], 1e-9)
			assert.InDelta(t, tc.want[1], got[1], 1e-9)
		})
	}
}

func TestCentroidPolygonWithHole(t *testing.T) {
	// A hole in the right half pulls the centroid left of center.
	poly := geom.NewPolygonFlat(geom.XY,
		[]float64{
			0, 0, 4, 0, 4, 4, 0, 4, 0, 0,
			2, 1, 3, 1, 3, 3, 2, 3, 2, 1,
		},
		[]int{10, 20})

	got, err := Centroid(poly)
	require.NoError(t, err)
	assert.Less(t, got[0], 2.0)
	assert.InDelta(t, 2.0, got[1], 1e-9)
}

func TestCentroidUnsupported(t *testing.T) {
	_, err := Centroid(geom.NewGeometryCollection())
	require.Error(t, err)
}
