package ingest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/isochrone"
)

func TestWriteNetworkGeoJSON(t *testing.T) {
	proj := geospatial.UTMProj4(31, true)
	rp, err := geospatial.NewReprojector(geospatial.WGS84Proj4, proj)
	require.NoError(t, err)

	x1, y1, err := rp.ForwardCoord(2.35, 48.85)
	require.NoError(t, err)
	x2, y2, err := rp.ForwardCoord(2.36, 48.85)
	require.NoError(t, err)

	g := graph.New(proj)
	g.AddNode(graph.Node{ID: 1, X: x1, Y: y1})
	g.AddNode(graph.Node{ID: 2, X: x2, Y: y2})
	g.AddEdge(&graph.Edge{U: 1, V: 2, Key: 0, Length: 700,
		Geom: geom.NewLineStringFlat(geom.XY, []float64{x1, y1, x2, y2})})
	g.AddEdge(&graph.Edge{U: 2, V: 1, Key: 0, Length: 700, Geom: nil})

	levels := isochrone.NewLevels()
	levels.Nodes[1] = 0.9
	levels.Edges[isochrone.EdgeRef{U: 1, V: 2, Key: 0}] = 0.9

	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.geojson")
	edgesPath := filepath.Join(dir, "edges.geojson")
	require.NoError(t, WriteNetworkGeoJSON(nodesPath, edgesPath, g, levels))

	nodeFC := readFeatureCollection(t, nodesPath)
	require.Len(t, nodeFC.Features, 2)
	first := nodeFC.Features[0]
	pt, ok := first.Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, 2.35, pt.X(), 1e-6)
	assert.InDelta(t, 48.85, pt.Y(), 1e-6)
	assert.Equal(t, float64(1), first.Properties["id"])
	assert.Equal(t, 0.9, first.Properties["level"])
	// Node 2 carries no tag.
	assert.Equal(t, isochrone.LevelUnassigned, nodeFC.Features[1].Properties["level"])

	edgeFC := readFeatureCollection(t, edgesPath)
	require.Len(t, edgeFC.Features, 2)
	tagged := edgeFC.Features[0]
	line, ok := tagged.Geometry.(*geom.LineString)
	require.True(t, ok)
	assert.InDelta(t, 2.35, line.Coord(0).X(), 1e-6)
	assert.InDelta(t, 2.36, line.Coord(1).X(), 1e-6)
	assert.Equal(t, 0.9, tagged.Properties["level"])
	assert.Equal(t, 700.0, tagged.Properties["length"])

	// The geometryless reverse edge is synthesized from its endpoints.
	synth := edgeFC.Features[1]
	sline, ok := synth.Geometry.(*geom.LineString)
	require.True(t, ok)
	assert.InDelta(t, 2.36, sline.Coord(0).X(), 1e-6)
	assert.InDelta(t, 2.35, sline.Coord(1).X(), 1e-6)
	assert.Equal(t, isochrone.LevelUnassigned, synth.Properties["level"])
}

func TestWriteNetworkGeoJSONNoLevels(t *testing.T) {
	g := graph.New(geospatial.WGS84Proj4)
	g.AddNode(graph.Node{ID: 1, X: 2.35, Y: 48.85})
	g.AddNode(graph.Node{ID: 2, X: 2.36, Y: 48.85})
	g.AddEdge(&graph.Edge{U: 1, V: 2, Key: 0, Length: 1})

	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.geojson")
	edgesPath := filepath.Join(dir, "edges.geojson")
	require.NoError(t, WriteNetworkGeoJSON(nodesPath, edgesPath, g, nil))

	nodeFC := readFeatureCollection(t, nodesPath)
	require.Len(t, nodeFC.Features, 2)
	_, tagged := nodeFC.Features[0].Properties["level"]
	assert.False(t, tagged)
	// WGS84 graphs are written as-is.
	pt := nodeFC.Features[0].Geometry.(*geom.Point)
	assert.Equal(t, 2.35, pt.X())
}

func TestWriteNetworkGeoJSONNilGraph(t *testing.T) {
	err := WriteNetworkGeoJSON("n.geojson", "e.geojson", nil, nil)
	require.Error(t, err)
}
