package isochrone

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/quality"
)

func line(coords ...float64) *geom.LineString {
	return geom.NewLineStringFlat(geom.XY, coords)
}

// buildGraph wires straight edges between the given nodes. Coordinates double
// as lon/lat and planar meters, which the WGS84 tag keeps untransformed.
func buildGraph(nodes map[int64][2]float64, edges [][2]int64) *graph.Graph {
	g := graph.New(geospatial.WGS84Proj4)
	for id, xy := range nodes {
		g.AddNode(graph.Node{ID: id, X: xy[0], Y: xy[1]})
	}
	for _, uv := range edges {
		u, v := uv[0], uv[1]
		ls := line(nodes[u][0], nodes[u][1], nodes[v][0], nodes[v][1])
		g.AddEdge(&graph.Edge{U: u, V: v, Key: g.NextKey(u, v), Length: ls.Length(), Geom: ls})
	}
	return g
}

func pt(id string, x, y, stars float64) model.WeightedPoint {
	return model.WeightedPoint{ID: id, Geom: geom.NewPointFlat(geom.XY, []float64{x, y}), Stars: stars}
}

func corridor() *graph.Graph {
	return buildGraph(
		map[int64][2]float64{1: {0, 0}, 2: {100, 0}, 3: {200, 0}},
		[][2]int64{{1, 2}, {2, 3}},
	)
}

func TestReachableCutsAtBudget(t *testing.T) {
	g := corridor()
	opts := Options{MinEdgeLength: 10, Direction: Undirected, Crop: true}

	area, err := Reachable(g, []model.WeightedPoint{pt("a", 0, 3, 4)}, 150, opts)
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, area.Origins)
	assert.Equal(t, []int64{1, 2}, area.Interior)
	assert.Equal(t, []int64{4}, area.Border)

	require.True(t, area.Graph.HasNode(4))
	n, _ := area.Graph.Node(4)
	assert.InDelta(t, 150, n.X, 1e-9)

	assert.Equal(t, 3, area.Graph.NumNodes())
	assert.Equal(t, 2, area.Graph.NumEdges())
	e, ok := area.Graph.Edge(2, 4, 0)
	require.True(t, ok)
	assert.InDelta(t, 50, e.Length, 1e-9)
	_, ok = area.Graph.Edge(1, 2, 0)
	assert.True(t, ok)

	// The cached graph serves further queries untouched.
	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 2, g.NumEdges())
}

func TestReachableDirections(t *testing.T) {
	origin := []model.WeightedPoint{pt("o", 100, 3, 4)} // snaps to node 2

	t.Run("outbound dead end", func(t *testing.T) {
		g := buildGraph(map[int64][2]float64{1: {0, 0}, 2: {100, 0}}, [][2]int64{{1, 2}})
		area, err := Reachable(g, origin, 50, Options{MinEdgeLength: 10, Direction: Outbound, Crop: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, area.Interior)
		assert.Empty(t, area.Border)
		assert.Equal(t, 1, area.Graph.NumNodes())
		assert.Equal(t, 0, area.Graph.NumEdges())
	})

	t.Run("inbound covers the approach", func(t *testing.T) {
		g := buildGraph(map[int64][2]float64{1: {0, 0}, 2: {100, 0}}, [][2]int64{{1, 2}})
		area, err := Reachable(g, origin, 50, Options{MinEdgeLength: 10, Direction: Inbound, Crop: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, area.Interior)
		assert.Equal(t, []int64{3}, area.Border)

		n, _ := area.Graph.Node(3)
		assert.InDelta(t, 50, n.X, 1e-9)
		e, ok := area.Graph.Edge(3, 2, 0)
		require.True(t, ok)
		assert.InDelta(t, 50, e.Length, 1e-9)
		assert.Equal(t, 2, area.Graph.NumNodes())
		assert.Equal(t, 1, area.Graph.NumEdges())
	})
}

func TestEgoGraph(t *testing.T) {
	origin := []model.WeightedPoint{pt("a", 0, 3, 4)}

	t.Run("cropped", func(t *testing.T) {
		area, err := EgoGraph(corridor(), origin, 150, Options{MinEdgeLength: 10, Crop: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, area.Interior)
		assert.Empty(t, area.Border)
		assert.Equal(t, 2, area.Graph.NumNodes())
		assert.Equal(t, 1, area.Graph.NumEdges())
	})

	t.Run("whole graph", func(t *testing.T) {
		area, err := EgoGraph(corridor(), origin, 150, Options{MinEdgeLength: 10})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, area.Interior)
		assert.Equal(t, 3, area.Graph.NumNodes())
		assert.Equal(t, 2, area.Graph.NumEdges())
	})
}

func TestReachableDegradesGracefully(t *testing.T) {
	opts := Options{MinEdgeLength: 10, MaxSnapDistance: 50, Crop: true}

	t.Run("no points", func(t *testing.T) {
		area, err := Reachable(corridor(), nil, 100, opts)
		require.NoError(t, err)
		assert.Equal(t, 0, area.Graph.NumNodes())
		assert.Empty(t, area.Interior)
		require.Len(t, area.Warnings, 1)
		assert.Equal(t, model.WarnEmptyInput, area.Warnings[0].Code)
	})

	t.Run("nothing snappable", func(t *testing.T) {
		area, err := Reachable(corridor(), []model.WeightedPoint{pt("far", 0, 1000, 4)}, 100, opts)
		require.NoError(t, err)
		assert.Equal(t, []int64{-1}, area.Origins)
		assert.Equal(t, 0, area.Graph.NumNodes())
		require.Len(t, area.Warnings, 1)
		assert.Equal(t, model.WarnUnreachableGeometry, area.Warnings[0].Code)
	})
}

// threeLevelMatrix grades one 3.5-star quality group at three distances:
// level 1.0 within 50m, 0.5 within 150m, 0.2 within 250m.
func threeLevelMatrix() *quality.Matrix {
	return &quality.Matrix{
		Qualities: []float64{0.7},
		Distances: []float64{50, 150, 250},
		Levels:    [][]float64{{1.0, 0.5, 0.2}},
	}
}

func longCorridor() *graph.Graph {
	return buildGraph(
		map[int64][2]float64{1: {0, 0}, 2: {100, 0}, 3: {200, 0}, 4: {300, 0}},
		[][2]int64{{1, 2}, {2, 3}, {3, 4}},
	)
}

func TestAccessibilityGraphExact(t *testing.T) {
	points := []model.WeightedPoint{pt("a", 0, 3, 3.5)}
	opts := Options{MinEdgeLength: 10, Exact: true, Crop: true}

	acc, err := AccessibilityGraph(longCorridor(), points, threeLevelMatrix(), opts)
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, acc.Origins)
	assert.Equal(t, []int64{1, 2, 3}, acc.Interior)
	assert.Equal(t, []int64{5, 6, 7}, acc.Border)

	// Original nodes carry the strongest level still holding budget there.
	assert.Equal(t, 1.0, acc.Levels.NodeLevel(1))
	assert.Equal(t, 0.5, acc.Levels.NodeLevel(2))
	assert.Equal(t, 0.2, acc.Levels.NodeLevel(3))
	assert.Equal(t, LevelUnassigned, acc.Levels.NodeLevel(4))

	// Frontier nodes sit where each level's budget runs out.
	for id, want := range map[int64]struct{ x, level float64 }{
		5: {50, 1.0},
		6: {150, 0.5},
		7: {250, 0.2},
	} {
		require.True(t, acc.Graph.HasNode(id))
		n, _ := acc.Graph.Node(id)
		assert.InDelta(t, want.x, n.X, 1e-9)
		assert.Equal(t, want.level, acc.Levels.NodeLevel(id))
	}

	// Sub-edges carry the strongest level covering them.
	assert.Equal(t, 1.0, acc.Levels.EdgeLevel(EdgeRef{U: 1, V: 5}))
	assert.Equal(t, 0.5, acc.Levels.EdgeLevel(EdgeRef{U: 5, V: 2}))
	assert.Equal(t, 0.5, acc.Levels.EdgeLevel(EdgeRef{U: 2, V: 6}))
	assert.Equal(t, 0.2, acc.Levels.EdgeLevel(EdgeRef{U: 6, V: 3}))
	assert.Equal(t, 0.2, acc.Levels.EdgeLevel(EdgeRef{U: 3, V: 7}))
	assert.Equal(t, LevelUnassigned, acc.Levels.EdgeLevel(EdgeRef{U: 7, V: 4}))

	assert.Equal(t, 6, acc.Graph.NumNodes())
	assert.Equal(t, 5, acc.Graph.NumEdges())
}

func TestAccessibilityGraphApproximate(t *testing.T) {
	points := []model.WeightedPoint{pt("a", 0, 3, 3.5)}
	opts := Options{MinEdgeLength: 10, Crop: true}

	acc, err := AccessibilityGraph(longCorridor(), points, threeLevelMatrix(), opts)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, acc.Interior)
	assert.Empty(t, acc.Border)

	// Without cutting, edges take the weaker endpoint tag.
	assert.Equal(t, 0.5, acc.Levels.EdgeLevel(EdgeRef{U: 1, V: 2}))
	assert.Equal(t, 0.2, acc.Levels.EdgeLevel(EdgeRef{U: 2, V: 3}))
	assert.Equal(t, LevelUnassigned, acc.Levels.EdgeLevel(EdgeRef{U: 3, V: 4}))

	assert.Equal(t, 3, acc.Graph.NumNodes())
	assert.Equal(t, 2, acc.Graph.NumEdges())
}

func TestCutterStrongerFrontierWins(t *testing.T) {
	g := buildGraph(map[int64][2]float64{1: {0, 0}, 2: {100, 0}}, [][2]int64{{1, 2}})
	lv := NewLevels()
	c := &cutter{g: g, levels: lv, tol: 5, uSide: true, vSide: true}

	// The weak level's frontier at 60 falls inside the strong level's
	// territory [50, 100] and must not produce a second cut.
	borders := c.apply([]levelField{
		{value: 0.9, remaining: map[int64]float64{2: 50}},
		{value: 0.5, remaining: map[int64]float64{1: 60}},
	})

	assert.Equal(t, []int64{3}, borders)
	n, ok := g.Node(3)
	require.True(t, ok)
	assert.InDelta(t, 50, n.X, 1e-9)

	assert.Equal(t, 0.9, lv.NodeLevel(3))
	assert.Equal(t, 0.5, lv.EdgeLevel(EdgeRef{U: 1, V: 3}))
	assert.Equal(t, 0.9, lv.EdgeLevel(EdgeRef{U: 3, V: 2}))
	assert.Equal(t, 2, g.NumEdges())
}

func TestCutterOverlapTagsWholeEdge(t *testing.T) {
	g := buildGraph(map[int64][2]float64{1: {0, 0}, 2: {100, 0}}, [][2]int64{{1, 2}})
	lv := NewLevels()
	c := &cutter{g: g, levels: lv, tol: 10, uSide: true, vSide: true}

	borders := c.apply([]levelField{
		{value: 0.9, remaining: map[int64]float64{1: 60, 2: 50}},
	})

	assert.Empty(t, borders)
	assert.Equal(t, 2, g.NumNodes())
	assert.Equal(t, 1, g.NumEdges())
	assert.Equal(t, 0.9, lv.EdgeLevel(EdgeRef{U: 1, V: 2}))
	assert.Empty(t, lv.Nodes)
}

func TestCutterPromotesEndpointNearFrontier(t *testing.T) {
	g := buildGraph(map[int64][2]float64{1: {0, 0}, 2: {100, 0}}, [][2]int64{{1, 2}})
	lv := NewLevels()
	c := &cutter{g: g, levels: lv, tol: 10, uSide: true, vSide: true}

	borders := c.apply([]levelField{
		{value: 0.9, remaining: map[int64]float64{1: 8}},
	})

	assert.Equal(t, []int64{1}, borders)
	assert.Equal(t, 2, g.NumNodes())
	assert.Equal(t, LevelUnassigned, lv.EdgeLevel(EdgeRef{U: 1, V: 2}))
}

func TestKeepEdgePolicy(t *testing.T) {
	const tol = 10
	tests := []struct {
		name   string
		u, v   string // int, bd, out
		dir    Direction
		length float64
		keep   bool
	}{
		{"interior pair", "int", "int", Outbound, 100, true},
		{"short border pair", "bd", "bd", Outbound, 15, true},
		{"long border pair", "bd", "bd", Undirected, 25, false},
		{"outbound into border", "int", "bd", Outbound, 100, true},
		{"outbound from border", "bd", "int", Outbound, 100, false},
		{"inbound from border", "bd", "int", Inbound, 100, true},
		{"inbound into border", "int", "bd", Inbound, 100, false},
		{"undirected either way", "bd", "int", Undirected, 100, true},
		{"outside endpoint", "int", "out", Undirected, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := map[int64]bool{}
			bd := map[int64]bool{}
			assign := func(id int64, role string) {
				switch role {
				case "int":
					in[id] = true
				case "bd":
					bd[id] = true
				}
			}
			assign(1, tt.u)
			assign(2, tt.v)
			e := &graph.Edge{U: 1, V: 2, Length: tt.length}
			assert.Equal(t, tt.keep, keepEdge(e, in, bd, tol, tt.dir))
		})
	}
}

func TestReachableBudgetBoundary(t *testing.T) {
	g := buildGraph(map[int64][2]float64{1: {0, 0}, 2: {100, 0}}, [][2]int64{{1, 2}})
	opts := Options{MinEdgeLength: 0.001, Direction: Undirected, Crop: true}

	area, err := Reachable(g, []model.WeightedPoint{pt("a", 0, 0.5, 4)}, 90, opts)
	require.NoError(t, err)

	// The frontier node lands exactly at the budget distance: everything
	// before it is inside, everything past it is gone.
	assert.Equal(t, []int64{1}, area.Interior)
	assert.Equal(t, []int64{3}, area.Border)
	n, _ := area.Graph.Node(3)
	assert.InDelta(t, 90, n.X, 1e-9)
	e, ok := area.Graph.Edge(1, 3, 0)
	require.True(t, ok)
	assert.InDelta(t, 90, e.Length, 1e-9)
	assert.Equal(t, 1, area.Graph.NumEdges())
}

func TestIsochroneRejectsBadInputs(t *testing.T) {
	points := []model.WeightedPoint{pt("a", 0, 3, 4)}

	t.Run("zero budget", func(t *testing.T) {
		_, err := Reachable(corridor(), points, 0, Options{MinEdgeLength: 10})
		require.Error(t, err)
		assert.True(t, eris.Is(err, model.ErrConfiguration))
	})

	t.Run("negative budget", func(t *testing.T) {
		_, err := EgoGraph(corridor(), points, -5, Options{MinEdgeLength: 10})
		require.Error(t, err)
		assert.True(t, eris.Is(err, model.ErrConfiguration))
	})

	t.Run("negative tolerance", func(t *testing.T) {
		_, err := Reachable(corridor(), points, 100, Options{MinEdgeLength: -1})
		require.Error(t, err)
		assert.True(t, eris.Is(err, model.ErrConfiguration))
	})

	t.Run("missing matrix", func(t *testing.T) {
		_, err := AccessibilityGraph(corridor(), points, nil, Options{MinEdgeLength: 10})
		require.Error(t, err)
		assert.True(t, eris.Is(err, model.ErrConfiguration))
	})
}
