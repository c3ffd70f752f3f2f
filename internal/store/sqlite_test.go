package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"

	"github.com/urbanatlas/coverage-cli/internal/coverage"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

const testProj = "+proj=tmerc +lat_0=0 +lon_0=3 +k=0.9996 +x_0=500000 +y_0=0 +ellps=WGS84 +units=m +no_defs"

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testLine(coords ...float64) *geom.LineString {
	return geom.NewLineStringFlat(geom.XY, coords)
}

func buildTestGraph() *graph.Graph {
	g := graph.New(testProj)
	g.AddNode(graph.Node{ID: 1, X: 448000, Y: 5411000})
	g.AddNode(graph.Node{ID: 2, X: 448100, Y: 5411000})
	g.AddNode(graph.Node{ID: 3, X: 448100, Y: 5411100})
	g.AddEdge(&graph.Edge{U: 1, V: 2, Key: 0, Length: 100, Geom: testLine(448000, 5411000, 448100, 5411000)})
	g.AddEdge(&graph.Edge{U: 1, V: 2, Key: 1, Length: 140, Geom: testLine(448000, 5411000, 448050, 5411040, 448100, 5411000)})
	g.AddEdge(&graph.Edge{U: 2, V: 3, Key: 0, Length: 100, Geom: nil})
	return g
}

func testCell(t *testing.T, lat, lng float64, res int) h3.Cell {
	t.Helper()
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), res)
	require.NoError(t, err)
	return cell
}

// --- Graphs ---

func TestSQLite_Graph_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveGraph(ctx, "paris-drive", buildTestGraph()))

	got, err := st.LoadGraph(ctx, "paris-drive")
	require.NoError(t, err)
	assert.Equal(t, testProj, got.Proj())
	assert.Equal(t, 3, got.NumNodes())
	assert.Equal(t, 3, got.NumEdges())

	n, ok := got.Node(2)
	require.True(t, ok)
	assert.Equal(t, 448100.0, n.X)
	assert.Equal(t, 5411000.0, n.Y)

	e, ok := got.Edge(1, 2, 1)
	require.True(t, ok)
	assert.Equal(t, 140.0, e.Length)
	require.NotNil(t, e.Geom)
	assert.Equal(t, []float64{448000, 5411000, 448050, 5411040, 448100, 5411000}, e.Geom.FlatCoords())

	bare, ok := got.Edge(2, 3, 0)
	require.True(t, ok)
	assert.Nil(t, bare.Geom)
}

func TestSQLite_Graph_Replace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveGraph(ctx, "paris-drive", buildTestGraph()))

	smaller := graph.New(testProj)
	smaller.AddNode(graph.Node{ID: 10, X: 0, Y: 0})
	smaller.AddNode(graph.Node{ID: 11, X: 50, Y: 0})
	smaller.AddEdge(&graph.Edge{U: 10, V: 11, Key: 0, Length: 50, Geom: testLine(0, 0, 50, 0)})
	require.NoError(t, st.SaveGraph(ctx, "paris-drive", smaller))

	got, err := st.LoadGraph(ctx, "paris-drive")
	require.NoError(t, err)
	assert.Equal(t, 2, got.NumNodes())
	assert.Equal(t, 1, got.NumEdges())
	assert.False(t, got.HasNode(1))
}

func TestSQLite_Graph_NamesAreIndependent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveGraph(ctx, "drive", buildTestGraph()))

	walk := graph.New(testProj)
	walk.AddNode(graph.Node{ID: 1, X: 1, Y: 1})
	require.NoError(t, st.SaveGraph(ctx, "walk", walk))

	got, err := st.LoadGraph(ctx, "drive")
	require.NoError(t, err)
	assert.Equal(t, 3, got.NumNodes())
}

func TestSQLite_Graph_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.LoadGraph(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_Graph_NilGraph(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveGraph(context.Background(), "x", nil)
	require.Error(t, err)
}

// --- Population ---

func TestSQLite_Population_SaveAndLoad(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testCell(t, 48.8566, 2.3522, 8)
	b := testCell(t, 48.8738, 2.295, 8)
	cells := []model.PopulationCell{
		{Cell: a, Population: 1250},
		{Cell: b, Population: 830.5},
	}
	require.NoError(t, st.SavePopulation(ctx, "insee", 8, cells))

	got, err := st.LoadPopulation(ctx, "insee", 8)
	require.NoError(t, err)
	assert.ElementsMatch(t, cells, got)
}

func TestSQLite_Population_MergesByCell(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testCell(t, 48.8566, 2.3522, 8)
	b := testCell(t, 48.8738, 2.295, 8)
	require.NoError(t, st.SavePopulation(ctx, "insee", 8, []model.PopulationCell{
		{Cell: a, Population: 100},
	}))
	require.NoError(t, st.SavePopulation(ctx, "insee", 8, []model.PopulationCell{
		{Cell: a, Population: 150},
		{Cell: b, Population: 40},
	}))

	got, err := st.LoadPopulation(ctx, "insee", 8)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byCell := map[h3.Cell]float64{}
	for _, pc := range got {
		byCell[pc.Cell] = pc.Population
	}
	assert.Equal(t, 150.0, byCell[a])
	assert.Equal(t, 40.0, byCell[b])
}

func TestSQLite_Population_DatasetsAreIndependent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testCell(t, 48.8566, 2.3522, 8)
	require.NoError(t, st.SavePopulation(ctx, "insee", 8, []model.PopulationCell{{Cell: a, Population: 1}}))
	require.NoError(t, st.SavePopulation(ctx, "worldpop", 8, []model.PopulationCell{{Cell: a, Population: 2}}))

	got, err := st.LoadPopulation(ctx, "insee", 8)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Population)
}

func TestSQLite_Population_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.LoadPopulation(ctx, "nope", 8)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))

	// Same dataset at a different resolution is a different table slice.
	a := testCell(t, 48.8566, 2.3522, 8)
	require.NoError(t, st.SavePopulation(ctx, "insee", 8, []model.PopulationCell{{Cell: a, Population: 1}}))
	_, err = st.LoadPopulation(ctx, "insee", 9)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- Coverage runs ---

func testCoverageResult(t *testing.T) *model.CoverageResult {
	t.Helper()
	ring := []float64{2.2, 48.8, 2.4, 48.8, 2.4, 48.9, 2.2, 48.8}
	return &model.CoverageResult{
		RunID: "run-1",
		Bands: []model.Band{
			{Label: "0.900", Rank: 1, Level: 0.9, Geom: geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})},
			{Label: "0.800", Rank: 2, Level: 0.8, Geom: nil},
		},
		HexAccessibility: []model.CellLevel{
			{Cell: testCell(t, 48.8566, 2.3522, 8), Level: 0.9},
			{Cell: testCell(t, 48.8738, 2.295, 8), Level: 0.8},
		},
		HexPopulation: []model.PopulationCoverage{
			{Cell: testCell(t, 48.8566, 2.3522, 8), Population: 1250, Accessibility: 0.9},
		},
	}
}

func TestSQLite_Coverage_Save(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	params := coverage.DefaultParams()

	require.NoError(t, st.SaveCoverage(ctx, testCoverageResult(t), params))

	var bands, cells, pop int
	require.NoError(t, st.db.QueryRow(`SELECT count(*) FROM coverage_bands WHERE run_id = 'run-1'`).Scan(&bands))
	require.NoError(t, st.db.QueryRow(`SELECT count(*) FROM coverage_cells WHERE run_id = 'run-1'`).Scan(&cells))
	require.NoError(t, st.db.QueryRow(`SELECT count(*) FROM coverage_population WHERE run_id = 'run-1'`).Scan(&pop))
	assert.Equal(t, 2, bands)
	assert.Equal(t, 2, cells)
	assert.Equal(t, 1, pop)

	var paramsJSON string
	require.NoError(t, st.db.QueryRow(`SELECT params FROM coverage_runs WHERE id = 'run-1'`).Scan(&paramsJSON))
	var got coverage.Params
	require.NoError(t, json.Unmarshal([]byte(paramsJSON), &got))
	assert.Equal(t, params, got)
}

func TestSQLite_Coverage_DuplicateRunID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCoverage(ctx, testCoverageResult(t), coverage.DefaultParams()))
	err := st.SaveCoverage(ctx, testCoverageResult(t), coverage.DefaultParams())
	require.Error(t, err)
}

func TestSQLite_Coverage_MissingRunID(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveCoverage(context.Background(), &model.CoverageResult{}, coverage.DefaultParams())
	require.Error(t, err)
}
