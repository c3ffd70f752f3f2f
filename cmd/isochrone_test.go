package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/urbanatlas/coverage-cli/internal/config"
	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/store"
)

func TestIsochroneCmd_UnknownDirection(t *testing.T) {
	cfg = &config.Config{}

	isochroneCmd.SetContext(context.Background())
	defer isochroneCmd.SetContext(context.TODO())

	flags := isochroneCmd.Flags()
	require.NoError(t, flags.Set("direction", "sideways"))
	defer flags.Set("direction", "undirected") //nolint:errcheck

	err := isochroneCmd.RunE(isochroneCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown direction")
}

func TestIsochroneCmd_NoBudget(t *testing.T) {
	cfg = &config.Config{}

	isochroneCmd.SetContext(context.Background())
	defer isochroneCmd.SetContext(context.TODO())

	err := isochroneCmd.RunE(isochroneCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--budget required")
}

func TestIsochroneCmd_MissingGraph(t *testing.T) {
	tmp := t.TempDir()
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", Path: filepath.Join(tmp, "cache.db")},
	}

	isochroneCmd.SetContext(context.Background())
	defer isochroneCmd.SetContext(context.TODO())

	flags := isochroneCmd.Flags()
	require.NoError(t, flags.Set("graph", "nope"))
	require.NoError(t, flags.Set("budget", "100"))
	defer func() {
		_ = flags.Set("graph", "")
		_ = flags.Set("budget", "0")
	}()

	err := isochroneCmd.RunE(isochroneCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load graph")
}

// seedGraph caches a three-node corridor starting at the first test point.
func seedGraph(t *testing.T, cachePath string) {
	t.Helper()

	proj := geospatial.UTMProj4(31, true)
	rp, err := geospatial.NewReprojector(geospatial.WGS84Proj4, proj)
	require.NoError(t, err)
	x, y, err := rp.ForwardCoord(2.35, 48.85)
	require.NoError(t, err)

	g := graph.New(proj)
	g.AddNode(graph.Node{ID: 1, X: x, Y: y})
	g.AddNode(graph.Node{ID: 2, X: x + 100, Y: y})
	g.AddNode(graph.Node{ID: 3, X: x + 300, Y: y})
	g.AddEdge(&graph.Edge{U: 1, V: 2, Key: 0, Length: 100,
		Geom: geom.NewLineStringFlat(geom.XY, []float64{x, y, x + 100, y})})
	g.AddEdge(&graph.Edge{U: 2, V: 3, Key: 0, Length: 200,
		Geom: geom.NewLineStringFlat(geom.XY, []float64{x + 100, y, x + 300, y})})

	st, err := store.NewSQLite(cachePath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.SaveGraph(context.Background(), "mini", g))
}

func TestIsochroneCmd_EndToEnd(t *testing.T) {
	tmp := t.TempDir()
	outDir := filepath.Join(tmp, "out")
	pointsPath := filepath.Join(tmp, "points.geojson")
	writeTestPoints(t, pointsPath)

	cachePath := filepath.Join(tmp, "cache.db")
	seedGraph(t, cachePath)

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", Path: cachePath},
		Graph: config.GraphConfig{MinEdgeLength: 10},
	}

	isochroneCmd.SetContext(context.Background())
	defer isochroneCmd.SetContext(context.TODO())

	flags := isochroneCmd.Flags()
	require.NoError(t, flags.Set("graph", "mini"))
	require.NoError(t, flags.Set("points", pointsPath))
	require.NoError(t, flags.Set("budget", "150"))
	require.NoError(t, flags.Set("out", outDir))
	defer func() {
		_ = flags.Set("graph", "")
		_ = flags.Set("points", "")
		_ = flags.Set("budget", "0")
		_ = flags.Set("out", ".")
	}()

	require.NoError(t, isochroneCmd.RunE(isochroneCmd, nil))

	// Both origins snap onto the corridor; the 150 m budget covers the first
	// edge and cuts into the second.
	assert.GreaterOrEqual(t, featureCount(t, filepath.Join(outDir, "isochrone_nodes.geojson")), 2)
	assert.Positive(t, featureCount(t, filepath.Join(outDir, "isochrone_edges.geojson")))
}

func TestIsochroneCmd_LevelsEndToEnd(t *testing.T) {
	tmp := t.TempDir()
	outDir := filepath.Join(tmp, "out")
	pointsPath := filepath.Join(tmp, "points.geojson")
	writeTestPoints(t, pointsPath)

	cachePath := filepath.Join(tmp, "cache.db")
	seedGraph(t, cachePath)

	cfg = &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", Path: cachePath},
		Decay:    config.DecayConfig{Elasticity: 0.5, ReferenceDistance: 100, MaxDistance: 1000},
		Coverage: config.CoverageConfig{Grades: 5, GridDelta: 0.1},
		Graph:    config.GraphConfig{MinEdgeLength: 10},
	}

	isochroneCmd.SetContext(context.Background())
	defer isochroneCmd.SetContext(context.TODO())

	flags := isochroneCmd.Flags()
	require.NoError(t, flags.Set("graph", "mini"))
	require.NoError(t, flags.Set("points", pointsPath))
	require.NoError(t, flags.Set("levels", "true"))
	require.NoError(t, flags.Set("out", outDir))
	defer func() {
		_ = flags.Set("graph", "")
		_ = flags.Set("points", "")
		_ = flags.Set("levels", "false")
		_ = flags.Set("out", ".")
	}()

	require.NoError(t, isochroneCmd.RunE(isochroneCmd, nil))

	// The whole corridor sits inside the decay's max distance, so the level
	// tags come through on the nodes.
	data, err := os.ReadFile(filepath.Join(outDir, "isochrone_nodes.geojson"))
	require.NoError(t, err)
	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	require.NotEmpty(t, fc.Features)

	tagged := 0
	for _, f := range fc.Features {
		if lv, ok := f.Properties["level"].(float64); ok && lv > 0 {
			tagged++
		}
	}
	assert.Positive(t, tagged)
}
