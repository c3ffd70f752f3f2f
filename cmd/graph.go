package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/ingest"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage cached street graphs",
}

var graphBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a simplified routable graph from an OSM extract",
	Long: `Reads an OpenStreetMap PBF extract, projects it into its local UTM zone,
simplifies the network (undirected collapse, short-edge merging) and caches
the result under a name for coverage and isochrone queries.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		osmPath, _ := cmd.Flags().GetString("osm")
		out, _ := cmd.Flags().GetString("out")
		minLen, _ := cmd.Flags().GetFloat64("min-edge-length")
		if !cmd.Flags().Changed("min-edge-length") {
			minLen = cfg.Graph.MinEdgeLength
		}
		if out == "" {
			out = graphName(osmPath)
		}

		log := zap.L().With(zap.String("command", "graph build"))

		g, err := ingest.LoadOSMGraph(ctx, osmPath, ingest.OSMOptions{Procs: cfg.Graph.Procs})
		if err != nil {
			return eris.Wrap(err, "graph build: load")
		}
		rawNodes, rawEdges := g.NumNodes(), g.NumEdges()

		simplified, err := graph.Simplify(g, graph.SimplifyOptions{
			MinEdgeLength: minLen,
			Undirected:    true,
		})
		if err != nil {
			return eris.Wrap(err, "graph build: simplify")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SaveGraph(ctx, out, simplified); err != nil {
			return eris.Wrap(err, "graph build: save")
		}

		log.Info("graph cached",
			zap.String("name", out),
			zap.Int("nodes", simplified.NumNodes()),
			zap.Int("edges", simplified.NumEdges()),
			zap.Float64("min_edge_length", minLen),
		)
		fmt.Printf("graph %q: %d nodes, %d edges (simplified from %d/%d)\n",
			out, simplified.NumNodes(), simplified.NumEdges(), rawNodes, rawEdges)
		return nil
	},
}

// stem strips the filename extension: "pop.nc" becomes "pop".
func stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// graphName derives a cache name from the extract filename, dropping the
// compound .osm.pbf suffix.
func graphName(path string) string {
	return strings.TrimSuffix(stem(path), ".osm")
}

func init() {
	graphBuildCmd.Flags().String("osm", "", "OSM PBF extract to load (required)")
	graphBuildCmd.Flags().String("out", "", "cache name (default: extract filename)")
	graphBuildCmd.Flags().Float64("min-edge-length", 0, "short-edge merge threshold in meters (default: from config)")
	_ = graphBuildCmd.MarkFlagRequired("osm")
	graphCmd.AddCommand(graphBuildCmd)
	rootCmd.AddCommand(graphCmd)
}
