package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/ingest"
	"github.com/urbanatlas/coverage-cli/internal/isochrone"
	"github.com/urbanatlas/coverage-cli/internal/quality"
)

var isochroneCmd = &cobra.Command{
	Use:   "isochrone",
	Short: "Compute a network service area over a cached graph",
	Long: `Snaps the service points onto a cached street graph and computes the
single-budget service area: every node within the network-distance budget.
--exact cuts boundary edges at the exact budget frontier; --crop reduces the
output to the reachable subgraph. --levels replaces the single budget with
the configured decay model and tags every node and edge with its strongest
accessibility level. Writes the network as node and edge GeoJSON files.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name, _ := cmd.Flags().GetString("graph")
		pointsPath, _ := cmd.Flags().GetString("points")
		budget, _ := cmd.Flags().GetFloat64("budget")
		direction, _ := cmd.Flags().GetString("direction")
		exact, _ := cmd.Flags().GetBool("exact")
		crop, _ := cmd.Flags().GetBool("crop")
		multiLevel, _ := cmd.Flags().GetBool("levels")
		outDir, _ := cmd.Flags().GetString("out")

		dir := isochrone.Direction(direction)
		switch dir {
		case isochrone.Undirected, isochrone.Outbound, isochrone.Inbound:
		default:
			return eris.Errorf("isochrone: unknown direction %q", direction)
		}
		if !multiLevel && budget <= 0 {
			return eris.New("isochrone: --budget required (or --levels)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		g, err := st.LoadGraph(ctx, name)
		if err != nil {
			return eris.Wrap(err, "isochrone: load graph")
		}
		points, err := loadPoints(pointsPath)
		if err != nil {
			return eris.Wrap(err, "isochrone: load points")
		}

		opts := isochrone.Options{
			MinEdgeLength: cfg.Graph.MinEdgeLength,
			Direction:     dir,
			Exact:         exact,
			Crop:          crop,
		}

		var (
			area   *isochrone.Area
			levels *isochrone.Levels
		)
		if multiLevel {
			params := configParams()
			distances := params.Decay.DistanceGrid(quality.GridOptions{MaxDelta: params.GridDelta})
			matrix, err := quality.BuildMatrix(points, params.Decay, distances, params.Grades)
			if err != nil {
				return eris.Wrap(err, "isochrone: build quality matrix")
			}
			acc, err := isochrone.AccessibilityGraph(g, points, matrix, opts)
			if err != nil {
				return eris.Wrap(err, "isochrone")
			}
			area = &isochrone.Area{
				Graph:    acc.Graph,
				Interior: acc.Interior,
				Border:   acc.Border,
				Origins:  acc.Origins,
				Warnings: acc.Warnings,
			}
			levels = acc.Levels
		} else if exact {
			area, err = isochrone.Reachable(g, points, budget, opts)
		} else {
			area, err = isochrone.EgoGraph(g, points, budget, opts)
		}
		if err != nil {
			return eris.Wrap(err, "isochrone")
		}
		for _, w := range area.Warnings {
			zap.L().Warn("isochrone degraded",
				zap.String("code", string(w.Code)),
				zap.String("message", w.Message))
		}

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return eris.Wrapf(err, "isochrone: create output dir %s", outDir)
		}
		nodesPath := filepath.Join(outDir, "isochrone_nodes.geojson")
		edgesPath := filepath.Join(outDir, "isochrone_edges.geojson")
		if err := ingest.WriteNetworkGeoJSON(nodesPath, edgesPath, area.Graph, levels); err != nil {
			return eris.Wrap(err, "isochrone: write network")
		}

		fmt.Printf("service area: %d interior nodes, %d border nodes -> %s\n",
			len(area.Interior), len(area.Border), outDir)
		return nil
	},
}

func init() {
	isochroneCmd.Flags().String("graph", "", "cached graph name (required)")
	isochroneCmd.Flags().String("points", "", "origin points file (required)")
	isochroneCmd.Flags().Float64("budget", 0, "network distance budget in meters")
	isochroneCmd.Flags().String("direction", "undirected", "traversal: undirected, outbound or inbound")
	isochroneCmd.Flags().Bool("exact", true, "cut boundary edges at the exact budget frontier")
	isochroneCmd.Flags().Bool("crop", true, "reduce output to the reachable subgraph")
	isochroneCmd.Flags().Bool("levels", false, "tag multi-level accessibility from the configured decay model")
	isochroneCmd.Flags().String("out", ".", "output directory")
	_ = isochroneCmd.MarkFlagRequired("graph")
	_ = isochroneCmd.MarkFlagRequired("points")
	rootCmd.AddCommand(isochroneCmd)
}
