package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/urbanatlas/coverage-cli/internal/coverage"
	"github.com/urbanatlas/coverage-cli/internal/hexgrid"
	"github.com/urbanatlas/coverage-cli/internal/ingest"
	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/quality"
	"github.com/urbanatlas/coverage-cli/internal/store"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Compute accessibility coverage for a set of service points",
	Long: `Runs the full coverage pipeline: adaptive distance grid, quality matrix,
discretized accessibility bands as buffered polygons, optional H3 hex
aggregation and population coverage join. Outputs land as GeoJSON files in
the output directory; --save additionally persists the run to the cache.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pointsPath, _ := cmd.Flags().GetString("points")
		dataset, _ := cmd.Flags().GetString("population")
		outDir, _ := cmd.Flags().GetString("out")
		scenarioPath, _ := cmd.Flags().GetString("scenario")
		saveRun, _ := cmd.Flags().GetBool("save")

		// A scenario document overrides the process config so the run is
		// reproducible from the file alone; explicit flags win over both.
		params := configParams()
		if scenarioPath != "" {
			sc, err := coverage.LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			params = sc.Params()
			if pointsPath == "" {
				pointsPath = sc.Points
			}
			if dataset == "" {
				dataset = sc.Population
			}
			if outDir == "" {
				outDir = sc.Out
			}
		}
		if cmd.Flags().Changed("h3-resolution") {
			params.H3Resolution, _ = cmd.Flags().GetInt("h3-resolution")
		}
		if dataset != "" && params.H3Resolution < 0 {
			params.H3Resolution = cfg.Coverage.H3Resolution
		}
		if pointsPath == "" {
			return eris.New("coverage: no points file (--points or scenario)")
		}
		if outDir == "" {
			outDir = "."
		}

		var st store.Store
		if dataset != "" || saveRun {
			var err error
			if st, err = openStore(ctx); err != nil {
				return err
			}
			defer st.Close()
		}

		var (
			points     []model.WeightedPoint
			population []model.PopulationCell
		)
		eg, egctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			var err error
			points, err = loadPoints(pointsPath)
			return err
		})
		if dataset != "" {
			eg.Go(func() error {
				var err error
				population, err = st.LoadPopulation(egctx, dataset, params.H3Resolution)
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return eris.Wrap(err, "coverage: load inputs")
		}

		result, err := coverage.Coverage(ctx, points, params, population)
		if err != nil {
			return eris.Wrap(err, "coverage")
		}
		for _, w := range result.Warnings {
			zap.L().Warn("coverage degraded",
				zap.String("code", string(w.Code)),
				zap.String("message", w.Message))
		}

		if err := writeCoverageOutputs(outDir, result, params); err != nil {
			return err
		}

		if saveRun {
			if err := st.SaveCoverage(ctx, result, params); err != nil {
				return eris.Wrap(err, "coverage: save run")
			}
		}

		fmt.Printf("run %s: %d bands", result.RunID, len(result.Bands))
		if result.HexAccessibility != nil {
			fmt.Printf(", %d hex cells", len(result.HexAccessibility))
		}
		if result.HexPopulation != nil {
			fmt.Printf(", %d populated cells", len(result.HexPopulation))
		}
		fmt.Printf(" -> %s\n", outDir)
		return nil
	},
}

// configParams materializes coverage parameters from the process config.
func configParams() coverage.Params {
	return coverage.Params{
		Decay: quality.DecayParams{
			Elasticity:        cfg.Decay.Elasticity,
			ReferenceDistance: cfg.Decay.ReferenceDistance,
			MaxDistance:       cfg.Decay.MaxDistance,
		},
		Grades:       cfg.Coverage.Grades,
		GridDelta:    cfg.Coverage.GridDelta,
		H3Resolution: -1,
		Quadsegs:     cfg.Coverage.Quadsegs,
	}
}

// loadPoints picks the ingest loader from the filename extension.
func loadPoints(path string) ([]model.WeightedPoint, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return ingest.LoadPointsGeoJSON(path)
	case ".shp":
		return ingest.LoadPointsShapefile(path, ingest.ShapefileOptions{})
	case ".xlsx":
		return ingest.LoadPointsXLSX(path, ingest.XLSXOptions{})
	default:
		return nil, eris.Errorf("coverage: unsupported points format %q", filepath.Ext(path))
	}
}

func writeCoverageOutputs(outDir string, result *model.CoverageResult, params coverage.Params) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "coverage: create output dir %s", outDir)
	}

	if err := ingest.WriteBandsGeoJSON(filepath.Join(outDir, "bands.geojson"), result.Bands); err != nil {
		return err
	}

	if result.HexAccessibility != nil {
		tbl := &hexgrid.Table{
			Resolution: params.H3Resolution,
			Columns:    []string{"level"},
			Rows:       make(map[h3.Cell]map[string]hexgrid.Value, len(result.HexAccessibility)),
		}
		for _, cl := range result.HexAccessibility {
			tbl.Rows[cl.Cell] = map[string]hexgrid.Value{"level": hexgrid.Number(cl.Level)}
		}
		rows, err := tbl.ToPolygons()
		if err != nil {
			return eris.Wrap(err, "coverage: render hex cells")
		}
		if err := ingest.WriteTableGeoJSON(filepath.Join(outDir, "hex_accessibility.geojson"), rows); err != nil {
			return err
		}
	}

	if result.HexPopulation != nil {
		if err := ingest.WritePopulationGeoJSON(filepath.Join(outDir, "hex_population.geojson"), result.HexPopulation); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	coverageCmd.Flags().String("points", "", "service points file: .geojson, .shp or .xlsx")
	coverageCmd.Flags().String("population", "", "cached population dataset to join")
	coverageCmd.Flags().Int("h3-resolution", 0, "aggregate bands onto H3 cells at this resolution")
	coverageCmd.Flags().String("out", "", "output directory (default: current)")
	coverageCmd.Flags().String("scenario", "", "YAML scenario file")
	coverageCmd.Flags().Bool("save", false, "persist the run to the cache store")
	rootCmd.AddCommand(coverageCmd)
}
