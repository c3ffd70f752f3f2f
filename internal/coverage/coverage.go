// Package coverage composes the quality model, band construction and H3
// aggregation into the end-to-end accessibility computation. The orchestrator
// is stateless: every call gets its own run id and owns its inputs for the
// duration of the call.
package coverage

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/bands"
	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/hexgrid"
	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/quality"
)

// accessibilityColumn names the single aggregation column carried through
// the hex rasterization of bands.
const accessibilityColumn = "accessibility"

// Params configures one coverage run.
type Params struct {
	// Decay is the distance-decay quality model.
	Decay quality.DecayParams
	// Grades is the number of discrete accessibility grades between 0 and 1.
	Grades int
	// GridDelta bounds the combined-quality change between adjacent samples
	// of the adaptive distance grid.
	GridDelta float64
	// H3Resolution selects the hex aggregation resolution. Negative disables
	// hex output entirely.
	H3Resolution int
	// Quadsegs is the quarter-circle buffer resolution for bands. Zero falls
	// back to the geospatial default.
	Quadsegs int
}

// DefaultParams returns the production coverage parameters: default decay,
// ten grades, 0.1 grid delta, hex aggregation disabled.
func DefaultParams() Params {
	return Params{
		Decay:        quality.DefaultDecayParams(),
		Grades:       quality.DefaultGrades,
		GridDelta:    quality.DefaultGridOptions().MaxDelta,
		H3Resolution: -1,
		Quadsegs:     geospatial.BufferQuadsegs,
	}
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (p Params) Validate() error {
	if err := p.Decay.Validate(); err != nil {
		return err
	}
	if p.Grades <= 0 {
		return eris.Wrapf(model.ErrConfiguration, "coverage: grades must be positive, got %d", p.Grades)
	}
	if p.GridDelta <= 0 {
		return eris.Wrapf(model.ErrConfiguration, "coverage: grid delta must be positive, got %g", p.GridDelta)
	}
	if p.H3Resolution > 15 {
		return eris.Wrapf(model.ErrConfiguration, "coverage: h3 resolution %d out of range", p.H3Resolution)
	}
	return nil
}

// Coverage runs the full accessibility pipeline: adaptive distance grid,
// discretized quality matrix, disjoint bands, then the optional hex
// aggregation and population join. Bands are always populated;
// HexAccessibility requires a non-negative H3Resolution; HexPopulation
// additionally requires a population table at the same resolution. An empty
// point set degrades to an empty result with a warning.
func Coverage(ctx context.Context, points []model.WeightedPoint, params Params, population []model.PopulationCell) (*model.CoverageResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(population) > 0 && params.H3Resolution < 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "coverage: population join requires an h3 resolution")
	}

	result := &model.CoverageResult{
		RunID: uuid.New().String(),
		Bands: []model.Band{},
	}

	if len(points) == 0 {
		zap.L().Warn("coverage: no service points supplied", zap.String("run_id", result.RunID))
		result.Warn(model.Warningf(model.WarnEmptyInput, "no service points supplied"))
		return emptyResult(result, params, population)
	}

	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "coverage: context cancelled")
	}

	distances := params.Decay.DistanceGrid(quality.GridOptions{MaxDelta: params.GridDelta})
	matrix, err := quality.BuildMatrix(points, params.Decay, distances, params.Grades)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: build quality matrix")
	}
	zap.L().Info("coverage: quality matrix built",
		zap.String("run_id", result.RunID),
		zap.Int("points", len(points)),
		zap.Int("qualities", len(matrix.Qualities)),
		zap.Int("distances", len(matrix.Distances)))

	bandRows, warns, err := bands.Coverage(points, matrix, bands.Options{Quadsegs: params.Quadsegs})
	if err != nil {
		return nil, eris.Wrap(err, "coverage: build bands")
	}
	result.Bands = bandRows
	result.Warnings = append(result.Warnings, warns...)

	if params.H3Resolution < 0 {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "coverage: context cancelled")
	}

	levels, err := rasterizeBands(bandRows, params.H3Resolution)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: rasterize bands")
	}
	result.HexAccessibility = levels
	zap.L().Info("coverage: bands rasterized",
		zap.String("run_id", result.RunID),
		zap.Int("resolution", params.H3Resolution),
		zap.Int("cells", len(levels)))

	if len(population) == 0 {
		return result, nil
	}

	covered, err := joinPopulation(population, levels, params.H3Resolution)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: join population")
	}
	result.HexPopulation = covered
	zap.L().Info("coverage: population joined",
		zap.String("run_id", result.RunID),
		zap.Int("population_cells", len(population)),
		zap.Int("covered_cells", len(covered)))

	return result, nil
}

// emptyResult fills the degraded shape for an empty point set: no bands, an
// empty hex table when requested, and a population join against nothing so
// every populated cell reports zero accessibility.
func emptyResult(result *model.CoverageResult, params Params, population []model.PopulationCell) (*model.CoverageResult, error) {
	if params.H3Resolution < 0 {
		return result, nil
	}
	result.HexAccessibility = []model.CellLevel{}
	if len(population) == 0 {
		return result, nil
	}
	covered, err := joinPopulation(population, nil, params.H3Resolution)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: join population")
	}
	result.HexPopulation = covered
	return result, nil
}

// rasterizeBands maps every band polygon onto the hex grid with overlap
// containment and max aggregation, so the strongest band wins wherever
// several bands touch one cell.
func rasterizeBands(bandRows []model.Band, resolution int) ([]model.CellLevel, error) {
	rows := make([]hexgrid.Row, 0, len(bandRows))
	for _, b := range bandRows {
		rows = append(rows, hexgrid.Row{
			Geom:   b.Geom,
			Values: map[string]hexgrid.Value{accessibilityColumn: hexgrid.Number(b.Level)},
		})
	}

	tbl, err := hexgrid.FromRows(rows, resolution, hexgrid.FillOptions{Contain: hexgrid.ContainOverlap}, hexgrid.AggregateOptions{
		Columns: []string{accessibilityColumn},
		Default: hexgrid.MethodMax,
	})
	if err != nil {
		return nil, err
	}

	levels := make([]model.CellLevel, 0, len(tbl.Rows))
	for _, row := range tbl.ToRows() {
		v, ok := row.Value(accessibilityColumn).Number()
		if !ok {
			continue
		}
		levels = append(levels, model.CellLevel{Cell: row.Cell, Level: v})
	}
	return levels, nil
}

// joinPopulation left-joins population cells against the hex accessibility
// levels: unmatched cells get zero accessibility, cells with at most one
// inhabitant are dropped, and each kept cell is reduced to its center point.
func joinPopulation(population []model.PopulationCell, levels []model.CellLevel, resolution int) ([]model.PopulationCoverage, error) {
	byCell := make(map[h3.Cell]float64, len(levels))
	for _, lv := range levels {
		byCell[lv.Cell] = lv.Level
	}

	covered := make([]model.PopulationCoverage, 0, len(population))
	invalid := 0
	for _, pc := range population {
		if !pc.Cell.IsValid() {
			invalid++
			zap.L().Debug("coverage: skipping invalid population cell",
				zap.Uint64("cell", uint64(pc.Cell)))
			continue
		}
		if res := pc.Cell.Resolution(); res != resolution {
			return nil, eris.Wrapf(model.ErrConfiguration,
				"coverage: population cell %s has resolution %d, want %d", pc.Cell, res, resolution)
		}
		if pc.Population <= 1 {
			continue
		}
		center, err := h3.CellToLatLng(pc.Cell)
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: center of cell %s", pc.Cell)
		}
		covered = append(covered, model.PopulationCoverage{
			Cell:          pc.Cell,
			Population:    pc.Population,
			Accessibility: byCell[pc.Cell],
			Centroid:      geom.NewPointFlat(geom.XY, []float64{center.Lng, center.Lat}),
		})
	}
	if invalid == len(population) && len(population) > 0 {
		return nil, eris.Wrapf(model.ErrInvalidCell, "coverage: all %d population cells invalid", invalid)
	}
	return covered, nil
}
