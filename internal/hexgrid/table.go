package hexgrid

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/raster"
)

// ValueColumn is the column name raster values aggregate under.
const ValueColumn = "value"

// Table is an aggregated hex grid: one value row per cell. Resolution is
// -1 when the table is empty.
type Table struct {
	Resolution int
	Columns    []string
	Rows       map[h3.Cell]map[string]Value
}

// CellRow is one cell of a Table, optionally carrying its boundary polygon
// in WGS84.
type CellRow struct {
	Cell   h3.Cell
	Values map[string]Value
	Geom   *geom.Polygon
}

// Value returns the named column of a row, null when absent.
func (r CellRow) Value(col string) Value {
	return r.Values[col]
}

// ToRows flattens the table sorted by cell id, without geometry.
func (t *Table) ToRows() []CellRow {
	rows := make([]CellRow, 0, len(t.Rows))
	for cell, vals := range t.Rows {
		rows = append(rows, CellRow{Cell: cell, Values: vals})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cell < rows[j].Cell })
	return rows
}

// ToPolygons flattens the table with each cell's boundary polygon. Invalid
// cells are dropped; when every cell is invalid there is nothing to render
// and ErrInvalidCell is returned.
func (t *Table) ToPolygons() ([]CellRow, error) {
	rows := t.ToRows()
	if len(rows) == 0 {
		return rows, nil
	}

	out := make([]CellRow, 0, len(rows))
	invalid := 0
	for _, row := range rows {
		if !row.Cell.IsValid() {
			invalid++
			zap.L().Debug("hexgrid: dropping invalid cell", zap.String("cell", row.Cell.String()))
			continue
		}
		boundary, err := h3.CellToBoundary(row.Cell)
		if err != nil {
			invalid++
			zap.L().Debug("hexgrid: dropping cell without boundary", zap.String("cell", row.Cell.String()))
			continue
		}
		row.Geom = boundaryPolygon(boundary)
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(model.ErrInvalidCell, "hexgrid: all %d cells invalid", invalid)
	}
	return out, nil
}

func boundaryPolygon(boundary h3.CellBoundary) *geom.Polygon {
	flat := make([]float64, 0, (len(boundary)+1)*2)
	for _, ll := range boundary {
		flat = append(flat, ll.Lng, ll.Lat)
	}
	if len(boundary) > 0 {
		flat = append(flat, boundary[0].Lng, boundary[0].Lat)
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// FromRows rasterizes geometries and aggregates their values in one step.
func FromRows(rows []Row, resolution int, fill FillOptions, agg AggregateOptions) (*Table, error) {
	geoms := make([]geom.T, len(rows))
	for i, row := range rows {
		geoms[i] = row.Geom
	}
	cells, err := CellsInGeometry(geoms, resolution, fill)
	if err != nil {
		return nil, err
	}
	t, err := Aggregate(rows, cells, agg)
	if err != nil {
		return nil, err
	}
	t.Resolution = resolution
	return t, nil
}

// FromRaster vectorizes a grid's valid pixels and aggregates their values
// onto cells, conserving mass by default (MethodDistribute).
func FromRaster(r *raster.Raster, resolution int, fill FillOptions, agg AggregateOptions) (*Table, error) {
	pixels, err := r.Vectorize(false)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, len(pixels))
	for i, px := range pixels {
		rows[i] = Row{
			Geom:   px.Geom,
			Values: map[string]Value{ValueColumn: Number(px.Value)},
		}
	}
	if len(agg.Columns) == 0 {
		agg.Columns = []string{ValueColumn}
	}
	if agg.Default == "" {
		agg.Default = MethodDistribute
	}

	zap.L().Info("hexgrid: aggregating raster",
		zap.Int("pixels", len(rows)),
		zap.Int("resolution", resolution))
	return FromRows(rows, resolution, fill, agg)
}

// Resample reparents every cell to its ancestor at a coarser resolution and
// re-aggregates with the given per-column methods. Sum-like methods stay
// hierarchically exact; means are approximations over child cells.
func Resample(t *Table, targetResolution int, methods map[string]Method) (*Table, error) {
	if targetResolution < 0 || targetResolution > 15 {
		return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: resolution %d outside 0..15", targetResolution)
	}

	src := t.ToRows()
	rows := make([]Row, 0, len(src))
	cells := make([][]h3.Cell, 0, len(src))
	for _, row := range src {
		parent, err := h3.CellToParent(row.Cell, targetResolution)
		if err != nil {
			return nil, eris.Wrapf(err, "hexgrid: reparent %s to resolution %d", row.Cell, targetResolution)
		}
		rows = append(rows, Row{Values: row.Values})
		cells = append(cells, []h3.Cell{parent})
	}

	out, err := Aggregate(rows, cells, AggregateOptions{Columns: t.Columns, Methods: methods})
	if err != nil {
		return nil, err
	}
	out.Resolution = targetResolution
	if len(out.Rows) == 0 {
		out.Resolution = -1
	}
	return out, nil
}
