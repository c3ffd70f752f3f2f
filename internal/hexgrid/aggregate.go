package hexgrid

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// Method is a per-column reduction applied to the values landing in one
// cell.
type Method string

const (
	MethodFirst Method = "first"
	MethodLast  Method = "last"
	MethodMin   Method = "min"
	MethodMax   Method = "max"
	// MethodMean and MethodSum reduce numerically; sums over whole inputs
	// stay whole.
	MethodMean Method = "mean"
	MethodSum  Method = "sum"
	// MethodDensity divides by the source geometry's projected area before
	// a per-cell mean, then rescales globally so total mass is preserved.
	MethodDensity Method = "density"
	// MethodDistribute splits a row's value evenly across its cells before
	// summing, so the original total is conserved.
	MethodDistribute Method = "distribute"
)

func (m Method) valid() bool {
	switch m {
	case MethodFirst, MethodLast, MethodMin, MethodMax, MethodMean, MethodSum, MethodDensity, MethodDistribute:
		return true
	}
	return false
}

// Row is one source feature: a geometry (may be nil for pure tables) and
// its named values.
type Row struct {
	Geom   geom.T
	Values map[string]Value
}

// AggregateOptions configure the per-column reductions.
type AggregateOptions struct {
	// Columns selects which value columns to reduce; empty means every
	// column present in the rows.
	Columns []string
	// Methods names the reduction per column; missing columns use Default.
	Methods map[string]Method
	// Default applies when Methods has no entry; empty means MethodMax.
	Default Method
	// ValueOrder ranks categorical values per column: earlier entries win
	// min contests. Values missing from the order sort last.
	ValueOrder map[string][]Value
}

type cellState struct {
	val    Value
	rank   Rank
	seen   bool
	sum    float64
	count  int
	summed bool
}

// Aggregate explodes each row's cell list into (row, cell) pairs, groups by
// cell and reduces every column under its method. Rows whose selected
// columns are all null are dropped before exploding; cells whose reduced
// columns are all null are dropped from the result.
func Aggregate(rows []Row, cells [][]h3.Cell, opts AggregateOptions) (*Table, error) {
	if len(rows) != len(cells) {
		return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: %d rows but %d cell lists", len(rows), len(cells))
	}

	columns := append([]string(nil), opts.Columns...)
	if len(columns) == 0 {
		columns = collectColumns(rows)
	}
	synthetic := false
	if len(columns) == 0 {
		// No values anywhere: fall back to counting row indices.
		synthetic = true
		columns = []string{"idx"}
	}

	methods := make(map[string]Method, len(columns))
	for _, col := range columns {
		m := opts.Methods[col]
		if m == "" {
			m = opts.Default
		}
		if m == "" {
			m = MethodMax
		}
		if !m.valid() {
			return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: unknown aggregation method %q for column %q", m, col)
		}
		methods[col] = m
	}

	// Snapshot the values the reducers will see; density and distribute
	// rescale inputs before exploding.
	work := make([]map[string]Value, len(rows))
	kept := make([]int, 0, len(rows))
	for i, row := range rows {
		vals := make(map[string]Value, len(columns))
		allNull := true
		for _, col := range columns {
			v := Null()
			if synthetic {
				v = Number(float64(i))
			} else if row.Values != nil {
				v = row.Values[col]
			}
			if !v.IsNull() {
				allNull = false
			}
			vals[col] = v
		}
		if allNull || len(cells[i]) == 0 {
			continue
		}
		work[i] = vals
		kept = append(kept, i)
	}

	totals := make(map[string]float64)
	var ops *geospatial.Ops
	for _, col := range columns {
		switch methods[col] {
		case MethodDensity:
			if ops == nil {
				ops = geospatial.NewOps()
			}
			var total float64
			for _, i := range kept {
				v := work[i][col]
				if v.IsNull() {
					continue
				}
				n, ok := v.Number()
				if !ok {
					return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: density on non-numeric column %q", col)
				}
				area, err := rowArea(ops, rows[i].Geom)
				if err != nil {
					return nil, err
				}
				total += n
				work[i][col] = Number(n / area)
			}
			totals[col] = total
		case MethodDistribute:
			for _, i := range kept {
				v := work[i][col]
				if v.IsNull() {
					continue
				}
				n, ok := v.Number()
				if !ok {
					return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: distribute on non-numeric column %q", col)
				}
				work[i][col] = Number(n / float64(len(cells[i])))
			}
		}
	}

	states := make(map[string]map[h3.Cell]*cellState, len(columns))
	for _, col := range columns {
		states[col] = make(map[h3.Cell]*cellState)
	}
	for _, i := range kept {
		for _, cell := range cells[i] {
			for _, col := range columns {
				v := work[i][col]
				st := states[col][cell]
				if st == nil {
					st = &cellState{}
					states[col][cell] = st
				}
				if err := reduce(st, methods[col], opts.ValueOrder[col], v, col); err != nil {
					return nil, err
				}
			}
		}
	}

	// Density finishes per cell: mean density times cell area, rescaled so
	// the column total matches the source total.
	for _, col := range columns {
		if methods[col] != MethodDensity {
			continue
		}
		colStates := states[col]
		var scaled float64
		for cell, st := range colStates {
			if st.count == 0 {
				delete(colStates, cell)
				continue
			}
			area, err := h3.CellAreaM2(cell)
			if err != nil {
				zap.L().Debug("hexgrid: dropping cell without area", zap.String("cell", cell.String()))
				delete(colStates, cell)
				continue
			}
			st.sum = st.sum / float64(st.count) * area
			st.count = 1
			scaled += st.sum
		}
		if scaled > 0 {
			f := totals[col] / scaled
			for _, st := range colStates {
				st.sum *= f
			}
		}
	}

	cellSet := make(map[h3.Cell]bool)
	for _, col := range columns {
		for cell := range states[col] {
			cellSet[cell] = true
		}
	}

	tableRows := make(map[h3.Cell]map[string]Value, len(cellSet))
	resolution := -1
	for cell := range cellSet {
		vals := make(map[string]Value, len(columns))
		allNull := true
		for _, col := range columns {
			v := Null()
			if st := states[col][cell]; st != nil {
				v = finalValue(methods[col], opts.ValueOrder[col], st)
			}
			if !v.IsNull() {
				allNull = false
			}
			vals[col] = v
		}
		if allNull {
			continue
		}
		tableRows[cell] = vals
		if resolution < 0 {
			resolution = cell.Resolution()
		}
	}

	zap.L().Info("hexgrid: aggregated rows onto grid",
		zap.Int("rows", len(kept)),
		zap.Int("cells", len(tableRows)),
		zap.Strings("columns", columns))
	return &Table{Resolution: resolution, Columns: columns, Rows: tableRows}, nil
}

func reduce(st *cellState, m Method, order []Value, v Value, col string) error {
	switch m {
	case MethodFirst:
		if !v.IsNull() && !st.seen {
			st.val, st.seen = v, true
		}
	case MethodLast:
		if !v.IsNull() {
			st.val, st.seen = v, true
		}
	case MethodMin, MethodMax:
		if v.IsNull() {
			return nil
		}
		if len(order) > 0 {
			r := rankFor(order, v)
			if !st.seen || (m == MethodMin && r.Less(st.rank)) || (m == MethodMax && st.rank.Less(r)) {
				st.val, st.rank, st.seen = v, r, true
			}
			return nil
		}
		if !st.seen || (m == MethodMin && v.less(st.val)) || (m == MethodMax && st.val.less(v)) {
			st.val, st.seen = v, true
		}
	case MethodMean, MethodDensity:
		if v.IsNull() {
			return nil
		}
		n, ok := v.Number()
		if !ok {
			return eris.Wrapf(model.ErrConfiguration, "hexgrid: %s on non-numeric column %q", m, col)
		}
		st.sum += n
		st.count++
	case MethodSum, MethodDistribute:
		st.summed = true
		if n, ok := v.Number(); ok {
			st.sum += n
		}
	}
	return nil
}

func finalValue(m Method, order []Value, st *cellState) Value {
	switch m {
	case MethodFirst, MethodLast:
		if st.seen {
			return st.val
		}
	case MethodMin, MethodMax:
		if !st.seen {
			return Null()
		}
		if len(order) > 0 {
			// Decode through the order so equal-ranked raw values collapse
			// to the canonical entry; unassigned winners decode to null.
			if st.rank.Assigned() {
				return order[st.rank.pos]
			}
			return Null()
		}
		return st.val
	case MethodMean:
		if st.count > 0 {
			return Number(st.sum / float64(st.count))
		}
	case MethodDensity:
		if st.count > 0 {
			return Number(st.sum)
		}
	case MethodSum, MethodDistribute:
		if st.summed {
			return Number(st.sum)
		}
	}
	return Null()
}

// rowArea measures a WGS84 geometry in its local UTM zone, in m².
func rowArea(ops *geospatial.Ops, g geom.T) (float64, error) {
	if g == nil {
		return 0, eris.Wrap(model.ErrConfiguration, "hexgrid: density requires row geometry")
	}
	lon, lat, err := anchorCoord(g)
	if err != nil {
		return 0, err
	}
	rep, err := geospatial.UTMFor(lon, lat)
	if err != nil {
		return 0, err
	}
	planar, err := rep.Forward(g)
	if err != nil {
		return 0, err
	}
	gg, err := ops.ToGeos(planar)
	if err != nil {
		return 0, err
	}
	defer gg.Destroy()
	area := ops.Area(gg)
	if area <= 0 {
		return 0, eris.Wrap(model.ErrConfiguration, "hexgrid: density requires areal geometry")
	}
	return area, nil
}

func collectColumns(rows []Row) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for col := range row.Values {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}
