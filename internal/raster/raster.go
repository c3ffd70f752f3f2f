// Package raster holds gridded data bound for H3 aggregation: a dense
// value matrix, an affine pixel-to-world transform, and the CRS the
// transform lands in.
package raster

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
)

// Affine maps pixel space to world space: x = A·col + B·row + C and
// y = D·col + E·row + F. North-up grids have B = D = 0 and E < 0.
type Affine struct {
	A, B, C, D, E, F float64
}

// Apply transforms a pixel coordinate to world coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Cell is one vectorized pixel: its box in WGS84 and its value. ID is
// row·cols+col, stable across runs of the same grid.
type Cell struct {
	ID    int
	Value float64
	Geom  *geom.Polygon
}

// Raster is a single-band grid. Data is rows×cols with row 0 at the
// transform origin. NoData marks missing pixels; NaN always counts as
// missing.
type Raster struct {
	Data      *mat.Dense
	Transform Affine
	Proj      string
	NoData    float64
}

func (r *Raster) missing(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if math.IsNaN(r.NoData) {
		return false
	}
	return v == r.NoData
}

func (r *Raster) geographic() bool {
	return r.Proj == "" || strings.Contains(r.Proj, "+proj=longlat")
}

// Vectorize turns each pixel into its boundary box in WGS84. Missing
// pixels are dropped unless keepNoData is set. Grids in a projected CRS
// are reprojected box by box.
func (r *Raster) Vectorize(keepNoData bool) ([]Cell, error) {
	rows, cols := r.Data.Dims()

	var rep *geospatial.Reprojector
	if !r.geographic() {
		var err error
		rep, err = geospatial.NewReprojector(r.Proj, geospatial.WGS84Proj4)
		if err != nil {
			return nil, eris.Wrap(err, "raster: build reprojector")
		}
	}

	cells := make([]Cell, 0, rows*cols)
	dropped := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			v := r.Data.At(row, col)
			if r.missing(v) && !keepNoData {
				dropped++
				continue
			}

			x0, y0 := r.Transform.Apply(float64(col), float64(row))
			x1, y1 := r.Transform.Apply(float64(col+1), float64(row+1))
			box := pixelBox(x0, y0, x1, y1)

			if rep != nil {
				g, err := rep.Forward(box)
				if err != nil {
					return nil, eris.Wrapf(err, "raster: reproject pixel (%d,%d)", row, col)
				}
				box = g.(*geom.Polygon)
			}

			cells = append(cells, Cell{ID: row*cols + col, Value: v, Geom: box})
		}
	}

	if dropped > 0 {
		zap.L().Debug("raster: dropped missing pixels",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(cells)),
		)
	}
	return cells, nil
}

func pixelBox(x0, y0, x1, y1 float64) *geom.Polygon {
	xmin, xmax := math.Min(x0, x1), math.Max(x0, x1)
	ymin, ymax := math.Min(y0, y1), math.Max(y0, y1)
	return geom.NewPolygonFlat(geom.XY, []float64{
		xmin, ymin,
		xmax, ymin,
		xmax, ymax,
		xmin, ymax,
		xmin, ymin,
	}, []int{10})
}

// Stats summarizes the valid pixels of a grid.
type Stats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

// Stats scans the grid once, skipping missing pixels. An all-missing grid
// reports zeroes.
func (r *Raster) Stats() Stats {
	rows, cols := r.Data.Dims()
	valid := make([]float64, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if v := r.Data.At(row, col); !r.missing(v) {
				valid = append(valid, v)
			}
		}
	}
	if len(valid) == 0 {
		return Stats{}
	}

	s := Stats{
		Count: len(valid),
		Sum:   floats.Sum(valid),
		Min:   floats.Min(valid),
		Max:   floats.Max(valid),
	}
	zap.L().Debug("raster: stats",
		zap.Int("count", s.Count),
		zap.Float64("sum", s.Sum),
		zap.Float64("min", s.Min),
		zap.Float64("max", s.Max),
	)
	return s
}
