package ingest

import (
	"math"
	"os"

	"github.com/ctessum/cdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/urbanatlas/coverage-cli/internal/raster"
)

// LoadPopulationRaster reads a COARDS-style NetCDF grid: a 2-D data variable
// whose dimensions name 1-D coordinate variables (latitude first, longitude
// second). An empty varName picks the first 2-D variable in the file. The
// fill value comes from the _FillValue or missing_value attribute, NaN when
// neither is set.
func LoadPopulationRaster(path, varName string) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open netcdf %s", path)
	}
	defer func() { _ = f.Close() }()

	nc, err := cdf.Open(f)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse netcdf %s", path)
	}

	name := varName
	if name == "" {
		for _, v := range nc.Header.Variables() {
			if len(nc.Header.Lengths(v)) == 2 {
				name = v
				break
			}
		}
		if name == "" {
			return nil, eris.Errorf("ingest: no 2-d grid variable in %s", path)
		}
	}

	dims := nc.Header.Dimensions(name)
	lens := nc.Header.Lengths(name)
	if len(dims) != 2 || len(lens) != 2 {
		return nil, eris.Errorf("ingest: variable %q is not a 2-d grid", name)
	}
	rows, cols := lens[0], lens[1]

	lat, err := readFloats(nc, dims[0], rows)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read coordinate %q", dims[0])
	}
	lon, err := readFloats(nc, dims[1], cols)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read coordinate %q", dims[1])
	}
	if len(lat) < 2 || len(lon) < 2 {
		return nil, eris.Errorf("ingest: grid %q too small (%dx%d)", name, rows, cols)
	}

	data, err := readFloats(nc, name, rows*cols)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read variable %q", name)
	}

	// Coordinate variables give pixel centers; the transform maps corners.
	dy := lat[1] - lat[0]
	dx := lon[1] - lon[0]
	if dx == 0 || dy == 0 {
		return nil, eris.Errorf("ingest: degenerate cell size %gx%g in %s", dx, dy, path)
	}

	r := &raster.Raster{
		Data: mat.NewDense(rows, cols, data),
		Transform: raster.Affine{
			A: dx, C: lon[0] - dx/2,
			E: dy, F: lat[0] - dy/2,
		},
		NoData: fillValue(nc.Header, name),
	}
	zap.L().Info("ingest: population raster loaded",
		zap.String("path", path),
		zap.String("variable", name),
		zap.Int("rows", rows),
		zap.Int("cols", cols))
	return r, nil
}

// readFloats reads a whole variable as float64 regardless of its on-disk
// type.
func readFloats(nc *cdf.File, name string, n int) ([]float64, error) {
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, eris.Wrap(err, "ingest: read values")
	}
	return toFloat64s(buf)
}

func toFloat64s(buf any) ([]float64, error) {
	switch vals := buf.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, eris.Errorf("ingest: unsupported netcdf value type %T", buf)
	}
}

func fillValue(h *cdf.Header, name string) float64 {
	for _, attr := range []string{"_FillValue", "missing_value"} {
		switch v := h.GetAttribute(name, attr).(type) {
		case []float64:
			if len(v) > 0 {
				return v[0]
			}
		case []float32:
			if len(v) > 0 {
				return float64(v[0])
			}
		case []int32:
			if len(v) > 0 {
				return float64(v[0])
			}
		}
	}
	return math.NaN()
}
