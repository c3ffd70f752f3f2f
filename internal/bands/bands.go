// Package bands produces disjoint accessibility bands: each service point is
// buffered out to the distances its quality level reaches, per-level buffers
// are unioned, and levels are differenced strongest-first so every location
// belongs to exactly one band.
package bands

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	geos "github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/quality"
)

// Options tunes band construction.
type Options struct {
	// Quadsegs is the quarter-circle resolution of each buffer. Zero falls
	// back to geospatial.BufferQuadsegs.
	Quadsegs int
}

// DefaultOptions returns the production banding parameters.
func DefaultOptions() Options {
	return Options{Quadsegs: geospatial.BufferQuadsegs}
}

// Coverage builds one band per accessibility level in the matrix, strongest
// first. Buffering and differencing run in the UTM zone at the points'
// centroid; returned geometries are WGS84. An empty point set degrades to
// one empty band per level with a warning.
func Coverage(points []model.WeightedPoint, m *quality.Matrix, opts Options) ([]model.Band, []model.Warning, error) {
	if m == nil || len(m.Levels) == 0 {
		return nil, nil, eris.Wrap(model.ErrConfiguration, "bands: quality matrix is empty")
	}
	if opts.Quadsegs <= 0 {
		opts.Quadsegs = geospatial.BufferQuadsegs
	}

	levels := m.LevelValues()
	if len(points) == 0 {
		zap.L().Warn("bands: no service points, emitting empty bands",
			zap.Int("levels", len(levels)))
		warns := []model.Warning{model.Warningf(model.WarnEmptyInput, "no service points supplied")}
		return emptyBands(levels), warns, nil
	}

	proj, err := workingProjection(points)
	if err != nil {
		return nil, nil, err
	}

	coordsByKey := make(map[float64][]float64)
	for _, pt := range points {
		x, y, err := proj.ForwardCoord(pt.Lon(), pt.Lat())
		if err != nil {
			return nil, nil, eris.Wrapf(err, "bands: project point %q", pt.ID)
		}
		key := quality.Round3(quality.ServiceQuality(pt.Stars))
		coordsByKey[key] = append(coordsByKey[key], x, y)
	}

	ops := geospatial.NewOps()
	order := m.ProcessingOrder()
	perLevel := make(map[float64][]*geos.Geom, len(levels))
	for _, st := range order {
		coords := stepCoords(coordsByKey, st.Qualities)
		if len(coords) == 0 {
			continue
		}
		mp, err := ops.ToGeos(geom.NewMultiPointFlat(geom.XY, coords))
		if err != nil {
			return nil, nil, err
		}
		buf := ops.Buffer(mp, st.Distance, opts.Quadsegs)
		mp.Destroy()
		perLevel[st.Level] = append(perLevel[st.Level], buf)
		zap.L().Debug("bands: buffered step",
			zap.Float64("level", st.Level),
			zap.Float64("distance", st.Distance),
			zap.Int("points", len(coords)/2))
	}

	bands := make([]model.Band, 0, len(levels))
	var covered *geos.Geom
	for i, level := range levels {
		union, err := ops.UnionAll(perLevel[level])
		if err != nil {
			return nil, nil, err
		}
		banded := ops.Difference(union, covered)
		if covered == nil {
			covered = union
		} else {
			merged := covered.Union(union)
			covered.Destroy()
			union.Destroy()
			covered = merged
		}

		planar, err := ops.FromGeos(banded)
		banded.Destroy()
		if err != nil {
			return nil, nil, err
		}
		wgs, err := proj.Inverse(planar)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "bands: reproject band %s", quality.FormatLevel(level))
		}
		bands = append(bands, model.Band{
			Label: quality.FormatLevel(level),
			Rank:  i + 1,
			Level: level,
			Geom:  wgs,
		})
	}
	if covered != nil {
		covered.Destroy()
	}

	zap.L().Info("bands: coverage bands built",
		zap.Int("points", len(points)),
		zap.Int("levels", len(levels)),
		zap.Int("steps", len(order)))
	return bands, nil, nil
}

// workingProjection estimates the metric working CRS from the centroid of
// the input points.
func workingProjection(points []model.WeightedPoint) (*geospatial.Reprojector, error) {
	var lon, lat float64
	for _, pt := range points {
		lon += pt.Lon()
		lat += pt.Lat()
	}
	n := float64(len(points))
	r, err := geospatial.UTMFor(lon/n, lat/n)
	if err != nil {
		return nil, eris.Wrap(err, "bands: build working projection")
	}
	return r, nil
}

// stepCoords gathers the projected flat coordinates of every point whose
// quality key is in keys. An empty keys slice matches all points.
func stepCoords(byKey map[float64][]float64, keys []float64) []float64 {
	if len(keys) == 0 {
		keys = make([]float64, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Float64s(keys)
	}
	var flat []float64
	for _, k := range keys {
		flat = append(flat, byKey[k]...)
	}
	return flat
}

func emptyBands(levels []float64) []model.Band {
	bands := make([]model.Band, len(levels))
	for i, level := range levels {
		bands[i] = model.Band{
			Label: quality.FormatLevel(level),
			Rank:  i + 1,
			Level: level,
			Geom:  geom.NewPolygon(geom.XY),
		}
	}
	return bands
}
