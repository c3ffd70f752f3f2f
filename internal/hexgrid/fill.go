package hexgrid

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	geos "github.com/twpayne/go-geos"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// ContainMode picks the rule deciding which cells a polygon claims.
type ContainMode string

const (
	// ContainCenter keeps cells whose center lies inside the polygon.
	ContainCenter ContainMode = "center"
	// ContainFull keeps cells wholly inside the polygon.
	ContainFull ContainMode = "full"
	// ContainOverlap keeps cells sharing any point with the polygon.
	ContainOverlap ContainMode = "overlap"
	// ContainBBoxOverlap keeps cells whose bounding box overlaps.
	ContainBBoxOverlap ContainMode = "bbox_overlap"
	// ContainCentroid reduces the geometry to its centroid first.
	ContainCentroid ContainMode = "centroid"
	// ContainCenterOverlap tries center and falls back to overlap when no
	// cell center is hit. The default.
	ContainCenterOverlap ContainMode = "center_overlap"
)

// thinBuffer fattens lines and multipoints into fillable polygons, in
// meters.
const thinBuffer = 0.01

// FillOptions tune geometry-to-cell rasterization.
type FillOptions struct {
	// Buffer expands every geometry by this many meters before filling.
	Buffer float64
	// Contain picks the containment rule; empty means ContainCenterOverlap.
	Contain ContainMode
}

// CellsInGeometry rasterizes WGS84 geometries into H3 cells at the given
// resolution, one deduplicated cell list per input geometry. Metric
// buffering happens in each geometry's local UTM zone; the polygon fill
// itself always runs on WGS84 coordinates.
func CellsInGeometry(geoms []geom.T, resolution int, opts FillOptions) ([][]h3.Cell, error) {
	if resolution < 0 || resolution > 15 {
		return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: resolution %d outside 0..15", resolution)
	}
	mode := opts.Contain
	if mode == "" {
		mode = ContainCenterOverlap
	}
	switch mode {
	case ContainCenter, ContainFull, ContainOverlap, ContainBBoxOverlap, ContainCentroid, ContainCenterOverlap:
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "hexgrid: unknown containment mode %q", mode)
	}

	ops := geospatial.NewOps()
	out := make([][]h3.Cell, len(geoms))
	total := 0
	for i, g := range geoms {
		cells, err := fillGeometry(ops, g, resolution, opts.Buffer, mode)
		if err != nil {
			return nil, eris.Wrapf(err, "hexgrid: fill geometry %d", i)
		}
		out[i] = cells
		total += len(cells)
	}

	zap.L().Debug("hexgrid: rasterized geometries",
		zap.Int("geometries", len(geoms)),
		zap.Int("resolution", resolution),
		zap.Int("cells", total),
		zap.String("contain", string(mode)))
	return out, nil
}

func fillGeometry(ops *geospatial.Ops, g geom.T, resolution int, buffer float64, mode ContainMode) ([]h3.Cell, error) {
	if g == nil {
		return nil, nil
	}
	if lr, ok := g.(*geom.LinearRing); ok {
		g = geom.NewLineStringFlat(lr.Layout(), lr.FlatCoords())
	}
	if empty(g) {
		return nil, nil
	}

	if buffer > 0 {
		var err error
		g, err = bufferMeters(ops, g, buffer)
		if err != nil {
			return nil, err
		}
	}

	if gc, ok := g.(*geom.GeometryCollection); ok {
		flat, err := flattenCollection(ops, gc)
		if err != nil {
			return nil, err
		}
		if flat == nil {
			return nil, nil
		}
		g = flat
	}

	if mode == ContainCentroid {
		c, err := geospatial.Centroid(g)
		if err != nil {
			return nil, err
		}
		g = geom.NewPointFlat(geom.XY, []float64{c[0], c[1]})
	}

	if lineLike(g) {
		var err error
		g, err = bufferMeters(ops, g, thinBuffer)
		if err != nil {
			return nil, err
		}
	}

	switch t := g.(type) {
	case *geom.Point:
		cell, err := h3.LatLngToCell(h3.NewLatLng(t.Y(), t.X()), resolution)
		if err != nil {
			return nil, eris.Wrap(err, "hexgrid: map point to cell")
		}
		return []h3.Cell{cell}, nil
	case *geom.Polygon:
		cells, err := fillPolygon(t, resolution, mode)
		if err != nil {
			return nil, err
		}
		return dedupeCells(cells), nil
	case *geom.MultiPolygon:
		var cells []h3.Cell
		for i := 0; i < t.NumPolygons(); i++ {
			sub, err := fillPolygon(t.Polygon(i), resolution, mode)
			if err != nil {
				return nil, err
			}
			cells = append(cells, sub...)
		}
		return dedupeCells(cells), nil
	default:
		return nil, nil
	}
}

// fillPolygon claims cells for one polygon under the containment rule.
func fillPolygon(p *geom.Polygon, resolution int, mode ContainMode) ([]h3.Cell, error) {
	gp, ok := geoPolygon(p)
	if !ok {
		return nil, nil
	}

	switch mode {
	case ContainFull:
		cells, err := h3.PolygonToCellsExperimental(gp, resolution, h3.ContainmentFull)
		return cells, eris.Wrap(err, "hexgrid: fill polygon")
	case ContainOverlap:
		cells, err := h3.PolygonToCellsExperimental(gp, resolution, h3.ContainmentOverlapping)
		return cells, eris.Wrap(err, "hexgrid: fill polygon")
	case ContainBBoxOverlap:
		cells, err := h3.PolygonToCellsExperimental(gp, resolution, h3.ContainmentOverlappingBbox)
		return cells, eris.Wrap(err, "hexgrid: fill polygon")
	default:
		cells, err := h3.PolygonToCells(gp, resolution)
		if err != nil {
			return nil, eris.Wrap(err, "hexgrid: fill polygon")
		}
		if mode == ContainCenterOverlap && len(cells) == 0 {
			cells, err = h3.PolygonToCellsExperimental(gp, resolution, h3.ContainmentOverlapping)
			if err != nil {
				return nil, eris.Wrap(err, "hexgrid: fill polygon")
			}
			zap.L().Debug("hexgrid: center fill empty, fell back to overlap",
				zap.Int("cells", len(cells)))
		}
		return cells, nil
	}
}

// geoPolygon converts a go-geom polygon into the H3 loop form. Degenerate
// rings with fewer than three distinct vertices report ok=false.
func geoPolygon(p *geom.Polygon) (h3.GeoPolygon, bool) {
	if p.NumLinearRings() == 0 {
		return h3.GeoPolygon{}, false
	}
	outer := geoLoop(p.LinearRing(0).FlatCoords(), p.Stride())
	if len(outer) < 3 {
		return h3.GeoPolygon{}, false
	}
	gp := h3.GeoPolygon{GeoLoop: outer}
	for i := 1; i < p.NumLinearRings(); i++ {
		hole := geoLoop(p.LinearRing(i).FlatCoords(), p.Stride())
		if len(hole) >= 3 {
			gp.Holes = append(gp.Holes, hole)
		}
	}
	return gp, true
}

func geoLoop(flat []float64, stride int) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		loop = append(loop, h3.NewLatLng(flat[i+1], flat[i]))
	}
	if len(loop) > 1 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

// bufferMeters buffers a WGS84 geometry by dist meters in its local UTM
// zone and returns the result back in WGS84.
func bufferMeters(ops *geospatial.Ops, g geom.T, dist float64) (geom.T, error) {
	lon, lat, err := anchorCoord(g)
	if err != nil {
		return nil, err
	}
	rep, err := geospatial.UTMFor(lon, lat)
	if err != nil {
		return nil, err
	}
	planar, err := rep.Forward(g)
	if err != nil {
		return nil, err
	}
	gg, err := ops.ToGeos(planar)
	if err != nil {
		return nil, err
	}
	buf := ops.Buffer(gg, dist, geospatial.BufferQuadsegs)
	gg.Destroy()
	out, err := ops.FromGeos(buf)
	buf.Destroy()
	if err != nil {
		return nil, err
	}
	return rep.Inverse(out)
}

// flattenCollection dissolves a collection into one geometry. Mixed
// dimensions keep only the highest-dimension members, the same absorption
// a union overlay would apply.
func flattenCollection(ops *geospatial.Ops, gc *geom.GeometryCollection) (geom.T, error) {
	var polys, lines, points []geom.T
	collectLeaves(gc, &polys, &lines, &points)

	pick := polys
	if len(pick) == 0 {
		pick = lines
	}
	if len(pick) == 0 {
		pick = points
	}
	switch len(pick) {
	case 0:
		return nil, nil
	case 1:
		return pick[0], nil
	}

	gs := make([]*geos.Geom, 0, len(pick))
	for _, member := range pick {
		gg, err := ops.ToGeos(member)
		if err != nil {
			return nil, err
		}
		gs = append(gs, gg)
	}
	union, err := ops.UnionAll(gs)
	if err != nil {
		return nil, err
	}
	defer union.Destroy()
	return ops.FromGeos(union)
}

func collectLeaves(g geom.T, polys, lines, points *[]geom.T) {
	switch t := g.(type) {
	case *geom.GeometryCollection:
		for _, member := range t.Geoms() {
			collectLeaves(member, polys, lines, points)
		}
	case *geom.Polygon, *geom.MultiPolygon:
		if !empty(g) {
			*polys = append(*polys, g)
		}
	case *geom.LineString, *geom.MultiLineString:
		if !empty(g) {
			*lines = append(*lines, g)
		}
	case *geom.LinearRing:
		if !empty(g) {
			*lines = append(*lines, geom.NewLineStringFlat(t.Layout(), t.FlatCoords()))
		}
	case *geom.Point, *geom.MultiPoint:
		if !empty(g) {
			*points = append(*points, g)
		}
	}
}

func lineLike(g geom.T) bool {
	switch g.(type) {
	case *geom.LineString, *geom.MultiLineString, *geom.MultiPoint:
		return true
	}
	return false
}

// empty reports whether a non-collection geometry has no coordinates.
func empty(g geom.T) bool {
	if _, ok := g.(*geom.GeometryCollection); ok {
		return false
	}
	return len(g.FlatCoords()) == 0
}

// anchorCoord picks a representative lon/lat used to choose a UTM zone.
func anchorCoord(g geom.T) (float64, float64, error) {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, member := range gc.Geoms() {
			if lon, lat, err := anchorCoord(member); err == nil {
				return lon, lat, nil
			}
		}
		return 0, 0, eris.New("hexgrid: empty geometry collection")
	}
	flat := g.FlatCoords()
	if len(flat) < 2 {
		return 0, 0, eris.New("hexgrid: empty geometry")
	}
	return flat[0], flat[1], nil
}

func dedupeCells(cells []h3.Cell) []h3.Cell {
	if len(cells) < 2 {
		return cells
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })
	out := cells[:1]
	for _, c := range cells[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}
