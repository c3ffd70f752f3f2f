package geospatial

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Centroid computes the centroid of g in its own CRS: area-weighted for
// polygons, length-weighted for lines, the coordinate mean for points.
// Like the linear-referencing helpers this stays in go-geom coordinate
// math so graph and grid paths avoid GEOS round trips.
func Centroid(g geom.T) (geom.Coord, error) {
	switch t := g.(type) {
	case *geom.Point:
		return geom.Coord{t.X(), t.Y()}, nil
	case *geom.MultiPoint:
		return flatMean(t.FlatCoords(), t.Stride())
	case *geom.LineString:
		return lineCentroid([][]float64{t.FlatCoords()}, t.Stride())
	case *geom.MultiLineString:
		flats := make([][]float64, 0, t.NumLineStrings())
		for i := 0; i < t.NumLineStrings(); i++ {
			flats = append(flats, t.LineString(i).FlatCoords())
		}
		return lineCentroid(flats, t.Stride())
	case *geom.Polygon:
		return areaCentroid([]*geom.Polygon{t})
	case *geom.MultiPolygon:
		polys := make([]*geom.Polygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
		return areaCentroid(polys)
	default:
		return nil, eris.Errorf("geospatial: centroid of unsupported geometry %T", g)
	}
}

func flatMean(flat []float64, stride int) (geom.Coord, error) {
	if len(flat) == 0 {
		return nil, eris.New("geospatial: centroid of empty geometry")
	}
	var sx, sy float64
	n := 0
	for i := 0; i+1 < len(flat); i += stride {
		sx += flat[i]
		sy += flat[i+1]
		n++
	}
	return geom.Coord{sx / float64(n), sy / float64(n)}, nil
}

// lineCentroid weights each segment midpoint by its length. Zero-length
// inputs fall back to the coordinate mean.
func lineCentroid(flats [][]float64, stride int) (geom.Coord, error) {
	var sx, sy, total float64
	var all []float64
	for _, flat := range flats {
		all = append(all, flat...)
		for i := 0; i+stride+1 < len(flat); i += stride {
			dx := flat[i+stride] - flat[i]
			dy := flat[i+stride+1] - flat[i+1]
			l := math.Hypot(dx, dy)
			sx += (flat[i] + flat[i+stride]) / 2 * l
			sy += (flat[i+1] + flat[i+stride+1]) / 2 * l
			total += l
		}
	}
	if total == 0 {
		return flatMean(all, stride)
	}
	return geom.Coord{sx / total, sy / total}, nil
}

// areaCentroid applies the shoelace centroid per ring, counting interior
// rings negatively. Degenerate zero-area inputs fall back to the exterior
// coordinate mean.
func areaCentroid(polys []*geom.Polygon) (geom.Coord, error) {
	var sx, sy, total float64
	var exterior []float64
	for _, p := range polys {
		for r := 0; r < p.NumLinearRings(); r++ {
			flat := p.LinearRing(r).FlatCoords()
			if r == 0 {
				exterior = append(exterior, flat...)
			}
			a, cx, cy := ringCentroid(flat, p.Stride())
			if r > 0 {
				a = -a
			}
			sx += cx * a
			sy += cy * a
			total += a
		}
	}
	if total == 0 {
		return flatMean(exterior, 2)
	}
	return geom.Coord{sx / total, sy / total}, nil
}

// ringCentroid returns the absolute shoelace area and centroid of one ring.
func ringCentroid(flat []float64, stride int) (area, cx, cy float64) {
	var a, sx, sy float64
	for i := 0; i+stride+1 < len(flat); i += stride {
		x0, y0 := flat[i], flat[i+1]
		x1, y1 := flat[i+stride], flat[i+stride+1]
		cross := x0*y1 - x1*y0
		a += cross
		sx += (x0 + x1) * cross
		sy += (y0 + y1) * cross
	}
	if a == 0 {
		return 0, 0, 0
	}
	return math.Abs(a) / 2, sx / (3 * a), sy / (3 * a)
}
