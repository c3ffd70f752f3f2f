package geospatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Dist returns the planar distance between two coordinates.
func Dist(a, b geom.Coord) float64 {
	return math.Hypot(b[0]-a[0], b[1]-a[1])
}

func lerp(a, b geom.Coord, t float64) geom.Coord {
	return geom.Coord{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
}

// PointAt returns the coordinate at distance d along ls, clamped to its ends.
func PointAt(ls *geom.LineString, d float64) geom.Coord {
	coords := ls.Coords()
	if d <= 0 {
		return geom.Coord{coords[0][0], coords[0][1]}
	}
	acc := 0.0
	for i := 1; i < len(coords); i++ {
		seg := Dist(coords[i-1], coords[i])
		if acc+seg >= d && seg > 0 {
			return lerp(coords[i-1], coords[i], (d-acc)/seg)
		}
		acc += seg
	}
	last := coords[len(coords)-1]
	return geom.Coord{last[0], last[1]}
}

// Midpoint returns the coordinate halfway along ls.
func Midpoint(ls *geom.LineString) geom.Coord {
	return PointAt(ls, ls.Length()/2)
}

// Project returns the distance along ls of the point closest to c and the
// planar distance from c to that point.
func Project(ls *geom.LineString, c geom.Coord) (along, dist float64) {
	coords := ls.Coords()
	best := math.Inf(1)
	bestAlong := 0.0
	acc := 0.0
	for i := 1; i < len(coords); i++ {
		a, b := coords[i-1], coords[i]
		seg := Dist(a, b)
		t := 0.0
		if seg > 0 {
			t = ((c[0]-a[0])*(b[0]-a[0]) + (c[1]-a[1])*(b[1]-a[1])) / (seg * seg)
			t = math.Max(0, math.Min(1, t))
		}
		p := lerp(a, b, t)
		if d := Dist(c, p); d < best {
			best = d
			bestAlong = acc + t*seg
		}
		acc += seg
	}
	return bestAlong, best
}

// CutAt splits ls at the given ascending distances from its start and returns
// the len(offsets)+1 pieces in order. Offsets outside (0, length) produce
// degenerate end pieces, so callers keep cuts strictly interior.
func CutAt(ls *geom.LineString, offsets []float64) []*geom.LineString {
	coords := ls.Coords()
	parts := make([]*geom.LineString, 0, len(offsets)+1)

	cur := []geom.Coord{{coords[0][0], coords[0][1]}}
	next := 0
	acc := 0.0
	for i := 1; i < len(coords); i++ {
		seg := Dist(coords[i-1], coords[i])
		for next < len(offsets) && offsets[next] <= acc+seg {
			t := 0.0
			if seg > 0 {
				t = (offsets[next] - acc) / seg
			}
			cut := lerp(coords[i-1], coords[i], t)
			cur = appendCoord(cur, cut)
			parts = append(parts, newLine(cur))
			cur = []geom.Coord{cut}
			next++
		}
		cur = appendCoord(cur, geom.Coord{coords[i][0], coords[i][1]})
		acc += seg
	}
	for next < len(offsets) {
		// Offset beyond the line length: close the current piece and start a
		// degenerate one at the end point.
		end := cur[len(cur)-1]
		parts = append(parts, newLine(cur))
		cur = []geom.Coord{end}
		next++
	}
	parts = append(parts, newLine(cur))
	return parts
}

// Reverse returns a copy of ls with its coordinates in opposite order.
func Reverse(ls *geom.LineString) *geom.LineString {
	flat := ls.FlatCoords()
	stride := ls.Stride()
	out := make([]float64, len(flat))
	n := len(flat) / stride
	for i := 0; i < n; i++ {
		copy(out[i*stride:(i+1)*stride], flat[(n-1-i)*stride:(n-i)*stride])
	}
	return geom.NewLineStringFlat(ls.Layout(), out)
}

func appendCoord(coords []geom.Coord, c geom.Coord) []geom.Coord {
	if n := len(coords); n > 0 && coords[n-1][0] == c[0] && coords[n-1][1] == c[1] {
		return coords
	}
	return append(coords, c)
}

func newLine(coords []geom.Coord) *geom.LineString {
	if len(coords) == 1 {
		coords = append(coords, geom.Coord{coords[0][0], coords[0][1]})
	}
	ls := geom.NewLineString(geom.XY)
	ls.MustSetCoords(coords)
	return ls
}
