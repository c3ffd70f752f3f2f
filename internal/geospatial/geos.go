package geospatial

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	geos "github.com/twpayne/go-geos"
)

// BufferQuadsegs is the quarter-circle resolution used for accessibility
// buffers. Four segments per quadrant keeps band polygons light while the
// banding error stays well under a meter at neighborhood radii.
const BufferQuadsegs = 4

// Ops bundles the GEOS-backed boolean operations used by the banding and
// hex-aggregation paths. Geometries produced by one Ops belong to its
// context and must not be mixed with geometries from another.
type Ops struct {
	ctx *geos.Context
}

// NewOps returns an Ops with a fresh GEOS context.
func NewOps() *Ops {
	return &Ops{ctx: geos.NewContext()}
}

// ToGeos converts a go-geom geometry into a GEOS geometry via WKB.
func (o *Ops) ToGeos(g geom.T) (*geos.Geom, error) {
	raw, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: encode geometry")
	}
	gg, err := o.ctx.NewGeomFromWKB(raw)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: decode geometry into GEOS")
	}
	return gg, nil
}

// FromGeos converts a GEOS geometry back into a go-geom geometry.
func (o *Ops) FromGeos(g *geos.Geom) (geom.T, error) {
	out, err := wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: decode geometry from GEOS")
	}
	return out, nil
}

// Point builds a GEOS point from a planar coordinate.
func (o *Ops) Point(x, y float64) (*geos.Geom, error) {
	return o.ToGeos(geom.NewPointFlat(geom.XY, []float64{x, y}))
}

// EmptyPolygon returns a new empty polygon, the neutral element for unions
// and differences.
func (o *Ops) EmptyPolygon() (*geos.Geom, error) {
	return o.ToGeos(geom.NewPolygon(geom.XY))
}

// Buffer expands g by dist with quadsegs segments per quarter circle. The
// unit of dist is whatever CRS g lives in, so callers reproject to a metric
// CRS first.
func (o *Ops) Buffer(g *geos.Geom, dist float64, quadsegs int) *geos.Geom {
	return g.Buffer(dist, quadsegs)
}

// UnionAll folds a slice of GEOS geometries into their union. The inputs
// are consumed: ownership passes to the returned geometry. An empty or
// all-nil slice yields an empty polygon.
func (o *Ops) UnionAll(gs []*geos.Geom) (*geos.Geom, error) {
	var acc *geos.Geom
	for _, g := range gs {
		if g == nil {
			continue
		}
		if acc == nil {
			acc = g
			continue
		}
		merged := acc.Union(g)
		acc.Destroy()
		g.Destroy()
		acc = merged
	}
	if acc == nil {
		return o.EmptyPolygon()
	}
	return acc, nil
}

// Difference returns a minus b without consuming either input. A nil b
// leaves a unchanged.
func (o *Ops) Difference(a, b *geos.Geom) *geos.Geom {
	if b == nil {
		return a.Clone()
	}
	return a.Difference(b)
}

// Area returns the planar area of g, zero for nil.
func (o *Ops) Area(g *geos.Geom) float64 {
	if g == nil {
		return 0
	}
	return g.Area()
}

// Intersects reports whether a and b share any point. Nil inputs never
// intersect.
func (o *Ops) Intersects(a, b *geos.Geom) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Intersects(b)
}

// Contains reports whether a wholly contains b.
func (o *Ops) Contains(a, b *geos.Geom) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Contains(b)
}
