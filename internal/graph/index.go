package graph

import (
	"math"

	cgeom "github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/twpayne/go-geom"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
)

// edgeBox adapts an edge's bounding box to the R-tree's spatial interface.
type edgeBox struct {
	e *Edge
	b *cgeom.Bounds
}

func (eb *edgeBox) Bounds() *cgeom.Bounds { return eb.b }

// EdgeIndex answers nearest-edge queries over a snapshot of a graph's
// edges. Splits performed after construction are not reflected, so callers
// rebuild per insertion batch.
type EdgeIndex struct {
	tree  *rtree.Rtree
	count int
	min   geom.Coord
	max   geom.Coord
}

// NewEdgeIndex builds an R-tree over the bounding boxes of g's edges.
func NewEdgeIndex(g *Graph) *EdgeIndex {
	idx := &EdgeIndex{
		tree: rtree.NewTree(25, 50),
		min:  geom.Coord{math.Inf(1), math.Inf(1)},
		max:  geom.Coord{math.Inf(-1), math.Inf(-1)},
	}
	for _, e := range g.Edges() {
		if e.Geom == nil {
			continue
		}
		b := e.Geom.Bounds()
		idx.tree.Insert(&edgeBox{
			e: e,
			b: &cgeom.Bounds{
				Min: cgeom.Point{X: b.Min(0), Y: b.Min(1)},
				Max: cgeom.Point{X: b.Max(0), Y: b.Max(1)},
			},
		})
		idx.count++
		idx.min[0] = math.Min(idx.min[0], b.Min(0))
		idx.min[1] = math.Min(idx.min[1], b.Min(1))
		idx.max[0] = math.Max(idx.max[0], b.Max(0))
		idx.max[1] = math.Max(idx.max[1], b.Max(1))
	}
	return idx
}

// Nearest returns the edge closest to c along with the projection of c
// onto it: the distance along the edge geometry and the offset from it.
// A positive maxDist bounds the search radius; zero means unbounded. The
// last return is false when no edge lies within the bound.
func (idx *EdgeIndex) Nearest(c geom.Coord, maxDist float64) (*Edge, float64, float64, bool) {
	if idx.count == 0 {
		return nil, 0, 0, false
	}

	radius := maxDist
	if radius <= 0 {
		radius = math.Max(idx.max[0]-idx.min[0], idx.max[1]-idx.min[1]) / 1024
		if radius <= 0 {
			radius = 1
		}
	}

	for {
		best, bestAlong, bestDist, found := idx.scan(c, radius)
		if found && bestDist <= radius {
			return best, bestAlong, bestDist, true
		}
		if maxDist > 0 {
			return nil, 0, 0, false
		}
		if c[0]-radius <= idx.min[0] && c[1]-radius <= idx.min[1] &&
			c[0]+radius >= idx.max[0] && c[1]+radius >= idx.max[1] {
			// The box already covers the whole index; the best candidate,
			// if any, is the global nearest.
			return best, bestAlong, bestDist, found
		}
		radius *= 2
	}
}

// scan projects c onto every edge whose box intersects the search window
// and keeps the closest.
func (idx *EdgeIndex) scan(c geom.Coord, radius float64) (*Edge, float64, float64, bool) {
	window := &cgeom.Bounds{
		Min: cgeom.Point{X: c[0] - radius, Y: c[1] - radius},
		Max: cgeom.Point{X: c[0] + radius, Y: c[1] + radius},
	}

	var best *Edge
	bestAlong, bestDist := 0.0, math.Inf(1)
	for _, item := range idx.tree.SearchIntersect(window) {
		e := item.(*edgeBox).e
		along, dist := geospatial.Project(e.Geom, c)
		if dist < bestDist {
			best, bestAlong, bestDist = e, along, dist
		}
	}
	return best, bestAlong, bestDist, best != nil
}
