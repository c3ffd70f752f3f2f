package isochrone

import (
	"sort"

	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/graph"
)

// levelField is one accessibility level's remaining-budget table. Fields are
// ordered strongest level first; remaining budgets nest across levels (a
// weaker level never has less budget left at a node than a stronger one).
type levelField struct {
	value     float64
	remaining map[int64]float64
}

// cutter splits edges where an accessibility frontier crosses them. Stronger
// frontiers take priority: a weaker level's cut is suppressed when it falls
// inside (or within tolerance of) the extent a stronger level already covers
// from either end. Frontiers landing within tolerance of an edge end promote
// that endpoint to a border node instead of splitting.
type cutter struct {
	g      *graph.Graph
	levels *Levels
	tol    float64
	uSide  bool // coverage may extend from the u endpoint
	vSide  bool // coverage may extend from the v endpoint
}

// coverage is one level's reach into a single edge.
type coverage struct {
	value  float64
	ru, rv float64
}

// frontier is a pending cut: the offset along the edge geometry and the
// level whose boundary sits there.
type frontier struct {
	pos   float64
	level float64
}

// apply cuts every edge a frontier crosses, tags new nodes with the level
// whose boundary they mark, assigns explicit sub-edge tags, and returns the
// border candidates: new frontier nodes plus endpoints a frontier landed on.
// Callers subtract interior nodes from the candidates.
func (c *cutter) apply(fields []levelField) []int64 {
	var borders []int64
	seen := make(map[int64]bool)
	addBorder := func(id int64) {
		if !seen[id] {
			seen[id] = true
			borders = append(borders, id)
		}
	}

	cutEdges, newNodes := 0, 0
	for _, e := range c.g.Edges() {
		ids := c.cutEdge(e, fields, addBorder)
		if len(ids) > 0 {
			cutEdges++
			newNodes += len(ids)
		}
	}
	if cutEdges > 0 {
		zap.L().Debug("isochrone: cut frontier edges",
			zap.Int("edges", cutEdges),
			zap.Int("new_nodes", newNodes))
	}
	sort.Slice(borders, func(i, j int) bool { return borders[i] < borders[j] })
	return borders
}

// cutEdge resolves all frontiers crossing one edge and splits it at the
// surviving positions. Returns the new node ids, empty when the edge is left
// whole.
func (c *cutter) cutEdge(e *graph.Edge, fields []levelField, addBorder func(int64)) []int64 {
	length := e.Length
	if length <= 0 || e.Geom == nil {
		return nil
	}

	covs := make([]coverage, 0, len(fields))
	for _, f := range fields {
		var ru, rv float64
		if c.uSide {
			if r := f.remaining[e.U]; r > 0 {
				ru = r
			}
		}
		if c.vSide {
			if r := f.remaining[e.V]; r > 0 {
				rv = r
			}
		}
		if ru == 0 && rv == 0 {
			continue
		}
		covs = append(covs, coverage{value: f.value, ru: ru, rv: rv})
	}
	if len(covs) == 0 {
		return nil
	}

	var cuts []frontier
	coveredU, coveredV := 0.0, 0.0
	for _, cv := range covs {
		if cv.ru+cv.rv >= length-c.tol {
			// The level's frontiers overlap: the edge lies inside it. An
			// endpoint the coverage barely reaches, or just misses, sits
			// on the boundary.
			if cv.ru <= c.tol {
				addBorder(e.U)
			}
			if cv.rv <= c.tol {
				addBorder(e.V)
			}
			coveredU, coveredV = length, length
			continue
		}
		if cv.ru > 0 {
			switch {
			case cv.ru <= c.tol:
				addBorder(e.U)
			case cv.ru > coveredU+c.tol && cv.ru < length-coveredV-c.tol:
				cuts = append(cuts, frontier{pos: cv.ru, level: cv.value})
			}
			if cv.ru > coveredU {
				coveredU = cv.ru
			}
		}
		if cv.rv > 0 {
			pos := length - cv.rv
			switch {
			case cv.rv <= c.tol:
				addBorder(e.V)
			case pos > coveredU+c.tol && pos < length-coveredV-c.tol:
				cuts = append(cuts, frontier{pos: pos, level: cv.value})
			}
			if cv.rv > coveredV {
				coveredV = cv.rv
			}
		}
	}

	if len(cuts) == 0 {
		// Left whole: an edge fully inside a level carries that level
		// explicitly, so endpoint tags cannot water it down.
		for _, cv := range covs {
			if cv.ru+cv.rv >= length-c.tol {
				c.levels.Edges[EdgeRef{U: e.U, V: e.V, Key: e.Key}] = cv.value
				break
			}
		}
		return nil
	}

	sort.Slice(cuts, func(i, j int) bool { return cuts[i].pos < cuts[j].pos })
	offsets := make([]float64, len(cuts))
	for i, f := range cuts {
		offsets[i] = f.pos
	}

	u, v := e.U, e.V
	ids := graph.SplitEdge(c.g, e, offsets)
	for i, id := range ids {
		c.levels.Nodes[id] = cuts[i].level
		addBorder(id)
	}

	// Every sub-edge gets an explicit tag, the strongest level covering its
	// midpoint, or LevelUnassigned for the stretch beyond all frontiers.
	chain := make([]int64, 0, len(ids)+2)
	chain = append(chain, u)
	chain = append(chain, ids...)
	chain = append(chain, v)
	bounds := make([]float64, 0, len(offsets)+2)
	bounds = append(bounds, 0)
	bounds = append(bounds, offsets...)
	bounds = append(bounds, length)
	for i := 0; i+1 < len(chain); i++ {
		es := c.g.EdgesBetween(chain[i], chain[i+1])
		if len(es) == 0 {
			continue
		}
		se := es[len(es)-1]
		mid := (bounds[i] + bounds[i+1]) / 2
		c.levels.Edges[EdgeRef{U: se.U, V: se.V, Key: se.Key}] = coverAt(covs, mid, length, c.tol)
	}
	return ids
}

// coverAt returns the strongest level covering the given offset of an edge,
// LevelUnassigned when none reaches it.
func coverAt(covs []coverage, pos, length, tol float64) float64 {
	for _, cv := range covs {
		if cv.ru+cv.rv >= length-tol || pos <= cv.ru || pos >= length-cv.rv {
			return cv.value
		}
	}
	return LevelUnassigned
}
