package graph

import (
	"sort"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
)

// SplitEdge replaces e with a chain of sub-edges cut at the given
// ascending interior offsets along its geometry, inserting one node per
// cut. Sub-edge lengths are recomputed from the cut geometry. Returns the
// inserted node ids in offset order.
func SplitEdge(g *Graph, e *Edge, offsets []float64) []int64 {
	if len(offsets) == 0 {
		return nil
	}
	parts := geospatial.CutAt(e.Geom, offsets)
	g.RemoveEdge(e.U, e.V, e.Key)

	ids := make([]int64, 0, len(offsets))
	prev := e.U
	for i, part := range parts {
		var to int64
		if i == len(parts)-1 {
			to = e.V
		} else {
			to = g.MaxNodeID() + 1
			c := part.Coord(part.NumCoords() - 1)
			g.AddNode(Node{ID: to, X: c[0], Y: c[1]})
			ids = append(ids, to)
		}
		g.AddEdge(&Edge{
			U:      prev,
			V:      to,
			Key:    g.NextKey(prev, to),
			Length: part.Length(),
			Geom:   part,
		})
		prev = to
	}
	return ids
}

// InsertOptions controls snapping during point insertion.
type InsertOptions struct {
	// MinEdgeLength is the snap tolerance: projections within it of an
	// edge end reuse the endpoint node, and positions within it of each
	// other on one edge collapse to their mean.
	MinEdgeLength float64
	// MaxSnapDistance bounds how far a point may sit from the network.
	// Zero means unbounded.
	MaxSnapDistance float64
}

// InsertPoints snaps each point onto its nearest edge and splits edges so
// every snapped position becomes a node. The result holds one node id per
// input point, -1 where no edge lay within reach. The graph is modified
// in place; insertion works per stored edge, so run it on graphs whose
// two-way roads are already collapsed.
func InsertPoints(g *Graph, pts []geom.Coord, opts InsertOptions) []int64 {
	result := make([]int64, len(pts))
	for i := range result {
		result[i] = -1
	}
	if len(pts) == 0 || g.NumEdges() == 0 {
		return result
	}

	idx := NewEdgeIndex(g)

	type snap struct {
		point int
		along float64
	}
	type edgeKey struct {
		u, v int64
		key  int
	}
	snaps := make(map[edgeKey][]snap)
	edges := make(map[edgeKey]*Edge)

	for i, c := range pts {
		e, along, _, ok := idx.Nearest(c, opts.MaxSnapDistance)
		if !ok {
			zap.L().Debug("graph: point beyond snap distance",
				zap.Int("point", i),
				zap.Float64("max_snap", opts.MaxSnapDistance),
			)
			continue
		}
		geomLen := e.Geom.Length()
		switch {
		case along <= opts.MinEdgeLength:
			result[i] = e.U
		case geomLen-along <= opts.MinEdgeLength:
			result[i] = e.V
		default:
			k := edgeKey{e.U, e.V, e.Key}
			snaps[k] = append(snaps[k], snap{point: i, along: along})
			edges[k] = e
		}
	}

	keys := make([]edgeKey, 0, len(snaps))
	for k := range snaps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].u != keys[j].u {
			return keys[i].u < keys[j].u
		}
		if keys[i].v != keys[j].v {
			return keys[i].v < keys[j].v
		}
		return keys[i].key < keys[j].key
	})

	for _, k := range keys {
		group := snaps[k]
		sort.Slice(group, func(i, j int) bool { return group[i].along < group[j].along })

		// Positions within tolerance of each other share one cut at their
		// mean offset.
		coords := make([]geom.Coord, len(group))
		for i, s := range group {
			coords[i] = geom.Coord{s.along, 0}
		}
		labels := clusterComplete(coords, opts.MinEdgeLength)

		sums := make([]float64, maxLabel(labels)+1)
		counts := make([]int, len(sums))
		for i, l := range labels {
			sums[l] += group[i].along
			counts[l]++
		}
		offsets := make([]float64, len(sums))
		for l := range sums {
			offsets[l] = sums[l] / float64(counts[l])
		}
		order := make([]int, len(offsets))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool { return offsets[order[i]] < offsets[order[j]] })

		sorted := make([]float64, len(offsets))
		rank := make([]int, len(offsets)) // cluster label → position in ascending cut order
		for pos, l := range order {
			sorted[pos] = offsets[l]
			rank[l] = pos
		}

		ids := SplitEdge(g, edges[k], sorted)
		for i, s := range group {
			result[s.point] = ids[rank[labels[i]]]
		}
	}

	return result
}
