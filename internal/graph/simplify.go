package graph

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// SimplifyOptions controls graph reduction. MinEdgeSeparation defaults to
// twice MinEdgeLength when zero, matching how the banding pipeline calls
// it.
type SimplifyOptions struct {
	MinEdgeLength     float64
	MinEdgeSeparation float64
	KeepLoops         bool
	KeepMulti         bool
	Undirected        bool
}

// maxMergeRounds caps the merge fixpoint: moving merged nodes to their
// centroid can create new sub-threshold edges, so merging repeats until
// quiet or the cap.
const maxMergeRounds = 30

// Simplify returns a reduced copy of g: optional undirected and simple
// collapses, sub-threshold edge merging, and near-duplicate parallel edge
// removal. The input graph is never mutated.
func Simplify(g *Graph, opts SimplifyOptions) (*Graph, error) {
	if opts.MinEdgeLength < 0 || opts.MinEdgeSeparation < 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "graph: negative simplification threshold")
	}
	sep := opts.MinEdgeSeparation
	if sep == 0 {
		sep = 2 * opts.MinEdgeLength
	}

	out := g.Clone()
	if !opts.KeepLoops {
		dropLoops(out)
	}

	collapse := func() {
		if opts.Undirected {
			collapseUndirected(out)
		}
		if !opts.KeepMulti {
			collapseMulti(out)
		}
	}
	collapse()

	if opts.MinEdgeLength > 0 {
		round := 0
		for ; round < maxMergeRounds; round++ {
			if mergeShortEdges(out, opts.MinEdgeLength, sep) == 0 {
				break
			}
			collapse()
		}
		if round == maxMergeRounds {
			zap.L().Warn("graph: short-edge merging hit iteration cap",
				zap.Int("rounds", maxMergeRounds))
		}
	}

	if opts.KeepMulti && sep > 0 {
		dropNearEdges(out, sep)
	}

	zap.L().Info("graph: simplified",
		zap.Int("nodes_in", g.NumNodes()),
		zap.Int("edges_in", g.NumEdges()),
		zap.Int("nodes_out", out.NumNodes()),
		zap.Int("edges_out", out.NumEdges()),
	)
	return out, nil
}

func dropLoops(g *Graph) {
	for _, e := range g.Edges() {
		if e.U == e.V {
			g.RemoveEdge(e.U, e.V, e.Key)
		}
	}
}

// collapseUndirected rewrites every edge onto its canonical (min, max)
// endpoint pair, reversing geometry when flipped, and drops exact
// duplicates: the forward and reverse halves of a two-way road reduce to
// one stored edge. Keys are reassigned 0..n-1 per pair.
func collapseUndirected(g *Graph) {
	type pairKey struct {
		u, v int64
	}
	seen := make(map[pairKey]map[int64]bool)
	var kept []*Edge

	for _, e := range g.Edges() {
		u, v, ls := e.U, e.V, e.Geom
		if u > v {
			u, v = v, u
			ls = geospatial.Reverse(ls)
		}
		p := pairKey{u, v}
		// Compare lengths at micrometer precision; summing segment
		// lengths in opposite orders can drift in the last ulp.
		lk := int64(math.Round(e.Length * 1e6))
		if seen[p] == nil {
			seen[p] = make(map[int64]bool)
		}
		if seen[p][lk] {
			continue
		}
		seen[p][lk] = true
		kept = append(kept, &Edge{U: u, V: v, Length: e.Length, Geom: ls})
	}

	g.clearEdges()
	for _, e := range kept {
		e.Key = g.NextKey(e.U, e.V)
		g.AddEdge(e)
	}
}

// collapseMulti keeps the shortest parallel edge per endpoint pair at
// key 0.
func collapseMulti(g *Graph) {
	type pairKey struct {
		u, v int64
	}
	best := make(map[pairKey]*Edge)
	var order []pairKey

	for _, e := range g.Edges() {
		p := pairKey{e.U, e.V}
		cur, ok := best[p]
		if !ok {
			best[p] = e
			order = append(order, p)
		} else if e.Length < cur.Length {
			best[p] = e
		}
	}

	g.clearEdges()
	for _, p := range order {
		e := best[p]
		e.Key = 0
		g.AddEdge(e)
	}
}

// mergeShortEdges collapses the endpoints of every edge not longer than
// minLen into merged nodes. Endpoints cluster transitively; groups larger
// than a pair are subdivided by complete-linkage clustering with threshold
// sep so graph-adjacent but spatially distant nodes stay apart. Returns
// the number of nodes merged away.
func mergeShortEdges(g *Graph, minLen, sep float64) int {
	uf := newUnionFind()
	for _, e := range g.Edges() {
		if e.U != e.V && e.Length <= minLen {
			uf.union(e.U, e.V)
		}
	}
	groups := uf.groups()
	if len(groups) == 0 {
		return 0
	}

	roots := make([]int64, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	remap := make(map[int64]int64)
	repPos := make(map[int64]geom.Coord)
	for _, root := range roots {
		members := groups[root]
		for _, cluster := range subdivide(g, members, sep) {
			if len(cluster) < 2 {
				continue
			}
			rep := cluster[0]
			var sx, sy float64
			for _, id := range cluster {
				n, _ := g.Node(id)
				sx += n.X
				sy += n.Y
			}
			repPos[rep] = geom.Coord{sx / float64(len(cluster)), sy / float64(len(cluster))}
			for _, id := range cluster[1:] {
				remap[id] = rep
			}
		}
	}
	if len(remap) == 0 {
		return 0
	}

	for rep, pos := range repPos {
		g.AddNode(Node{ID: rep, X: pos[0], Y: pos[1]})
	}

	type pairKey struct {
		u, v int64
	}
	edges := g.Edges()
	g.clearEdges()

	var kept []*Edge
	bestMerged := make(map[pairKey]*Edge)
	var mergedOrder []pairKey

	for _, e := range edges {
		nu, nv := e.U, e.V
		moved := false
		if r, ok := remap[nu]; ok {
			nu, moved = r, true
		}
		if r, ok := remap[nv]; ok {
			nv, moved = r, true
		}
		if nu == nv && e.U != e.V {
			continue // absorbed into a merged node
		}

		_, uRep := repPos[nu]
		_, vRep := repPos[nv]
		if moved || uRep || vRep {
			e.U, e.V = nu, nv
			un, _ := g.Node(nu)
			vn, _ := g.Node(nv)
			e.Geom = rewriteEndpoints(e.Geom, un, vn)
			e.Length = e.Geom.Length()
		}

		if moved {
			p := pairKey{nu, nv}
			cur, ok := bestMerged[p]
			if !ok {
				bestMerged[p] = e
				mergedOrder = append(mergedOrder, p)
			} else if e.Length < cur.Length {
				bestMerged[p] = e
			}
		} else {
			kept = append(kept, e)
		}
	}

	for _, e := range kept {
		g.AddEdge(e)
	}
	for _, p := range mergedOrder {
		e := bestMerged[p]
		e.Key = g.NextKey(e.U, e.V)
		g.AddEdge(e)
	}
	for id := range remap {
		g.RemoveNode(id)
	}
	return len(remap)
}

// subdivide splits a merge-group by spatial proximity. Pairs merge
// unconditionally; larger groups go through complete-linkage clustering.
func subdivide(g *Graph, members []int64, sep float64) [][]int64 {
	if len(members) == 2 {
		return [][]int64{members}
	}
	coords := make([]geom.Coord, len(members))
	for i, id := range members {
		n, _ := g.Node(id)
		coords[i] = geom.Coord{n.X, n.Y}
	}
	labels := clusterComplete(coords, sep)
	clusters := make([][]int64, maxLabel(labels)+1)
	for i, l := range labels {
		clusters[l] = append(clusters[l], members[i])
	}
	return clusters
}

func maxLabel(labels []int) int {
	max := 0
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	return max
}

// rewriteEndpoints pins the geometry's first and last coordinates to the
// endpoint node positions after a merge moved them.
func rewriteEndpoints(ls *geom.LineString, u, v Node) *geom.LineString {
	flat := make([]float64, len(ls.FlatCoords()))
	copy(flat, ls.FlatCoords())
	stride := ls.Stride()
	flat[0], flat[1] = u.X, u.Y
	flat[len(flat)-stride], flat[len(flat)-stride+1] = v.X, v.Y
	return geom.NewLineStringFlat(ls.Layout(), flat)
}

// dropNearEdges thins clusters of parallel edges whose midpoints sit
// within sep of each other, keeping the shortest per cluster. Keys become
// the cluster index.
func dropNearEdges(g *Graph, sep float64) {
	type pairKey struct {
		u, v int64
	}
	byPair := make(map[pairKey][]*Edge)
	var order []pairKey

	for _, e := range g.Edges() {
		p := pairKey{e.U, e.V}
		if len(byPair[p]) == 0 {
			order = append(order, p)
		}
		byPair[p] = append(byPair[p], e)
	}

	g.clearEdges()
	for _, p := range order {
		es := byPair[p]
		if len(es) == 1 {
			es[0].Key = 0
			g.AddEdge(es[0])
			continue
		}
		mids := make([]geom.Coord, len(es))
		for i, e := range es {
			mids[i] = geospatial.Midpoint(e.Geom)
		}
		labels := clusterComplete(mids, sep)
		best := make([]*Edge, maxLabel(labels)+1)
		for i, l := range labels {
			if best[l] == nil || es[i].Length < best[l].Length {
				best[l] = es[i]
			}
		}
		for ci, e := range best {
			e.Key = ci
			g.AddEdge(e)
		}
	}
}
