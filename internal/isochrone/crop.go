package isochrone

import "github.com/urbanatlas/coverage-cli/internal/graph"

// induced returns the subgraph over the given nodes, keeping every edge with
// both endpoints retained. Edges are shared with g, which the caller owns.
func induced(g *graph.Graph, keep []int64) *graph.Graph {
	out := graph.New(g.Proj())
	set := make(map[int64]bool, len(keep))
	for _, id := range keep {
		if n, ok := g.Node(id); ok {
			set[id] = true
			out.AddNode(n)
		}
	}
	for _, e := range g.Edges() {
		if set[e.U] && set[e.V] {
			out.AddEdge(e)
		}
	}
	return out
}

// crop reduces the graph to the interior and border nodes. Interior-interior
// edges always survive, frontier edges survive per the direction policy, and
// border-border edges only when shorter than twice the tolerance, which
// keeps opposing frontiers from leaving gaps where they nearly meet.
func crop(g *graph.Graph, interior, border []int64, tol float64, dir Direction) *graph.Graph {
	out := graph.New(g.Proj())
	if len(interior) == 0 {
		return out
	}
	in := make(map[int64]bool, len(interior))
	bd := make(map[int64]bool, len(border))
	for _, id := range interior {
		if n, ok := g.Node(id); ok {
			in[id] = true
			out.AddNode(n)
		}
	}
	for _, id := range border {
		if n, ok := g.Node(id); ok {
			bd[id] = true
			out.AddNode(n)
		}
	}
	for _, e := range g.Edges() {
		if keepEdge(e, in, bd, tol, dir) {
			out.AddEdge(e)
		}
	}
	return out
}

func keepEdge(e *graph.Edge, in, bd map[int64]bool, tol float64, dir Direction) bool {
	switch {
	case in[e.U] && in[e.V]:
		return true
	case bd[e.U] && bd[e.V]:
		return e.Length < 2*tol
	case dir == Outbound:
		return in[e.U] && bd[e.V]
	case dir == Inbound:
		return bd[e.U] && in[e.V]
	default:
		return (in[e.U] && bd[e.V]) || (bd[e.U] && in[e.V])
	}
}
