// Package graph implements the routable street network: a directed
// multigraph in a projected CRS with linestring edge geometry, plus the
// simplification and surgery operations the isochrone paths build on.
package graph

import (
	"sort"

	"github.com/twpayne/go-geom"
)

// Node is a graph vertex positioned in the graph's projected CRS.
type Node struct {
	ID int64
	X  float64
	Y  float64
}

// Edge connects U to V along a linestring whose first and last coordinates
// coincide with the endpoint nodes. Parallel edges between the same
// endpoints are told apart by Key. Length is in CRS units (meters).
type Edge struct {
	U      int64
	V      int64
	Key    int
	Length float64
	Geom   *geom.LineString
}

// Graph is a directed multigraph. An undirected network stores each road
// once with U ≤ V and is traversed with the undirected flag set on the
// search operations. Nodes must be added before edges referencing them.
type Graph struct {
	proj     string
	nodes    map[int64]Node
	out      map[int64]map[int64]map[int]*Edge
	in       map[int64]map[int64]map[int]*Edge
	numEdges int
	maxID    int64
}

// New returns an empty graph whose coordinates live in the CRS described
// by the proj4 string.
func New(proj string) *Graph {
	return &Graph{
		proj:  proj,
		nodes: make(map[int64]Node),
		out:   make(map[int64]map[int64]map[int]*Edge),
		in:    make(map[int64]map[int64]map[int]*Edge),
	}
}

// Proj returns the proj4 string of the graph's CRS.
func (g *Graph) Proj() string { return g.proj }

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the edge count including parallel edges.
func (g *Graph) NumEdges() int { return g.numEdges }

// HasNode reports whether id is a vertex of the graph.
func (g *Graph) HasNode(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the vertex with the given id.
func (g *Graph) Node(id int64) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// AddNode inserts or repositions a vertex.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
	if n.ID > g.maxID {
		g.maxID = n.ID
	}
}

// RemoveNode deletes a vertex and every edge incident to it.
func (g *Graph) RemoveNode(id int64) {
	for v, keys := range g.out[id] {
		for key := range keys {
			g.RemoveEdge(id, v, key)
		}
	}
	for u, keys := range g.in[id] {
		for key := range keys {
			g.RemoveEdge(u, id, key)
		}
	}
	delete(g.nodes, id)
}

// MaxNodeID returns the highest vertex id ever added, zero for a fresh
// graph. Split operations allocate new ids above it; removals never lower
// it, so ids are never reused.
func (g *Graph) MaxNodeID() int64 {
	return g.maxID
}

// Edge returns the edge stored at (u, v, key).
func (g *Graph) Edge(u, v int64, key int) (*Edge, bool) {
	e, ok := g.out[u][v][key]
	return e, ok
}

// AddEdge stores e at (e.U, e.V, e.Key), replacing any edge already there.
func (g *Graph) AddEdge(e *Edge) {
	if g.out[e.U] == nil {
		g.out[e.U] = make(map[int64]map[int]*Edge)
	}
	if g.out[e.U][e.V] == nil {
		g.out[e.U][e.V] = make(map[int]*Edge)
	}
	if g.in[e.V] == nil {
		g.in[e.V] = make(map[int64]map[int]*Edge)
	}
	if g.in[e.V][e.U] == nil {
		g.in[e.V][e.U] = make(map[int]*Edge)
	}
	if _, exists := g.out[e.U][e.V][e.Key]; !exists {
		g.numEdges++
	}
	g.out[e.U][e.V][e.Key] = e
	g.in[e.V][e.U][e.Key] = e
}

// NextKey returns the smallest key not in use between u and v.
func (g *Graph) NextKey(u, v int64) int {
	keys := g.out[u][v]
	for k := 0; ; k++ {
		if _, used := keys[k]; !used {
			return k
		}
	}
}

// RemoveEdge deletes the edge at (u, v, key) if present.
func (g *Graph) RemoveEdge(u, v int64, key int) {
	if _, ok := g.out[u][v][key]; !ok {
		return
	}
	delete(g.out[u][v], key)
	if len(g.out[u][v]) == 0 {
		delete(g.out[u], v)
	}
	delete(g.in[v][u], key)
	if len(g.in[v][u]) == 0 {
		delete(g.in[v], u)
	}
	g.numEdges--
}

// clearEdges drops every edge but keeps the vertices. Rebuild passes use it
// to re-insert a filtered edge set.
func (g *Graph) clearEdges() {
	g.out = make(map[int64]map[int64]map[int]*Edge)
	g.in = make(map[int64]map[int64]map[int]*Edge)
	g.numEdges = 0
}

// EdgesBetween returns the parallel edges from u to v ordered by key.
func (g *Graph) EdgesBetween(u, v int64) []*Edge {
	keys := g.out[u][v]
	out := make([]*Edge, 0, len(keys))
	for _, e := range keys {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// OutEdges returns the edges leaving u ordered by (v, key).
func (g *Graph) OutEdges(u int64) []*Edge {
	var out []*Edge
	for _, keys := range g.out[u] {
		for _, e := range keys {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// InEdges returns the edges entering v ordered by (u, key).
func (g *Graph) InEdges(v int64) []*Edge {
	var out []*Edge
	for _, keys := range g.in[v] {
		for _, e := range keys {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// Edges returns every edge ordered by (u, v, key). The slice is fresh but
// the edges are the graph's own; mutating them mutates the graph.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, g.numEdges)
	for _, vs := range g.out {
		for _, keys := range vs {
			for _, e := range keys {
				out = append(out, e)
			}
		}
	}
	sortEdges(out)
	return out
}

// Nodes returns every vertex ordered by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortEdges(es []*Edge) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].U != es[j].U {
			return es[i].U < es[j].U
		}
		if es[i].V != es[j].V {
			return es[i].V < es[j].V
		}
		return es[i].Key < es[j].Key
	})
}

// Clone returns a deep copy: edges and their geometries are duplicated so
// surgery on the copy never reaches back into the original.
func (g *Graph) Clone() *Graph {
	out := New(g.proj)
	out.maxID = g.maxID
	for id, n := range g.nodes {
		out.nodes[id] = n
	}
	for _, vs := range g.out {
		for _, keys := range vs {
			for _, e := range keys {
				out.AddEdge(&Edge{
					U:      e.U,
					V:      e.V,
					Key:    e.Key,
					Length: e.Length,
					Geom:   cloneLine(e.Geom),
				})
			}
		}
	}
	return out
}

func cloneLine(ls *geom.LineString) *geom.LineString {
	if ls == nil {
		return nil
	}
	flat := make([]float64, len(ls.FlatCoords()))
	copy(flat, ls.FlatCoords())
	return geom.NewLineStringFlat(ls.Layout(), flat)
}
