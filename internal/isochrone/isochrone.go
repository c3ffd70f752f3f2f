// Package isochrone computes network-distance service areas over a routable
// graph: approximate ego subgraphs, exact single-budget reachability with
// boundary cutting, and multi-level accessibility tagging driven by a quality
// matrix. Entry points clone the input graph before inserting origins, so a
// cached graph can serve many queries.
package isochrone

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/model"
	"github.com/urbanatlas/coverage-cli/internal/quality"
)

// Direction selects how edges are traversed and which frontier edges survive
// cropping for single-budget queries. Multi-level accessibility always works
// on the undirected view.
type Direction string

const (
	// Undirected treats every edge as two-way.
	Undirected Direction = "undirected"
	// Outbound follows edge direction away from the origins.
	Outbound Direction = "outbound"
	// Inbound follows edge direction toward the origins.
	Inbound Direction = "inbound"
)

// Options tune origin snapping and boundary handling.
type Options struct {
	// MinEdgeLength is the tolerance for snapping origins to endpoint
	// nodes, suppressing frontier cuts near edge ends, and the minimum
	// remaining budget a node needs to carry a level tag.
	MinEdgeLength float64
	// MaxSnapDistance bounds the origin-to-edge snap search; zero means
	// unbounded.
	MaxSnapDistance float64
	// Direction applies to single-budget queries.
	Direction Direction
	// Exact enables boundary cutting in AccessibilityGraph.
	Exact bool
	// Crop reduces the returned graph to the reachable subgraph.
	Crop bool
}

// DefaultOptions mirror the configuration defaults for graph work.
func DefaultOptions() Options {
	return Options{
		MinEdgeLength: 10,
		Direction:     Undirected,
		Exact:         true,
		Crop:          true,
	}
}

// LevelUnassigned marks nodes and edges outside every accessibility band.
const LevelUnassigned float64 = -1

// EdgeRef identifies one stored edge of the multigraph.
type EdgeRef struct {
	U, V int64
	Key  int
}

// Levels holds the per-node and per-edge accessibility tags of one run.
// Lookups on untagged ids return LevelUnassigned.
type Levels struct {
	Nodes map[int64]float64
	Edges map[EdgeRef]float64
}

// NewLevels returns an empty tag table.
func NewLevels() *Levels {
	return &Levels{
		Nodes: make(map[int64]float64),
		Edges: make(map[EdgeRef]float64),
	}
}

// NodeLevel returns the node's level, LevelUnassigned when untagged.
func (l *Levels) NodeLevel(id int64) float64 {
	if v, ok := l.Nodes[id]; ok {
		return v
	}
	return LevelUnassigned
}

// EdgeLevel returns the edge's level, LevelUnassigned when untagged.
func (l *Levels) EdgeLevel(ref EdgeRef) float64 {
	if v, ok := l.Edges[ref]; ok {
		return v
	}
	return LevelUnassigned
}

// Area is the outcome of a single-budget reachability query.
type Area struct {
	// Graph is the working copy: origins inserted, edges cut at the budget
	// frontier when exact, cropped when requested.
	Graph *graph.Graph
	// Interior lists the node ids reached within budget.
	Interior []int64
	// Border lists the frontier node ids introduced or promoted by exact
	// cutting. Empty for approximate queries.
	Border []int64
	// Origins lists the node ids the input points snapped to, aligned with
	// the input order; -1 marks points that could not be snapped.
	Origins []int64
	// Warnings carries non-fatal degradations (empty input, nothing
	// snappable).
	Warnings []model.Warning
}

// Accessibility is the outcome of a multi-level tagging run.
type Accessibility struct {
	Graph *graph.Graph
	// Levels tags nodes and edges with the strongest accessibility level
	// that covers them.
	Levels *Levels
	// Interior lists tagged node ids; Border lists frontier node ids from
	// exact cutting.
	Interior []int64
	Border   []int64
	Origins  []int64
	Warnings []model.Warning
}

// EgoGraph returns the approximate service area: every node within budget of
// an origin, with no boundary cutting. With Crop set the graph is reduced to
// the subgraph induced by the reached nodes.
func EgoGraph(g *graph.Graph, points []model.WeightedPoint, budget float64, opts Options) (*Area, error) {
	if budget <= 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "isochrone: non-positive budget")
	}
	work := g.Clone()
	snapped, warnings, err := insertOrigins(work, points, opts)
	if err != nil {
		return nil, err
	}
	origins := validIDs(snapped)
	if len(origins) == 0 {
		return emptyArea(g.Proj(), snapped, warnings), nil
	}

	dist := searchByDirection(work, origins, budget, opts.Direction)
	interior := sortedIDs(dist)
	if opts.Crop {
		work = induced(work, interior)
	}
	zap.L().Info("isochrone: ego graph",
		zap.Float64("budget", budget),
		zap.Int("origins", len(origins)),
		zap.Int("reached", len(interior)))
	return &Area{Graph: work, Interior: interior, Origins: snapped, Warnings: warnings}, nil
}

// Reachable returns the exact service area for one distance budget: origins
// inserted, the graph cut where the remaining budget hits zero inside an
// edge, and the interior and border node sets. With Crop set the graph is
// reduced per the direction policy.
func Reachable(g *graph.Graph, points []model.WeightedPoint, budget float64, opts Options) (*Area, error) {
	if budget <= 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "isochrone: non-positive budget")
	}
	if opts.MinEdgeLength < 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "isochrone: negative tolerance")
	}
	work := g.Clone()
	snapped, warnings, err := insertOrigins(work, points, opts)
	if err != nil {
		return nil, err
	}
	origins := validIDs(snapped)
	if len(origins) == 0 {
		return emptyArea(g.Proj(), snapped, warnings), nil
	}

	dist := searchByDirection(work, origins, budget, opts.Direction)
	remaining := make(map[int64]float64, len(dist))
	for n, d := range dist {
		remaining[n] = budget - d
	}
	interior := sortedIDs(dist)

	c := &cutter{
		g:      work,
		levels: NewLevels(),
		tol:    opts.MinEdgeLength,
		uSide:  opts.Direction != Inbound,
		vSide:  opts.Direction != Outbound,
	}
	candidates := c.apply([]levelField{{value: budget, remaining: remaining}})
	border := subtractIDs(candidates, dist)

	if opts.Crop {
		work = crop(work, interior, border, opts.MinEdgeLength, opts.Direction)
	}
	zap.L().Info("isochrone: reachable area",
		zap.Float64("budget", budget),
		zap.Int("origins", len(origins)),
		zap.Int("interior", len(interior)),
		zap.Int("border", len(border)))
	return &Area{Graph: work, Interior: interior, Border: border, Origins: snapped, Warnings: warnings}, nil
}

// AccessibilityGraph tags the graph with accessibility levels from the
// quality matrix: one bounded search per processing-order step, remaining
// budgets merged per level keeping the larger value, then node and edge
// tagging and, when exact, boundary cutting with stronger frontiers taking
// priority. Searches, cutting, and cropping all use the undirected view.
func AccessibilityGraph(g *graph.Graph, points []model.WeightedPoint, m *quality.Matrix, opts Options) (*Accessibility, error) {
	if opts.MinEdgeLength < 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "isochrone: negative tolerance")
	}
	work := g.Clone()
	snapped, warnings, err := insertOrigins(work, points, opts)
	if err != nil {
		return nil, err
	}
	byQuality := originsByQuality(points, snapped)
	if len(byQuality) == 0 {
		return emptyAccessibility(g.Proj(), snapped, warnings), nil
	}
	if m == nil || len(m.Qualities) == 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "isochrone: empty quality matrix")
	}

	// One bounded search per step; remaining budgets merge into the step's
	// level keeping the larger value.
	fields := make(map[float64]map[int64]float64)
	for _, st := range m.ProcessingOrder() {
		origins := stepOrigins(byQuality, st.Qualities)
		if len(origins) == 0 {
			continue
		}
		dist := graph.ShortestFrom(work, origins, st.Distance, true)
		f := fields[st.Level]
		if f == nil {
			f = make(map[int64]float64)
			fields[st.Level] = f
		}
		for n, d := range dist {
			if r := st.Distance - d; r > f[n] {
				f[n] = r
			}
		}
	}

	ordered := make([]levelField, 0, len(fields))
	for _, v := range m.LevelValues() {
		if f, ok := fields[v]; ok {
			ordered = append(ordered, levelField{value: v, remaining: f})
		}
	}

	lv := NewLevels()
	for _, n := range work.Nodes() {
		for _, f := range ordered {
			if f.remaining[n.ID] > opts.MinEdgeLength {
				lv.Nodes[n.ID] = f.value
				break
			}
		}
	}
	// Snapshot the tagged originals before cutting adds frontier nodes.
	tagged := make(map[int64]float64, len(lv.Nodes))
	for id, v := range lv.Nodes {
		tagged[id] = v
	}

	var border []int64
	if opts.Exact {
		c := &cutter{g: work, levels: lv, tol: opts.MinEdgeLength, uSide: true, vSide: true}
		candidates := c.apply(ordered)
		border = subtractIDs(candidates, tagged)
	}

	// Edges without an explicit sub-edge tag take the weaker endpoint tag.
	for _, e := range work.Edges() {
		ref := EdgeRef{U: e.U, V: e.V, Key: e.Key}
		if _, ok := lv.Edges[ref]; ok {
			continue
		}
		tu, okU := lv.Nodes[e.U]
		tv, okV := lv.Nodes[e.V]
		if okU && okV {
			lv.Edges[ref] = math.Min(tu, tv)
		}
	}

	interior := sortedIDs(tagged)

	if opts.Crop {
		work = crop(work, interior, border, opts.MinEdgeLength, Undirected)
		pruneLevels(lv, work)
	}
	zap.L().Info("isochrone: accessibility graph",
		zap.Int("levels", len(ordered)),
		zap.Int("tagged_nodes", len(lv.Nodes)),
		zap.Int("tagged_edges", len(lv.Edges)),
		zap.Int("border", len(border)))
	return &Accessibility{
		Graph:    work,
		Levels:   lv,
		Interior: interior,
		Border:   border,
		Origins:  snapped,
		Warnings: warnings,
	}, nil
}

// insertOrigins projects lon/lat points into the graph's reference system
// and snaps each onto the nearest edge, splitting edges where needed. The
// returned slice maps each point to its node id, -1 where no edge was in
// reach.
func insertOrigins(g *graph.Graph, points []model.WeightedPoint, opts Options) ([]int64, []model.Warning, error) {
	if len(points) == 0 {
		w := model.Warningf(model.WarnEmptyInput, "isochrone: no origin points")
		zap.L().Warn("isochrone: no origin points")
		return nil, []model.Warning{w}, nil
	}

	coords := make([]geom.Coord, len(points))
	if g.Proj() == geospatial.WGS84Proj4 || g.Proj() == "" {
		for i, pt := range points {
			coords[i] = geom.Coord{pt.Lon(), pt.Lat()}
		}
	} else {
		rp, err := geospatial.NewReprojector(geospatial.WGS84Proj4, g.Proj())
		if err != nil {
			return nil, nil, eris.Wrap(err, "isochrone: build origin reprojector")
		}
		for i, pt := range points {
			x, y, err := rp.ForwardCoord(pt.Lon(), pt.Lat())
			if err != nil {
				return nil, nil, eris.Wrapf(err, "isochrone: project origin %q", pt.ID)
			}
			coords[i] = geom.Coord{x, y}
		}
	}

	ids := graph.InsertPoints(g, coords, graph.InsertOptions{
		MinEdgeLength:   opts.MinEdgeLength,
		MaxSnapDistance: opts.MaxSnapDistance,
	})
	snapped := 0
	for _, id := range ids {
		if id >= 0 {
			snapped++
		}
	}
	var warnings []model.Warning
	if snapped == 0 {
		w := model.Warningf(model.WarnUnreachableGeometry,
			"isochrone: none of %d origins reached the network", len(points))
		zap.L().Warn("isochrone: no origin snapped to the network",
			zap.Int("points", len(points)),
			zap.Float64("max_snap", opts.MaxSnapDistance))
		warnings = append(warnings, w)
	} else if snapped < len(points) {
		zap.L().Debug("isochrone: origins dropped during snapping",
			zap.Int("snapped", snapped),
			zap.Int("points", len(points)))
	}
	return ids, warnings, nil
}

func searchByDirection(g *graph.Graph, origins []int64, cutoff float64, dir Direction) map[int64]float64 {
	switch dir {
	case Outbound:
		return graph.ShortestFrom(g, origins, cutoff, false)
	case Inbound:
		return graph.ShortestInto(g, origins, cutoff)
	default:
		return graph.ShortestFrom(g, origins, cutoff, true)
	}
}

// originsByQuality groups snapped node ids by the service-quality key the
// matrix rows are built from.
func originsByQuality(points []model.WeightedPoint, snapped []int64) map[float64][]int64 {
	byQuality := make(map[float64][]int64)
	for i, pt := range points {
		if snapped[i] < 0 {
			continue
		}
		key := quality.Round3(quality.ServiceQuality(pt.Stars))
		byQuality[key] = append(byQuality[key], snapped[i])
	}
	return byQuality
}

// stepOrigins unions the node groups for the step's quality keys; an empty
// key list matches every group.
func stepOrigins(byQuality map[float64][]int64, keys []float64) []int64 {
	var out []int64
	if len(keys) == 0 {
		for _, ids := range byQuality {
			out = append(out, ids...)
		}
	} else {
		for _, k := range keys {
			out = append(out, byQuality[k]...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			out = append(out, id)
		}
	}
	return out
}

func sortedIDs(m map[int64]float64) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// subtractIDs drops border candidates that are interior nodes.
func subtractIDs(ids []int64, interior map[int64]float64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := interior[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// pruneLevels drops tags for nodes and edges cropped out of the graph.
func pruneLevels(lv *Levels, g *graph.Graph) {
	for id := range lv.Nodes {
		if !g.HasNode(id) {
			delete(lv.Nodes, id)
		}
	}
	for ref := range lv.Edges {
		if _, ok := g.Edge(ref.U, ref.V, ref.Key); !ok {
			delete(lv.Edges, ref)
		}
	}
}

func emptyArea(proj string, snapped []int64, warnings []model.Warning) *Area {
	return &Area{Graph: graph.New(proj), Origins: snapped, Warnings: warnings}
}

func emptyAccessibility(proj string, snapped []int64, warnings []model.Warning) *Accessibility {
	return &Accessibility{
		Graph:    graph.New(proj),
		Levels:   NewLevels(),
		Origins:  snapped,
		Warnings: warnings,
	}
}
