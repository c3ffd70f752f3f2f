package ingest

import (
	"context"
	"io"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/graph"
)

// DriveProfile lists the highway classes routable by car.
var DriveProfile = map[string]bool{
	"motorway": true, "motorway_link": true,
	"trunk": true, "trunk_link": true,
	"primary": true, "primary_link": true,
	"secondary": true, "secondary_link": true,
	"tertiary": true, "tertiary_link": true,
	"unclassified": true, "residential": true,
	"living_street": true, "service": true,
}

// OSMOptions configures the PBF scan.
type OSMOptions struct {
	// Profile is the set of routable highway classes. Nil means DriveProfile.
	Profile map[string]bool
	// Procs is the decoder parallelism. Zero means GOMAXPROCS.
	Procs int
}

// osmWay is one routable way after the tag filter: its node sequence and the
// directions it may be traversed in.
type osmWay struct {
	id      osm.WayID
	nodes   []osm.NodeID
	oneway  bool
	reverse bool // oneway=-1: drawn against the digitization direction
}

// LoadOSMGraph builds a directed street graph from an OSM PBF extract. The
// file is scanned twice, ways first to learn which nodes matter, then nodes
// for their coordinates. The graph lives in the UTM zone of the extract's
// centroid; every consecutive node pair becomes one edge (plus the reverse
// edge on two-way roads), leaving chain contraction to the simplifier.
func LoadOSMGraph(ctx context.Context, path string, opts OSMOptions) (*graph.Graph, error) {
	if opts.Profile == nil {
		opts.Profile = DriveProfile
	}
	if opts.Procs <= 0 {
		opts.Procs = runtime.GOMAXPROCS(0)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open pbf %s", path)
	}
	defer func() { _ = f.Close() }()

	ways, need, err := scanWays(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	if len(ways) == 0 {
		return nil, eris.Errorf("ingest: no routable ways in %s", path)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, eris.Wrapf(err, "ingest: rewind pbf %s", path)
	}
	coords, err := scanNodes(ctx, f, need, opts)
	if err != nil {
		return nil, err
	}

	g, err := buildGraph(ways, coords)
	if err != nil {
		return nil, err
	}
	zap.L().Info("ingest: osm graph loaded",
		zap.String("path", path),
		zap.Int("ways", len(ways)),
		zap.Int("nodes", g.NumNodes()),
		zap.Int("edges", g.NumEdges()))
	return g, nil
}

// scanWays collects routable ways and the set of node ids they reference.
func scanWays(ctx context.Context, r io.Reader, opts OSMOptions) ([]osmWay, map[osm.NodeID]struct{}, error) {
	scanner := osmpbf.New(ctx, r, opts.Procs)
	defer func() { _ = scanner.Close() }()
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	progress := rate.NewLimiter(rate.Every(3*time.Second), 1)
	var ways []osmWay
	need := make(map[osm.NodeID]struct{})
	for scanner.Scan() {
		way, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}
		w, routable := classifyWay(way, opts.Profile)
		if !routable {
			continue
		}
		for _, id := range w.nodes {
			need[id] = struct{}{}
		}
		ways = append(ways, w)

		if progress.Allow() {
			zap.L().Debug("ingest: scanning ways", zap.Int("kept", len(ways)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "ingest: scan ways")
	}
	return ways, need, nil
}

// classifyWay applies the routability filter and decodes the direction tags.
// Ways tagged area=yes are plazas drawn as rings, not roads.
func classifyWay(way *osm.Way, profile map[string]bool) (osmWay, bool) {
	if !profile[way.Tags.Find("highway")] || way.Tags.Find("area") == "yes" || len(way.Nodes) < 2 {
		return osmWay{}, false
	}
	w := osmWay{id: way.ID, nodes: make([]osm.NodeID, len(way.Nodes))}
	for i, wn := range way.Nodes {
		w.nodes[i] = wn.ID
	}
	switch way.Tags.Find("oneway") {
	case "yes", "1", "true":
		w.oneway = true
	case "-1":
		w.oneway = true
		w.reverse = true
	default:
		if way.Tags.Find("junction") == "roundabout" {
			w.oneway = true
		}
	}
	return w, true
}

// scanNodes resolves the coordinates of the referenced nodes.
func scanNodes(ctx context.Context, r io.Reader, need map[osm.NodeID]struct{}, opts OSMOptions) (map[osm.NodeID]orb.Point, error) {
	scanner := osmpbf.New(ctx, r, opts.Procs)
	defer func() { _ = scanner.Close() }()
	scanner.SkipWays = true
	scanner.SkipRelations = true

	progress := rate.NewLimiter(rate.Every(3*time.Second), 1)
	coords := make(map[osm.NodeID]orb.Point, len(need))
	for scanner.Scan() {
		node, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, wanted := need[node.ID]; !wanted {
			continue
		}
		coords[node.ID] = orb.Point{node.Lon, node.Lat}

		if progress.Allow() {
			zap.L().Debug("ingest: resolving nodes",
				zap.Int("resolved", len(coords)),
				zap.Int("needed", len(need)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "ingest: scan nodes")
	}
	return coords, nil
}

// buildGraph projects the network into the UTM zone of its centroid and
// emits one directed edge per consecutive node pair. Node ids are the OSM
// ids; edge lengths are planar meters of the projected geometry.
func buildGraph(ways []osmWay, coords map[osm.NodeID]orb.Point) (*graph.Graph, error) {
	if len(coords) == 0 {
		return nil, eris.New("ingest: pbf references no resolvable nodes")
	}
	var sumLon, sumLat float64
	for _, pt := range coords {
		sumLon += pt[0]
		sumLat += pt[1]
	}
	cLon, cLat := sumLon/float64(len(coords)), sumLat/float64(len(coords))

	zone, north := geospatial.UTMZone(cLon, cLat)
	proj4 := geospatial.UTMProj4(zone, north)
	rep, err := geospatial.NewReprojector(geospatial.WGS84Proj4, proj4)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: build working projection")
	}

	g := graph.New(proj4)
	projected := make(map[osm.NodeID][2]float64, len(coords))
	var geodesicTotal float64
	var dangling int

	addEdge := func(u, v osm.NodeID) {
		a, b := projected[u], projected[v]
		ls := geom.NewLineStringFlat(geom.XY, []float64{a[0], a[1], b[0], b[1]})
		g.AddEdge(&graph.Edge{
			U:      int64(u),
			V:      int64(v),
			Key:    g.NextKey(int64(u), int64(v)),
			Length: math.Hypot(b[0]-a[0], b[1]-a[1]),
			Geom:   ls,
		})
	}

	for _, w := range ways {
		prev := osm.NodeID(0)
		havePrev := false
		for _, id := range w.nodes {
			pt, known := coords[id]
			if !known {
				dangling++
				havePrev = false
				continue
			}
			if _, done := projected[id]; !done {
				x, y, err := rep.ForwardCoord(pt[0], pt[1])
				if err != nil {
					return nil, eris.Wrapf(err, "ingest: project node %d", id)
				}
				projected[id] = [2]float64{x, y}
				g.AddNode(graph.Node{ID: int64(id), X: x, Y: y})
			}
			if !havePrev {
				prev, havePrev = id, true
				continue
			}

			seg := geo.Distance(coords[prev], pt)
			if seg == 0 {
				continue
			}
			geodesicTotal += seg

			forward := !w.oneway || !w.reverse
			backward := !w.oneway || w.reverse
			if forward {
				addEdge(prev, id)
			}
			if backward {
				addEdge(id, prev)
			}
			prev = id
		}
	}

	if g.NumEdges() == 0 {
		return nil, eris.New("ingest: no routable edges after node resolution")
	}
	if dangling > 0 {
		zap.L().Warn("ingest: ways reference missing nodes", zap.Int("dangling", dangling))
	}
	zap.L().Debug("ingest: network length",
		zap.Float64("geodesic_km", geodesicTotal/1000),
		zap.Int("zone", zone))
	return g, nil
}
