package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/isochrone"
)

// WriteNetworkGeoJSON writes a service-area graph as two WGS84 feature
// collections: nodes as points, edges as linestrings. Edges without stored
// geometry get a straight segment between their endpoints. levels is
// optional; when given, node and edge features carry the level tag of the
// run (LevelUnassigned for untouched ids).
func WriteNetworkGeoJSON(nodesPath, edgesPath string, g *graph.Graph, levels *isochrone.Levels) error {
	if g == nil {
		return eris.New("ingest: nil graph")
	}

	var rp *geospatial.Reprojector
	if g.Proj() != "" && g.Proj() != geospatial.WGS84Proj4 {
		var err error
		rp, err = geospatial.NewReprojector(g.Proj(), geospatial.WGS84Proj4)
		if err != nil {
			return eris.Wrap(err, "ingest: build network reprojector")
		}
	}

	nodes := g.Nodes()
	nodeFC := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(nodes))}
	for _, n := range nodes {
		x, y := n.X, n.Y
		if rp != nil {
			var err error
			x, y, err = rp.ForwardCoord(n.X, n.Y)
			if err != nil {
				return eris.Wrapf(err, "ingest: unproject node %d", n.ID)
			}
		}
		props := map[string]any{"id": n.ID}
		if levels != nil {
			props["level"] = levels.NodeLevel(n.ID)
		}
		nodeFC.Features = append(nodeFC.Features, &geojson.Feature{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{x, y}),
			Properties: props,
		})
	}
	if err := writeFeatureCollection(nodesPath, nodeFC); err != nil {
		return err
	}

	edges := g.Edges()
	edgeFC := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(edges))}
	for _, e := range edges {
		line := e.Geom
		if line == nil {
			u, uok := g.Node(e.U)
			v, vok := g.Node(e.V)
			if !uok || !vok {
				continue
			}
			line = geom.NewLineStringFlat(geom.XY, []float64{u.X, u.Y, v.X, v.Y})
		}
		out := geom.T(line)
		if rp != nil {
			var err error
			out, err = rp.Forward(line)
			if err != nil {
				return eris.Wrapf(err, "ingest: unproject edge %d-%d", e.U, e.V)
			}
		}
		props := map[string]any{
			"u":      e.U,
			"v":      e.V,
			"key":    e.Key,
			"length": e.Length,
		}
		if levels != nil {
			props["level"] = levels.EdgeLevel(isochrone.EdgeRef{U: e.U, V: e.V, Key: e.Key})
		}
		edgeFC.Features = append(edgeFC.Features, &geojson.Feature{
			Geometry:   out,
			Properties: props,
		})
	}
	return writeFeatureCollection(edgesPath, edgeFC)
}
