// Package geospatial bridges the planar geometry stack: UTM projection of
// lon/lat geometries, GEOS-backed overlay operations, and linear referencing
// along line strings.
package geospatial

import (
	"fmt"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// WGS84Proj4 is the lon/lat reference system all ingested geometry arrives in.
const WGS84Proj4 = "+proj=longlat +datum=WGS84 +no_defs"

// UTMZone picks the UTM zone containing the given lon/lat.
func UTMZone(lon, lat float64) (zone int, north bool) {
	zone = int((lon+180)/6) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return zone, lat >= 0
}

// UTMProj4 renders the proj4 definition of a UTM zone. The zone is expanded
// to its transverse-mercator form rather than the +proj=utm alias.
func UTMProj4(zone int, north bool) string {
	y0 := 0
	if !north {
		y0 = 10000000
	}
	return fmt.Sprintf(
		"+proj=tmerc +lat_0=0 +lon_0=%d +k=0.9996 +x_0=500000 +y_0=%d +ellps=WGS84 +units=m +no_defs",
		zone*6-183, y0)
}

// Reprojector converts geometries between two reference systems, both ways.
type Reprojector struct {
	forward proj.Transformer
	inverse proj.Transformer
}

// NewReprojector builds a transform pair between two proj4 definitions.
func NewReprojector(srcProj4, dstProj4 string) (*Reprojector, error) {
	src, err := proj.Parse(srcProj4)
	if err != nil {
		return nil, eris.Wrapf(err, "geospatial: parse source projection %q", srcProj4)
	}
	dst, err := proj.Parse(dstProj4)
	if err != nil {
		return nil, eris.Wrapf(err, "geospatial: parse target projection %q", dstProj4)
	}
	fwd, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: build forward transform")
	}
	inv, err := dst.NewTransform(src)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: build inverse transform")
	}
	return &Reprojector{forward: fwd, inverse: inv}, nil
}

// UTMFor returns a WGS84-to-UTM reprojector for the zone containing lon/lat,
// mirroring how analysis areas pick their working projection.
func UTMFor(lon, lat float64) (*Reprojector, error) {
	zone, north := UTMZone(lon, lat)
	return NewReprojector(WGS84Proj4, UTMProj4(zone, north))
}

// Forward projects a geometry from the source system into the target system.
func (r *Reprojector) Forward(g geom.T) (geom.T, error) {
	return transformGeom(g, r.forward)
}

// Inverse projects a geometry from the target system back to the source.
func (r *Reprojector) Inverse(g geom.T) (geom.T, error) {
	return transformGeom(g, r.inverse)
}

// ForwardCoord projects a single coordinate.
func (r *Reprojector) ForwardCoord(x, y float64) (float64, float64, error) {
	return r.forward(x, y)
}

// InverseCoord projects a single coordinate back to the source system.
func (r *Reprojector) InverseCoord(x, y float64) (float64, float64, error) {
	return r.inverse(x, y)
}

func transformFlat(coords []float64, stride int, t proj.Transformer) error {
	for i := 0; i+1 < len(coords); i += stride {
		x, y, err := t(coords[i], coords[i+1])
		if err != nil {
			return eris.Wrap(err, "geospatial: transform coordinate")
		}
		coords[i], coords[i+1] = x, y
	}
	return nil
}

func transformGeom(g geom.T, t proj.Transformer) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		flat := append([]float64(nil), g.FlatCoords()...)
		if err := transformFlat(flat, g.Stride(), t); err != nil {
			return nil, err
		}
		return geom.NewPointFlat(g.Layout(), flat), nil
	case *geom.MultiPoint:
		flat := append([]float64(nil), g.FlatCoords()...)
		if err := transformFlat(flat, g.Stride(), t); err != nil {
			return nil, err
		}
		return geom.NewMultiPointFlat(g.Layout(), flat), nil
	case *geom.LineString:
		flat := append([]float64(nil), g.FlatCoords()...)
		if err := transformFlat(flat, g.Stride(), t); err != nil {
			return nil, err
		}
		return geom.NewLineStringFlat(g.Layout(), flat), nil
	case *geom.MultiLineString:
		flat := append([]float64(nil), g.FlatCoords()...)
		if err := transformFlat(flat, g.Stride(), t); err != nil {
			return nil, err
		}
		return geom.NewMultiLineStringFlat(g.Layout(), flat, append([]int(nil), g.Ends()...)), nil
	case *geom.Polygon:
		flat := append([]float64(nil), g.FlatCoords()...)
		if err := transformFlat(flat, g.Stride(), t); err != nil {
			return nil, err
		}
		return geom.NewPolygonFlat(g.Layout(), flat, append([]int(nil), g.Ends()...)), nil
	case *geom.MultiPolygon:
		flat := append([]float64(nil), g.FlatCoords()...)
		if err := transformFlat(flat, g.Stride(), t); err != nil {
			return nil, err
		}
		endss := make([][]int, len(g.Endss()))
		for i, ends := range g.Endss() {
			endss[i] = append([]int(nil), ends...)
		}
		return geom.NewMultiPolygonFlat(g.Layout(), flat, endss), nil
	case *geom.GeometryCollection:
		out := geom.NewGeometryCollection()
		for _, sub := range g.Geoms() {
			tg, err := transformGeom(sub, t)
			if err != nil {
				return nil, err
			}
			if err := out.Push(tg); err != nil {
				return nil, eris.Wrap(err, "geospatial: rebuild collection")
			}
		}
		return out, nil
	default:
		return nil, eris.Errorf("geospatial: unsupported geometry type %T", g)
	}
}
