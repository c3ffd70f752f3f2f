package ingest

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/hexgrid"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// LoadPointsGeoJSON reads service points from a GeoJSON feature collection.
// Features must carry Point geometry and a numeric stars property; id and
// name properties are optional. Malformed features are skipped with a debug
// log so one bad row cannot abort a batch.
func LoadPointsGeoJSON(path string) ([]model.WeightedPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read points %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse geojson %s", path)
	}

	points := make([]model.WeightedPoint, 0, len(fc.Features))
	var skipped int
	for i, ft := range fc.Features {
		pt, ok := ft.Geometry.(*geom.Point)
		if !ok {
			skipped++
			zap.L().Debug("ingest: feature without point geometry", zap.Int("feature", i))
			continue
		}
		stars, ok := numberProp(ft.Properties, "stars")
		if !ok {
			skipped++
			zap.L().Debug("ingest: feature without stars property", zap.Int("feature", i))
			continue
		}

		id := stringProp(ft.Properties, "id")
		if id == "" {
			id = ft.ID
		}
		if id == "" {
			id = strconv.Itoa(i)
		}
		points = append(points, model.WeightedPoint{
			ID:    id,
			Name:  stringProp(ft.Properties, "name"),
			Geom:  pt,
			Stars: stars,
		})
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped point features", zap.String("path", path), zap.Int("skipped", skipped))
	}
	zap.L().Info("ingest: points loaded", zap.String("path", path), zap.Int("points", len(points)))
	return points, nil
}

// WriteBandsGeoJSON writes accessibility bands as a feature collection with
// label, rank and level properties.
func WriteBandsGeoJSON(path string, bands []model.Band) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(bands))}
	for _, b := range bands {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: b.Geom,
			Properties: map[string]any{
				"label": b.Label,
				"rank":  b.Rank,
				"level": b.Level,
			},
		})
	}
	return writeFeatureCollection(path, fc)
}

// WriteTableGeoJSON writes hex table rows (cell polygons plus their
// aggregated columns) as a feature collection.
func WriteTableGeoJSON(path string, rows []hexgrid.CellRow) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	for _, row := range rows {
		props := make(map[string]any, len(row.Values)+1)
		props["cell"] = row.Cell.String()
		for col, v := range row.Values {
			props[col] = valueJSON(v)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   row.Geom,
			Properties: props,
		})
	}
	return writeFeatureCollection(path, fc)
}

// WritePopulationGeoJSON writes population coverage cells as centroid point
// features with cell, population and accessibility properties.
func WritePopulationGeoJSON(path string, cells []model.PopulationCoverage) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(cells))}
	for _, pc := range cells {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: pc.Centroid,
			Properties: map[string]any{
				"cell":          pc.Cell.String(),
				"population":    pc.Population,
				"accessibility": pc.Accessibility,
			},
		})
	}
	return writeFeatureCollection(path, fc)
}

func writeFeatureCollection(path string, fc *geojson.FeatureCollection) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: create %s", path)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(fc); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "ingest: encode %s", path)
	}
	return eris.Wrapf(f.Close(), "ingest: close %s", path)
}

func numberProp(props map[string]any, key string) (float64, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func valueJSON(v hexgrid.Value) any {
	if n, ok := v.Number(); ok {
		return n
	}
	if c, ok := v.Category(); ok {
		return c
	}
	return nil
}
