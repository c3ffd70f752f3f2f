package ingest

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/model"
)

// ShapefileOptions names the attribute fields carrying point metadata.
// Lookups are case-insensitive; empty fields use the defaults.
type ShapefileOptions struct {
	StarsField string // default "stars"
	IDField    string // default "id"
	NameField  string // default "name"
}

// LoadPointsShapefile reads service points from a point shapefile. The stars
// field is required; rows with missing geometry or a non-numeric rating are
// skipped with a debug log.
func LoadPointsShapefile(path string, opts ShapefileOptions) ([]model.WeightedPoint, error) {
	if opts.StarsField == "" {
		opts.StarsField = "stars"
	}
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	if opts.NameField == "" {
		opts.NameField = "name"
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	starsIdx, ok := fieldIdx[strings.ToLower(opts.StarsField)]
	if !ok {
		return nil, eris.Errorf("ingest: stars field %q not found in %s", opts.StarsField, path)
	}
	idIdx, hasID := fieldIdx[strings.ToLower(opts.IDField)]
	nameIdx, hasName := fieldIdx[strings.ToLower(opts.NameField)]

	var points []model.WeightedPoint
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()

		var x, y float64
		switch p := shape.(type) {
		case *shp.Point:
			x, y = p.X, p.Y
		case *shp.PointM:
			x, y = p.X, p.Y
		case *shp.PointZ:
			x, y = p.X, p.Y
		default:
			skipped++
			continue
		}

		stars, err := strconv.ParseFloat(attribute(reader, starsIdx), 64)
		if err != nil {
			skipped++
			zap.L().Debug("ingest: bad stars attribute", zap.Int("record", n))
			continue
		}

		id := strconv.Itoa(n)
		if hasID {
			if v := attribute(reader, idIdx); v != "" {
				id = v
			}
		}
		var name string
		if hasName {
			name = attribute(reader, nameIdx)
		}

		points = append(points, model.WeightedPoint{
			ID:    id,
			Name:  name,
			Geom:  geom.NewPointFlat(geom.XY, []float64{x, y}),
			Stars: stars,
		})
	}

	if skipped > 0 {
		zap.L().Debug("ingest: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped))
	}
	zap.L().Info("ingest: shapefile points loaded", zap.String("path", path), zap.Int("points", len(points)))
	return points, nil
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}
