package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/model"
)

// XLSXOptions selects the sheet holding the point table.
type XLSXOptions struct {
	Sheet string // sheet name; empty means the first sheet
}

// lonHeaders and latHeaders are the accepted coordinate column names.
var (
	lonHeaders = map[string]bool{"lon": true, "lng": true, "longitude": true}
	latHeaders = map[string]bool{"lat": true, "latitude": true}
)

// LoadPointsXLSX reads service points from a spreadsheet whose header row
// names lon, lat and stars columns (id and name optional). Rows that fail to
// parse are skipped with a debug log.
func LoadPointsXLSX(path string, opts XLSXOptions) ([]model.WeightedPoint, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open xlsx %s", path)
	}

	sheet, err := pointSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("ingest: sheet %q is empty", sheet.Name)
	}

	lonIdx, latIdx, starsIdx, idIdx, nameIdx := -1, -1, -1, -1, -1
	for i, cell := range sheet.Rows[0].Cells {
		name := strings.ToLower(strings.TrimSpace(cell.String()))
		switch {
		case lonHeaders[name]:
			lonIdx = i
		case latHeaders[name]:
			latIdx = i
		case name == "stars":
			starsIdx = i
		case name == "id":
			idIdx = i
		case name == "name":
			nameIdx = i
		}
	}
	if lonIdx < 0 || latIdx < 0 || starsIdx < 0 {
		return nil, eris.Errorf("ingest: sheet %q needs lon, lat and stars columns", sheet.Name)
	}

	var points []model.WeightedPoint
	var skipped int
	for i, row := range sheet.Rows[1:] {
		lon, lonErr := cellFloat(row, lonIdx)
		lat, latErr := cellFloat(row, latIdx)
		stars, starsErr := cellFloat(row, starsIdx)
		if lonErr != nil || latErr != nil || starsErr != nil {
			skipped++
			zap.L().Debug("ingest: bad spreadsheet row", zap.Int("row", i+2))
			continue
		}

		id := strconv.Itoa(i)
		if v := cellString(row, idIdx); v != "" {
			id = v
		}
		points = append(points, model.WeightedPoint{
			ID:    id,
			Name:  cellString(row, nameIdx),
			Geom:  geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Stars: stars,
		})
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped spreadsheet rows", zap.String("path", path), zap.Int("skipped", skipped))
	}
	zap.L().Info("ingest: spreadsheet points loaded", zap.String("path", path), zap.Int("points", len(points)))
	return points, nil
}

func pointSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.Sheet != "" {
		sheet, ok := f.Sheet[opts.Sheet]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.Sheet)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func cellFloat(row *xlsx.Row, idx int) (float64, error) {
	if idx < 0 || idx >= len(row.Cells) {
		return 0, eris.New("ingest: missing cell")
	}
	return strconv.ParseFloat(strings.TrimSpace(row.Cells[idx].String()), 64)
}

func cellString(row *xlsx.Row, idx int) string {
	if idx < 0 || idx >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[idx].String())
}
