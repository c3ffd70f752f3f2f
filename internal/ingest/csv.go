package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/urbanatlas/coverage-cli/internal/model"
)

// cellColumns are the header names accepted for the cell id column.
var cellColumns = map[string]bool{"h3": true, "h3_cell": true, "cell": true}

// LoadPopulationCSV reads a population table with a header row naming a cell
// column (h3, h3_cell or cell) and a population column. Rows with invalid
// cells or non-numeric populations are skipped with a debug log.
func LoadPopulationCSV(path string) ([]model.PopulationCell, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open population csv %s", path)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read population header")
	}

	cellIdx, popIdx := -1, -1
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		switch {
		case cellColumns[name]:
			cellIdx = i
		case name == "population":
			popIdx = i
		}
	}
	if cellIdx < 0 || popIdx < 0 {
		return nil, eris.Errorf("ingest: population csv %s needs cell and population columns, got %v", path, header)
	}

	var cells []model.PopulationCell
	var skipped int
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read population row %d", line)
		}
		if cellIdx >= len(record) || popIdx >= len(record) {
			skipped++
			continue
		}

		cell := h3.Cell(h3.IndexFromString(strings.TrimSpace(record[cellIdx])))
		if !cell.IsValid() {
			skipped++
			zap.L().Debug("ingest: invalid cell id", zap.Int("line", line), zap.String("cell", record[cellIdx]))
			continue
		}
		pop, err := strconv.ParseFloat(strings.TrimSpace(record[popIdx]), 64)
		if err != nil || pop < 0 {
			skipped++
			zap.L().Debug("ingest: bad population value", zap.Int("line", line), zap.String("value", record[popIdx]))
			continue
		}
		cells = append(cells, model.PopulationCell{Cell: cell, Population: pop})
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped population rows", zap.String("path", path), zap.Int("skipped", skipped))
	}
	zap.L().Info("ingest: population csv loaded", zap.String("path", path), zap.Int("cells", len(cells)))
	return cells, nil
}

// WritePopulationCSV writes a population table as h3_cell,population rows.
func WritePopulationCSV(path string, cells []model.PopulationCell) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: create population csv %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"h3_cell", "population"}); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "ingest: write population header")
	}
	for _, pc := range cells {
		rec := []string{pc.Cell.String(), strconv.FormatFloat(pc.Population, 'f', -1, 64)}
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "ingest: write population cell %s", pc.Cell)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "ingest: flush population csv")
	}
	return eris.Wrap(f.Close(), "ingest: close population csv")
}
