package model

import (
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
)

// CellLevel assigns a discretized accessibility level to one H3 cell.
type CellLevel struct {
	Cell  h3.Cell `json:"cell"`
	Level float64 `json:"level"`
}

// PopulationCell is one H3 cell's population count. Population tables have
// an independent lifecycle and are merged with coverage output by cell id,
// so the cell resolution must match the requested aggregation resolution.
type PopulationCell struct {
	Cell       h3.Cell `json:"cell"`
	Population float64 `json:"population"`
}

// PopulationCoverage pairs a populated cell with the accessibility level
// covering it. Centroid is the cell's center point in WGS84.
type PopulationCoverage struct {
	Cell          h3.Cell     `json:"cell"`
	Population    float64     `json:"population"`
	Accessibility float64     `json:"accessibility"`
	Centroid      *geom.Point `json:"-"`
}
