package model

import (
	"github.com/twpayne/go-geom"
)

// Band is one discretized accessibility level rendered as a polygon.
// Bands within one result are pairwise disjoint and ordered by rank.
type Band struct {
	Label string  `json:"label"` // canonical 3-decimal level label, e.g. "0.700"
	Rank  int     `json:"rank"`  // 1 = strongest
	Level float64 `json:"level"` // discretized quality in [0,1]
	Geom  geom.T  `json:"-"`     // WGS84 polygon, possibly empty
}
