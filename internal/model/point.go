// Package model defines the domain types shared by the coverage engines.
package model

import (
	"github.com/twpayne/go-geom"
)

// WeightedPoint is a service location with an intrinsic quality score.
// Geometry is WGS84 lon/lat; engines project it as needed.
type WeightedPoint struct {
	ID    string      `json:"id"`
	Name  string      `json:"name,omitempty"`
	Geom  *geom.Point `json:"-"`
	Stars float64     `json:"stars"` // 0..5
}

// Lon returns the point's longitude.
func (p WeightedPoint) Lon() float64 { return p.Geom.X() }

// Lat returns the point's latitude.
func (p WeightedPoint) Lat() float64 { return p.Geom.Y() }
