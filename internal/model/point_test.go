package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestWeightedPointCoords(t *testing.T) {
	pt := WeightedPoint{
		ID:    "clinic-1",
		Stars: 4,
		Geom:  geom.NewPointFlat(geom.XY, []float64{-3.7038, 40.4168}),
	}

	assert.Equal(t, -3.7038, pt.Lon())
	assert.Equal(t, 40.4168, pt.Lat())
}

func TestWarningString(t *testing.T) {
	w := Warningf(WarnEmptyInput, "no points after filtering %d rows", 12)

	assert.Equal(t, "empty_input: no points after filtering 12 rows", w.String())
	assert.Equal(t, WarnEmptyInput, w.Code)
}
