// Package quality implements the distance-decay accessibility model: a
// normalized inverse power-law decay, adaptive sampling grids, and the
// discretized quality matrix the coverage engines consume.
package quality

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/urbanatlas/coverage-cli/internal/model"
)

// DecayParams describe an inverse power-law distance decay, normalized so
// quality is 1 at ReferenceDistance and 0 at MaxDistance.
type DecayParams struct {
	Elasticity        float64 // decay exponent
	ReferenceDistance float64 // meters, full quality at or below this distance
	MaxDistance       float64 // meters, zero quality at or beyond this distance
}

// DefaultDecayParams returns the decay used for city-scale service coverage.
func DefaultDecayParams() DecayParams {
	return DecayParams{
		Elasticity:        0.5,
		ReferenceDistance: 1000,
		MaxDistance:       50000,
	}
}

// cutoff is the raw decay value at MaxDistance. The curve is shifted by this
// amount so it reaches exactly zero there.
func (p DecayParams) cutoff() float64 {
	return math.Pow(p.MaxDistance/p.ReferenceDistance, -p.Elasticity)
}

// Validate rejects parameter sets whose normalization degenerates.
func (p DecayParams) Validate() error {
	if p.Elasticity <= 0 {
		return eris.Wrapf(model.ErrConfiguration, "quality: elasticity must be positive, got %g", p.Elasticity)
	}
	if p.ReferenceDistance <= 0 {
		return eris.Wrapf(model.ErrConfiguration, "quality: reference distance must be positive, got %g", p.ReferenceDistance)
	}
	if p.MaxDistance <= p.ReferenceDistance {
		return eris.Wrapf(model.ErrConfiguration, "quality: max distance %g must exceed reference distance %g", p.MaxDistance, p.ReferenceDistance)
	}
	// As the cutoff approaches 1 the rescale factor 1/(1-k) blows up.
	if 1-p.cutoff() < 1e-9 {
		return eris.Wrapf(model.ErrConfiguration, "quality: decay cutoff %.12f is too close to 1", p.cutoff())
	}
	return nil
}

// DistanceQuality maps a distance in meters to [0, 1].
// Formula: q = clip(((d/ref)^-e - k) / (1 - k), 0, 1) with k = (max/ref)^-e.
func (p DecayParams) DistanceQuality(d float64) float64 {
	if d <= 0 {
		return 1
	}
	k := p.cutoff()
	raw := math.Pow(d/p.ReferenceDistance, -p.Elasticity)
	q := (raw - k) / (1 - k)
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// ServiceQuality maps a 0-5 star rating to [0, 1]. Out-of-range ratings are
// clamped rather than rejected so one bad row cannot abort a batch.
func ServiceQuality(stars float64) float64 {
	if stars <= 0 {
		return 0
	}
	if stars >= 5 {
		return 1
	}
	return stars / 5
}

// Quality is the combined accessibility of a service with the given star
// rating at the given distance: ServiceQuality(stars) * DistanceQuality(d).
func (p DecayParams) Quality(stars, distance float64) float64 {
	return ServiceQuality(stars) * p.DistanceQuality(distance)
}

// Round3 rounds to three decimals, the precision quality levels are keyed at.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
