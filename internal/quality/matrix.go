package quality

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/urbanatlas/coverage-cli/internal/model"
)

// DefaultGrades is the number of discrete accessibility grades between 0 and 1.
const DefaultGrades = 10

// Matrix is the discretized quality lookup: one row per service-quality key,
// one column per distance-grid value, each cell the combined quality snapped
// up to the accessibility grade lattice.
type Matrix struct {
	Qualities []float64   // row keys (service quality, 3 decimals), ascending
	Distances []float64   // column keys in meters, ascending
	Levels    [][]float64 // Levels[i][j] is the level of Qualities[i] at Distances[j]
}

// Step is one unit of coverage work: buffer or traverse from every point in
// one of the Qualities groups out to Distance, crediting the area to Level.
// An empty Qualities slice matches all points.
type Step struct {
	Level     float64
	Rank      int // 1 = strongest level
	Distance  float64
	Qualities []float64
}

// FormatLevel renders a level value the way bands and graph annotations are
// labeled, fixed at three decimals.
func FormatLevel(v float64) string {
	return fmt.Sprintf("%.3f", Round3(v))
}

// Grades returns the accessibility grade lattice: grades+1 evenly spaced
// values from 0 to 1 inclusive.
func Grades(grades int) []float64 {
	lattice := make([]float64, grades+1)
	for i := range lattice {
		lattice[i] = float64(i) / float64(grades)
	}
	return lattice
}

// snapLevel rounds a quality up to the nearest lattice grade.
func snapLevel(lattice []float64, q float64) float64 {
	idx := sort.SearchFloat64s(lattice, q)
	if idx >= len(lattice) {
		idx = len(lattice) - 1
	}
	return Round3(lattice[idx])
}

// DistanceGrid builds the adaptive distance grid for the decay, refined
// between the reference and maximum distances against all five star grades.
func (p DecayParams) DistanceGrid(opts GridOptions) []float64 {
	grids := AdaptiveGrids(func(args []float64) float64 {
		return p.Quality(args[0], args[1])
	}, []GridDim{
		DiscreteDim(1, 2, 3, 4, 5),
		ContinuousDim(p.ReferenceDistance, p.MaxDistance),
	}, opts)
	return grids[1]
}

// BuildMatrix evaluates the decay for every distinct service quality among
// points over the distance grid and snaps the results to the grade lattice.
// Row keys are service qualities rounded to three decimals; cell values are
// computed from the raw star ratings behind each key.
func BuildMatrix(points []model.WeightedPoint, params DecayParams, distances []float64, grades int) (*Matrix, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(distances) == 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "quality: empty distance grid")
	}
	if grades <= 0 {
		grades = DefaultGrades
	}

	dist := make([]float64, len(distances))
	copy(dist, distances)
	sort.Float64s(dist)

	starsByKey := make(map[float64]float64, len(points))
	keys := make([]float64, 0, len(points))
	for _, pt := range points {
		key := Round3(ServiceQuality(pt.Stars))
		if _, ok := starsByKey[key]; ok {
			continue
		}
		starsByKey[key] = pt.Stars
		keys = append(keys, key)
	}
	sort.Float64s(keys)

	lattice := Grades(grades)
	levels := make([][]float64, len(keys))
	for i, key := range keys {
		row := make([]float64, len(dist))
		for j, d := range dist {
			row[j] = snapLevel(lattice, params.Quality(starsByKey[key], d))
		}
		levels[i] = row
	}
	return &Matrix{Qualities: keys, Distances: dist, Levels: levels}, nil
}

// DiagonalMatrix grades qualities diagonally when no decay model is known:
// the best quality at the nearest distance scores 1 and each step away in
// either dimension drops one even grade, bottoming out at 0.
func DiagonalMatrix(points []model.WeightedPoint, distances []float64) *Matrix {
	seen := make(map[float64]bool, len(points)+1)
	keys := make([]float64, 0, len(points)+1)
	for _, pt := range points {
		key := Round3(ServiceQuality(pt.Stars))
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	// The zero row anchors the grade spacing even though it is not emitted.
	if !seen[0] {
		keys = append(keys, 0)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(keys)))

	dist := make([]float64, len(distances))
	copy(dist, distances)
	sort.Float64s(dist)

	maxIdx := len(keys) + len(dist) - 2
	if maxIdx < 1 {
		maxIdx = 1
	}

	qualities := make([]float64, 0, len(keys)-1)
	levels := make([][]float64, 0, len(keys)-1)
	for i, key := range keys {
		if key == 0 {
			continue
		}
		row := make([]float64, len(dist))
		for j := range dist {
			v := 1 - float64(i+j)/float64(maxIdx)
			if v < 0 {
				v = 0
			}
			row[j] = Round3(v)
		}
		// Prepend to flip the best-first build order into ascending keys.
		qualities = append([]float64{key}, qualities...)
		levels = append([][]float64{row}, levels...)
	}
	return &Matrix{Qualities: qualities, Distances: dist, Levels: levels}
}

// LevelValues returns the distinct levels present in the matrix, strongest
// first.
func (m *Matrix) LevelValues() []float64 {
	seen := make(map[float64]bool)
	var values []float64
	for _, row := range m.Levels {
		for _, v := range row {
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	return values
}

// ProcessingOrder flattens the matrix into steps, strongest level first. A
// quality row contributes one step per level it reaches, at the largest
// distance still graded at that level.
func (m *Matrix) ProcessingOrder() []Step {
	values := m.LevelValues()
	rank := make(map[float64]int, len(values))
	for i, v := range values {
		rank[v] = i + 1
	}

	type groupKey struct {
		level    float64
		distance float64
	}
	groups := make(map[groupKey][]float64)
	for i, q := range m.Qualities {
		maxDist := make(map[float64]float64)
		for j, v := range m.Levels[i] {
			if d, ok := maxDist[v]; !ok || m.Distances[j] > d {
				maxDist[v] = m.Distances[j]
			}
		}
		for v, d := range maxDist {
			key := groupKey{level: v, distance: d}
			groups[key] = append(groups[key], q)
		}
	}

	steps := make([]Step, 0, len(groups))
	for key, qualities := range groups {
		sort.Float64s(qualities)
		steps = append(steps, Step{
			Level:     key.level,
			Rank:      rank[key.level],
			Distance:  key.distance,
			Qualities: qualities,
		})
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Rank != steps[j].Rank {
			return steps[i].Rank < steps[j].Rank
		}
		return steps[i].Distance > steps[j].Distance
	})
	return steps
}

// StepsFromDistances builds a processing order straight from distance steps
// when no quality matrix applies. The given order defines strength: the first
// distance becomes rank 1. Every step matches all points.
func StepsFromDistances(distances []float64) []Step {
	steps := make([]Step, len(distances))
	for i, d := range distances {
		steps[i] = Step{Level: d, Rank: i + 1, Distance: d}
	}
	return steps
}
