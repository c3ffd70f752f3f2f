package quality

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveGrids_LinearFunction(t *testing.T) {
	// f(x) = x on [0,1] needs intervals of at most 0.1, reached by
	// repeated halving at 1/16.
	grids := AdaptiveGrids(func(args []float64) float64 {
		return args[0]
	}, []GridDim{ContinuousDim(0, 1)}, DefaultGridOptions())

	require.Len(t, grids, 1)
	grid := grids[0]
	assert.Len(t, grid, 17)
	assert.True(t, sort.Float64sAreSorted(grid))
	for i := 1; i < len(grid); i++ {
		assert.LessOrEqual(t, grid[i]-grid[i-1], 0.1+1e-9)
	}
}

func TestAdaptiveGrids_DiscreteDimUntouched(t *testing.T) {
	grids := AdaptiveGrids(func(args []float64) float64 {
		return args[0] / 5 * args[1]
	}, []GridDim{
		DiscreteDim(1, 2, 3, 4, 5),
		ContinuousDim(0, 1),
	}, DefaultGridOptions())

	// The stars dimension never refines even though stepping it changes
	// the function by more than the delta.
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, grids[0])
	assert.Greater(t, len(grids[1]), 2)
}

func TestAdaptiveGrids_DecayGrid(t *testing.T) {
	p := DecayParams{Elasticity: 0.5, ReferenceDistance: 1000, MaxDistance: 50000}
	grid := p.DistanceGrid(DefaultGridOptions())

	require.GreaterOrEqual(t, len(grid), 2)
	assert.Equal(t, 1000.0, grid[0])
	assert.Equal(t, 50000.0, grid[len(grid)-1])
	assert.True(t, sort.Float64sAreSorted(grid))

	// Worst case over all star grades: neighbors differ by at most the
	// refinement delta.
	for i := 1; i < len(grid); i++ {
		worst := 0.0
		for stars := 1.0; stars <= 5; stars++ {
			step := math.Abs(p.Quality(stars, grid[i]) - p.Quality(stars, grid[i-1]))
			if step > worst {
				worst = step
			}
		}
		assert.LessOrEqual(t, worst, 0.1+1e-9,
			"interval [%g, %g] steps too far", grid[i-1], grid[i])
	}
}

func TestAdaptiveGrids_IterationCap(t *testing.T) {
	// A step function never satisfies the delta across its jump; the
	// refinement must still terminate.
	calls := 0
	grids := AdaptiveGrids(func(args []float64) float64 {
		calls++
		if args[0] < 0.5 {
			return 0
		}
		return 1
	}, []GridDim{ContinuousDim(0, 1)}, GridOptions{MaxDelta: 0.1, MaxIters: 5})

	assert.Greater(t, len(grids[0]), 2)
	assert.Greater(t, calls, 0)
}
