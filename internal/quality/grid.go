package quality

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// GridDim seeds one input dimension of a sampled function. A continuous
// dimension starts from [min, max] and is refined by midpoint insertion; a
// discrete dimension keeps its values untouched.
type GridDim struct {
	Values     []float64
	Continuous bool
}

// ContinuousDim seeds a refinable dimension with its bounds.
func ContinuousDim(min, max float64) GridDim {
	return GridDim{Values: []float64{min, max}, Continuous: true}
}

// DiscreteDim fixes a dimension to the given values.
func DiscreteDim(values ...float64) GridDim {
	return GridDim{Values: values}
}

// GridOptions bound adaptive refinement.
type GridOptions struct {
	MaxDelta float64 // largest allowed |Δf| between neighbors of a continuous dim
	MaxIters int
}

// DefaultGridOptions returns the refinement bounds used by the coverage runs.
func DefaultGridOptions() GridOptions {
	return GridOptions{MaxDelta: 0.1, MaxIters: 30}
}

// AdaptiveGrids refines every continuous dimension until stepping between
// neighboring values changes f by at most MaxDelta, worst-case over the
// cartesian product of all dimensions. Each refinement round re-evaluates f
// on the already-refined grids, so later dimensions see earlier insertions.
// Refinement that does not settle within MaxIters rounds is logged and the
// partially refined grids are returned.
func AdaptiveGrids(f func(args []float64) float64, dims []GridDim, opts GridOptions) [][]float64 {
	if opts.MaxDelta <= 0 {
		opts.MaxDelta = 0.1
	}
	if opts.MaxIters <= 0 {
		opts.MaxIters = 30
	}

	grids := make([][]float64, len(dims))
	for i, dim := range dims {
		g := make([]float64, len(dim.Values))
		copy(g, dim.Values)
		if dim.Continuous {
			sort.Float64s(g)
		}
		grids[i] = g
	}
	for _, g := range grids {
		if len(g) == 0 {
			return grids
		}
	}

	for iter := 0; iter < opts.MaxIters; iter++ {
		changed := false
		for i, dim := range dims {
			if !dim.Continuous || len(grids[i]) < 2 {
				continue
			}
			worst := worstSteps(f, grids, i)
			refined := make([]float64, 0, 2*len(grids[i]))
			refined = append(refined, grids[i][0])
			for j := 1; j < len(grids[i]); j++ {
				lo, hi := grids[i][j-1], grids[i][j]
				if worst[j-1] > opts.MaxDelta {
					// Skip midpoints that collapse onto an endpoint.
					if mid := (lo + hi) / 2; mid > lo && mid < hi {
						refined = append(refined, mid)
						changed = true
					}
				}
				refined = append(refined, hi)
			}
			grids[i] = refined
		}
		if !changed {
			return grids
		}
	}

	zap.L().Warn("quality: adaptive grid refinement stopped at iteration cap",
		zap.Int("max_iters", opts.MaxIters),
		zap.Float64("max_delta", opts.MaxDelta))
	return grids
}

// worstSteps evaluates f over the full cartesian product of grids and
// returns, for each interval of grids[axis], the largest |Δf| seen across
// every combination of the other dimensions.
func worstSteps(f func([]float64) float64, grids [][]float64, axis int) []float64 {
	worst := make([]float64, len(grids[axis])-1)
	idx := make([]int, len(grids))
	args := make([]float64, len(grids))
	vals := make([]float64, len(grids[axis]))

	for {
		for d, g := range grids {
			if d != axis {
				args[d] = g[idx[d]]
			}
		}
		for j, x := range grids[axis] {
			args[axis] = x
			vals[j] = f(args)
		}
		for j := 1; j < len(vals); j++ {
			if step := math.Abs(vals[j] - vals[j-1]); step > worst[j-1] {
				worst[j-1] = step
			}
		}

		carry := true
		for d := 0; d < len(grids) && carry; d++ {
			if d == axis {
				continue
			}
			idx[d]++
			if idx[d] < len(grids[d]) {
				carry = false
			} else {
				idx[d] = 0
			}
		}
		if carry {
			return worst
		}
	}
}
