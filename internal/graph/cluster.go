package graph

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"

	"github.com/urbanatlas/coverage-cli/internal/geospatial"
)

// unionFind tracks transitive node groupings during short-edge merging.
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) find(x int64) int64 {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller id wins so group roots are reproducible.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// groups returns root → ascending member ids for every group of two or
// more nodes.
func (u *unionFind) groups() map[int64][]int64 {
	out := make(map[int64][]int64)
	for x := range u.parent {
		out[u.find(x)] = append(out[u.find(x)], x)
	}
	for root, members := range out {
		if len(members) < 2 {
			delete(out, root)
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	}
	return out
}

// clusterComplete groups coordinates by agglomerative clustering with
// complete linkage: the two closest clusters merge while the farthest pair
// between them stays within threshold. Labels are 0..k-1 ordered by each
// cluster's smallest input index. Quadratic per merge, which is fine for
// the small groups produced by edge neighborhoods.
func clusterComplete(coords []geom.Coord, threshold float64) []int {
	n := len(coords)
	if n == 0 {
		return nil
	}

	clusters := make([][]int, n)
	for i := range coords {
		clusters[i] = []int{i}
	}

	for len(clusters) > 1 {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if d := completeDist(coords, clusters[i], clusters[j]); d < best {
					best, bi, bj = d, i, j
				}
			}
		}
		if best > threshold {
			break
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters = append(clusters[:bj], clusters[bj+1:]...)
	}

	sort.Slice(clusters, func(i, j int) bool { return minIndex(clusters[i]) < minIndex(clusters[j]) })
	labels := make([]int, n)
	for ci, members := range clusters {
		for _, idx := range members {
			labels[idx] = ci
		}
	}
	return labels
}

// completeDist is the farthest pairwise distance between two clusters.
func completeDist(coords []geom.Coord, a, b []int) float64 {
	worst := 0.0
	for _, i := range a {
		for _, j := range b {
			if d := geospatial.Dist(coords[i], coords[j]); d > worst {
				worst = d
			}
		}
	}
	return worst
}

func minIndex(members []int) int {
	min := members[0]
	for _, m := range members[1:] {
		if m < min {
			min = m
		}
	}
	return min
}
