package graph

import "container/heap"

type queueItem struct {
	node int64
	dist float64
}

// distQueue is a min-heap over tentative distances. Stale entries are left
// in place and skipped on pop.
type distQueue []queueItem

func (q distQueue) Len() int           { return len(q) }
func (q distQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q distQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)        { *q = append(*q, x.(queueItem)) }
func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// ShortestFrom runs a bounded multi-source Dijkstra and returns, for every
// node reachable within cutoff, the distance from the nearest source.
// Parallel edges contribute their shortest length; unknown source ids are
// skipped. With undirected set, edges are traversed in both directions.
func ShortestFrom(g *Graph, sources []int64, cutoff float64, undirected bool) map[int64]float64 {
	return shortest(g, sources, cutoff, true, undirected)
}

// ShortestInto is the reverse search: distances measured along edge
// direction toward the nearest source, i.e. how far a node is from being
// able to reach one of the sources.
func ShortestInto(g *Graph, sources []int64, cutoff float64) map[int64]float64 {
	return shortest(g, sources, cutoff, false, true)
}

func shortest(g *Graph, sources []int64, cutoff float64, forward, backward bool) map[int64]float64 {
	dist := make(map[int64]float64, len(sources))
	q := make(distQueue, 0, len(sources))

	for _, s := range sources {
		if !g.HasNode(s) {
			continue
		}
		if _, seen := dist[s]; seen {
			continue
		}
		dist[s] = 0
		q = append(q, queueItem{node: s})
	}
	heap.Init(&q)

	for q.Len() > 0 {
		it := heap.Pop(&q).(queueItem)
		if it.dist > dist[it.node] {
			continue
		}
		relax := func(adj map[int64]map[int]*Edge) {
			for v, keys := range adj {
				w := -1.0
				for _, e := range keys {
					if w < 0 || e.Length < w {
						w = e.Length
					}
				}
				if w < 0 {
					continue
				}
				nd := it.dist + w
				if nd > cutoff {
					continue
				}
				if cur, ok := dist[v]; ok && cur <= nd {
					continue
				}
				dist[v] = nd
				heap.Push(&q, queueItem{node: v, dist: nd})
			}
		}
		if forward {
			relax(g.out[it.node])
		}
		if backward {
			relax(g.in[it.node])
		}
	}
	return dist
}
