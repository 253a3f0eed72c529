package braid

import (
	"container/heap"
	"iter"
	"slices"
)

// Upstream yields every event that id transitively depends on, nearest first:
// breadth-first against edge direction, with events at the same distance in
// global position order. Each event is yielded once, even where diamonds join.
//
// The sequence is lazy and bound to this snapshot, so ranging over it again
// restarts the walk over the same graph. An unknown id yields nothing.
func (s *Sample) Upstream(id EventID) iter.Seq[EventID] {
	return s.breadthFirst(id, s.in, func(x Edge) EventID { return x.From })
}

// Downstream yields every event transitively depending on id, nearest first.
// It mirrors Upstream in direction only.
func (s *Sample) Downstream(id EventID) iter.Seq[EventID] {
	return s.breadthFirst(id, s.out, func(x Edge) EventID { return x.To })
}

func (s *Sample) breadthFirst(start EventID, adjacency map[EventID][]int, follow func(Edge) EventID) iter.Seq[EventID] {
	return func(yield func(EventID) bool) {
		if !s.Has(start) {
			return
		}
		seen := map[EventID]bool{start: true}
		frontier := []EventID{start}
		for len(frontier) > 0 {
			var next []EventID
			for _, id := range frontier {
				for _, j := range adjacency[id] {
					n := follow(s.edges[j])
					if seen[n] {
						continue
					}
					seen[n] = true
					next = append(next, n)
				}
			}
			s.sortByPosition(next)
			for _, id := range next {
				if !yield(id) {
					return
				}
			}
			frontier = next
		}
	}
}

func (s *Sample) sortByPosition(ids []EventID) {
	slices.SortFunc(ids, func(a, b EventID) int { return s.index[a] - s.index[b] })
}

// Roots returns the events without incoming edges in position order: starting
// materials and input-less actions.
func (s *Sample) Roots() []EventID {
	var roots []EventID
	for _, e := range s.events {
		if len(s.in[e.ID]) == 0 {
			roots = append(roots, e.ID)
		}
	}
	return roots
}

// Frontier returns the events without outgoing edges in position order: the
// current ends of every lineage, where the next event may attach.
func (s *Sample) Frontier() []EventID {
	var leaves []EventID
	for _, e := range s.events {
		if len(s.out[e.ID]) == 0 {
			leaves = append(leaves, e.ID)
		}
	}
	return leaves
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopologicalOrder returns the events so that every edge points forward, using
// global position to break ties. The second result is false if the graph
// contains a cycle, which the engine never commits; a false result therefore
// means the snapshot was rebuilt from a corrupted journal.
func (s *Sample) TopologicalOrder() ([]EventID, bool) {
	indeg := make([]int, len(s.events))
	for i, e := range s.events {
		indeg[i] = len(s.in[e.ID])
	}

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]EventID, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		id := s.events[n].ID
		out = append(out, id)
		for _, j := range s.out[id] {
			m := s.index[s.edges[j].To]
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out, len(out) == len(s.events)
}

// Connected reports whether the graph is weakly connected, i.e. forms a single
// lineage when edge direction is ignored. An empty sample is connected.
func (s *Sample) Connected() bool {
	if len(s.events) == 0 {
		return true
	}
	seen := map[EventID]bool{s.events[0].ID: true}
	stack := []EventID{s.events[0].ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, j := range slices.Concat(s.in[id], s.out[id]) {
			x := s.edges[j]
			for _, n := range [2]EventID{x.From, x.To} {
				if !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
	}
	return len(seen) == len(s.events)
}

// pathBetween searches forward from each of the sources for any of the
// targets and returns the first path found, inclusive of both ends. Sources
// are tried in the given order and successors in position order, so the
// witness is deterministic.
func (s *Sample) pathBetween(sources []EventID, targets map[EventID]bool) []EventID {
	parent := make(map[EventID]EventID)
	seen := make(map[EventID]bool)
	var found EventID
	var dfs func(id EventID) bool
	dfs = func(id EventID) bool {
		seen[id] = true
		if targets[id] {
			found = id
			return true
		}
		next := make([]EventID, 0, len(s.out[id]))
		for _, j := range s.out[id] {
			next = append(next, s.edges[j].To)
		}
		s.sortByPosition(next)
		for _, n := range next {
			if seen[n] {
				continue
			}
			parent[n] = id
			if dfs(n) {
				return true
			}
		}
		return false
	}

	for _, src := range sources {
		if seen[src] || !s.Has(src) {
			continue
		}
		if !dfs(src) {
			continue
		}
		path := []EventID{found}
		for cur := found; cur != src; {
			cur = parent[cur]
			path = append(path, cur)
		}
		slices.Reverse(path)
		return path
	}
	return nil
}

// A Visitor's Visit method is invoked for each event encountered by Walk. If
// the result visitor w is not nil, Walk visits each successor of the event with
// the visitor w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(e *Event) (w Visitor)
}

// Walk traverses a sample in depth-first order: it calls WalkFrom for each of
// the sample's roots. Every event is visited at most once; an event reachable
// through several paths is visited on the first one.
func Walk(v Visitor, s *Sample) {
	seen := make(map[EventID]bool, s.Len())
	for _, root := range s.Roots() {
		walk(v, s, root, seen)
	}
}

// WalkFrom traverses the events reachable from id in depth-first order: it
// starts by calling v.Visit with the event. If the visitor w returned by
// v.Visit is not nil, WalkFrom is invoked recursively with visitor w for each
// successor of the event, followed by a call of w.Visit(nil).
func WalkFrom(v Visitor, s *Sample, id EventID) {
	walk(v, s, id, make(map[EventID]bool))
}

func walk(v Visitor, s *Sample, id EventID, seen map[EventID]bool) {
	i, ok := s.index[id]
	if !ok || seen[id] {
		return
	}
	seen[id] = true
	// Start by calling v.Visit(event).
	if v = v.Visit(&s.events[i]); v == nil {
		return
	}
	// Then traverse the successors, depth-first, in commit order.
	for _, j := range s.out[id] {
		walk(v, s, s.edges[j].To, seen)
	}
	// Finally, call v.Visit(nil).
	v.Visit(nil)
}

type inspector func(*Event) bool

func (f inspector) Visit(e *Event) Visitor {
	if f(e) {
		return f
	}
	return nil
}

// Inspect traverses a sample in depth-first order: it starts by calling f for
// every root of the sample. If f returns true, Inspect invokes f recursively
// for each successor, followed by a call of f(nil).
func Inspect(s *Sample, f func(*Event) bool) {
	Walk(inspector(f), s)
}
