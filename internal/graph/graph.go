package graph

import (
	"sync"
)

// orderedSet is a set that remembers insertion order, so traversal and
// sampling over the graph are reproducible for a given seed.
type orderedSet[T comparable] struct {
	items []T
	index map[T]struct{}
}

func newOrderedSet[T comparable]() *orderedSet[T] {
	return &orderedSet[T]{index: make(map[T]struct{})}
}

func (s *orderedSet[T]) add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *orderedSet[T]) len() int {
	return len(s.items)
}

// RelationshipGraph is a directed multi-parent graph of ids. Cycles are
// allowed; every traversal guards against them.
//
// The graph is meant to be populated before a run and read concurrently
// during it. All methods are safe for concurrent use.
type RelationshipGraph[T comparable] struct {
	mu sync.RWMutex

	children map[T]*orderedSet[T]
	parents  map[T]*orderedSet[T]
	order    []T

	distinctChildren int
	relationships    int

	// depthCache holds MaxDepthFrom results that were not cut short by a cycle.
	depthCache map[T]int
}

// New returns an empty graph.
func New[T comparable]() *RelationshipGraph[T] {
	g := &RelationshipGraph[T]{}
	g.reset()
	return g
}

func (g *RelationshipGraph[T]) reset() {
	g.children = make(map[T]*orderedSet[T])
	g.parents = make(map[T]*orderedSet[T])
	g.order = nil
	g.distinctChildren = 0
	g.relationships = 0
	g.depthCache = make(map[T]int)
}

// invalidate drops memoized depths. Every mutating method calls it.
func (g *RelationshipGraph[T]) invalidate() {
	if len(g.depthCache) > 0 {
		g.depthCache = make(map[T]int)
	}
}

func (g *RelationshipGraph[T]) ensureNode(n T) {
	if _, ok := g.children[n]; ok {
		return
	}
	g.children[n] = newOrderedSet[T]()
	g.parents[n] = newOrderedSet[T]()
	g.order = append(g.order, n)
}

func (g *RelationshipGraph[T]) addRelationship(parent, child T) {
	g.ensureNode(parent)
	g.ensureNode(child)
	hadParent := g.parents[child].len() > 0
	if !g.children[parent].add(child) {
		return
	}
	g.parents[child].add(parent)
	g.relationships++
	if !hadParent {
		g.distinctChildren++
	}
}

// AddRelationship records parent -> child. Repeating an edge is a no-op.
func (g *RelationshipGraph[T]) AddRelationship(parent, child T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addRelationship(parent, child)
	g.invalidate()
}

// AddNode records a node with no relationships (if it is not known yet).
func (g *RelationshipGraph[T]) AddNode(n T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureNode(n)
	g.invalidate()
}

// AddPath records each consecutive pair of seq as parent -> child.
// A single element path adds a lone node.
func (g *RelationshipGraph[T]) AddPath(seq ...T) {
	if len(seq) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(seq) == 1 {
		g.ensureNode(seq[0])
	}
	for i := 1; i < len(seq); i++ {
		g.addRelationship(seq[i-1], seq[i])
	}
	g.invalidate()
}

// Clear removes every node and relationship.
func (g *RelationshipGraph[T]) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

func (g *RelationshipGraph[T]) HasNode(n T) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.children[n]
	return ok
}

// Nodes returns every known node in insertion order.
func (g *RelationshipGraph[T]) Nodes() []T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]T, len(g.order))
	copy(out, g.order)
	return out
}

func (g *RelationshipGraph[T]) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// DistinctChildCount is the number of nodes that have at least one parent.
func (g *RelationshipGraph[T]) DistinctChildCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.distinctChildren
}

// RelationshipCount is the number of distinct parent -> child edges.
func (g *RelationshipGraph[T]) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationships
}

func (g *RelationshipGraph[T]) DirectChildren(parent T) []T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyItems(g.children[parent])
}

func (g *RelationshipGraph[T]) Parents(child T) []T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyItems(g.parents[child])
}

// ChildAt returns the i-th direct child of parent, in insertion order.
func (g *RelationshipGraph[T]) ChildAt(parent T, i int) (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var zero T
	set, ok := g.children[parent]
	if !ok || i < 0 || i >= set.len() {
		return zero, false
	}
	return set.items[i], true
}

// ChildCount returns the number of direct children of parent.
func (g *RelationshipGraph[T]) ChildCount(parent T) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if set, ok := g.children[parent]; ok {
		return set.len()
	}
	return 0
}

func copyItems[T comparable](s *orderedSet[T]) []T {
	if s == nil || s.len() == 0 {
		return nil
	}
	out := make([]T, s.len())
	copy(out, s.items)
	return out
}

// Descendants returns the nodes reachable from parent in at most maxDepth
// hops, breadth first. maxDepth <= 0 means unbounded. parent itself is never
// part of the result, even when it sits on a cycle.
func (g *RelationshipGraph[T]) Descendants(parent T, maxDepth int) []T {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[T]struct{}{parent: {}}
	frontier := []T{parent}
	var out []T
	for depth := 0; len(frontier) > 0 && (maxDepth <= 0 || depth < maxDepth); depth++ {
		var next []T
		for _, n := range frontier {
			set, ok := g.children[n]
			if !ok {
				continue
			}
			for _, c := range set.items {
				if _, seen := visited[c]; seen {
					continue
				}
				visited[c] = struct{}{}
				out = append(out, c)
				next = append(next, c)
			}
		}
		frontier = next
	}
	return out
}

// AllDescendants is Descendants without a depth bound.
func (g *RelationshipGraph[T]) AllDescendants(parent T) []T {
	return g.Descendants(parent, 0)
}

// TopLevelParents returns the nodes that have no parent. A purely cyclic
// graph has none; callers decide how to fall back.
func (g *RelationshipGraph[T]) TopLevelParents() []T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []T
	for _, n := range g.order {
		if g.parents[n].len() == 0 {
			out = append(out, n)
		}
	}
	return out
}

type depthFrame[T comparable] struct {
	node      T
	next      int
	best      int
	truncated bool
}

// MaxDepthFrom returns the length, in edges, of the longest simple path
// starting at root. An edge back into the current path contributes nothing.
func (g *RelationshipGraph[T]) MaxDepthFrom(root T) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxDepthFrom(root)
}

func (g *RelationshipGraph[T]) maxDepthFrom(root T) int {
	if _, ok := g.children[root]; !ok {
		return 0
	}
	if d, ok := g.depthCache[root]; ok {
		return d
	}

	onPath := map[T]struct{}{root: {}}
	stack := []*depthFrame[T]{{node: root}}
	for {
		top := stack[len(stack)-1]
		kids := g.children[top.node].items
		if top.next < len(kids) {
			child := kids[top.next]
			top.next++
			if _, cyclic := onPath[child]; cyclic {
				top.truncated = true
				continue
			}
			if d, ok := g.depthCache[child]; ok {
				top.best = max(top.best, d+1)
				continue
			}
			onPath[child] = struct{}{}
			stack = append(stack, &depthFrame[T]{node: child})
			continue
		}

		stack = stack[:len(stack)-1]
		delete(onPath, top.node)
		// A truncated result depends on the path that led here, so it is not reusable.
		if !top.truncated {
			g.depthCache[top.node] = top.best
		}
		if len(stack) == 0 {
			return top.best
		}
		parent := stack[len(stack)-1]
		parent.best = max(parent.best, top.best+1)
		parent.truncated = parent.truncated || top.truncated
	}
}

// MaxDepthOverall is the largest MaxDepthFrom over all top-level parents, or
// over every node when the graph has none.
func (g *RelationshipGraph[T]) MaxDepthOverall() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var roots []T
	for _, n := range g.order {
		if g.parents[n].len() == 0 {
			roots = append(roots, n)
		}
	}
	if len(roots) == 0 {
		roots = g.order
	}
	best := 0
	for _, r := range roots {
		best = max(best, g.maxDepthFrom(r))
	}
	return best
}

// Paths returns up to limit maximal simple paths that start at root, in
// depth-first order. limit <= 0 returns all of them. A node with no
// children yields the single path [root].
func (g *RelationshipGraph[T]) Paths(root T, limit int) [][]T {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.children[root]; !ok {
		return nil
	}
	var out [][]T
	path := []T{root}
	onPath := map[T]struct{}{root: {}}

	var walk func(n T) bool
	walk = func(n T) bool {
		extended := false
		for _, c := range g.children[n].items {
			if _, cyclic := onPath[c]; cyclic {
				continue
			}
			extended = true
			onPath[c] = struct{}{}
			path = append(path, c)
			more := walk(c)
			path = path[:len(path)-1]
			delete(onPath, c)
			if !more {
				return false
			}
		}
		if !extended {
			p := make([]T, len(path))
			copy(p, path)
			out = append(out, p)
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	}
	walk(root)
	return out
}
