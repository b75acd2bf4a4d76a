package sampler

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"graphbench/internal/graph"
)

const defaultExportPaths = 1000

// HierarchicalSampler samples parent/child id chains from a RelationshipGraph.
type HierarchicalSampler struct {
	graph *graph.RelationshipGraph[string]
	seeds *seedSource
	opts  options

	mu          sync.RWMutex
	depth       int
	roots       []string
	dirty       bool
	initialized bool
}

var _ IdSupplier = (*HierarchicalSampler)(nil)

func NewHierarchicalSampler(opts ...Option) *HierarchicalSampler {
	o := buildOptions(opts)
	return &HierarchicalSampler{
		graph: graph.New[string](),
		seeds: newSeedSource(o.seed),
		opts:  o,
		depth: o.depth,
		dirty: true,
	}
}

// Graph exposes the underlying graph for inspection. Mutate it through the
// sampler so cached roots stay in sync.
func (s *HierarchicalSampler) Graph() *graph.RelationshipGraph[string] {
	return s.graph
}

func (s *HierarchicalSampler) NewChain() *Chain {
	return &Chain{src: s, rng: s.seeds.next(), depth: s.Depth()}
}

func (s *HierarchicalSampler) SetDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = max(depth, 0)
}

func (s *HierarchicalSampler) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depth
}

func (s *HierarchicalSampler) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *HierarchicalSampler) IsEmpty() bool {
	return s.graph.NodeCount() == 0
}

func (s *HierarchicalSampler) Size() int {
	return s.graph.NodeCount()
}

func (s *HierarchicalSampler) TopLevelParentCount() int {
	return len(s.graph.TopLevelParents())
}

func (s *HierarchicalSampler) MaxDepth() int {
	return s.graph.MaxDepthOverall()
}

func (s *HierarchicalSampler) touch() {
	s.mu.Lock()
	s.dirty = true
	s.initialized = true
	s.mu.Unlock()
}

// AddPath adds one root-to-leaf chain.
func (s *HierarchicalSampler) AddPath(ids ...string) {
	s.graph.AddPath(ids...)
	s.touch()
}

// BuildFromRows loads the result of a bulk query. Each row is a chain from
// root to leaf; an empty cell ends the chain.
func (s *HierarchicalSampler) BuildFromRows(rows [][]string) {
	for _, row := range rows {
		if chain := trimChain(row); len(chain) > 0 {
			s.graph.AddPath(chain...)
		}
		if s.budgetReached() {
			logrus.Infof("id budget of %d reached, ignoring remaining rows", s.opts.budget)
			break
		}
	}
	s.touch()
}

// Clear drops every loaded id.
func (s *HierarchicalSampler) Clear() {
	s.graph.Clear()
	s.mu.Lock()
	s.dirty = true
	s.initialized = false
	s.mu.Unlock()
}

func (s *HierarchicalSampler) budgetReached() bool {
	return s.opts.budget > 0 && s.graph.NodeCount() >= s.opts.budget
}

func (s *HierarchicalSampler) rootSet() []string {
	s.mu.RLock()
	if !s.dirty {
		roots := s.roots
		s.mu.RUnlock()
		return roots
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		roots := s.graph.TopLevelParents()
		if len(roots) == 0 {
			// Purely cyclic: any node can start a chain.
			roots = s.graph.Nodes()
		}
		s.roots = roots
		s.dirty = false
	}
	return s.roots
}

func (s *HierarchicalSampler) pickRoot(rng *rand.Rand) (string, bool) {
	roots := s.rootSet()
	if len(roots) == 0 {
		return "", false
	}
	return roots[rng.IntN(len(roots))], true
}

func (s *HierarchicalSampler) pickChild(parent string, rng *rand.Rand) (string, bool) {
	n := s.graph.ChildCount(parent)
	if n == 0 {
		return "", false
	}
	return s.graph.ChildAt(parent, rng.IntN(n))
}

// Import loads id chains from pattern, a file, directory or glob.
func (s *HierarchicalSampler) Import(pattern string) error {
	files, err := expandPattern(pattern)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, f := range files {
		if s.budgetReached() {
			break
		}
		err := readIdFile(f, func(cells []string) bool {
			s.graph.AddPath(cells...)
			return !s.budgetReached()
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.touch()
	if s.budgetReached() {
		logrus.Infof("id budget of %d reached while importing %s", s.opts.budget, pattern)
	}
	logrus.Debugf("imported %d ids (%d relationships) from %s", s.graph.NodeCount(), s.graph.RelationshipCount(), pattern)
	return result.ErrorOrNil()
}

// Export writes top-level parents, then representative paths below each,
// then every relationship no path covered as a parent,child line.
func (s *HierarchicalSampler) Export(w io.Writer) error {
	bw := bufio.NewWriter(w)
	roots := s.graph.TopLevelParents()
	fmt.Fprintf(bw, "# graphbench ids: %d nodes, %d relationships, %d top-level parents\n",
		s.graph.NodeCount(), s.graph.RelationshipCount(), len(roots))
	for _, r := range roots {
		fmt.Fprintln(bw, r)
	}

	written := make(map[[2]string]struct{})
	for _, r := range roots {
		for _, p := range s.graph.Paths(r, s.opts.exportPaths) {
			if len(p) < 2 {
				continue
			}
			for i := 1; i < len(p); i++ {
				written[[2]string{p[i-1], p[i]}] = struct{}{}
			}
			fmt.Fprintln(bw, strings.Join(p, ","))
		}
	}
	// back edges, cycles without a top-level parent, paths past the limit
	for _, parent := range s.graph.Nodes() {
		for _, child := range s.graph.DirectChildren(parent) {
			if _, ok := written[[2]string{parent, child}]; ok {
				continue
			}
			fmt.Fprintf(bw, "%s,%s\n", parent, child)
		}
	}
	return errors.Wrap(bw.Flush(), "writing ids")
}
