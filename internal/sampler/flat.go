package sampler

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// FlatSampler picks ids uniformly from a flat list. Only depth 0 exists.
type FlatSampler struct {
	seeds *seedSource
	opts  options

	mu          sync.RWMutex
	ids         []string
	seen        map[string]struct{}
	depth       int
	initialized bool
}

var _ IdSupplier = (*FlatSampler)(nil)

func NewFlatSampler(opts ...Option) *FlatSampler {
	o := buildOptions(opts)
	return &FlatSampler{
		seeds: newSeedSource(o.seed),
		opts:  o,
		seen:  make(map[string]struct{}),
		depth: o.depth,
	}
}

// Add appends ids that are not already known.
func (s *FlatSampler) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(ids...)
	s.initialized = true
}

func (s *FlatSampler) add(ids ...string) {
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
}

func (s *FlatSampler) NewChain() *Chain {
	return &Chain{src: s, rng: s.seeds.next(), depth: s.Depth()}
}

func (s *FlatSampler) SetDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = max(depth, 0)
}

func (s *FlatSampler) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depth
}

func (s *FlatSampler) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *FlatSampler) IsEmpty() bool {
	return s.Size() == 0
}

func (s *FlatSampler) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *FlatSampler) pickRoot(rng *rand.Rand) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[rng.IntN(len(s.ids))], true
}

func (s *FlatSampler) pickChild(string, *rand.Rand) (string, bool) {
	return "", false
}

// Import reads the first id of every line in pattern.
func (s *FlatSampler) Import(pattern string) error {
	files, err := expandPattern(pattern)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	full := func() bool { return s.opts.budget > 0 && len(s.ids) >= s.opts.budget }

	var result *multierror.Error
	for _, f := range files {
		if full() {
			break
		}
		err := readIdFile(f, func(cells []string) bool {
			s.add(cells[0])
			return !full()
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.initialized = true
	return result.ErrorOrNil()
}

func (s *FlatSampler) Export(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# graphbench ids: %d ids\n", len(s.ids))
	for _, id := range s.ids {
		fmt.Fprintln(bw, id)
	}
	return errors.Wrap(bw.Flush(), "writing ids")
}
