// Package sampler produces id chains used to parameterize queries.
//
// A supplier is loaded once, before a run, and then hands every call its own
// Chain. A Chain lazily resolves ids from the root down and keeps what it
// resolved, so the same call sees a stable chain until it is Reset.
package sampler

import (
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoIds is returned when ids are required but nothing was loaded.
	ErrNoIds = errors.New("id supplier is empty")
	// ErrNoTopLevelParents is returned when a hierarchy has nodes but no root to start from.
	ErrNoTopLevelParents = errors.New("id hierarchy has no top-level parents")
)

// IdSupplier hands out id chains.
type IdSupplier interface {
	// NewChain returns a fresh resolution state. Chains are not safe for
	// concurrent use; each call gets its own.
	NewChain() *Chain
	SetDepth(depth int)
	Depth() int
	IsInitialized() bool
	IsEmpty() bool
	Size() int
	Import(pattern string) error
	Export(w io.Writer) error
}

type resolver interface {
	pickRoot(rng *rand.Rand) (string, bool)
	pickChild(parent string, rng *rand.Rand) (string, bool)
}

// Chain is the per-call list of resolved ids, index 0 being the root.
type Chain struct {
	src   resolver
	rng   *rand.Rand
	depth int
	ids   []string
}

// GetId returns the id at the supplier's configured depth.
func (c *Chain) GetId() (string, bool) {
	return c.GetIdAt(c.depth)
}

// GetIdAt resolves every position up to depth and returns the id there.
// It returns false when the chain ends before depth.
func (c *Chain) GetIdAt(depth int) (string, bool) {
	if depth < 0 {
		return "", false
	}
	for len(c.ids) <= depth {
		var (
			id string
			ok bool
		)
		if len(c.ids) == 0 {
			id, ok = c.src.pickRoot(c.rng)
		} else {
			id, ok = c.src.pickChild(c.ids[len(c.ids)-1], c.rng)
		}
		if !ok {
			return "", false
		}
		c.ids = append(c.ids, id)
	}
	return c.ids[depth], true
}

// GetIds returns the resolved chain from the root down to the configured
// depth, shorter if the chain ends early.
func (c *Chain) GetIds() []string {
	c.GetIdAt(c.depth)
	n := min(len(c.ids), c.depth+1)
	out := make([]string, n)
	copy(out, c.ids[:n])
	return out
}

// Reset forgets the resolved ids so the next lookup draws a new path.
func (c *Chain) Reset() {
	c.ids = c.ids[:0]
}

// Depth is the depth GetId resolves to.
func (c *Chain) Depth() int {
	return c.depth
}

// seedSource derives independent per-chain generators from one seed.
type seedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSeedSource(seed uint64) *seedSource {
	return &seedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seedSource) next() *rand.Rand {
	s.mu.Lock()
	a, b := s.rng.Uint64(), s.rng.Uint64()
	s.mu.Unlock()
	return rand.New(rand.NewPCG(a, b))
}

type options struct {
	seed        uint64
	depth       int
	budget      int
	exportPaths int
}

// Option configures a supplier.
type Option func(*options)

// WithSeed makes sampling reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = uint64(seed) }
}

// WithDepth sets the initial depth resolved by Chain.GetId.
func WithDepth(depth int) Option {
	return func(o *options) { o.depth = max(depth, 0) }
}

// WithBudget stops imports once this many distinct ids are loaded. 0 means no limit.
func WithBudget(n int) Option {
	return func(o *options) { o.budget = max(n, 0) }
}

// WithExportPaths bounds the number of paths exported per top-level parent. 0 means no limit.
func WithExportPaths(n int) Option {
	return func(o *options) { o.exportPaths = max(n, 0) }
}

func buildOptions(opts []Option) options {
	o := options{
		seed:        uint64(time.Now().UnixNano()),
		exportPaths: defaultExportPaths,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type rootCounter interface {
	TopLevelParentCount() int
}

type depthReporter interface {
	MaxDepth() int
}

// CheckIdsExists fails when a supplier that is required to produce ids cannot.
func CheckIdsExists(s IdSupplier) error {
	if s == nil || s.IsEmpty() {
		return ErrNoIds
	}
	if rc, ok := s.(rootCounter); ok && rc.TopLevelParentCount() == 0 {
		return ErrNoTopLevelParents
	}
	if dr, ok := s.(depthReporter); ok {
		if maxDepth := dr.MaxDepth(); s.Depth() > maxDepth {
			logrus.Warnf("id depth %d is deeper than the loaded hierarchy (%d), deep ids will be absent", s.Depth(), maxDepth)
		}
	}
	return nil
}
