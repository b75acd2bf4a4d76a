package stats

import (
	"sync"
	"time"
)

// TimeBucket counts outcomes completed within one second of the run.
type TimeBucket struct {
	Timestamp int64 `json:"timestamp" yaml:"timestamp"`
	Requests  int   `json:"requests" yaml:"requests"`
	Errors    int   `json:"errors" yaml:"errors"`
}

// Timeline keeps per-second buckets relative to its start time.
type Timeline struct {
	mu      sync.Mutex
	start   time.Time
	buckets []TimeBucket
	now     func() time.Time
}

func NewTimeline() *Timeline {
	t := &Timeline{now: time.Now}
	t.start = t.now()
	return t
}

func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.now()
	t.buckets = nil
}

func (t *Timeline) Add(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int(t.now().Sub(t.start) / time.Second)
	if idx < 0 {
		idx = 0
	}
	for len(t.buckets) <= idx {
		t.buckets = append(t.buckets, TimeBucket{
			Timestamp: t.start.Add(time.Duration(len(t.buckets)) * time.Second).Unix(),
		})
	}
	b := &t.buckets[idx]
	b.Requests++
	if !success {
		b.Errors++
	}
}

// Buckets returns a copy of the buckets, oldest first.
func (t *Timeline) Buckets() []TimeBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimeBucket, len(t.buckets))
	copy(out, t.buckets)
	return out
}
