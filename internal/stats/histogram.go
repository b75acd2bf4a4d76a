package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SignificantFigures is the precision of every histogram we keep.
const SignificantFigures = 3

// latencySlack is added to the per-call latency budget derived from the run.
const latencySlack = 30 * time.Second

// ErrQueueDepthExceeded means more calls were pending than the queue-depth
// histogram can track, i.e. the workers cannot keep up with the target rate.
var ErrQueueDepthExceeded = errors.New("queue depth exceeded trackable ceiling")

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram(lowest, highest int64) *SafeHistogram {
	if lowest < 1 {
		lowest = 1
	}
	if highest < 2*lowest {
		highest = 2 * lowest
	}
	return &SafeHistogram{hist: hdrhistogram.New(lowest, highest, SignificantFigures)}
}

func (h *SafeHistogram) RecordValue(v int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(v)
}

// ValueAtQuantile takes q as a percentile in [0, 100].
func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

func (h *SafeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hist.Reset()
}

func (h *SafeHistogram) HighestTrackable() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.HighestTrackableValue()
}

// LatencyCeiling is the highest latency a run at rate calls/sec over duration
// expects to track: duration.seconds/rate plus a fixed slack.
func LatencyCeiling(duration time.Duration, rate int) time.Duration {
	if rate <= 0 {
		return duration + latencySlack
	}
	perCall := duration.Seconds() / float64(rate)
	return time.Duration(perCall*float64(time.Second)) + latencySlack
}

// LatencyHistogram records call latencies in nanoseconds. Values above the
// ceiling are clamped to it.
type LatencyHistogram struct {
	*SafeHistogram
	ceiling int64
	warned  atomic.Bool
}

func NewLatencyHistogram(ceiling time.Duration) *LatencyHistogram {
	return &LatencyHistogram{
		SafeHistogram: NewSafeHistogram(1, int64(ceiling)),
		ceiling:       int64(ceiling),
	}
}

// Record stores d and reports whether it had to be clamped.
func (h *LatencyHistogram) Record(d time.Duration) bool {
	v := int64(d)
	if v < 0 {
		v = 0
	}
	clamped := false
	if v > h.ceiling {
		if h.warned.CompareAndSwap(false, true) {
			logrus.Warnf("latency %s above histogram ceiling %s, clamping", d, time.Duration(h.ceiling))
		}
		v = h.ceiling
		clamped = true
	}
	if err := h.RecordValue(v); err != nil {
		logrus.Debugf("dropping latency sample %d: %v", v, err)
	}
	return clamped
}

func (h *LatencyHistogram) Ceiling() time.Duration {
	return time.Duration(h.ceiling)
}

// At returns the latency at percentile p.
func (h *LatencyHistogram) At(p float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(p))
}

// QueueDepthHistogram records the number of pending calls.
type QueueDepthHistogram struct {
	*SafeHistogram
	ceiling int64
}

func NewQueueDepthHistogram(ceiling int64) *QueueDepthHistogram {
	return &QueueDepthHistogram{
		SafeHistogram: NewSafeHistogram(1, ceiling),
		ceiling:       ceiling,
	}
}

// Record stores depth, or returns ErrQueueDepthExceeded when it is above the ceiling.
func (h *QueueDepthHistogram) Record(depth int64) error {
	if depth < 0 {
		depth = 0
	}
	if depth > h.ceiling {
		return errors.Wrapf(ErrQueueDepthExceeded, "depth %d > %d", depth, h.ceiling)
	}
	return h.RecordValue(depth)
}

func (h *QueueDepthHistogram) Ceiling() int64 {
	return h.ceiling
}
