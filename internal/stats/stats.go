package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds real-time aggregated metrics for one run.
type Stats struct {
	Success uint64
	Errors  uint64
	Aborted uint64

	// Accumulated call durations (nanoseconds)
	SuccessNanos int64
	ErrorNanos   int64

	SuccessLatency *LatencyHistogram
	ErrorLatency   *LatencyHistogram
	QueueDepth     *QueueDepthHistogram

	Timeline *Timeline

	mu     sync.Mutex
	groups map[string]*ErrorGroup
}

// ErrorGroup aggregates errors of one type.
type ErrorGroup struct {
	Type    string `json:"type" yaml:"type"`
	Message string `json:"message" yaml:"message"`
	Count   uint64 `json:"count" yaml:"count"`
}

func NewStats(latencyCeiling time.Duration, queueCeiling int64) *Stats {
	return &Stats{
		SuccessLatency: NewLatencyHistogram(latencyCeiling),
		ErrorLatency:   NewLatencyHistogram(latencyCeiling),
		QueueDepth:     NewQueueDepthHistogram(queueCeiling),
		Timeline:       NewTimeline(),
		groups:         make(map[string]*ErrorGroup),
	}
}

// Reset clears counters and histograms. It must not race with recording.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.Success, 0)
	atomic.StoreUint64(&s.Errors, 0)
	atomic.StoreUint64(&s.Aborted, 0)
	atomic.StoreInt64(&s.SuccessNanos, 0)
	atomic.StoreInt64(&s.ErrorNanos, 0)
	s.SuccessLatency.Reset()
	s.ErrorLatency.Reset()
	s.QueueDepth.Reset()
	s.Timeline.Reset()

	s.mu.Lock()
	s.groups = make(map[string]*ErrorGroup)
	s.mu.Unlock()
}

func (s *Stats) AddSuccess(latency time.Duration) {
	atomic.AddUint64(&s.Success, 1)
	atomic.AddInt64(&s.SuccessNanos, int64(latency))
	s.SuccessLatency.Record(latency)
	s.Timeline.Add(true)
}

// AddError counts a failed call. latency is only recorded when started is true.
func (s *Stats) AddError(latency time.Duration, started bool) uint64 {
	n := atomic.AddUint64(&s.Errors, 1)
	if started {
		atomic.AddInt64(&s.ErrorNanos, int64(latency))
		s.ErrorLatency.Record(latency)
	}
	s.Timeline.Add(false)
	return n
}

func (s *Stats) AddAborted() {
	atomic.AddUint64(&s.Aborted, 1)
}

// RecordException groups an error by type, keeping the first message seen.
func (s *Stats) RecordException(errType, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[errType]
	if !ok {
		g = &ErrorGroup{Type: errType, Message: message}
		s.groups[errType] = g
	}
	g.Count++
}

// ErrorGroups returns the error groups, most frequent first.
func (s *Stats) ErrorGroups() []ErrorGroup {
	s.mu.Lock()
	out := make([]ErrorGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func (s *Stats) SuccessCount() uint64 { return atomic.LoadUint64(&s.Success) }
func (s *Stats) ErrorCount() uint64   { return atomic.LoadUint64(&s.Errors) }
func (s *Stats) AbortedCount() uint64 { return atomic.LoadUint64(&s.Aborted) }

// Completed is the number of calls that reached an outcome.
func (s *Stats) Completed() uint64 {
	return s.SuccessCount() + s.ErrorCount() + s.AbortedCount()
}

func (s *Stats) ErrorRate() float64 {
	ok := s.SuccessCount()
	fails := s.ErrorCount()
	if ok+fails == 0 {
		return 0
	}
	return (float64(fails) / float64(ok+fails)) * 100
}

// MeanSuccessLatency is the average of all successful call durations.
func (s *Stats) MeanSuccessLatency() time.Duration {
	n := s.SuccessCount()
	if n == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&s.SuccessNanos) / int64(n))
}

func (s *Stats) GetP50Success() float64 { return ms(s.SuccessLatency.At(50)) }
func (s *Stats) GetP90Success() float64 { return ms(s.SuccessLatency.At(90)) }
func (s *Stats) GetP95Success() float64 { return ms(s.SuccessLatency.At(95)) }
func (s *Stats) GetP99Success() float64 { return ms(s.SuccessLatency.At(99)) }

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
