package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyCeiling(t *testing.T) {
	assert.Equal(t, 30*time.Second+600*time.Millisecond, LatencyCeiling(60*time.Second, 100))
	assert.Equal(t, 40*time.Second, LatencyCeiling(10*time.Second, 0))
}

func TestLatencyHistogram_ClampsAboveCeiling(t *testing.T) {
	h := NewLatencyHistogram(time.Second)

	assert.False(t, h.Record(10*time.Millisecond))
	assert.True(t, h.Record(5*time.Second))
	assert.True(t, h.Record(6*time.Second))

	assert.Equal(t, int64(3), h.TotalCount())
	assert.InDelta(t, float64(time.Second), float64(h.Max()), float64(time.Second)/100)
}

func TestLatencyHistogram_Percentiles(t *testing.T) {
	h := NewLatencyHistogram(10 * time.Second)
	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}
	assert.InDelta(t, float64(50*time.Millisecond), float64(h.At(50)), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(h.At(99)), float64(time.Millisecond))
}

func TestQueueDepthHistogram_CeilingIsAnError(t *testing.T) {
	h := NewQueueDepthHistogram(10)

	require.NoError(t, h.Record(0))
	require.NoError(t, h.Record(10))

	err := h.Record(11)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueDepthExceeded))
	assert.Equal(t, int64(2), h.TotalCount())
}

func TestStats_CountersAndGroups(t *testing.T) {
	s := NewStats(time.Minute, 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				s.AddError(time.Millisecond, i%10 == 0)
				s.RecordException("*net.OpError", "connection refused")
				return
			}
			s.AddSuccess(2 * time.Millisecond)
		}(i)
	}
	wg.Wait()
	s.AddAborted()
	s.RecordException("redis.Error", "ERR unknown graph")

	assert.Equal(t, uint64(40), s.SuccessCount())
	assert.Equal(t, uint64(10), s.ErrorCount())
	assert.Equal(t, uint64(1), s.AbortedCount())
	assert.Equal(t, uint64(51), s.Completed())
	assert.Equal(t, int64(5), s.ErrorLatency.TotalCount())
	assert.Equal(t, 2*time.Millisecond, s.MeanSuccessLatency())
	assert.InDelta(t, 20.0, s.ErrorRate(), 0.001)

	groups := s.ErrorGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, ErrorGroup{Type: "*net.OpError", Message: "connection refused", Count: 10}, groups[0])
	assert.Equal(t, uint64(1), groups[1].Count)

	s.Reset()
	assert.Equal(t, uint64(0), s.Completed())
	assert.Empty(t, s.ErrorGroups())
	assert.Equal(t, int64(0), s.SuccessLatency.TotalCount())
}

func TestTimeline_BucketsBySecond(t *testing.T) {
	now := time.Unix(1000, 0)
	tl := &Timeline{now: func() time.Time { return now }}
	tl.Reset()

	tl.Add(true)
	tl.Add(false)
	now = now.Add(2500 * time.Millisecond)
	tl.Add(true)

	b := tl.Buckets()
	require.Len(t, b, 3)
	assert.Equal(t, TimeBucket{Timestamp: 1000, Requests: 2, Errors: 1}, b[0])
	assert.Equal(t, TimeBucket{Timestamp: 1001}, b[1])
	assert.Equal(t, TimeBucket{Timestamp: 1002, Requests: 1}, b[2])
}
