package runner

import (
	"time"

	"graphbench/internal/stats"
)

// LatencySummary holds success latencies in milliseconds.
type LatencySummary struct {
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms  float64 `json:"p95_ms" yaml:"p95_ms"`
	P99Ms  float64 `json:"p99_ms" yaml:"p99_ms"`
	P999Ms float64 `json:"p999_ms" yaml:"p999_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
}

type QueueDepthSummary struct {
	Mean float64 `json:"mean" yaml:"mean"`
	P99  int64   `json:"p99" yaml:"p99"`
	Max  int64   `json:"max" yaml:"max"`
}

// Summary is the outcome of a run.
type Summary struct {
	Name       string        `json:"name" yaml:"name"`
	Unit       string        `json:"unit" yaml:"unit"`
	State      string        `json:"state" yaml:"state"`
	TargetRate int           `json:"target_rate" yaml:"target_rate"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`

	Success      uint64  `json:"success" yaml:"success"`
	Errors       uint64  `json:"errors" yaml:"errors"`
	AbortedCalls uint64  `json:"aborted_calls" yaml:"aborted_calls"`
	CallsPerSec  float64 `json:"calls_per_sec" yaml:"calls_per_sec"`
	ErrorsPerSec float64 `json:"errors_per_sec" yaml:"errors_per_sec"`
	ErrorRate    float64 `json:"error_rate_pct" yaml:"error_rate_pct"`

	Latency    LatencySummary    `json:"latency" yaml:"latency"`
	QueueDepth QueueDepthSummary `json:"queue_depth" yaml:"queue_depth"`

	ErrorGroups []stats.ErrorGroup `json:"error_groups,omitempty" yaml:"error_groups,omitempty"`
	Timeline    []stats.TimeBucket `json:"timeline,omitempty" yaml:"timeline,omitempty"`

	Aborted     bool   `json:"aborted" yaml:"aborted"`
	AbortReason string `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
}

func msOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Summary reports the current or last run.
func (r *Runner) Summary() Summary {
	s := r.stats
	out := Summary{
		Name:         r.Cfg.Name,
		State:        r.State().String(),
		TargetRate:   r.Cfg.TargetRate,
		Elapsed:      r.Elapsed(),
		Success:      s.SuccessCount(),
		Errors:       s.ErrorCount(),
		AbortedCalls: s.AbortedCount(),
		CallsPerSec:  r.CallsPerSecond(),
		ErrorsPerSec: r.ErrorsPerSecond(),
		ErrorRate:    s.ErrorRate(),
		Latency: LatencySummary{
			MeanMs: msOf(s.MeanSuccessLatency()),
			P50Ms:  msOf(r.LatencyAt(50)),
			P90Ms:  msOf(r.LatencyAt(90)),
			P95Ms:  msOf(r.LatencyAt(95)),
			P99Ms:  msOf(r.LatencyAt(99)),
			P999Ms: msOf(r.LatencyAt(99.9)),
			MaxMs:  msOf(time.Duration(s.SuccessLatency.Max())),
		},
		QueueDepth: QueueDepthSummary{
			Mean: r.QueueDepthMean(),
			P99:  r.QueueDepthAt(99),
			Max:  s.QueueDepth.Max(),
		},
		ErrorGroups: s.ErrorGroups(),
		Timeline:    s.Timeline.Buckets(),
		Aborted:     r.Aborted(),
	}

	r.mu.Lock()
	if r.unit != nil {
		out.Unit = r.unit.Name()
	}
	r.mu.Unlock()

	if err := r.Err(); err != nil {
		out.AbortReason = err.Error()
	}
	return out
}
