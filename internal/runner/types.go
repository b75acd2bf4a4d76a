package runner

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"graphbench/internal/sampler"
)

const (
	DefaultShutdownGrace     = 5 * time.Second
	DefaultQueueDepthCeiling = 10000
)

var (
	// ErrOverload aborts a run whose pending calls outgrow the queue-depth ceiling.
	ErrOverload = errors.New("overload: pending calls exceeded the queue-depth ceiling, add workers or lower the rate")
	// ErrErrorThresholdExceeded aborts a run whose error count passed the configured threshold.
	ErrErrorThresholdExceeded = errors.New("error threshold exceeded")
	// ErrForceCancelled marks a run whose in-flight calls had to be interrupted.
	ErrForceCancelled = errors.New("run did not drain within the shutdown grace and was force-cancelled")
	ErrRunActive      = errors.New("a run is active")
	ErrNotConfigured  = errors.New("no query unit configured")
)

// Config describes one run. It is read-only once the run starts.
type Config struct {
	Name              string        `json:"name" yaml:"name"`
	TargetRate        int           `json:"target_rate" yaml:"target_rate"`
	Schedulers        int           `json:"schedulers" yaml:"schedulers"`
	Workers           int           `json:"workers" yaml:"workers"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
	ShutdownGrace     time.Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
	ErrorThreshold    int           `json:"error_threshold" yaml:"error_threshold"` // 0 disables the rule
	Warmup            bool          `json:"warmup" yaml:"warmup"`
	QueueDepthCeiling int64         `json:"queue_depth_ceiling" yaml:"queue_depth_ceiling"`
}

// WithDefaults fills optional fields left at zero.
func (c Config) WithDefaults() Config {
	if c.Schedulers == 0 {
		c.Schedulers = 1
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.QueueDepthCeiling == 0 {
		c.QueueDepthCeiling = DefaultQueueDepthCeiling
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.TargetRate <= 0:
		return errors.Errorf("target rate must be positive, got %d", c.TargetRate)
	case c.Schedulers <= 0:
		return errors.Errorf("schedulers must be positive, got %d", c.Schedulers)
	case (c.TargetRate+c.Schedulers-1)/c.Schedulers > int(time.Second):
		return errors.Errorf("target rate %d/s is above one call per nanosecond per scheduler", c.TargetRate)
	case c.Workers <= 0:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	case c.Duration <= 0:
		return errors.Errorf("duration must be positive, got %s", c.Duration)
	case c.ShutdownGrace < 0:
		return errors.Errorf("shutdown grace cannot be negative, got %s", c.ShutdownGrace)
	case c.ErrorThreshold < 0:
		return errors.Errorf("error threshold cannot be negative, got %d", c.ErrorThreshold)
	case c.QueueDepthCeiling < 1:
		return errors.Errorf("queue depth ceiling must be at least 1, got %d", c.QueueDepthCeiling)
	}
	return nil
}

// Invocation is the state of one call. Ids is nil when the run has no id supplier.
type Invocation struct {
	Seq     uint64
	Ids     *sampler.Chain
	Request any
}

// Outcome is what a call returns. Unmeasured outcomes count as aborted.
type Outcome struct {
	Measured bool
	Result   any
}

// QueryUnit is the unit under test. PreCall and PostCall are not timed.
type QueryUnit interface {
	Name() string
	// PreProcess prepares the run. Returning false ends the run before any call.
	PreProcess(ctx context.Context) (bool, error)
	PostProcess(ctx context.Context) error
	PreCall(ctx context.Context, inv *Invocation) error
	Call(ctx context.Context, inv *Invocation) (Outcome, error)
	PostCall(ctx context.Context, inv *Invocation, out Outcome, err error)
}

// RunInfo is sent to the metrics sink when a run is configured.
type RunInfo struct {
	Name     string
	Kind     string
	Duration time.Duration
	Warmup   bool
}

// MetricsSink receives live run metrics.
type MetricsSink interface {
	Reset(info RunInfo)
	RecordLatency(d time.Duration)
	RecordException(errType, message string)
	IncrementPending()
	DecrementPending()
	SetState(state string)
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) Reset(RunInfo)                  {}
func (NoopSink) RecordLatency(time.Duration)    {}
func (NoopSink) RecordException(string, string) {}
func (NoopSink) IncrementPending()              {}
func (NoopSink) DecrementPending()              {}
func (NoopSink) SetState(string)                {}

// StatsSnapshot is sent over the updates channel
type StatsSnapshot struct {
	State    RunState
	Elapsed  time.Duration
	Success  uint64
	Errors   uint64
	Aborted  uint64
	Pending  int64
	Progress float64

	CallsPerSec  float64
	ErrorsPerSec float64
	P50Ms        float64
	P90Ms        float64
	P99Ms        float64
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot
