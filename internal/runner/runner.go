package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"graphbench/internal/sampler"
	"graphbench/internal/stats"
)

const maxExceptionMessage = 200

// run holds what one Start to termination cycle shares.
type run struct {
	rc       *RunContext
	unit     QueryUnit
	ids      sampler.IdSupplier
	pool     *workerPool
	cancel   context.CancelFunc
	done     chan struct{}
	activate sync.Once
	expected float64
}

// requestStop stops the pacing loops and lets queued work drain.
func (c *run) requestStop() {
	c.rc.Terminate()
	if c.cancel != nil {
		c.cancel()
	}
	if c.pool != nil {
		c.pool.Shutdown()
	}
}

// forceCancel interrupts in-flight work.
func (c *run) forceCancel() {
	c.rc.Terminate()
	if c.cancel != nil {
		c.cancel()
	}
	if c.pool != nil {
		c.pool.ForceCancel()
	}
}

// Runner drives a QueryUnit at a fixed aggregate rate.
type Runner struct {
	Cfg     Config
	Updates StatsUpdateChan

	sink  MetricsSink
	sm    *stateMachine
	stats *stats.Stats

	mu            sync.Mutex
	unit          QueryUnit
	ids           sampler.IdSupplier
	cur           *run
	postProcessed bool
}

func NewRunner(cfg Config, sink MetricsSink) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid run configuration")
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &Runner{
		Cfg:     cfg,
		Updates: make(StatsUpdateChan, 10),
		sink:    sink,
		sm:      newStateMachine(sink),
		stats:   stats.NewStats(stats.LatencyCeiling(cfg.Duration, cfg.TargetRate), cfg.QueueDepthCeiling),
	}, nil
}

// Configure binds the unit under test and an optional id supplier.
func (r *Runner) Configure(unit QueryUnit, ids sampler.IdSupplier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unit == nil {
		return ErrNotConfigured
	}
	switch st := r.sm.get(); st {
	case PendingRun, Running, WaitingCompletion:
		return errors.Wrapf(ErrRunActive, "cannot configure while %s", st)
	case PendingShutdown, Shutdown:
		return errors.Wrapf(ErrInvalidTransition, "cannot configure after %s", st)
	}
	if ids != nil {
		if err := sampler.CheckIdsExists(ids); err != nil {
			return errors.Wrap(err, "id supplier")
		}
	}

	r.unit = unit
	r.ids = ids
	r.cur = nil
	r.postProcessed = false
	r.stats.Reset()
	r.sink.Reset(RunInfo{
		Name:     r.Cfg.Name,
		Kind:     unit.Name(),
		Duration: r.Cfg.Duration,
		Warmup:   r.Cfg.Warmup,
	})
	return r.sm.transition(CanRun)
}

// Start launches the pacing loops and returns without waiting for them.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unit == nil {
		return ErrNotConfigured
	}
	if err := r.sm.transition(PendingRun); err != nil {
		return err
	}
	r.stats.Reset()

	proceed, err := r.unit.PreProcess(ctx)
	if err != nil {
		_ = r.sm.transition(CanRun)
		return errors.Wrapf(err, "pre-process %s", r.unit.Name())
	}

	cur := &run{
		rc:       newRunContext(),
		unit:     r.unit,
		ids:      r.ids,
		done:     make(chan struct{}),
		expected: float64(r.Cfg.TargetRate) * r.Cfg.Duration.Seconds(),
	}
	r.cur = cur
	r.postProcessed = false

	now := time.Now()
	cur.rc.markStarted(now)
	if !proceed {
		logrus.Infof("%s declined to run, nothing dispatched", r.unit.Name())
		cur.rc.markStopped(now)
		close(cur.done)
		r.postProcessed = true
		return r.sm.transition(Completed)
	}

	cur.pool = newWorkerPool(r.Cfg.Workers, int(r.Cfg.QueueDepthCeiling))
	loopCtx, cancel := context.WithCancel(ctx)
	cur.cancel = cancel

	rates := PartitionRate(r.Cfg.TargetRate, r.Cfg.Schedulers)
	logrus.Debugf("starting %d pacing loops at %v calls/sec", len(rates), rates)

	g, gctx := errgroup.WithContext(loopCtx)
	end := now.Add(r.Cfg.Duration)
	for _, rate := range rates {
		g.Go(func() error {
			return r.pace(gctx, cur, rate, now, end)
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			cur.rc.Abort(err)
		}
		cur.rc.Terminate()
		cur.pool.Shutdown()
		<-cur.pool.Done()
		cur.rc.markStopped(time.Now())
		cancel()
		close(cur.done)
	}()
	return nil
}

func (r *Runner) activate(cur *run) {
	cur.activate.Do(func() {
		r.sm.compareAndSet(PendingRun, Running)
	})
}

// dispatch submits one work item. It returns false when the loop must stop.
func (r *Runner) dispatch(cur *run) bool {
	rc := cur.rc
	depth := rc.pending.Add(1)
	r.sink.IncrementPending()

	if depth > r.Cfg.QueueDepthCeiling {
		r.release(rc)
		r.overload(rc, errors.Wrapf(stats.ErrQueueDepthExceeded, "%d pending calls", depth))
		return false
	}
	if !cur.pool.Submit(r.workItem(cur, rc.nextSeq())) {
		r.release(rc)
		if rc.Terminating() {
			return false
		}
		r.overload(rc, errors.Errorf("worker queue full at %d pending calls", depth))
		return false
	}
	return true
}

func (r *Runner) release(rc *RunContext) int64 {
	r.sink.DecrementPending()
	return rc.pending.Add(-1)
}

// complete releases a finished work item and records the depth it leaves behind.
func (r *Runner) complete(rc *RunContext) {
	if err := r.stats.QueueDepth.Record(r.release(rc)); err != nil {
		r.overload(rc, err)
	}
}

func (r *Runner) overload(rc *RunContext, cause error) {
	if rc.Aborted() {
		return
	}
	logrus.Errorf("aborting run: %v", cause)
	rc.Abort(errors.Wrap(ErrOverload, cause.Error()))
}

func (r *Runner) workItem(cur *run, seq uint64) task {
	return func(ctx context.Context) {
		defer r.complete(cur.rc)

		if ctx.Err() != nil {
			r.stats.AddAborted()
			return
		}

		inv := &Invocation{Seq: seq}
		if cur.ids != nil {
			inv.Ids = cur.ids.NewChain()
		}

		var (
			out     Outcome
			err     error
			started time.Time
			took    time.Duration
		)
		if err = cur.unit.PreCall(ctx, inv); err == nil {
			started = time.Now()
			out, err = cur.unit.Call(ctx, inv)
			took = time.Since(started)
		}

		switch {
		case err != nil && ctx.Err() != nil:
			// interrupted by a forced shutdown
			r.stats.AddAborted()
		case err != nil:
			r.recordError(cur.rc, err, took, !started.IsZero())
		case !out.Measured:
			r.stats.AddAborted()
		default:
			r.stats.AddSuccess(took)
			r.sink.RecordLatency(took)
		}
		cur.unit.PostCall(ctx, inv, out, err)
	}
}

type typedError interface {
	ErrorType() string
}

// errorType names the root cause of err for grouping.
func errorType(cause error) string {
	if t, ok := cause.(typedError); ok {
		return t.ErrorType()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", cause), "*")
}

func shortMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > maxExceptionMessage {
		msg = msg[:maxExceptionMessage] + "..."
	}
	return msg
}

func (r *Runner) recordError(rc *RunContext, err error, took time.Duration, started bool) {
	cause := errors.Cause(err)
	typ, msg := errorType(cause), shortMessage(err.Error())

	n := r.stats.AddError(took, started)
	r.stats.RecordException(typ, msg)
	r.sink.RecordException(typ, msg)

	if t := r.Cfg.ErrorThreshold; t > 0 && n > uint64(t) && !rc.Aborted() {
		logrus.Warnf("error count %d exceeded threshold %d, aborting run", n, t)
		rc.Abort(ErrErrorThresholdExceeded)
	}
}

// AwaitTermination waits for the current run to finish, escalating to a
// graceful stop after timeout and to forced cancellation after the shutdown
// grace. It reports whether the run ended without being force-cancelled.
func (r *Runner) AwaitTermination(ctx context.Context, timeout time.Duration) (bool, error) {
	cur := r.current()
	if cur == nil {
		return false, ErrNotConfigured
	}
	if !r.sm.compareAndSet(Running, WaitingCompletion) {
		r.sm.compareAndSet(PendingRun, WaitingCompletion)
	}

	graceful, err := r.drain(ctx, cur, timeout, false)

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if reason := cur.rc.Reason(); reason != nil && reason != err {
		result = multierror.Append(result, reason)
	}
	if perr := r.postProcess(ctx, cur); perr != nil {
		result = multierror.Append(result, perr)
	}
	r.sm.compareAndSet(WaitingCompletion, Completed)
	return graceful, flatten(result)
}

// Shutdown stops any active run and releases the unit. Repeated calls are no-ops.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if st := r.sm.get(); st == PendingShutdown || st == Shutdown {
		r.mu.Unlock()
		return nil
	}
	_ = r.sm.transition(PendingShutdown)
	cur := r.cur
	r.mu.Unlock()

	var result *multierror.Error
	if cur != nil {
		cur.requestStop()
		if _, err := r.drain(ctx, cur, r.Cfg.ShutdownGrace, true); err != nil {
			result = multierror.Append(result, err)
		}
	}

	r.mu.Lock()
	if r.unit != nil && !r.postProcessed {
		r.postProcessed = true
		if err := r.unit.PostProcess(ctx); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "post-process %s", r.unit.Name()))
		}
	}
	r.mu.Unlock()

	if err := r.sm.transition(Shutdown); err != nil {
		result = multierror.Append(result, err)
	}
	return flatten(result)
}

func (r *Runner) Close() error {
	return r.Shutdown(context.Background())
}

// Run starts a run and waits for it to finish.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if err := r.Start(ctx); err != nil {
		return Summary{}, err
	}
	_, err := r.AwaitTermination(ctx, r.Cfg.Duration+r.Cfg.ShutdownGrace)
	return r.Summary(), err
}

func (r *Runner) postProcess(ctx context.Context, cur *run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != cur || r.postProcessed {
		return nil
	}
	r.postProcessed = true
	return errors.Wrapf(cur.unit.PostProcess(ctx), "post-process %s", cur.unit.Name())
}

func (r *Runner) current() *run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// --- accessors ---

func (r *Runner) State() RunState {
	return r.sm.get()
}

func (r *Runner) Stats() *stats.Stats {
	return r.stats
}

// Err is the reason the current run was aborted, if it was.
func (r *Runner) Err() error {
	if cur := r.current(); cur != nil {
		return cur.rc.Reason()
	}
	return nil
}

func (r *Runner) Aborted() bool {
	if cur := r.current(); cur != nil {
		return cur.rc.Aborted()
	}
	return false
}

func (r *Runner) Elapsed() time.Duration {
	if cur := r.current(); cur != nil {
		return cur.rc.Elapsed()
	}
	return 0
}

func (r *Runner) Pending() int64 {
	if cur := r.current(); cur != nil {
		return cur.rc.Pending()
	}
	return 0
}

func (r *Runner) CallsPerSecond() float64 {
	return perSecond(r.stats.SuccessCount(), r.Elapsed())
}

func (r *Runner) ErrorsPerSecond() float64 {
	return perSecond(r.stats.ErrorCount(), r.Elapsed())
}

func perSecond(n uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

// LatencyAt is the success latency at percentile p (0-100).
func (r *Runner) LatencyAt(p float64) time.Duration {
	return r.stats.SuccessLatency.At(p)
}

func (r *Runner) QueueDepthMean() float64 {
	return r.stats.QueueDepth.Mean()
}

func (r *Runner) QueueDepthAt(p float64) int64 {
	return r.stats.QueueDepth.ValueAtQuantile(p)
}

// Progress is the fraction of the expected calls that have an outcome, capped at 1.
func (r *Runner) Progress() float64 {
	cur := r.current()
	if cur == nil || cur.expected <= 0 {
		return 0
	}
	return min(float64(r.stats.Completed())/cur.expected, 1)
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		State:        r.State(),
		Elapsed:      r.Elapsed(),
		Success:      r.stats.SuccessCount(),
		Errors:       r.stats.ErrorCount(),
		Aborted:      r.stats.AbortedCount(),
		Pending:      r.Pending(),
		Progress:     r.Progress(),
		CallsPerSec:  r.CallsPerSecond(),
		ErrorsPerSec: r.ErrorsPerSecond(),
		P50Ms:        r.stats.GetP50Success(),
		P90Ms:        r.stats.GetP90Success(),
		P99Ms:        r.stats.GetP99Success(),
	}
}

func (r *Runner) sendUpdate() {
	select {
	case r.Updates <- r.Snapshot():
	default:
		// Drop update if channel full, the reader acts as backpressure
	}
}
