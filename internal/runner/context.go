package runner

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunContext is the shared state of one run, handed to every pacing loop
// and work item.
type RunContext struct {
	abort     atomic.Bool
	terminate atomic.Bool
	pending   atomic.Int64
	seq       atomic.Uint64

	mu      sync.Mutex
	reason  error
	started time.Time
	stopped time.Time
}

func newRunContext() *RunContext {
	return &RunContext{}
}

// Abort sets the abort flag. The first reason wins.
func (rc *RunContext) Abort(reason error) {
	rc.mu.Lock()
	if rc.reason == nil {
		rc.reason = reason
	}
	rc.mu.Unlock()
	rc.abort.Store(true)
	rc.terminate.Store(true)
}

func (rc *RunContext) Aborted() bool {
	return rc.abort.Load()
}

func (rc *RunContext) Reason() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.reason
}

// Terminate asks pacing loops to stop dispatching.
func (rc *RunContext) Terminate() {
	rc.terminate.Store(true)
}

func (rc *RunContext) Terminating() bool {
	return rc.terminate.Load()
}

func (rc *RunContext) Pending() int64 {
	return rc.pending.Load()
}

func (rc *RunContext) nextSeq() uint64 {
	return rc.seq.Add(1)
}

func (rc *RunContext) markStarted(t time.Time) {
	rc.mu.Lock()
	rc.started = t
	rc.mu.Unlock()
}

func (rc *RunContext) markStopped(t time.Time) {
	rc.mu.Lock()
	if rc.stopped.IsZero() {
		rc.stopped = t
	}
	rc.mu.Unlock()
}

// Elapsed is the wall time of the run so far, or of the whole run once stopped.
func (rc *RunContext) Elapsed() time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	switch {
	case rc.started.IsZero():
		return 0
	case rc.stopped.IsZero():
		return time.Since(rc.started)
	default:
		return rc.stopped.Sub(rc.started)
	}
}
