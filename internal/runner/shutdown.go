package runner

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// drainPhase is a step of the escalating shutdown.
type drainPhase int

const (
	phaseDraining drainPhase = iota
	phaseForceCancelling
	phaseTerminated
)

func (p drainPhase) String() string {
	switch p {
	case phaseDraining:
		return "draining"
	case phaseForceCancelling:
		return "force_cancelling"
	default:
		return "terminated"
	}
}

// drain waits for cur to finish. While draining it waits up to timeout; if
// the run is still active it asks for a graceful stop and waits one shutdown
// grace more, then force-cancels in-flight work. When stopRequested is
// set the caller already asked for a stop, so the first expiry escalates
// straight to cancellation.
func (r *Runner) drain(ctx context.Context, cur *run, timeout time.Duration, stopRequested bool) (graceful bool, err error) {
	phase := phaseDraining
	wait := timeout
	for {
		logrus.Debugf("shutdown phase %s", phase)
		switch phase {
		case phaseDraining:
			done, werr := waitDone(ctx, cur.done, wait)
			if werr != nil {
				cur.rc.Abort(werr)
				cur.forceCancel()
				return false, werr
			}
			if done {
				return true, nil
			}
			if stopRequested {
				phase = phaseForceCancelling
				continue
			}
			logrus.Infof("run still active after %s, requesting graceful shutdown", wait)
			cur.requestStop()
			stopRequested = true
			wait = r.Cfg.ShutdownGrace

		case phaseForceCancelling:
			logrus.Warnf("run did not drain within %s, cancelling in-flight calls", r.Cfg.ShutdownGrace)
			cur.rc.Abort(ErrForceCancelled)
			cur.forceCancel()
			phase = phaseTerminated

		case phaseTerminated:
			// Calls that ignore their context can outlive the run.
			if done, _ := waitDone(ctx, cur.done, r.Cfg.ShutdownGrace); !done {
				logrus.Warnf("%d calls still pending after forced cancellation", cur.rc.Pending())
				cur.rc.markStopped(time.Now())
			}
			return false, nil
		}
	}
}

// waitDone waits for done for at most d. It returns ctx.Err() if ctx ends first.
func waitDone(ctx context.Context, done <-chan struct{}, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// flatten returns nil, the single error, or the aggregate.
func flatten(result *multierror.Error) error {
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result.ErrorOrNil()
}
