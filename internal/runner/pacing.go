package runner

import (
	"context"
	"runtime"
	"time"
)

const (
	// spinWindow is how close to a deadline the loop stops sleeping and yields instead.
	spinWindow = 200 * time.Microsecond
	// maxNap bounds a single sleep so stop flags are seen promptly.
	maxNap = 20 * time.Millisecond
)

// PartitionRate splits total across n loops. The remainder goes to the
// lowest-indexed loops, so rates sum to total and differ by at most one.
func PartitionRate(total, n int) []int {
	if n <= 0 {
		return nil
	}
	base, rem := total/n, total%n
	rates := make([]int, n)
	for i := range rates {
		rates[i] = base
		if i < rem {
			rates[i]++
		}
	}
	return rates
}

// dueAt is the offset of the i-th call at rate calls per second. It is exact
// so a loop never issues more than rate calls in any whole second.
func dueAt(i int64, rate int) time.Duration {
	return time.Duration(i * int64(time.Second) / int64(rate))
}

// pace dispatches rate calls per second from start until end or until the
// run is told to stop. The i-th call is due at start + dueAt(i, rate).
func (r *Runner) pace(ctx context.Context, cur *run, rate int, start, end time.Time) error {
	r.activate(cur)
	rc := cur.rc
	if rate <= 0 {
		waitUntil(ctx, rc, end)
		return nil
	}
	for i := int64(0); ; i++ {
		due := start.Add(dueAt(i, rate))
		if !due.Before(end) {
			return nil
		}
		if !waitUntil(ctx, rc, due) {
			return nil
		}
		if !r.dispatch(cur) {
			return nil
		}
	}
}

// waitUntil blocks until deadline on the monotonic clock. It sleeps while the
// deadline is far and yields in a tight loop for the last spinWindow. It
// returns false when the run stops first.
func waitUntil(ctx context.Context, rc *RunContext, deadline time.Time) bool {
	for {
		if rc.Terminating() || ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		switch {
		case remaining <= 0:
			return true
		case remaining > spinWindow:
			time.Sleep(min(remaining-spinWindow, maxNap))
		default:
			runtime.Gosched()
		}
	}
}
