package querier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/pkg/errors"

	"graphbench/internal/runner"
)

// SimError is a failure produced by the error profile.
type SimError struct {
	Code int
}

func (e *SimError) Error() string {
	switch e.Code {
	case 429:
		return "429 Too Many Requests"
	default:
		return fmt.Sprintf("%d Internal Server Error", e.Code)
	}
}

func (e *SimError) ErrorType() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Profile shapes simulated latency and failures.
type Profile struct {
	latency func() time.Duration
	fail    func() error
}

func jitter(lo, width time.Duration) func() time.Duration {
	return func() time.Duration {
		return lo + time.Duration(rand.Int64N(int64(width)))
	}
}

var profiles = map[string]Profile{
	// instant answers right away
	"instant": {latency: func() time.Duration { return 0 }},
	// fast: 10-50ms
	"fast": {latency: jitter(10*time.Millisecond, 40*time.Millisecond)},
	// medium: 100-300ms
	"medium": {latency: jitter(100*time.Millisecond, 200*time.Millisecond)},
	// slow: 1-2s, good for testing timeouts and queuing
	"slow": {latency: jitter(time.Second, time.Second)},
	// spike: usually fast, 5% of calls take 2s. P99 will be terrible, P50 will be fine.
	"spike": {latency: func() time.Duration {
		if rand.Float32() < 0.05 {
			return 2 * time.Second
		}
		return 20 * time.Millisecond
	}},
	// error: 20% 500s, 20% 429s
	"error": {
		latency: jitter(5*time.Millisecond, 10*time.Millisecond),
		fail: func() error {
			switch rnd := rand.Float32(); {
			case rnd < 0.2:
				return &SimError{Code: 500}
			case rnd < 0.4:
				return &SimError{Code: 429}
			}
			return nil
		},
	},
}

// Profiles lists the simulated profile names.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SimUnit is a query unit with synthetic latency, used for dry runs.
type SimUnit struct {
	name    string
	profile Profile
}

var _ runner.QueryUnit = (*SimUnit)(nil)

func NewSimUnit(profile string) (*SimUnit, error) {
	p, ok := profiles[profile]
	if !ok {
		return nil, errors.Errorf("unknown sim profile %q, want one of %v", profile, Profiles())
	}
	return &SimUnit{name: profile, profile: p}, nil
}

func (u *SimUnit) Name() string                             { return "sim:" + u.name }
func (u *SimUnit) PreProcess(context.Context) (bool, error) { return true, nil }
func (u *SimUnit) PostProcess(context.Context) error        { return nil }

func (u *SimUnit) PostCall(context.Context, *runner.Invocation, runner.Outcome, error) {}

// PreCall resolves the call's id, if any, as a real query would.
func (u *SimUnit) PreCall(_ context.Context, inv *runner.Invocation) error {
	if inv.Ids == nil {
		return nil
	}
	if id, ok := inv.Ids.GetId(); ok {
		inv.Request = id
	}
	return nil
}

func (u *SimUnit) Call(ctx context.Context, inv *runner.Invocation) (runner.Outcome, error) {
	if d := u.profile.latency(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return runner.Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}
	if u.profile.fail != nil {
		if err := u.profile.fail(); err != nil {
			return runner.Outcome{}, err
		}
	}
	return runner.Outcome{Measured: true, Result: inv.Request}, nil
}
