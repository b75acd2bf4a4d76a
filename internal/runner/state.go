package runner

import (
	"sync"

	"github.com/pkg/errors"
)

// RunState is the lifecycle position of a Runner.
type RunState int

const (
	Initialized RunState = iota
	CanRun
	PendingRun
	Running
	WaitingCompletion
	Completed
	PendingShutdown
	Shutdown
)

var stateNames = [...]string{
	Initialized:       "initialized",
	CanRun:            "can_run",
	PendingRun:        "pending_run",
	Running:           "running",
	WaitingCompletion: "waiting_completion",
	Completed:         "completed",
	PendingShutdown:   "pending_shutdown",
	Shutdown:          "shutdown",
}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrInvalidTransition is returned for a lifecycle move the table does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[RunState][]RunState{
	Initialized:       {CanRun},
	CanRun:            {CanRun, PendingRun},
	PendingRun:        {Running, Completed, CanRun, WaitingCompletion},
	Running:           {WaitingCompletion},
	WaitingCompletion: {Completed},
	Completed:         {CanRun, PendingRun},
	PendingShutdown:   {Shutdown},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to RunState) bool {
	if to == PendingShutdown {
		return from != PendingShutdown && from != Shutdown
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	mu    sync.Mutex
	state RunState
	sink  MetricsSink
}

func newStateMachine(sink MetricsSink) *stateMachine {
	return &stateMachine{state: Initialized, sink: sink}
}

func (m *stateMachine) get() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) transition(to RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", m.state, to)
	}
	m.set(to)
	return nil
}

// compareAndSet moves to `to` only when the machine is in `from`.
func (m *stateMachine) compareAndSet(from, to RunState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from || !CanTransition(from, to) {
		return false
	}
	m.set(to)
	return true
}

func (m *stateMachine) set(to RunState) {
	m.state = to
	m.sink.SetState(to.String())
}
