package manager

import (
	"sync"
	"time"

	"pipelined/internal/engine"
	"pipelined/internal/stream"
	"pipelined/pkg/types"
)

// State is the lifecycle state of a pipeline instance.
type State string

const (
	StateCreated   State = "CREATED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateAborted   State = "ABORTED"
	StateError     State = "ERROR"
	StateStopped   State = "STOPPED"
)

// States lists every state in lifecycle order.
var States = []State{StateCreated, StateRunning, StateCompleted, StateAborted, StateError, StateStopped}

// Stopped reports whether the instance has finished running.
func (s State) Stopped() bool { return s.rank() >= 2 }

// Active reports whether the state counts against the running bound.
func (s State) Active() bool { return s == StateCreated || s == StateRunning }

func (s State) rank() int {
	switch s {
	case StateCreated:
		return 0
	case StateRunning:
		return 1
	case StateCompleted, StateAborted, StateError:
		return 2
	case StateStopped:
		return 3
	}
	return -1
}

// canMove reports whether from → to respects the state machine: ranks only
// increase, and the three terminal outcomes never replace each other.
func canMove(from, to State) bool {
	return to.rank() > from.rank()
}

func stateFromStatus(s engine.Status) State {
	switch s {
	case engine.StatusCompleted:
		return StateCompleted
	case engine.StatusError:
		return StateError
	default:
		return StateAborted
	}
}

// Instance is the manager's record of one pipeline instance. state, err,
// the timestamps and stopRequested are guarded by the manager lock; metrics
// has its own.
type Instance struct {
	ID       string
	def      types.PipelineDefinition
	params   map[string]any
	session  engine.Session
	tap      engine.Tap
	dest     *stream.Destination
	frameDst *FrameDestination

	state         State
	err           string
	created       time.Time
	started       time.Time
	ended         time.Time
	stopRequested bool

	done     chan struct{}
	doneOnce sync.Once
	exited   chan struct{}

	metrics instanceMetrics
}

func newInstance(id string, def types.PipelineDefinition, params map[string]any, now time.Time) *Instance {
	return &Instance{
		ID:      id,
		def:     def,
		params:  params,
		state:   StateCreated,
		created: now,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// markDone closes done once the instance has stopped running.
func (i *Instance) markDone() { i.doneOnce.Do(func() { close(i.done) }) }
