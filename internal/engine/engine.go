// Package engine is the contract between the control plane and the media
// execution engine that decodes, infers and encodes frames. The GStreamer
// implementation is compiled with -tags gst; without it Default returns an
// engine that reports itself unavailable.
package engine

import (
	"context"
	"sync"
	"time"
)

// Engine builds sessions from a rendered template.
type Engine interface {
	// Build renders template with params and constructs a session. The
	// session does not run until Start is called.
	Build(template string, params map[string]any) (Session, error)
	Name() string
}

// Session is one running processing graph.
type Session interface {
	Start() error
	// Quit asks the session's main loop to exit. It does not block.
	Quit()
	Stopped() bool
	Status() Status
	Err() error
	// Done is closed once the session reaches a terminal status.
	Done() <-chan struct{}
	// AppSource returns the named live-injection point.
	AppSource(name string) (InjectionPoint, error)
	// AppSink returns the named output tap.
	AppSink(name string) (Tap, error)
}

// InjectionPoint is the engine side of a live input.
type InjectionPoint interface {
	Inject(f Frame) error
	SetCaps(caps string) error
	// SetMaxBytes bounds the injection point's internal queue.
	SetMaxBytes(n uint64)
	// SetBackpressureCallbacks registers the need-data and enough-data
	// signals. Either may be called from an engine thread.
	SetBackpressureCallbacks(needData, enoughData func())
	EndOfStream() error
}

// Tap yields frames leaving a session. Pull returns io.EOF at end of stream.
type Tap interface {
	Pull(ctx context.Context) (Frame, error)
}

// Frame is one media buffer with its timing.
type Frame struct {
	Data     []byte
	Caps     string
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
	// Latency is the processing latency reported by the engine, zero when unknown.
	Latency time.Duration
}

// Status of a session.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusCompleted
	StatusAborted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAborted:
		return "ABORTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool { return s >= StatusCompleted }

// Lifecycle tracks a session's status and completion signal. Engine
// implementations embed it.
type Lifecycle struct {
	mu     sync.Mutex
	status Status
	err    error
	once   sync.Once
	done   chan struct{}
}

func (l *Lifecycle) doneCh() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		l.done = make(chan struct{})
	}
	return l.done
}

// MarkRunning moves a ready session to running. It is a no-op once terminal.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusReady {
		l.status = StatusRunning
	}
}

// Finish records the terminal status once and closes Done. Later calls are
// ignored.
func (l *Lifecycle) Finish(s Status, err error) {
	ch := l.doneCh()
	l.once.Do(func() {
		l.mu.Lock()
		l.status = s
		l.err = err
		l.mu.Unlock()
		close(ch)
	})
}

func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Lifecycle) Stopped() bool { return l.Status().Terminal() }

func (l *Lifecycle) Done() <-chan struct{} { return l.doneCh() }
