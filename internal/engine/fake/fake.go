// Package fake is an in-memory engine for tests. Sessions expose their
// injection points and taps so tests can drive backpressure and feed frames
// by hand.
package fake

import (
	"context"
	"io"
	"regexp"
	"sync"

	"pipelined/internal/engine"
	"pipelined/internal/errs"
)

var nameRe = regexp.MustCompile(`name=([\w\-]+)`)

// Engine records every session it builds.
type Engine struct {
	mu       sync.Mutex
	sessions []*Session

	// BuildErr, when set, is returned by Build.
	BuildErr error
	// OnBuild runs on every new session before Build returns.
	OnBuild func(*Session)
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Build(template string, params map[string]any) (engine.Session, error) {
	e.mu.Lock()
	buildErr, onBuild := e.BuildErr, e.OnBuild
	e.mu.Unlock()
	if buildErr != nil {
		return nil, buildErr
	}
	rendered, err := engine.Render(template, params)
	if err != nil {
		return nil, err
	}
	s := NewSession(rendered)
	if onBuild != nil {
		onBuild(s)
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// SetBuildErr changes the error Build returns.
func (e *Engine) SetBuildErr(err error) {
	e.mu.Lock()
	e.BuildErr = err
	e.mu.Unlock()
}

// Sessions returns the sessions built so far, oldest first.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Last returns the newest session or nil.
func (e *Engine) Last() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// Session is an in-memory engine session. Elements exist for every
// name=<x> found in the rendered template.
type Session struct {
	engine.Lifecycle
	Template string

	mu        sync.Mutex
	names     map[string]bool
	sources   map[string]*Source
	sinks     map[string]*Sink
	loopback  map[string]string
	startErr  error
	stuck     bool
	quitCalls int
}

func NewSession(template string) *Session {
	s := &Session{
		Template: template,
		names:    make(map[string]bool),
		sources:  make(map[string]*Source),
		sinks:    make(map[string]*Sink),
		loopback: make(map[string]string),
	}
	for _, m := range nameRe.FindAllStringSubmatch(template, -1) {
		s.names[m[1]] = true
	}
	return s
}

// FailStart makes Start return err.
func (s *Session) FailStart(err error) {
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
}

// IgnoreQuit makes Quit a no-op, like a main loop that never returns.
func (s *Session) IgnoreQuit() {
	s.mu.Lock()
	s.stuck = true
	s.mu.Unlock()
}

// Loopback forwards every frame injected into source to sink.
func (s *Session) Loopback(source, sink string) {
	s.mu.Lock()
	s.loopback[source] = sink
	s.mu.Unlock()
}

func (s *Session) Start() error {
	s.mu.Lock()
	err := s.startErr
	s.mu.Unlock()
	if err != nil {
		s.Finish(engine.StatusError, err)
		return errs.Engine("start", err)
	}
	s.MarkRunning()
	return nil
}

func (s *Session) Quit() {
	s.mu.Lock()
	s.quitCalls++
	stuck := s.stuck
	s.mu.Unlock()
	if stuck {
		return
	}
	s.Finish(engine.StatusAborted, nil)
}

// QuitCalls counts Quit invocations.
func (s *Session) QuitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitCalls
}

// Complete ends the session as if the input reached end of stream.
func (s *Session) Complete() { s.Finish(engine.StatusCompleted, nil) }

// Fail ends the session with err.
func (s *Session) Fail(err error) { s.Finish(engine.StatusError, err) }

func (s *Session) AppSource(name string) (engine.InjectionPoint, error) {
	src, err := s.Source(name)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Session) AppSink(name string) (engine.Tap, error) {
	sink, err := s.Sink(name)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Source returns the concrete fake injection point.
func (s *Session) Source(name string) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.names[name] {
		return nil, errs.NotFound("element", name)
	}
	src, ok := s.sources[name]
	if !ok {
		src = &Source{session: s, name: name}
		s.sources[name] = src
	}
	return src, nil
}

// Sink returns the concrete fake tap.
func (s *Session) Sink(name string) (*Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkLocked(name)
}

func (s *Session) sinkLocked(name string) (*Sink, error) {
	if !s.names[name] {
		return nil, errs.NotFound("element", name)
	}
	sink, ok := s.sinks[name]
	if !ok {
		sink = &Sink{frames: make(chan engine.Frame, 64), done: s.Done()}
		s.sinks[name] = sink
	}
	return sink, nil
}

func (s *Session) forward(source string, f engine.Frame) {
	s.mu.Lock()
	target, ok := s.loopback[source]
	var sink *Sink
	if ok {
		sink, _ = s.sinkLocked(target)
	}
	s.mu.Unlock()
	if sink != nil {
		sink.Push(f)
	}
}

// Source is a fake injection point that records what it receives.
type Source struct {
	session *Session
	name    string

	mu         sync.Mutex
	frames     []engine.Frame
	caps       string
	maxBytes   uint64
	eos        int
	injectErr  error
	needData   func()
	enoughData func()
}

func (s *Source) Inject(f engine.Frame) error {
	s.mu.Lock()
	if s.injectErr != nil {
		err := s.injectErr
		s.mu.Unlock()
		return err
	}
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.session.forward(s.name, f)
	return nil
}

func (s *Source) SetCaps(caps string) error {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	return nil
}

func (s *Source) SetMaxBytes(n uint64) {
	s.mu.Lock()
	s.maxBytes = n
	s.mu.Unlock()
}

func (s *Source) SetBackpressureCallbacks(needData, enoughData func()) {
	s.mu.Lock()
	s.needData, s.enoughData = needData, enoughData
	s.mu.Unlock()
}

func (s *Source) EndOfStream() error {
	s.mu.Lock()
	s.eos++
	s.mu.Unlock()
	return nil
}

// NeedData fires the registered need-data callback.
func (s *Source) NeedData() {
	s.mu.Lock()
	cb := s.needData
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// EnoughData fires the registered enough-data callback.
func (s *Source) EnoughData() {
	s.mu.Lock()
	cb := s.enoughData
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FailInjection makes every later Inject return err.
func (s *Source) FailInjection(err error) {
	s.mu.Lock()
	s.injectErr = err
	s.mu.Unlock()
}

func (s *Source) Frames() []engine.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Frame(nil), s.frames...)
}

func (s *Source) Caps() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *Source) MaxBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBytes
}

// EOSCount reports how many times EndOfStream was called.
func (s *Source) EOSCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

// Sink is a fake tap fed by Push.
type Sink struct {
	frames chan engine.Frame
	done   <-chan struct{}

	mu     sync.Mutex
	closed bool
}

// Push queues a frame for Pull. It drops the frame once the sink is closed
// or its buffer is full.
func (k *Sink) Push(f engine.Frame) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	select {
	case k.frames <- f:
	default:
	}
}

// Close ends the tap; Pull drains queued frames then returns io.EOF.
func (k *Sink) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.closed {
		k.closed = true
		close(k.frames)
	}
}

func (k *Sink) Pull(ctx context.Context) (engine.Frame, error) {
	select {
	case f, ok := <-k.frames:
		if !ok {
			return engine.Frame{}, io.EOF
		}
		return f, nil
	default:
	}
	select {
	case <-ctx.Done():
		return engine.Frame{}, ctx.Err()
	case <-k.done:
		return engine.Frame{}, io.EOF
	case f, ok := <-k.frames:
		if !ok {
			return engine.Frame{}, io.EOF
		}
		return f, nil
	}
}
