package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pipelined/internal/engine"
	"pipelined/internal/engine/fake"
	"pipelined/internal/errs"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeSink struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

func (s *fakeSink) WritePacket(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.packets = append(s.packets, b)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

type fakeTransport struct {
	mu    sync.Mutex
	sinks map[string]*fakeSink
	err   error
}

func (t *fakeTransport) Open(key, caps string) (PacketSink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	if t.sinks == nil {
		t.sinks = make(map[string]*fakeSink)
	}
	s := &fakeSink{}
	t.sinks[key] = s
	return s, nil
}

func (t *fakeTransport) sink(key string) *fakeSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sinks[key]
}

func newTestRegistry(eng *fake.Engine, tr Transport) *Registry {
	return NewRegistry(RegistryConfig{Protocol: "test", Engine: eng, Transport: tr, Logger: zerolog.Nop()})
}

func frame(size int) engine.Frame {
	return engine.Frame{Data: make([]byte, size), Caps: "video/x-raw,format=BGR,width=10,height=10"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// sourceOf returns the fake injection point of the Stream mounted for key.
func sourceOf(t *testing.T, r *Registry, key string) *fake.Source {
	t.Helper()
	s, ok := r.Get(key)
	if !ok {
		t.Fatalf("stream %s not mounted", key)
	}
	src, err := s.session.(*fake.Session).Source(SourceElement)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	return src
}

func TestBufferBudgetIsFrameSizeTimesCacheLength(t *testing.T) {
	r := newTestRegistry(&fake.Engine{}, &fakeTransport{})
	d, err := r.NewDestination(DestinationConfig{Key: "cam1", CacheLength: 30, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new destination: %v", err)
	}
	defer d.Finish()
	if err := d.Publish(frame(1000)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if d.FrameSize() != 1000 {
		t.Fatalf("frame size: %d", d.FrameSize())
	}
	if d.MaxBytes() != 30000 {
		t.Fatalf("budget: got %d want 30000", d.MaxBytes())
	}
	src := sourceOf(t, r, "cam1")
	if src.MaxBytes() != 30000 {
		t.Fatalf("injection point budget: %d", src.MaxBytes())
	}
	if src.Caps() != frame(1).Caps {
		t.Fatalf("caps not applied: %q", src.Caps())
	}
}

func TestStateMachineAndReadiness(t *testing.T) {
	var ready []string
	var mu sync.Mutex
	r := NewRegistry(RegistryConfig{Protocol: "test", Engine: &fake.Engine{}, Logger: zerolog.Nop(), OnReady: func(k string) {
		mu.Lock()
		ready = append(ready, k)
		mu.Unlock()
	}})
	d, err := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new destination: %v", err)
	}
	if d.State() != Uninitialized {
		t.Fatalf("initial state: %v", d.State())
	}
	if _, ok := r.Get("cam1"); ok {
		t.Fatalf("reserved key must not be attachable before the first frame")
	}
	if err := d.Publish(frame(10)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if d.State() != Negotiating {
		t.Fatalf("after first frame: %v", d.State())
	}
	src := sourceOf(t, r, "cam1")
	src.NeedData()
	src.NeedData()
	if d.State() != Streaming || !d.NeedData() {
		t.Fatalf("after need-data: %v need=%v", d.State(), d.NeedData())
	}
	mu.Lock()
	if len(ready) != 1 || ready[0] != "cam1" {
		t.Fatalf("ready callback: %v", ready)
	}
	mu.Unlock()
	src.EnoughData()
	if d.NeedData() || d.State() != Streaming {
		t.Fatalf("enough-data must clear the flag only")
	}
	d.Finish()
	if d.State() != Ended {
		t.Fatalf("after finish: %v", d.State())
	}
}

// newPacedDestination wires a destination straight to a fake injection
// point so tests can drive process with a fake clock.
func newPacedDestination(t *testing.T, clock *fakeClock) (*Destination, *fake.Source) {
	t.Helper()
	r := newTestRegistry(&fake.Engine{}, nil)
	d, err := r.NewDestination(DestinationConfig{Key: "paced", CacheLength: 4, Clock: clock.Now, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new destination: %v", err)
	}
	sess := fake.NewSession("appsrc name=source ! appsink name=sink")
	src, _ := sess.Source(SourceElement)
	d.state.Store(int32(Negotiating))
	if err := d.attach(src, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return d, src
}

func TestPacingTimestampsFollowInjectionTimes(t *testing.T) {
	clock := newFakeClock()
	d, src := newPacedDestination(t, clock)
	start := clock.Now()
	src.NeedData()

	gaps := []time.Duration{33 * time.Millisecond, 40 * time.Millisecond, 0, 25 * time.Millisecond, 100 * time.Millisecond}
	injectTimes := []time.Time{start}
	for _, g := range gaps {
		injectTimes = append(injectTimes, clock.Advance(g))
		d.process(frame(8))
	}
	got := src.Frames()
	if len(got) != len(gaps) {
		t.Fatalf("injected %d frames, want %d", len(got), len(gaps))
	}
	var prev time.Duration
	for i, f := range got {
		if f.PTS < prev {
			t.Fatalf("pts decreased at %d: %v < %v", i, f.PTS, prev)
		}
		if f.DTS != f.PTS {
			t.Fatalf("dts %v != pts %v", f.DTS, f.PTS)
		}
		want := injectTimes[i+1].Sub(injectTimes[i])
		if f.Duration != want {
			t.Fatalf("frame %d duration %v want %v", i, f.Duration, want)
		}
		if i > 0 && f.PTS != got[i-1].PTS+got[i-1].Duration {
			t.Fatalf("frame %d pts %v is not previous pts+duration", i, f.PTS)
		}
		prev = f.PTS
	}
}

func TestPacingSkipsWithoutDemandAndRefreshesClock(t *testing.T) {
	clock := newFakeClock()
	d, src := newPacedDestination(t, clock)
	src.NeedData()
	clock.Advance(10 * time.Millisecond)
	d.process(frame(8))

	src.EnoughData()
	clock.Advance(500 * time.Millisecond)
	d.process(frame(8)) // skipped
	clock.Advance(500 * time.Millisecond)
	d.process(frame(8)) // skipped

	src.NeedData()
	clock.Advance(20 * time.Millisecond)
	d.process(frame(8))

	got := src.Frames()
	if len(got) != 2 {
		t.Fatalf("injected %d frames, want 2", len(got))
	}
	if got[1].Duration != 20*time.Millisecond {
		t.Fatalf("gap after skip should start at the last skip, got %v", got[1].Duration)
	}
	if got[1].PTS != 10*time.Millisecond {
		t.Fatalf("pts must not jump over skipped time, got %v", got[1].PTS)
	}
	injected, skipped, _ := d.Counters()
	if injected != 2 || skipped != 2 {
		t.Fatalf("counters injected=%d skipped=%d", injected, skipped)
	}
}

func TestInjectionFailureEndsDestination(t *testing.T) {
	clock := newFakeClock()
	d, src := newPacedDestination(t, clock)
	src.NeedData()
	src.FailInjection(errors.New("flushing"))
	clock.Advance(time.Millisecond)
	d.process(frame(8))
	if d.State() != Ended {
		t.Fatalf("state after failed injection: %v", d.State())
	}
	if src.EOSCount() != 1 {
		t.Fatalf("eos count: %d", src.EOSCount())
	}
	if err := d.Publish(frame(8)); !errors.Is(err, ErrEnded) {
		t.Fatalf("publish after end: %v", err)
	}
}

func TestDuplicateKeyIsRejectedWithoutReplacing(t *testing.T) {
	r := newTestRegistry(&fake.Engine{}, &fakeTransport{})
	d1, err := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	defer d1.Finish()
	if err := d1.Publish(frame(10)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()}); !errs.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// A destination that bypassed the reservation still cannot mount.
	other := &Destination{key: "cam1", registry: r, clock: time.Now, log: zerolog.Nop()}
	if _, err := r.add("cam1", "caps", other); !errs.IsConflict(err) {
		t.Fatalf("expected conflict from add, got %v", err)
	}
	other.registry.release("cam1", other)
	if r.Len() != 1 {
		t.Fatalf("registry holds %d streams, want 1", r.Len())
	}
	s, ok := r.Get("cam1")
	if !ok || s.Destination() != d1 {
		t.Fatalf("existing entry replaced")
	}
}

func TestFinishIsIdempotentAndReleasesKey(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fake.Engine{}, tr)
	d, _ := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	if err := d.Publish(frame(10)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	src := sourceOf(t, r, "cam1")
	s, _ := r.Get("cam1")
	for i := 0; i < 3; i++ {
		d.Finish()
	}
	if src.EOSCount() != 1 {
		t.Fatalf("eos sent %d times", src.EOSCount())
	}
	if r.Has("cam1") || r.Len() != 0 {
		t.Fatalf("key not released")
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("stream workers: %v", err)
	}
	if !tr.sink("cam1").closed {
		t.Fatalf("protocol sink not closed")
	}
	d2, err := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("key should be free again: %v", err)
	}
	d2.Finish()
}

func TestFramesFlowThroughToTransport(t *testing.T) {
	eng := &fake.Engine{OnBuild: func(s *fake.Session) { s.Loopback(SourceElement, SinkElement) }}
	tr := &fakeTransport{}
	r := newTestRegistry(eng, tr)
	d, _ := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	defer d.Finish()
	if err := d.Publish(frame(10)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sourceOf(t, r, "cam1").NeedData()
	for i := 0; i < 5; i++ {
		if err := d.Publish(frame(10)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	waitFor(t, "packets at transport", func() bool { return tr.sink("cam1").count() > 0 })
}

func TestSessionFailureEndsDestination(t *testing.T) {
	eng := &fake.Engine{}
	r := newTestRegistry(eng, &fakeTransport{})
	d, _ := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	if err := d.Publish(frame(10)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	eng.Last().Fail(errors.New("encoder crashed"))
	waitFor(t, "destination end", func() bool { return d.State() == Ended })
	waitFor(t, "key release", func() bool { return !r.Has("cam1") })
}

func TestMountFailureReleasesReservation(t *testing.T) {
	tr := &fakeTransport{err: errors.New("port busy")}
	r := newTestRegistry(&fake.Engine{}, tr)
	d, _ := r.NewDestination(DestinationConfig{Key: "cam1", Logger: zerolog.Nop()})
	if err := d.Publish(frame(10)); err == nil {
		t.Fatalf("expected mount failure")
	}
	if d.State() != Ended || r.Has("cam1") {
		t.Fatalf("failed mount must end destination and free the key")
	}
}

func TestRemoveAndCloseAll(t *testing.T) {
	r := newTestRegistry(&fake.Engine{}, &fakeTransport{})
	if err := r.Remove("nope"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	a, _ := r.NewDestination(DestinationConfig{Key: "a", Logger: zerolog.Nop()})
	b, _ := r.NewDestination(DestinationConfig{Key: "b", Logger: zerolog.Nop()})
	_ = a.Publish(frame(4))
	_ = b.Publish(frame(4))
	reserved, _ := r.NewDestination(DestinationConfig{Key: "c", Logger: zerolog.Nop()})
	if got := r.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("keys: %v", got)
	}
	if err := r.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if a.State() != Ended || r.Len() != 1 {
		t.Fatalf("remove did not end the stream")
	}
	r.CloseAll()
	if b.State() != Ended || reserved.State() != Ended || r.Len() != 0 || r.Has("c") {
		t.Fatalf("close all left streams behind")
	}
	if _, err := r.NewDestination(DestinationConfig{Key: "d"}); !errs.IsStopped(err) {
		t.Fatalf("expected stopped error after close, got %v", err)
	}
}

func TestAttachDropsQueuedFramesAndRefusesAfterFinish(t *testing.T) {
	r := newTestRegistry(&fake.Engine{}, nil)
	d, err := r.NewDestination(DestinationConfig{Key: "rebuild", CacheLength: 4, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new destination: %v", err)
	}
	sess := fake.NewSession("appsrc name=source ! appsink name=sink")
	first, _ := sess.Source(SourceElement)
	d.ring.Publish(frame(8))
	d.ring.Publish(frame(8))
	if err := d.attach(first, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if n := d.ring.Len(); n != 0 {
		t.Fatalf("frames queued for the old session survived attach: %d", n)
	}

	d.Finish()
	if first.EOSCount() != 1 {
		t.Fatalf("attached source got %d end of stream calls", first.EOSCount())
	}
	other := fake.NewSession("appsrc name=source ! appsink name=sink")
	second, _ := other.Source(SourceElement)
	if err := d.attach(second, nil); !errors.Is(err, ErrEnded) {
		t.Fatalf("attach after finish: %v", err)
	}
	d.mu.Lock()
	ip := d.ip
	d.mu.Unlock()
	if ip != nil {
		t.Fatalf("ended destination kept an injection point")
	}
}
