package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pipelined/internal/engine"
	"pipelined/internal/framebuf"
)

// State of a Destination.
type State int32

const (
	Uninitialized State = iota
	Negotiating
	Streaming
	Ended
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Negotiating:
		return "NEGOTIATING"
	case Streaming:
		return "STREAMING"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// ErrEnded is returned by Publish once the destination has finished.
var ErrEnded = errors.New("stream destination ended")

// DestinationConfig configures a Destination created by Registry.NewDestination.
type DestinationConfig struct {
	Key string
	// CacheLength is the injection buffer budget in frames.
	CacheLength int
	// QueueSize bounds the last-writer-wins buffer in front of the pacer.
	QueueSize int
	Clock     func() time.Time
	Logger    zerolog.Logger
}

// Destination feeds frames produced by a pipeline instance into the
// injection point of the Stream mounted under its key. The first frame
// mounts the Stream; later frames are paced by the Stream's worker and
// injected only while the engine asks for data.
type Destination struct {
	key         string
	cacheLength int
	clock       func() time.Time
	log         zerolog.Logger
	registry    *Registry

	state    atomic.Int32
	needData atomic.Bool
	ring     *framebuf.Ring[engine.Frame]

	mu        sync.Mutex
	ip        engine.InjectionPoint
	frameSize int
	caps      string
	maxBytes  uint64
	onReady   func()

	// pacing state; touched only by the owning Stream's pacing worker
	pts           time.Duration
	lastInjection time.Time

	injected atomic.Uint64
	skipped  atomic.Uint64

	finishOnce sync.Once
}

func (d *Destination) Key() string { return d.key }

func (d *Destination) State() State { return State(d.state.Load()) }

// NeedData reports the last backpressure signal from the injection point.
func (d *Destination) NeedData() bool { return d.needData.Load() }

// FrameSize is the byte size of the first frame, zero before negotiation.
func (d *Destination) FrameSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameSize
}

// Caps is the media format captured from the first frame.
func (d *Destination) Caps() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// MaxBytes is the injection buffer budget configured on the injection point.
func (d *Destination) MaxBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxBytes
}

// Counters returns frames injected, skipped for lack of demand, and dropped
// from the queue before the pacer saw them.
func (d *Destination) Counters() (injected, skipped, dropped uint64) {
	_, dropped = d.ring.Stats()
	return d.injected.Load(), d.skipped.Load(), dropped
}

// Publish hands a frame to the destination. The first frame negotiates:
// it captures frame size and caps and mounts the Stream, which may fail
// with a conflict. Later frames never block.
func (d *Destination) Publish(f engine.Frame) error {
	if d.state.CompareAndSwap(int32(Uninitialized), int32(Negotiating)) {
		if err := d.negotiate(f); err != nil {
			d.Finish()
			return err
		}
	}
	if d.State() == Ended {
		return ErrEnded
	}
	d.ring.Publish(f)
	return nil
}

func (d *Destination) negotiate(f engine.Frame) error {
	d.mu.Lock()
	d.frameSize = len(f.Data)
	d.caps = f.Caps
	d.mu.Unlock()
	_, err := d.registry.add(d.key, f.Caps, d)
	if err != nil {
		d.log.Error().Str("event", "stream_mount_failed").Str("key", d.key).Err(err).Msg("cannot mount stream")
		return err
	}
	return nil
}

// attach binds a freshly built injection point, drops frames queued for a
// previous session and resets the pacing state. It is called by the Stream
// every time its engine session is built.
func (d *Destination) attach(ip engine.InjectionPoint, onReady func()) error {
	d.mu.Lock()
	// Finish stores Ended before taking mu.
	if d.State() == Ended {
		d.mu.Unlock()
		return ErrEnded
	}
	d.ring.Reset()
	caps, size := d.caps, d.frameSize
	d.maxBytes = uint64(size) * uint64(d.cacheLength)
	d.ip = ip
	d.onReady = onReady
	d.mu.Unlock()

	d.needData.Store(false)
	d.state.CompareAndSwap(int32(Streaming), int32(Negotiating))
	d.pts = 0
	d.lastInjection = d.clock()

	if caps != "" {
		if err := ip.SetCaps(caps); err != nil {
			return err
		}
	}
	ip.SetMaxBytes(d.MaxBytes())
	ip.SetBackpressureCallbacks(d.onNeedData, d.onEnoughData)
	return nil
}

func (d *Destination) onNeedData() {
	d.needData.Store(true)
	if d.state.CompareAndSwap(int32(Negotiating), int32(Streaming)) {
		d.log.Debug().Str("event", "stream_ready").Str("key", d.key).Msg("injection point requested data")
		d.mu.Lock()
		ready := d.onReady
		d.mu.Unlock()
		if ready != nil {
			ready()
		}
	}
}

func (d *Destination) onEnoughData() { d.needData.Store(false) }

// process runs on the Stream's pacing worker for every queued frame.
func (d *Destination) process(f engine.Frame) {
	if d.State() != Streaming {
		d.lastInjection = d.clock()
		d.skipped.Add(1)
		framesTotal.WithLabelValues(d.registry.protocol, "skipped").Inc()
		return
	}
	now := d.clock()
	if !d.needData.Load() {
		d.lastInjection = now
		d.skipped.Add(1)
		framesTotal.WithLabelValues(d.registry.protocol, "skipped").Inc()
		return
	}
	delta := now.Sub(d.lastInjection)
	if delta < 0 {
		delta = 0
	}
	f.PTS = d.pts
	f.DTS = d.pts
	f.Duration = delta
	d.pts += delta
	d.lastInjection = now

	d.mu.Lock()
	ip := d.ip
	d.mu.Unlock()
	if ip == nil {
		return
	}
	if err := ip.Inject(f); err != nil {
		d.log.Warn().Str("event", "stream_inject_failed").Str("key", d.key).Err(err).Msg("injection rejected, ending stream")
		d.Finish()
		return
	}
	d.injected.Add(1)
	framesTotal.WithLabelValues(d.registry.protocol, "injected").Inc()
}

// Finish ends the destination: end of stream is signalled once, the
// injection point is released and the key is removed from the registry.
// Safe to call any number of times from any goroutine.
func (d *Destination) Finish() {
	d.finishOnce.Do(func() {
		d.state.Store(int32(Ended))
		d.needData.Store(false)
		d.ring.Close()
		d.mu.Lock()
		ip := d.ip
		d.ip = nil
		d.mu.Unlock()
		if ip != nil {
			if err := ip.EndOfStream(); err != nil {
				d.log.Warn().Str("event", "stream_eos_failed").Str("key", d.key).Err(err).Msg("end of stream not accepted")
			}
		}
		d.registry.release(d.key, d)
		_, dropped := d.ring.Stats()
		if dropped > 0 {
			framesTotal.WithLabelValues(d.registry.protocol, "dropped").Add(float64(dropped))
		}
		d.log.Info().Str("event", "stream_destination_ended").Str("key", d.key).Uint64("injected", d.injected.Load()).Uint64("skipped", d.skipped.Load()).Uint64("dropped", dropped).Msg("stream destination ended")
	})
}
