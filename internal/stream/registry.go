// Package stream mounts live pipeline output for viewers. A Registry maps a
// key (RTSP mount path or WebRTC peer id) to the Stream serving it; a
// Destination paces frames from a pipeline instance into that Stream.
package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pipelined/internal/config"
	"pipelined/internal/engine"
	"pipelined/internal/errs"
	"pipelined/internal/framebuf"
)

// Transport is the protocol side of a registry: it opens the sink a new
// Stream writes its encoded packets to.
type Transport interface {
	Open(key, caps string) (PacketSink, error)
}

type RegistryConfig struct {
	// Protocol labels logs and metrics, e.g. "rtsp".
	Protocol  string
	Engine    engine.Engine
	Transport Transport
	// Template is the engine template for every Stream; {caps} is filled
	// with the negotiated caps.
	Template string
	Logger   zerolog.Logger
	// OnReady is called when a Stream's injection point first asks for data.
	OnReady func(key string)
}

// Registry holds the Streams of one protocol. A single mutex guards it and
// is never held while an engine session is built or stopped.
type Registry struct {
	protocol  string
	engine    engine.Engine
	transport Transport
	template  string
	onReady   func(string)
	log       zerolog.Logger

	mu      sync.Mutex
	streams map[string]*Stream
	pending map[string]*Destination // reserved or under construction
	closed  bool
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Template == "" {
		cfg.Template = config.DefaultStreamTemplate
	}
	return &Registry{
		protocol:  cfg.Protocol,
		engine:    cfg.Engine,
		transport: cfg.Transport,
		template:  cfg.Template,
		onReady:   cfg.OnReady,
		log:       cfg.Logger,
		streams:   make(map[string]*Stream),
		pending:   make(map[string]*Destination),
	}
}

func (r *Registry) Protocol() string { return r.protocol }

// NewDestination reserves key and returns a Destination that mounts a
// Stream under it on its first frame. A key that is mounted or reserved
// yields a conflict error.
func (r *Registry) NewDestination(cfg DestinationConfig) (*Destination, error) {
	if cfg.Key == "" {
		return nil, errs.Configuration(r.protocol + " destination requires a key")
	}
	if cfg.CacheLength <= 0 {
		cfg.CacheLength = config.DefaultCacheLength
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	d := &Destination{
		key:         cfg.Key,
		cacheLength: cfg.CacheLength,
		clock:       cfg.Clock,
		log:         cfg.Logger,
		registry:    r,
		ring:        framebuf.New[engine.Frame](cfg.QueueSize),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errs.ErrServerStopped
	}
	if err := r.checkFreeLocked(cfg.Key, d); err != nil {
		return nil, err
	}
	r.pending[cfg.Key] = d
	return d, nil
}

func (r *Registry) checkFreeLocked(key string, d *Destination) error {
	if _, ok := r.streams[key]; ok {
		return errs.Conflict(r.protocol + " stream key in use: " + key)
	}
	if owner, ok := r.pending[key]; ok && owner != d {
		return errs.Conflict(r.protocol + " stream key in use: " + key)
	}
	return nil
}

// add builds and starts the Stream for d under key. The entry becomes
// visible to lookups only once the Stream is running.
func (r *Registry) add(key, caps string, d *Destination) (*Stream, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errs.ErrServerStopped
	}
	if err := r.checkFreeLocked(key, d); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.pending[key] = d
	r.mu.Unlock()

	s, err := r.build(key, caps, d)

	r.mu.Lock()
	if owner, ok := r.pending[key]; !ok || owner != d {
		r.mu.Unlock()
		if s != nil {
			s.Stop()
			_ = s.Wait()
		}
		if err == nil {
			err = ErrEnded
		}
		return nil, err
	}
	delete(r.pending, key)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.streams[key] = s
	r.mu.Unlock()

	streamsActive.WithLabelValues(r.protocol).Inc()
	r.log.Info().Str("event", "stream_mounted").Str("protocol", r.protocol).Str("key", key).Str("caps", caps).Msg("stream mounted")
	return s, nil
}

func (r *Registry) build(key, caps string, d *Destination) (*Stream, error) {
	if r.engine == nil {
		return nil, errs.EngineUnavailable("no engine configured for " + r.protocol + " streams")
	}
	session, err := r.engine.Build(r.template, map[string]any{"caps": caps, "key": key})
	if err != nil {
		return nil, err
	}
	var sink PacketSink = discardSink{}
	if r.transport != nil {
		if sink, err = r.transport.Open(key, caps); err != nil {
			session.Quit()
			return nil, err
		}
	}
	s := &Stream{
		key:      key,
		caps:     caps,
		protocol: r.protocol,
		dest:     d,
		session:  session,
		sink:     sink,
		onReady:  r.onReady,
		log:      r.log,
	}
	if err := s.Start(); err != nil {
		_ = sink.Close()
		return nil, err
	}
	return s, nil
}

// release drops the entry for key if d owns it and stops its Stream.
func (r *Registry) release(key string, d *Destination) {
	r.mu.Lock()
	if owner, ok := r.pending[key]; ok && owner == d {
		delete(r.pending, key)
	}
	s, ok := r.streams[key]
	if ok && s.dest == d {
		delete(r.streams, key)
	} else {
		s = nil
	}
	r.mu.Unlock()
	if s != nil {
		s.Stop()
		streamsActive.WithLabelValues(r.protocol).Dec()
		r.log.Info().Str("event", "stream_unmounted").Str("protocol", r.protocol).Str("key", key).Msg("stream unmounted")
	}
}

// Get returns the running Stream under key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[key]
	return s, ok
}

// Has reports whether key is mounted or reserved.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, mounted := r.streams[key]
	_, reserved := r.pending[key]
	return mounted || reserved
}

// Remove ends the Stream under key, as a viewer disconnect would.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	var d *Destination
	if s, ok := r.streams[key]; ok {
		d = s.dest
	} else if p, ok := r.pending[key]; ok {
		d = p
	}
	r.mu.Unlock()
	if d == nil {
		return errs.NotFound(r.protocol+" stream", key)
	}
	d.Finish()
	return nil
}

// Keys returns the mounted keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.streams))
	for k := range r.streams {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the number of mounted Streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll ends every Stream and reservation and rejects new ones. It waits
// for the stream workers to exit.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	var dests []*Destination
	var streams []*Stream
	for _, s := range r.streams {
		dests = append(dests, s.dest)
		streams = append(streams, s)
	}
	for _, d := range r.pending {
		dests = append(dests, d)
	}
	r.mu.Unlock()
	for _, d := range dests {
		d.Finish()
	}
	for _, s := range streams {
		if err := s.Wait(); err != nil {
			r.log.Warn().Str("event", "stream_worker_failed").Str("key", s.key).Err(err).Msg("stream worker exited with error")
		}
	}
}

type discardSink struct{}

func (discardSink) WritePacket([]byte) error { return nil }
func (discardSink) Close() error             { return nil }
