package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pipelined/internal/engine"
	"pipelined/internal/errs"
)

// Element names the stream template must provide.
const (
	SourceElement = "source"
	SinkElement   = "sink"
)

// PacketSink receives the encoded packets of one Stream on the protocol side.
type PacketSink interface {
	WritePacket(b []byte) error
	Close() error
}

// Stream is one viewer-facing mount. It owns an engine session that
// re-encodes the frames of its Destination and relays the session output to
// the protocol sink.
type Stream struct {
	key      string
	caps     string
	protocol string
	dest     *Destination
	session  engine.Session
	sink     PacketSink
	onReady  func(key string)
	log      zerolog.Logger

	cancel   context.CancelFunc
	group    *errgroup.Group
	started  bool
	stopOnce sync.Once
}

func (s *Stream) Key() string { return s.key }

func (s *Stream) Caps() string { return s.caps }

func (s *Stream) Destination() *Destination { return s.dest }

// Sink returns the protocol sink the stream writes to.
func (s *Stream) Sink() PacketSink { return s.sink }

// Start runs the session and the stream workers: one paces queued frames
// into the injection point, one relays session output to the sink and one
// ends the destination when the session stops on its own.
func (s *Stream) Start() error {
	if err := s.session.Start(); err != nil {
		return err
	}
	ip, err := s.session.AppSource(SourceElement)
	if err != nil {
		s.session.Quit()
		return errs.Engine("stream template has no "+SourceElement+" element", err)
	}
	tap, err := s.session.AppSink(SinkElement)
	if err != nil {
		s.session.Quit()
		return errs.Engine("stream template has no "+SinkElement+" element", err)
	}
	if err := s.dest.attach(ip, s.ready); err != nil {
		s.session.Quit()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g
	s.started = true
	g.Go(s.pace)
	g.Go(func() error { return s.relay(gctx, tap) })
	g.Go(func() error { return s.watch(gctx) })
	return nil
}

func (s *Stream) ready() {
	s.log.Info().Str("event", "stream_ready").Str("protocol", s.protocol).Str("key", s.key).Msg("stream ready")
	if s.onReady != nil {
		s.onReady(s.key)
	}
}

func (s *Stream) pace() error {
	for {
		f, ok := s.dest.ring.Next()
		if !ok {
			return nil
		}
		s.dest.process(f)
	}
}

func (s *Stream) relay(ctx context.Context, tap engine.Tap) error {
	for {
		f, err := tap.Pull(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.sink.WritePacket(f.Data); err != nil {
			s.log.Debug().Str("event", "stream_write_failed").Str("key", s.key).Err(err).Msg("dropping packet")
			continue
		}
		packetsTotal.WithLabelValues(s.protocol).Inc()
	}
}

func (s *Stream) watch(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.session.Done():
		if err := s.session.Err(); err != nil {
			s.log.Error().Str("event", "stream_session_failed").Str("key", s.key).Err(err).Msg("stream engine session failed")
		}
		s.dest.Finish()
		return nil
	}
}

// Stop asks the workers and the session to exit and closes the sink. It
// does not wait; use Wait for that. Safe to call from a stream worker.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.dest.ring.Close()
		s.session.Quit()
		if err := s.sink.Close(); err != nil {
			s.log.Debug().Str("event", "stream_sink_close_failed").Str("key", s.key).Err(err).Msg("sink close")
		}
	})
}

// Wait blocks until the stream workers have exited.
func (s *Stream) Wait() error {
	if !s.started {
		return nil
	}
	return s.group.Wait()
}
