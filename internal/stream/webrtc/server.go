// Package webrtc serves peer-mounted streams. A pipeline instance whose
// destination is {type: webrtc, peer-id: p1} mounts a track under p1; the
// viewer attaches by posting an SDP offer for p1 and receives the answer.
package webrtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pwebrtc "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"pipelined/internal/engine"
	"pipelined/internal/errs"
	"pipelined/internal/stream"
)

const Protocol = "webrtc"

// DefaultGatherTimeout bounds ICE gathering while answering an offer.
const DefaultGatherTimeout = 10 * time.Second

const h264Fmtp = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"

type Config struct {
	ICEServers    []string
	GatherTimeout time.Duration
	Engine        engine.Engine
	Template      string
	Logger        zerolog.Logger
}

type peerEvent struct {
	key   string
	pc    *pwebrtc.PeerConnection
	state pwebrtc.PeerConnectionState
}

// Server owns the WebRTC stream registry, the viewer peer connections and
// the event loop that reacts to their state changes.
type Server struct {
	log           zerolog.Logger
	api           *pwebrtc.API
	iceServers    []pwebrtc.ICEServer
	gatherTimeout time.Duration
	reg           *stream.Registry

	mu       sync.Mutex
	peers    map[string]*pwebrtc.PeerConnection
	started  bool
	stopped  bool
	events   chan peerEvent
	quit     chan struct{}
	loopDone chan struct{}
}

func New(cfg Config) (*Server, error) {
	me := &pwebrtc.MediaEngine{}
	if err := me.RegisterCodec(pwebrtc.RTPCodecParameters{
		RTPCodecCapability: pwebrtc.RTPCodecCapability{
			MimeType: pwebrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: h264Fmtp,
		},
		PayloadType: 96,
	}, pwebrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := pwebrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	s := &Server{
		log:           cfg.Logger,
		api:           pwebrtc.NewAPI(pwebrtc.WithMediaEngine(me), pwebrtc.WithInterceptorRegistry(ir)),
		gatherTimeout: cfg.GatherTimeout,
		peers:         make(map[string]*pwebrtc.PeerConnection),
		events:        make(chan peerEvent, 256),
		quit:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	if len(cfg.ICEServers) > 0 {
		s.iceServers = []pwebrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	s.reg = stream.NewRegistry(stream.RegistryConfig{
		Protocol:  Protocol,
		Engine:    cfg.Engine,
		Transport: s,
		Template:  cfg.Template,
		Logger:    cfg.Logger,
	})
	return s, nil
}

func (s *Server) Registry() *stream.Registry { return s.reg }

// Start runs the peer event loop. Later calls are no-ops.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.loop()
	s.log.Info().Str("event", "webrtc_started").Msg("webrtc server started")
}

// Stop ends every stream, closes every peer and stops the event loop once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.reg.CloseAll()
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*pwebrtc.PeerConnection)
	s.mu.Unlock()
	for _, pc := range peers {
		_ = pc.Close()
	}
	close(s.quit)
	if started {
		<-s.loopDone
	}
	s.log.Info().Str("event", "webrtc_stopped").Msg("webrtc server stopped")
}

func (s *Server) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Server) handle(ev peerEvent) {
	s.log.Debug().Str("event", "webrtc_peer_state").Str("peer", ev.key).Str("state", ev.state.String()).Msg("peer state changed")
	switch ev.state {
	case pwebrtc.PeerConnectionStateFailed, pwebrtc.PeerConnectionStateClosed:
		s.mu.Lock()
		current, ok := s.peers[ev.key]
		if ok && current == ev.pc {
			delete(s.peers, ev.key)
		}
		s.mu.Unlock()
		if !ok || current != ev.pc {
			return
		}
		_ = ev.pc.Close()
		if st, ok := s.reg.Get(ev.key); ok {
			st.Destination().Finish()
		}
		s.log.Info().Str("event", "webrtc_peer_gone").Str("peer", ev.key).Str("state", ev.state.String()).Msg("viewer left, ending stream")
	}
}

// Open creates the track a new mount writes to.
func (s *Server) Open(key, caps string) (stream.PacketSink, error) {
	track, err := pwebrtc.NewTrackLocalStaticRTP(pwebrtc.RTPCodecCapability{
		MimeType: pwebrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: h264Fmtp,
	}, "video", "pipelined-"+key)
	if err != nil {
		return nil, errs.Engine("create track", err)
	}
	return &trackSink{key: key, track: track, server: s}, nil
}

// Connect attaches a viewer to the stream mounted under key and returns the
// SDP answer for its offer.
func (s *Server) Connect(ctx context.Context, key, offer string) (string, error) {
	st, ok := s.reg.Get(key)
	if !ok {
		return "", errs.NotFound("webrtc stream", key)
	}
	sink, ok := st.Sink().(*trackSink)
	if !ok {
		return "", errs.Engine("stream "+key+" has no webrtc track", nil)
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", errs.ErrServerStopped
	}
	if _, busy := s.peers[key]; busy {
		s.mu.Unlock()
		return "", errs.Conflict("webrtc peer already connected: " + key)
	}
	s.mu.Unlock()

	pc, err := s.api.NewPeerConnection(pwebrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return "", errs.Engine("new peer connection", err)
	}
	answer, err := s.negotiate(ctx, pc, sink.track, offer)
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	s.mu.Lock()
	if _, busy := s.peers[key]; busy || s.stopped {
		s.mu.Unlock()
		_ = pc.Close()
		return "", errs.Conflict("webrtc peer already connected: " + key)
	}
	s.peers[key] = pc
	s.mu.Unlock()
	pc.OnConnectionStateChange(func(state pwebrtc.PeerConnectionState) {
		select {
		case s.events <- peerEvent{key: key, pc: pc, state: state}:
		default:
			s.log.Warn().Str("event", "webrtc_event_dropped").Str("peer", key).Msg("peer event queue full")
		}
	})
	s.log.Info().Str("event", "webrtc_peer_connected").Str("peer", key).Msg("viewer attached")
	return answer, nil
}

func (s *Server) negotiate(ctx context.Context, pc *pwebrtc.PeerConnection, track pwebrtc.TrackLocal, offer string) (string, error) {
	sender, err := pc.AddTrack(track)
	if err != nil {
		return "", errs.Engine("add track", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	if err := pc.SetRemoteDescription(pwebrtc.SessionDescription{Type: pwebrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", errs.Configuration("invalid sdp offer: " + err.Error())
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", errs.Engine("create answer", err)
	}
	gather := pwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", errs.Engine("set local description", err)
	}
	timer := time.NewTimer(s.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gather:
	case <-ctx.Done():
		return "", errs.Timeout("ice gathering")
	case <-timer.C:
		return "", errs.Timeout("ice gathering")
	}
	return pc.LocalDescription().SDP, nil
}

// Disconnect closes the viewer of key and ends its stream.
func (s *Server) Disconnect(key string) error {
	s.mu.Lock()
	pc, ok := s.peers[key]
	delete(s.peers, key)
	s.mu.Unlock()
	if !ok {
		return errs.NotFound("webrtc peer", key)
	}
	_ = pc.Close()
	if st, ok := s.reg.Get(key); ok {
		st.Destination().Finish()
	}
	return nil
}

// Peers returns how many viewers are attached.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) closePeer(key string) {
	s.mu.Lock()
	pc, ok := s.peers[key]
	delete(s.peers, key)
	s.mu.Unlock()
	if ok {
		_ = pc.Close()
	}
}

type trackSink struct {
	key    string
	track  *pwebrtc.TrackLocalStaticRTP
	server *Server
}

func (t *trackSink) WritePacket(b []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		return err
	}
	return t.track.WriteRTP(&pkt)
}

// Close runs when the stream unmounts; the viewer goes with it.
func (t *trackSink) Close() error {
	t.server.closePeer(t.key)
	return nil
}
