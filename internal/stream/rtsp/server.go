// Package rtsp serves path-mounted streams to RTSP clients. A pipeline
// instance whose destination is {type: rtsp, path: cam1} becomes playable at
// rtsp://<host>:<port>/cam1 once its first frame arrives.
package rtsp

import (
	"strings"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"pipelined/internal/engine"
	"pipelined/internal/errs"
	"pipelined/internal/stream"
)

const Protocol = "rtsp"

type Config struct {
	// Addr is the RTSP listen address, e.g. ":8554".
	Addr     string
	Engine   engine.Engine
	Template string
	Logger   zerolog.Logger
}

// Server owns the RTSP stream registry and the gortsplib server that
// exposes it.
type Server struct {
	addr string
	log  zerolog.Logger
	reg  *stream.Registry

	mu       sync.Mutex
	srv      *gortsplib.Server
	started  bool
	stopped  bool
	waitDone chan struct{}
}

func New(cfg Config) *Server {
	s := &Server{addr: cfg.Addr, log: cfg.Logger}
	s.reg = stream.NewRegistry(stream.RegistryConfig{
		Protocol:  Protocol,
		Engine:    cfg.Engine,
		Transport: s,
		Template:  cfg.Template,
		Logger:    cfg.Logger,
	})
	return s
}

func (s *Server) Registry() *stream.Registry { return s.reg }

// Start begins serving. It may be called once; later calls are no-ops.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	srv := &gortsplib.Server{
		Handler:     &handler{s: s},
		RTSPAddress: s.addr,
	}
	if err := srv.Start(); err != nil {
		return errs.Engine("rtsp listen "+s.addr, err)
	}
	s.srv = srv
	s.started = true
	s.waitDone = make(chan struct{})
	go func() {
		defer close(s.waitDone)
		if err := srv.Wait(); err != nil {
			s.log.Debug().Str("event", "rtsp_server_exit").Err(err).Msg("rtsp server loop exited")
		}
	}()
	s.log.Info().Str("event", "rtsp_started").Str("addr", s.addr).Msg("rtsp server listening")
	return nil
}

// Stop ends every stream and closes the listener once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	srv, done := s.srv, s.waitDone
	s.mu.Unlock()

	s.reg.CloseAll()
	if srv != nil {
		srv.Close()
		<-done
	}
	s.log.Info().Str("event", "rtsp_stopped").Msg("rtsp server stopped")
}

// Open creates the server stream a new mount writes to.
func (s *Server) Open(key, caps string) (stream.PacketSink, error) {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil, errs.EngineUnavailable("rtsp server not running")
	}
	media := &description.Media{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{&format.H264{PayloadTyp: 96, PacketizationMode: 1}},
	}
	ss := gortsplib.NewServerStream(srv, &description.Session{Medias: []*description.Media{media}})
	return &mount{ss: ss, media: media}, nil
}

// mountPath normalizes a request path to a registry key.
func mountPath(p string) string {
	return strings.Trim(p, "/")
}

type mount struct {
	ss    *gortsplib.ServerStream
	media *description.Media
}

func (m *mount) WritePacket(b []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		return err
	}
	return m.ss.WritePacketRTP(m.media, &pkt)
}

func (m *mount) Close() error {
	m.ss.Close()
	return nil
}

type handler struct{ s *Server }

func (h *handler) lookup(path string) *gortsplib.ServerStream {
	st, ok := h.s.reg.Get(mountPath(path))
	if !ok {
		return nil
	}
	m, ok := st.Sink().(*mount)
	if !ok {
		return nil
	}
	return m.ss
}

func (h *handler) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	h.s.log.Debug().Str("event", "rtsp_conn_open").Str("remote", ctx.Conn.NetConn().RemoteAddr().String()).Msg("rtsp connection opened")
}

func (h *handler) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	h.s.log.Debug().Str("event", "rtsp_conn_close").Err(ctx.Error).Msg("rtsp connection closed")
}

func (h *handler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	ss := h.lookup(ctx.Path)
	if ss == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, ss, nil
}

func (h *handler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	ss := h.lookup(ctx.Path)
	if ss == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, ss, nil
}

func (h *handler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	h.s.log.Info().Str("event", "rtsp_play").Str("path", mountPath(ctx.Path)).Msg("rtsp viewer attached")
	return &base.Response{StatusCode: base.StatusOK}, nil
}
