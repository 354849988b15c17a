// Package server is the process-wide pipeline server. It owns the model
// resolver, the pipeline registry, the instance manager and the stream
// servers, and hands out read-only views over them.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pipelined/internal/common/fsutil"
	"pipelined/internal/config"
	"pipelined/internal/engine"
	"pipelined/internal/errs"
	"pipelined/internal/manager"
	"pipelined/internal/models"
	"pipelined/internal/registry"
	"pipelined/internal/stream"
	"pipelined/internal/stream/rtsp"
	"pipelined/internal/stream/webrtc"
	"pipelined/pkg/types"
)

// Options configures Start. Engine defaults to engine.Default().
type Options struct {
	Config    config.Config
	Engine    engine.Engine
	Publisher manager.EventPublisher
	Logger    zerolog.Logger
	Clock     func() time.Time
}

type lifecycle int

const (
	idle lifecycle = iota
	running
	stopped
)

// Server is created idle; Start must be called exactly once before any
// other method. Stop is idempotent and safe on a server that never started.
type Server struct {
	mu    sync.RWMutex
	state lifecycle
	log   zerolog.Logger

	models    *models.Resolver
	pipelines *registry.Registry
	manager   *manager.Manager
	rtsp      *rtsp.Server
	webrtc    *webrtc.Server
}

func New() *Server { return &Server{log: zerolog.Nop()} }

// Start loads the pipeline and model trees, starts the enabled stream
// servers and the instance manager.
func (s *Server) Start(opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case running:
		return errs.Conflict("pipeline server already started")
	case stopped:
		return errs.ErrServerStopped
	}
	cfg := opts.Config.WithDefaults()
	log := opts.Logger
	eng := opts.Engine
	if eng == nil {
		eng = engine.Default()
	}

	pipelinesDir, err := fsutil.ExpandHome(cfg.PipelinesDir)
	if err != nil {
		return errs.Configuration("pipelines_dir: " + err.Error())
	}
	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return errs.Configuration("models_dir: " + err.Error())
	}
	pipelines := registry.New(log)
	if _, err := pipelines.Load(pipelinesDir); err != nil {
		return fmt.Errorf("load pipelines: %w", err)
	}
	var lookup engine.ModelLookup
	resolver := models.New(modelsDir, log)
	if fsutil.PathExists(modelsDir) {
		lookup = resolver
	} else {
		log.Warn().Str("event", "models_dir_missing").Str("dir", modelsDir).Msg("model directory not found; model slots are disabled")
	}

	streams := make(map[string]*stream.Registry)
	var rtspSrv *rtsp.Server
	var webrtcSrv *webrtc.Server
	if cfg.RTSP.Enabled {
		rtspSrv = rtsp.New(rtsp.Config{Addr: cfg.RTSP.Addr, Engine: eng, Template: cfg.Stream.Template, Logger: log})
		if err := rtspSrv.Start(); err != nil {
			return errs.Engine("rtsp server", err)
		}
		streams[rtsp.Protocol] = rtspSrv.Registry()
	}
	if cfg.WebRTC.Enabled {
		webrtcSrv, err = webrtc.New(webrtc.Config{ICEServers: cfg.WebRTC.ICEServers, Engine: eng, Template: cfg.Stream.Template, Logger: log})
		if err != nil {
			if rtspSrv != nil {
				rtspSrv.Stop()
			}
			return errs.Engine("webrtc server", err)
		}
		webrtcSrv.Start()
		streams[webrtc.Protocol] = webrtcSrv.Registry()
	}

	s.log = log
	s.models = resolver
	s.pipelines = pipelines
	s.rtsp = rtspSrv
	s.webrtc = webrtcSrv
	s.manager = manager.NewWithConfig(manager.ManagerConfig{
		Engine:      eng,
		Definitions: pipelines,
		Models:      lookup,
		Streams:     streams,
		MaxRunning:  cfg.MaxRunningPipelines,
		StopTimeout: cfg.StopTimeout.Std(),
		CacheLength: cfg.Stream.CacheLength,
		QueueSize:   cfg.Stream.FrameQueueSize,
		Publisher:   opts.Publisher,
		Logger:      log,
		Clock:       opts.Clock,
	})
	s.state = running
	log.Info().Str("event", "server_started").Str("engine", eng.Name()).Str("pipelines_dir", pipelinesDir).Str("models_dir", modelsDir).
		Bool("rtsp", rtspSrv != nil).Bool("webrtc", webrtcSrv != nil).Int("max_running_pipelines", cfg.MaxRunningPipelines).Msg("pipeline server started")
	return nil
}

// Stop stops every instance, then the stream servers. Failures stopping
// instances are returned but never prevent the rest of the shutdown.
func (s *Server) Stop() error {
	s.mu.Lock()
	prev := s.state
	s.state = stopped
	s.mu.Unlock()
	if prev != running {
		return nil
	}
	err := s.manager.Shutdown()
	if err != nil {
		s.log.Warn().Str("event", "server_stop_incomplete").Err(err).Msg("some instances did not stop")
	}
	if s.rtsp != nil {
		s.rtsp.Stop()
	}
	if s.webrtc != nil {
		s.webrtc.Stop()
	}
	s.log.Info().Str("event", "server_stopped").Msg("pipeline server stopped")
	return err
}

// Running reports whether Start completed and Stop has not been called.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == running
}

func (s *Server) live() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != running {
		return errs.ErrServerStopped
	}
	return nil
}

// Models lists every resolvable model version.
func (s *Server) Models() ([]ModelView, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	list := s.models.List()
	out := make([]ModelView, 0, len(list))
	for _, m := range list {
		out = append(out, ModelView{m: m})
	}
	return out, nil
}

// Model resolves name/version for device ("" selects AUTO).
func (s *Server) Model(name, version, device string) (ModelView, error) {
	if err := s.live(); err != nil {
		return ModelView{}, err
	}
	m, err := s.models.Resolve(name, version, device)
	if err != nil {
		return ModelView{}, err
	}
	return ModelView{m: m}, nil
}

// Pipelines lists every loaded definition ordered by name and version.
func (s *Server) Pipelines() ([]PipelineView, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	defs := s.pipelines.List()
	out := make([]PipelineView, 0, len(defs))
	for _, d := range defs {
		out = append(out, PipelineView{def: d, srv: s})
	}
	return out, nil
}

func (s *Server) Pipeline(name, version string) (PipelineView, error) {
	if err := s.live(); err != nil {
		return PipelineView{}, err
	}
	d, err := s.pipelines.Get(name, version)
	if err != nil {
		return PipelineView{}, err
	}
	return PipelineView{def: d, srv: s}, nil
}

// CreateInstance creates and starts an instance of name/version. The
// request's source and destination become the "source" and "destination"
// parameters.
func (s *Server) CreateInstance(name, version string, req types.InstanceRequest) (InstanceView, error) {
	if err := s.live(); err != nil {
		return InstanceView{}, err
	}
	id, err := s.manager.CreateInstance(name, version, requestParams(req))
	if err != nil {
		return InstanceView{}, err
	}
	return InstanceView{id: id, srv: s}, nil
}

// PrepareInstance creates an instance without starting it; the view's
// Start runs it.
func (s *Server) PrepareInstance(name, version string, req types.InstanceRequest) (InstanceView, error) {
	if err := s.live(); err != nil {
		return InstanceView{}, err
	}
	id, err := s.manager.Create(name, version, requestParams(req))
	if err != nil {
		return InstanceView{}, err
	}
	return InstanceView{id: id, srv: s}, nil
}

func requestParams(req types.InstanceRequest) map[string]any {
	params := engine.Merge(nil, req.Parameters)
	if req.Source != nil {
		params["source"] = engine.Merge(nil, req.Source)
	}
	if req.Destination != nil {
		params["destination"] = engine.Merge(nil, req.Destination)
	}
	return params
}

// Instance returns a view of instance id.
func (s *Server) Instance(id string) (InstanceView, error) {
	if err := s.live(); err != nil {
		return InstanceView{}, err
	}
	if _, err := s.manager.State(id); err != nil {
		return InstanceView{}, err
	}
	return InstanceView{id: id, srv: s}, nil
}

// Instances returns a view of every tracked instance in creation order.
func (s *Server) Instances() []InstanceView {
	if s.live() != nil {
		return nil
	}
	list := s.manager.List()
	out := make([]InstanceView, 0, len(list))
	for _, in := range list {
		out = append(out, InstanceView{id: in.ID, srv: s})
	}
	return out
}

// RemoveInstance forgets a stopped instance.
func (s *Server) RemoveInstance(id string) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.manager.Remove(id)
}

// Snapshot returns the status of every instance and the running bound.
func (s *Server) Snapshot() (types.StatusResponse, error) {
	if err := s.live(); err != nil {
		return types.StatusResponse{}, err
	}
	return s.manager.Snapshot(), nil
}

// Reload rescans the pipeline and model trees.
func (s *Server) Reload() error {
	if err := s.live(); err != nil {
		return err
	}
	s.models.Reload()
	return s.pipelines.Reload()
}

// Apply hot-applies the parts of cfg that may change at runtime.
func (s *Server) Apply(cfg config.Config) {
	if s.live() != nil {
		return
	}
	if cfg.MaxRunningPipelines != s.manager.MaxRunning() {
		s.manager.SetMaxRunning(cfg.MaxRunningPipelines)
	}
}

// ConnectViewer answers a WebRTC offer for the stream mounted under peer.
func (s *Server) ConnectViewer(ctx context.Context, peer, offer string) (string, error) {
	if err := s.live(); err != nil {
		return "", err
	}
	if s.webrtc == nil {
		return "", errs.NotFound("webrtc stream", peer)
	}
	return s.webrtc.Connect(ctx, peer, offer)
}

// Streams lists mounted stream keys by protocol.
func (s *Server) Streams() map[string][]string {
	out := make(map[string][]string)
	if s.live() != nil {
		return out
	}
	if s.rtsp != nil {
		out[rtsp.Protocol] = s.rtsp.Registry().Keys()
	}
	if s.webrtc != nil {
		out[webrtc.Protocol] = s.webrtc.Registry().Keys()
	}
	return out
}
