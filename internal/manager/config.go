package manager

import (
	"time"

	"github.com/rs/zerolog"

	"pipelined/internal/engine"
	"pipelined/internal/stream"
	"pipelined/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultStopTimeout   = 10 * time.Second
	defaultLatencyWindow = 100
)

// Definitions looks up pipeline definitions; *registry.Registry satisfies it.
type Definitions interface {
	Get(name, version string) (types.PipelineDefinition, error)
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Engine      engine.Engine
	Definitions Definitions
	// Models resolves {models[..][..][..]} template slots; nil disables them.
	Models engine.ModelLookup
	// Streams maps a protocol name ("rtsp", "webrtc") to its registry.
	Streams map[string]*stream.Registry

	// MaxRunning bounds CREATED+RUNNING instances; 0 means unbounded.
	MaxRunning  int
	StopTimeout time.Duration
	// CacheLength and QueueSize are handed to every stream destination.
	CacheLength int
	QueueSize   int
	// LatencyWindow is the number of recent frames averaged for avg_latency.
	LatencyWindow int

	Publisher EventPublisher
	Logger    zerolog.Logger
	Clock     func() time.Time
	// NewID allocates instance ids; defaults to random UUIDs.
	NewID func() string
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		engine:      cfg.Engine,
		defs:        cfg.Definitions,
		models:      cfg.Models,
		streams:     make(map[string]*stream.Registry, len(cfg.Streams)),
		maxRunning:  cfg.MaxRunning,
		stopTimeout: cfg.StopTimeout,
		cacheLength: cfg.CacheLength,
		queueSize:   cfg.QueueSize,
		window:      cfg.LatencyWindow,
		pub:         cfg.Publisher,
		log:         cfg.Logger,
		clock:       cfg.Clock,
		newID:       cfg.NewID,
		instances:   make(map[string]*Instance),
	}
	for proto, reg := range cfg.Streams {
		if reg != nil {
			m.streams[proto] = reg
		}
	}
	// Apply defaults if unset
	if m.maxRunning < 0 {
		m.maxRunning = 0
	}
	if m.stopTimeout <= 0 {
		m.stopTimeout = defaultStopTimeout
	}
	if m.window <= 0 {
		m.window = defaultLatencyWindow
	}
	if m.pub == nil {
		m.pub = noopPublisher{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.newID == nil {
		m.newID = newUUID
	}
	m.startTime = m.clock()
	updateStateGauges(nil)
	return m
}
