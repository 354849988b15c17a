package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pipelined/internal/engine"
	"pipelined/internal/errs"
	"pipelined/internal/stream"
)

type Manager struct {
	mu         sync.RWMutex
	instances  map[string]*Instance
	order      []string
	maxRunning int
	stopped    bool
	startTime  time.Time

	engine      engine.Engine
	defs        Definitions
	models      engine.ModelLookup
	streams     map[string]*stream.Registry
	stopTimeout time.Duration
	cacheLength int
	queueSize   int
	window      int

	pub   EventPublisher
	log   zerolog.Logger
	clock func() time.Time
	newID func() string
}

func New(eng engine.Engine, defs Definitions, maxRunning int) *Manager {
	// Delegate to NewWithConfig to centralize defaults
	return NewWithConfig(ManagerConfig{
		Engine:      eng,
		Definitions: defs,
		MaxRunning:  maxRunning,
	})
}

func newUUID() string { return uuid.NewString() }

// CreateInstance creates and starts an instance of pipeline name/version.
// overrides are merged onto the definition defaults.
func (m *Manager) CreateInstance(name, version string, overrides map[string]any) (string, error) {
	id, err := m.Create(name, version, overrides)
	if err != nil {
		return "", err
	}
	if err := m.Start(id); err != nil {
		return id, err
	}
	return id, nil
}

// Create resolves the definition, renders its template and builds the engine
// session. The instance is left CREATED and counts against the running bound.
func (m *Manager) Create(name, version string, overrides map[string]any) (string, error) {
	id, err := m.create(name, version, overrides)
	instanceCreates.WithLabelValues(createResult(err)).Inc()
	if err != nil {
		m.log.Warn().Str("event", "instance_create_failed").Str("pipeline", name).Str("version", version).Err(err).Msg("create instance failed")
	}
	return id, err
}

func (m *Manager) create(name, version string, overrides map[string]any) (string, error) {
	m.mu.RLock()
	err := m.admitLocked()
	m.mu.RUnlock()
	if err != nil {
		return "", err
	}
	if m.defs == nil {
		return "", errs.NotFound("pipeline", name+"/"+version)
	}
	if m.engine == nil {
		return "", errs.EngineUnavailable("no media engine configured")
	}
	def, err := m.defs.Get(name, version)
	if err != nil {
		return "", err
	}
	params := engine.Merge(def.Defaults, overrides)
	if err := engine.CheckRequired(def.Required, params); err != nil {
		return "", err
	}
	fd, err := parseFrameDestination(params)
	if err != nil {
		return "", err
	}
	device, _ := params["device"].(string)
	tmpl, err := engine.SubstituteModels(def.Template, m.models, device)
	if err != nil {
		return "", err
	}
	session, err := m.engine.Build(tmpl, params)
	if err != nil {
		if errs.IsConfiguration(err) || errs.IsEngine(err) || errs.IsNotFound(err) {
			return "", err
		}
		return "", errs.Engine("build "+def.Name+"/"+def.Version, err)
	}

	inst := newInstance(m.newID(), def, params, m.clock())
	inst.session = session
	if fd != nil {
		if err := m.attachDestination(inst, fd); err != nil {
			session.Quit()
			return "", err
		}
	}

	m.mu.Lock()
	if err := m.admitLocked(); err != nil {
		m.mu.Unlock()
		m.discard(inst)
		return "", err
	}
	m.instances[inst.ID] = inst
	m.order = append(m.order, inst.ID)
	counts := m.countsLocked()
	m.mu.Unlock()

	updateStateGauges(counts)
	m.publish(EventCreated, inst, "", StateCreated, nil)
	ev := m.log.Info().Str("event", "instance_created").Str("id", inst.ID).Str("pipeline", def.Name).Str("version", def.Version)
	if fd != nil {
		ev = ev.Str("stream", fd.Protocol+":"+fd.Key)
	}
	ev.Msg("instance created")
	return inst.ID, nil
}

// attachDestination reserves the stream key so a conflict surfaces here
// rather than on the first frame.
func (m *Manager) attachDestination(inst *Instance, fd *FrameDestination) error {
	tap, err := inst.session.AppSink(FrameSink)
	if err != nil {
		return errs.Configuration(fmt.Sprintf("pipeline %s/%s has no %q element for frame output", inst.def.Name, inst.def.Version, FrameSink))
	}
	reg := m.streams[fd.Protocol]
	if reg == nil {
		return errs.Configuration(fd.Protocol + " streaming is disabled")
	}
	cache := fd.CacheLength
	if cache == 0 {
		cache = m.cacheLength
	}
	dest, err := reg.NewDestination(stream.DestinationConfig{
		Key:         fd.Key,
		CacheLength: cache,
		QueueSize:   m.queueSize,
		Clock:       m.clock,
		Logger:      m.log,
	})
	if err != nil {
		return err
	}
	inst.tap, inst.dest, inst.frameDst = tap, dest, fd
	return nil
}

// Start moves a CREATED instance to RUNNING and launches its worker.
func (m *Manager) Start(id string) error {
	m.mu.RLock()
	inst, ok := m.instances[id]
	stopped := m.stopped
	var state State
	if ok {
		state = inst.state
	}
	m.mu.RUnlock()
	if !ok {
		return errs.NotFound("instance", id)
	}
	if stopped {
		return errs.ErrServerStopped
	}
	if state != StateCreated || !m.move(inst, StateCreated, StateRunning, nil) {
		if state == StateRunning || state == StateCreated {
			return errs.Conflict("instance already running: " + id)
		}
		return errs.Conflict("instance " + id + " is " + string(state))
	}
	if err := inst.session.Start(); err != nil {
		m.settle(inst, StateError, err)
		if errs.IsEngine(err) {
			return err
		}
		return errs.Engine("start "+id, err)
	}
	go m.run(inst)
	return nil
}

// SetMaxRunning changes the running bound; 0 means unbounded. Instances
// already admitted are not affected.
func (m *Manager) SetMaxRunning(n int) {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	m.maxRunning = n
	m.mu.Unlock()
	m.log.Info().Str("event", "max_running_changed").Int("max_running_pipelines", n).Msg("running bound updated")
}

func (m *Manager) MaxRunning() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxRunning
}

// Running counts instances that are CREATED or RUNNING.
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

func (m *Manager) admitLocked() error {
	if m.stopped {
		return errs.ErrServerStopped
	}
	if m.maxRunning > 0 && m.runningLocked() >= m.maxRunning {
		return errs.Capacity(m.maxRunning)
	}
	return nil
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, inst := range m.instances {
		if inst.state.Active() {
			n++
		}
	}
	return n
}

func (m *Manager) countsLocked() map[State]int {
	counts := make(map[State]int, len(States))
	for _, inst := range m.instances {
		counts[inst.state]++
	}
	return counts
}

// transition moves inst to state to if the state machine allows it and
// reports whether it did.
func (m *Manager) transition(inst *Instance, to State, cause error) bool {
	return m.move(inst, "", to, cause)
}

// move is transition restricted to instances currently in state only; an
// empty only accepts any state.
func (m *Manager) move(inst *Instance, only, to State, cause error) bool {
	m.mu.Lock()
	from := inst.state
	if (only != "" && from != only) || !canMove(from, to) {
		m.mu.Unlock()
		return false
	}
	inst.state = to
	now := m.clock()
	if to == StateRunning {
		inst.started = now
	}
	if to.Stopped() && inst.ended.IsZero() {
		inst.ended = now
	}
	if cause != nil && inst.err == "" {
		inst.err = cause.Error()
	}
	counts := m.countsLocked()
	m.mu.Unlock()

	updateStateGauges(counts)
	m.publish(EventState, inst, from, to, cause)
	if to.Stopped() {
		inst.markDone()
	}
	ev := m.log.Info()
	if to == StateError {
		ev = m.log.Error().Err(cause)
	}
	ev.Str("event", "instance_state").Str("id", inst.ID).Str("from", string(from)).Str("to", string(to)).Msg("instance state changed")
	return true
}

// discard releases the resources of an instance that never ran.
func (m *Manager) discard(inst *Instance) {
	inst.session.Quit()
	if inst.dest != nil {
		inst.dest.Finish()
	}
}

func errorKind(err error) string {
	switch {
	case errs.IsNotFound(err):
		return "not_found"
	case errs.IsConflict(err):
		return "conflict"
	case errs.IsCapacity(err):
		return "capacity"
	case errs.IsConfiguration(err):
		return "configuration"
	case errs.IsEngine(err):
		return "engine"
	case errs.IsTimeout(err):
		return "timeout"
	case errs.IsAmbiguousArtifact(err):
		return "ambiguous_artifact"
	case errs.IsStopped(err):
		return "stopped"
	}
	return "error"
}
