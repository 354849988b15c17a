package manager

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pipelined/internal/engine/fake"
	"pipelined/internal/errs"
	"pipelined/internal/stream"
	"pipelined/pkg/types"
)

// fakeDefs is an in-memory definition table keyed by name/version.
type fakeDefs struct {
	mu   sync.Mutex
	defs map[string]types.PipelineDefinition
}

func newFakeDefs(defs ...types.PipelineDefinition) *fakeDefs {
	f := &fakeDefs{defs: make(map[string]types.PipelineDefinition)}
	for _, d := range defs {
		f.defs[d.Name+"/"+d.Version] = d
	}
	return f
}

func (f *fakeDefs) Get(name, version string) (types.PipelineDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.defs[name+"/"+version]
	if !ok {
		return types.PipelineDefinition{}, errs.NotFound("pipeline", name+"/"+version)
	}
	return d, nil
}

var (
	simpleDef = types.PipelineDefinition{
		Name:     "simple",
		Version:  "1",
		Template: "videotestsrc ! fakesink",
	}
	framesDef = types.PipelineDefinition{
		Name:     "frames",
		Version:  "1",
		Template: "videotestsrc ! videoconvert ! appsink name=destination",
	}
)

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	base := time.Unix(1_700_000_000, 0)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * step)
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *fake.Engine) {
	t.Helper()
	eng, _ := cfg.Engine.(*fake.Engine)
	if eng == nil {
		eng = &fake.Engine{}
		cfg.Engine = eng
	}
	if cfg.Definitions == nil {
		cfg.Definitions = newFakeDefs(simpleDef, framesDef)
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	cfg.Logger = zerolog.Nop()
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, eng
}

func newStreamRegistry(t *testing.T, proto string) *stream.Registry {
	t.Helper()
	reg := stream.NewRegistry(stream.RegistryConfig{Protocol: proto, Engine: &fake.Engine{}, Logger: zerolog.Nop()})
	t.Cleanup(reg.CloseAll)
	return reg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func mustState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	got, err := m.State(id)
	if err != nil {
		t.Fatalf("state %s: %v", id, err)
	}
	if got != want {
		t.Fatalf("state of %s: got %s want %s", id, got, want)
	}
}
