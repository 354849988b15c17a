package manager

import (
	"pipelined/internal/engine"
	"pipelined/internal/errs"
	"pipelined/pkg/types"
)

// State returns the current state of instance id.
func (m *Manager) State(id string) (State, error) {
	inst, ok := m.get(id)
	if !ok {
		return "", errs.NotFound("instance", id)
	}
	return m.stateOf(inst), nil
}

// Status returns the status snapshot of instance id.
func (m *Manager) Status(id string) (types.InstanceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return types.InstanceStatus{}, errs.NotFound("instance", id)
	}
	return m.statusLocked(inst), nil
}

func (m *Manager) statusLocked(inst *Instance) types.InstanceStatus {
	st := types.InstanceStatus{ID: inst.ID, State: string(inst.state), Error: inst.err}
	st.AvgLatency, st.AvgFPS, _ = inst.metrics.snapshot()
	if !inst.started.IsZero() {
		st.StartTime = inst.started.Unix()
		end := inst.ended
		if end.IsZero() {
			end = m.clock()
		}
		st.ElapsedTime = end.Sub(inst.started).Seconds()
	}
	return st
}

// Info describes instance id: its pipeline, state and resolved parameters.
func (m *Manager) Info(id string) (types.InstanceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return types.InstanceSummary{}, errs.NotFound("instance", id)
	}
	return summary(inst), nil
}

// List returns every tracked instance in creation order.
func (m *Manager) List() []types.InstanceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.InstanceSummary, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, summary(m.instances[id]))
	}
	return out
}

// Snapshot builds the status response for /pipelines/status.
func (m *Manager) Snapshot() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock()
	resp := types.StatusResponse{
		Instances:      make([]types.InstanceStatus, 0, len(m.order)),
		MaxRunning:     m.maxRunning,
		Running:        m.runningLocked(),
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	for _, id := range m.order {
		resp.Instances = append(resp.Instances, m.statusLocked(m.instances[id]))
	}
	return resp
}

func summary(inst *Instance) types.InstanceSummary {
	return types.InstanceSummary{
		ID:         inst.ID,
		Pipeline:   inst.def.Name,
		Version:    inst.def.Version,
		State:      string(inst.state),
		Parameters: engine.Merge(inst.params, nil),
	}
}
