package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipelined/internal/errs"
)

// StopInstance stops the instance and moves it to STOPPED. Stopping a
// STOPPED instance is a no-op. If the engine session does not end within
// the stop timeout a timeout error is returned and the instance keeps its
// state; it becomes STOPPED once the session ends.
func (m *Manager) StopInstance(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return errs.NotFound("instance", id)
	}
	state := inst.state
	if state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	inst.stopRequested = true
	m.mu.Unlock()

	if state == StateCreated && m.move(inst, StateCreated, StateStopped, nil) {
		m.discard(inst)
		return nil
	}

	inst.session.Quit()
	timer := time.NewTimer(m.stopTimeout)
	defer timer.Stop()
	select {
	case <-inst.exited:
	case <-timer.C:
		m.log.Warn().Str("event", "instance_stop_timeout").Str("id", id).Dur("timeout", m.stopTimeout).Msg("engine session did not stop in time")
		return errs.Timeout("stop instance " + id)
	}
	m.transition(inst, StateStopped, nil)
	return nil
}

// Wait blocks until the instance has stopped running or ctx is done and
// returns the state observed.
func (m *Manager) Wait(ctx context.Context, id string) (State, error) {
	inst, ok := m.get(id)
	if !ok {
		return "", errs.NotFound("instance", id)
	}
	select {
	case <-inst.done:
		return m.stateOf(inst), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return m.stateOf(inst), errs.Timeout("wait instance " + id)
		}
		return m.stateOf(inst), ctx.Err()
	}
}

// StopAll stops every instance in creation order. Failures are logged and
// joined; they never prevent the remaining instances from being stopped.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()
	var failed []error
	for _, id := range ids {
		if err := m.StopInstance(id); err != nil && !errs.IsNotFound(err) {
			m.log.Warn().Str("event", "instance_stop_failed").Str("id", id).Err(err).Msg("stop all: instance did not stop")
			failed = append(failed, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(failed...)
}

// Shutdown rejects further creates and stops every instance.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return m.StopAll()
}

// Remove drops a stopped instance from the manager.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return errs.NotFound("instance", id)
	}
	if !inst.state.Stopped() {
		m.mu.Unlock()
		return errs.Conflict("instance still running: " + id)
	}
	last := inst.state
	delete(m.instances, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	counts := m.countsLocked()
	m.mu.Unlock()
	updateStateGauges(counts)
	m.publish(EventRemoved, inst, last, "", nil)
	return nil
}

func (m *Manager) get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

func (m *Manager) stateOf(inst *Instance) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return inst.state
}
