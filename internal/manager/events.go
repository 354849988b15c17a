package manager

import "time"

// EventKind names an instance lifecycle event.
type EventKind string

const (
	EventCreated EventKind = "instance_created"
	EventState   EventKind = "instance_state"
	EventRemoved EventKind = "instance_removed"
)

// Event is one lifecycle notification. From and To are set on state
// events; Error carries the cause of an ERROR transition.
type Event struct {
	Kind       EventKind
	InstanceID string
	Pipeline   string
	Version    string
	From, To   State
	Error      string
	At         time.Time
}

// EventPublisher receives lifecycle events synchronously from the manager,
// outside its lock. Publish must not block or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(kind EventKind, inst *Instance, from, to State, cause error) {
	ev := Event{
		Kind:       kind,
		InstanceID: inst.ID,
		Pipeline:   inst.def.Name,
		Version:    inst.def.Version,
		From:       from,
		To:         to,
		At:         m.clock(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	m.pub.Publish(ev)
}
