package manager

import "sync"

// MemoryPublisher records every event; tests use it to assert transitions.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// States returns the target state of every state event for id, oldest first.
func (p *MemoryPublisher) States(id string) []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []State
	for _, e := range p.events {
		if e.Kind == EventState && e.InstanceID == id {
			out = append(out, e.To)
		}
	}
	return out
}
