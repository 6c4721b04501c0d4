package backend

import "sync"

// MemoryPublisher keeps events in memory. Used by tests and the CLI.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names lists event names in order, optionally only those for fileID.
func (p *MemoryPublisher) Names(fileID string) []string {
	var out []string
	for _, e := range p.Events() {
		if fileID == "" || e.FileID == fileID {
			out = append(out, e.Name)
		}
	}
	return out
}
