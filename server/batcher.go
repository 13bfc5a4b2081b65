package server

import (
	"sort"
	"sync"

	"github.com/mbocsi/wearlink/proto"
)

// eventBatch collects non-urgent data events between flushes. A later event
// for the same path replaces the earlier one.
type eventBatch struct {
	mu     sync.Mutex
	events map[string]proto.DataEvent
}

func newEventBatch() *eventBatch {
	return &eventBatch{events: make(map[string]proto.DataEvent)}
}

func (b *eventBatch) add(ev proto.DataEvent) {
	b.mu.Lock()
	b.events[ev.Path] = ev
	b.mu.Unlock()
}

// drop forgets a pending event for path, so a stale batched value cannot
// follow a newer urgent one.
func (b *eventBatch) drop(path string) {
	b.mu.Lock()
	delete(b.events, path)
	b.mu.Unlock()
}

// take empties the batch and returns its events in sequence order.
func (b *eventBatch) take() []proto.DataEvent {
	b.mu.Lock()
	pending := b.events
	b.events = make(map[string]proto.DataEvent)
	b.mu.Unlock()

	out := make([]proto.DataEvent, 0, len(pending))
	for _, ev := range pending {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (b *eventBatch) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
