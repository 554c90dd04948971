package api

import (
	"context"
	"sync"

	"github.com/warmloop/agent/internal/agent"
)

// Bus is an in-process fan-out of run events to SSE subscribers. It
// implements agent.Sink; a slow subscriber loses events rather than
// stalling the run loop.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan agent.Event]struct{}
}

const subscriberBuffer = 64

func NewBus() *Bus {
	return &Bus{subs: map[string]map[chan agent.Event]struct{}{}}
}

// Subscribe registers for one run's live events. The returned cancel
// function must be called when the subscriber goes away.
func (b *Bus) Subscribe(runID string) (<-chan agent.Event, func()) {
	ch := make(chan agent.Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan agent.Event]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[runID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, runID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Emit implements agent.Sink.
func (b *Bus) Emit(_ context.Context, ev agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
			// full buffer, drop for this subscriber
		}
	}
}
