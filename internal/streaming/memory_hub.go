package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// MemoryHub is a process-local EventHub built on buffered channels. It
// is the only hub implementation; the SSE handlers and the step-wait
// loop both subscribe here.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]memorySub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

type memorySub struct {
	ch     chan StreamEvent
	filter EventFilter
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]memorySub)}
}

// Publish delivers the event to every subscriber whose filter matches.
// Delivery never blocks: a subscriber with a full channel misses the
// event. Run state lives in the store, so a dropped event costs a
// poll interval, not correctness.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber. The cancel function must be
// called to release the subscription; the channel is never closed.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan StreamEvent, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = memorySub{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Dropped reports how many events were discarded because a subscriber
// fell behind.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}

// matches reports whether the event passes the filter. A zero filter
// matches everything.
func (f EventFilter) matches(e StreamEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

var _ EventHub = (*MemoryHub)(nil)
