package events

import (
	"sync"

	"sagemarket/core/types"
)

// Carrier is implemented by emitted events that wrap a canonical payload. The
// feed only retains events that expose one.
type Carrier interface {
	Event() *types.Event
}

// Feed retains the most recent emitted events in a bounded ring so observers
// can poll for the durable audit log without an external message bus.
type Feed struct {
	mu     sync.RWMutex
	limit  int
	buffer []types.Event
	offset uint64
}

// NewFeed constructs a feed retaining up to limit events. A non-positive limit
// defaults to 1024.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 1024
	}
	return &Feed{limit: limit}
}

// Emit implements the Emitter interface.
func (f *Feed) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	carrier, ok := evt.(Carrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buffer) == f.limit {
		f.buffer = append(f.buffer[:0], f.buffer[1:]...)
		f.offset++
	}
	f.buffer = append(f.buffer, *payload)
}

// Since returns the retained events at or after the provided cursor along with
// the cursor positioned past the last returned event.
func (f *Feed) Since(cursor uint64) ([]types.Event, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	next := f.offset + uint64(len(f.buffer))
	if cursor >= next {
		return nil, next
	}
	start := 0
	if cursor > f.offset {
		start = int(cursor - f.offset)
	}
	out := make([]types.Event, len(f.buffer)-start)
	copy(out, f.buffer[start:])
	return out, next
}
