package feed

import "sync"

// Feed is the in-process change feed. The store publishes one event per
// confirmed mutation; consumers subscribe with a table/conversation filter.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	filter Filter
	ch     chan Event
}

// New creates an empty feed.
func New() *Feed {
	return &Feed{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscription whose filter matches.
// Delivery is non-blocking; a subscriber that falls behind loses events and
// is expected to recover by re-reading durable state.
func (f *Feed) Publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		if sub.filter.Match(evt) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a filtered subscription with the given channel buffer.
// Returns the receive channel and an unsubscribe function. Unsubscribing is
// idempotent and does not close the channel.
func (f *Feed) Subscribe(filter Filter, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = &subscription{filter: filter, ch: ch}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
