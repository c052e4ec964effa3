package client

import (
	"context"
	"sync"
)

// FakeListWatcher is an in-memory ListWatcher for tests and examples. It
// holds a fixed initial item set and lets the caller push additional
// Events onto the stream via Push. It never reconnects or resyncs on its
// own. Every Watch call returns the same event channel, so after Close
// a later Watch returns an already closed channel.
type FakeListWatcher struct {
	mu      sync.Mutex
	items   []Object
	events  chan Event
	started bool
}

// NewFakeListWatcher builds a FakeListWatcher whose initial List returns
// items.
func NewFakeListWatcher(items ...Object) *FakeListWatcher {
	return &FakeListWatcher{
		items:  items,
		events: make(chan Event, 1024),
	}
}

func (f *FakeListWatcher) List(ctx context.Context, opts ListOptions) ([]Object, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Object, len(f.items))
	copy(out, f.items)
	return out, "0", nil
}

func (f *FakeListWatcher) Watch(ctx context.Context, opts ListOptions) (<-chan Event, error) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return f.events, nil
}

// Push delivers ev to any active Watch call. It is safe to call before
// Watch has been invoked; events simply buffer (up to the channel's
// capacity).
func (f *FakeListWatcher) Push(ev Event) {
	f.events <- ev
}

// Close ends the watch stream, causing Watch's channel to close as if
// the underlying stream ended.
func (f *FakeListWatcher) Close() {
	close(f.events)
}
