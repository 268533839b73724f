package stream

import (
	"context"
	"sync"
)

// Event types published to UI listeners.
const (
	EventProgress      = "progress"
	EventDuration      = "duration"
	EventVolume        = "volume"
	EventVolumeClear   = "volume_clear"
	EventVolumeVisible = "volume_visible"
	EventNotice        = "notice"
	EventState         = "state"
)

// Event is one UI update.
type Event struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`   // message the event belongs to
	Value int    `json:"value"`          // progress, level or 0/1 visibility
	Text  string `json:"text,omitempty"` // notice or state name
}

// Broadcaster fans out UI events from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives events from the broadcaster.
type Listener struct {
	C    chan Event
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener. Returns a Listener that receives events.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan Event, 150), // ~15 seconds of 100ms progress ticks
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers e to every listener.
// Slow listeners get events dropped rather than blocking the publisher.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- e:
		default:
			// listener too slow, drop event to keep the UI loop moving
		}
	}
}

// Run reads events from source and publishes them until ctx ends or
// source is closed.
func (b *Broadcaster) Run(ctx context.Context, source <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-source:
			if !ok {
				return
			}
			b.Publish(e)
		}
	}
}
