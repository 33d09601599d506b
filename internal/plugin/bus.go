package plugin

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event is a fire-and-forget signal between plugins
type Event struct {
	Name    string
	Source  string
	Payload interface{}
}

// Listener receives events for a subscribed name
type Listener func(event Event)

// EventBus is a single-threaded publish/subscribe map. Emitted events are
// queued and delivered by Drain at the end of the current hook, which
// avoids callback re-entry while a hook is still running.
type EventBus struct {
	mu        sync.Mutex
	listeners map[string][]Listener
	pending   []Event
	logger    *logrus.Logger
}

// NewEventBus creates an empty bus
func NewEventBus(logger *logrus.Logger) *EventBus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventBus{
		listeners: make(map[string][]Listener),
		logger:    logger,
	}
}

// Subscribe registers a listener for an event name
func (b *EventBus) Subscribe(name string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], listener)
}

// Emit queues an event keyed by its source plugin
func (b *EventBus) Emit(source, name string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, Event{Name: name, Source: source, Payload: payload})
}

// Drain delivers every queued event. Events emitted by a listener during
// delivery are picked up in the same drain.
func (b *EventBus) Drain() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		event := b.pending[0]
		b.pending = b.pending[1:]
		targets := b.listeners[event.Name]
		b.mu.Unlock()

		for _, listener := range targets {
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.WithFields(logrus.Fields{
							"event":  event.Name,
							"source": event.Source,
							"panic":  r,
						}).Error("Event listener panicked")
					}
				}()
				listener(event)
			}()
		}
	}
}
