package session

import (
	"sync"

	"github.com/google/uuid"
)

type EventKind int

const (
	// SessionLoaded is raised when a valid session becomes current: callback, renewal.
	SessionLoaded EventKind = iota
	// SessionUnloaded is raised when the current session goes away: logout, failed
	// renewal, expiry.
	SessionUnloaded
)

func (k EventKind) String() string {
	switch k {
	case SessionLoaded:
		return "loaded"
	case SessionUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Event is a session lifecycle notification. Session is nil for SessionUnloaded.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Subscription identifies a registered handler.
type Subscription struct {
	id uuid.UUID
}

type eventHub struct {
	mu       sync.RWMutex
	handlers map[uuid.UUID]func(Event)
}

func newEventHub() *eventHub {
	return &eventHub{handlers: make(map[uuid.UUID]func(Event))}
}

func (h *eventHub) subscribe(fn func(Event)) Subscription {
	id := uuid.New()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[id] = fn
	return Subscription{id: id}
}

func (h *eventHub) unsubscribe(sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, sub.id)
}

// emit calls every handler with its own copy of the session.
func (h *eventHub) emit(ev Event) {
	h.mu.RLock()
	handlers := make([]func(Event), 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(Event{Kind: ev.Kind, Session: ev.Session.Clone()})
	}
}
