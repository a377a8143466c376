/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// ---- Event Names ----

// EventName identifies the type of session event
type EventName string

const (
	EventPendingSession        EventName = "pendingSession"
	EventCancelPendingSession  EventName = "cancelPendingSession"
	EventHandledPendingSession EventName = "handledPendingSession"
	EventSessionStarted        EventName = "sessionStarted"
	EventSessionEnded          EventName = "sessionEnded"
	EventMuteChanged           EventName = "muteChanged"
	EventHoldChanged           EventName = "holdChanged"
	EventConnectionState       EventName = "connectionState"
	EventConversationUpdated   EventName = "conversationUpdated"
)

// HandledOutcome says how a pending session was resolved
type HandledOutcome string

const (
	HandledAccepted  HandledOutcome = "accepted"
	HandledRejected  HandledOutcome = "rejected"
	HandledElsewhere HandledOutcome = "elsewhere"
)

// ---- Events ----

// Event is one of the session events below.
type Event interface {
	Name() EventName
}

// PendingSessionEvent announces a new inbound invitation.
type PendingSessionEvent struct {
	Session PendingSession
}

// CancelPendingSessionEvent reports that the far end withdrew an invitation.
type CancelPendingSessionEvent struct {
	SessionID      string
	ConversationID string
}

// HandledPendingSessionEvent reports that an invitation was resolved, locally
// or by another client of the same user.
type HandledPendingSessionEvent struct {
	SessionID      string
	ConversationID string
	Outcome        HandledOutcome
}

// SessionStartedEvent announces a new active session.
type SessionStartedEvent struct {
	Session ActiveSession
}

// SessionEndedEvent reports a terminated session.
type SessionEndedEvent struct {
	Session ActiveSession
	Reason  string
}

// MuteChangedEvent reports an audio or video mute change.
type MuteChangedEvent struct {
	SessionID      string
	ConversationID string
	Kind           MediaKind
	Muted          bool
}

// HoldChangedEvent reports a hold change.
type HoldChangedEvent struct {
	SessionID      string
	ConversationID string
	Held           bool
}

// ConnectionStateEvent reports a media transport state change.
type ConnectionStateEvent struct {
	SessionID      string
	ConversationID string
	State          webrtc.PeerConnectionState
}

// ConversationUpdatedEvent relays a normalized conversation snapshot.
type ConversationUpdatedEvent struct {
	Update ConversationUpdate
}

func (PendingSessionEvent) Name() EventName        { return EventPendingSession }
func (CancelPendingSessionEvent) Name() EventName  { return EventCancelPendingSession }
func (HandledPendingSessionEvent) Name() EventName { return EventHandledPendingSession }
func (SessionStartedEvent) Name() EventName        { return EventSessionStarted }
func (SessionEndedEvent) Name() EventName          { return EventSessionEnded }
func (MuteChangedEvent) Name() EventName           { return EventMuteChanged }
func (HoldChangedEvent) Name() EventName           { return EventHoldChanged }
func (ConnectionStateEvent) Name() EventName       { return EventConnectionState }
func (ConversationUpdatedEvent) Name() EventName   { return EventConversationUpdated }

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(Event)

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventName][]EventHandler
	catchAll []catchAllEntry
	nextID   uint64
}

type catchAllEntry struct {
	id      uint64
	handler EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventName][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event EventName, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// OnAny registers a handler for every event and returns a func that removes it.
func (e *EventEmitter) OnAny(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.catchAll = append(e.catchAll, catchAllEntry{id: id, handler: handler})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, entry := range e.catchAll {
			if entry.id == id {
				e.catchAll = append(e.catchAll[:i:i], e.catchAll[i+1:]...)
				return
			}
		}
	}
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event EventName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]EventHandler, 0, len(e.handlers[ev.Name()])+len(e.catchAll))
	handlers = append(handlers, e.handlers[ev.Name()]...)
	for _, entry := range e.catchAll {
		handlers = append(handlers, entry.handler)
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(ev)
	}
}
