/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Logger is the interface for bus logging. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Inbound is a message delivered by the bus together with its routing metadata.
type Inbound struct {
	To           string
	From         string
	ID           string
	Message      Message
	FromMyClient bool
	FromMyUser   bool
}

// Handler receives inbound messages. Handlers for one subscriber are called
// sequentially in delivery order.
type Handler func(Inbound)

// Bus is a broadcast channel scoped to the instances of one authenticated user.
type Bus interface {
	// Send broadcasts msg and returns the id it was sent with.
	Send(ctx context.Context, msg Message) (string, error)
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())
	// Close releases the transport. Further sends fail.
	Close() error
}

// Frame is the transport wrapper around an encoded arbitration message.
type Frame struct {
	To           string          `json:"to,omitempty"`
	From         string          `json:"from"`
	MediaMessage json.RawMessage `json:"mediaMessage"`
	FromMyClient bool            `json:"fromMyClient,omitempty"`
	FromMyUser   bool            `json:"fromMyUser,omitempty"`
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return uuid.New().String()
}

// newFrame encodes msg under a new id, addressed from clientID.
func newFrame(clientID string, msg Message) (Frame, string, error) {
	id := NewMessageID()
	payload, err := Encode(id, msg)
	if err != nil {
		return Frame{}, "", err
	}
	return Frame{From: clientID, MediaMessage: payload}, id, nil
}

// toInbound decodes a frame received by ownClientID.
func toInbound(f Frame, ownClientID string, sameUser bool) (Inbound, error) {
	id, msg, err := Decode(f.MediaMessage)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{
		To:           f.To,
		From:         f.From,
		ID:           id,
		Message:      msg,
		FromMyClient: f.FromMyClient || (f.From != "" && f.From == ownClientID),
		FromMyUser:   f.FromMyUser || sameUser,
	}, nil
}

// handlerSet is the subscriber registry shared by the bus implementations.
type handlerSet struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
}

func (s *handlerSet) add(h Handler) func() {
	if h == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[uint64]Handler)
	}
	s.nextID++
	id := s.nextID
	s.handlers[id] = h
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *handlerSet) dispatch(in Inbound) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(in)
	}
}

func (s *handlerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

func errClosed(kind string) error {
	return fmt.Errorf("%s bus is closed", kind)
}
