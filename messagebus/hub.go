/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messagebus

import (
	"context"
	"sync"
)

// Hub fans arbitration messages out between client instances that live in the
// same process. Clients joined under the same user id form one peer group.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]*HubClient
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[string]*HubClient)}
}

// Join attaches a new client instance for userID and returns its bus.
func (h *Hub) Join(userID string) *HubClient {
	c := &HubClient{
		hub:      h,
		userID:   userID,
		clientID: NewMessageID(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	group, ok := h.groups[userID]
	if !ok {
		group = make(map[string]*HubClient)
		h.groups[userID] = group
	}
	group[c.clientID] = c
	h.mu.Unlock()

	go c.deliverLoop()
	return c
}

// Members returns the number of clients currently joined for userID.
func (h *Hub) Members(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

func (h *Hub) leave(c *HubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[c.userID]
	delete(group, c.clientID)
	if len(group) == 0 {
		delete(h.groups, c.userID)
	}
}

func (h *Hub) peers(userID string) []*HubClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group := h.groups[userID]
	out := make([]*HubClient, 0, len(group))
	for _, c := range group {
		out = append(out, c)
	}
	return out
}

// HubClient is one instance's view of a Hub. Deliveries to a client are
// asynchronous and preserve send order per sender.
type HubClient struct {
	hub      *Hub
	userID   string
	clientID string
	handlers handlerSet

	mu     sync.Mutex
	inbox  []Frame
	closed bool
	notify chan struct{}
	done   chan struct{}
}

// ClientID returns the instance id stamped on frames this client sends.
func (c *HubClient) ClientID() string { return c.clientID }

// Send broadcasts msg to every client of the same user, including the sender.
func (c *HubClient) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", errClosed("hub")
	}

	frame, id, err := newFrame(c.clientID, msg)
	if err != nil {
		return "", err
	}
	for _, peer := range c.hub.peers(c.userID) {
		peer.enqueue(frame)
	}
	return id, nil
}

// Subscribe registers h for inbound messages.
func (c *HubClient) Subscribe(h Handler) func() {
	return c.handlers.add(h)
}

// Close detaches the client from the hub and stops delivery.
func (c *HubClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.inbox = nil
	c.mu.Unlock()

	c.hub.leave(c)
	close(c.done)
	return nil
}

func (c *HubClient) enqueue(f Frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inbox = append(c.inbox, f)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *HubClient) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		for {
			c.mu.Lock()
			if c.closed || len(c.inbox) == 0 {
				c.mu.Unlock()
				break
			}
			frame := c.inbox[0]
			c.inbox = c.inbox[1:]
			c.mu.Unlock()

			in, err := toInbound(frame, c.clientID, true)
			if err != nil {
				continue
			}
			c.handlers.dispatch(in)
		}
	}
}
