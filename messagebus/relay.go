/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messagebus

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Relay is the server side of WebSocketBus. Every frame received on a
// connection is forwarded to all connections of the same user, sender included.
type Relay struct {
	// Authenticate resolves the user of an incoming handshake. By default the
	// "user" query parameter is trusted.
	Authenticate func(r *http.Request) (string, error)

	upgrader websocket.Upgrader
	logger   Logger

	mu    sync.RWMutex
	users map[string]map[*relayConn]struct{}
}

type relayConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *relayConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewRelay creates a relay. A nil logger uses log.Default().
func NewRelay(logger Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		users:  make(map[string]map[*relayConn]struct{}),
	}
}

// Connections returns the number of open connections for userID.
func (r *Relay) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	userID, err := r.authenticate(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("Relay: upgrade failed: %v", err)
		return
	}
	rc := &relayConn{conn: conn}
	r.add(userID, rc)
	defer func() {
		r.remove(userID, rc)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.logger.Printf("Relay: dropping malformed frame for %s: %v", userID, err)
			continue
		}
		frame.FromMyUser = true
		out, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		for _, peer := range r.peers(userID) {
			if err := peer.write(out); err != nil {
				r.logger.Printf("Relay: write to peer of %s failed: %v", userID, err)
			}
		}
	}
}

func (r *Relay) authenticate(req *http.Request) (string, error) {
	if r.Authenticate != nil {
		return r.Authenticate(req)
	}
	userID := req.URL.Query().Get("user")
	if userID == "" {
		return "", fmt.Errorf("missing user")
	}
	return userID, nil
}

func (r *Relay) add(userID string, c *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[*relayConn]struct{})
		r.users[userID] = conns
	}
	conns[c] = struct{}{}
}

func (r *Relay) remove(userID string, c *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.users[userID]
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.users, userID)
	}
}

func (r *Relay) peers(userID string) []*relayConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*relayConn, 0, len(r.users[userID]))
	for c := range r.users[userID] {
		out = append(out, c)
	}
	return out
}
