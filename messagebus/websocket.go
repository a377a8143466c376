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
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds the configuration for a WebSocketBus
type WebSocketConfig struct {
	URL              string        // Relay endpoint, ws:// or wss://
	Token            string        // Bearer token sent on the handshake
	UserID           string        // User scope, sent as the "user" query parameter
	HandshakeTimeout time.Duration // Timeout for the websocket handshake
	PingInterval     time.Duration // Interval between ping messages
	PongTimeout      time.Duration // Timeout for receiving a pong response
	BackoffTimeMax   time.Duration // Maximum time between connection attempts
	BackoffTimeReset time.Duration // Initial time before the first retry
	MaxRetries       int           // Number of times to retry a dropped connection
	// Number of times to retry before giving up on the initial connection
	InitialConnectionMaxRetries int
	HTTPClient                  *http.Client
	Logger                      Logger
}

// DefaultWebSocketConfig returns the default configuration for a WebSocketBus
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		HandshakeTimeout:            10 * time.Second,
		PingInterval:                30 * time.Second,
		PongTimeout:                 10 * time.Second,
		BackoffTimeMax:              32 * time.Second,
		BackoffTimeReset:            1 * time.Second,
		MaxRetries:                  3,
		InitialConnectionMaxRetries: 5,
	}
}

// WebSocketBus carries arbitration frames through a websocket relay that
// fans them out to every connection of the same user.
type WebSocketBus struct {
	config   *WebSocketConfig
	clientID string
	logger   Logger
	handlers handlerSet

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	connecting   bool
	hasConnected bool
	closed       bool
	closeCh      chan struct{}

	writeMu sync.Mutex
}

// NewWebSocketBus creates a bus for the relay described by config.
func NewWebSocketBus(config *WebSocketConfig) *WebSocketBus {
	if config == nil {
		config = DefaultWebSocketConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WebSocketBus{
		config:   config,
		clientID: NewMessageID(),
		logger:   logger,
		closeCh:  make(chan struct{}),
	}
}

// ClientID returns the instance id stamped on frames this bus sends.
func (b *WebSocketBus) ClientID() string { return b.clientID }

// IsConnected reports whether the relay connection is up.
func (b *WebSocketBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Connect dials the relay, retrying with exponential backoff.
func (b *WebSocketBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errClosed("websocket")
	}
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	if b.connecting {
		b.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	b.connecting = true
	b.mu.Unlock()

	return b.connectWithBackoff(ctx)
}

// Send writes msg to the relay.
func (b *WebSocketBus) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	conn := b.conn
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return "", errClosed("websocket")
	}
	if conn == nil {
		return "", fmt.Errorf("websocket bus is not connected")
	}

	frame, id, err := newFrame(b.clientID, msg)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("error marshaling frame: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return "", fmt.Errorf("failed to write frame: %w", err)
	}
	return id, nil
}

// Subscribe registers h for inbound messages.
func (b *WebSocketBus) Subscribe(h Handler) func() {
	return b.handlers.add(h)
}

// Close disconnects from the relay. The bus cannot be reconnected.
func (b *WebSocketBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	conn := b.conn
	b.conn = nil
	b.connected = false
	b.connecting = false
	b.mu.Unlock()

	if conn != nil {
		b.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnected by client"))
		b.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// connectWithBackoff attempts to connect to the relay with exponential backoff
func (b *WebSocketBus) connectWithBackoff(ctx context.Context) error {
	b.mu.Lock()
	maxRetries := b.config.MaxRetries
	if !b.hasConnected {
		maxRetries = b.config.InitialConnectionMaxRetries
	}
	b.mu.Unlock()

	backoff := b.config.BackoffTimeReset
	var err error
	attempts := 0
	for attempts <= maxRetries {
		err = b.attemptConnection(ctx)
		if err == nil {
			return nil
		}
		attempts++
		if attempts > maxRetries {
			break
		}
		b.logger.Printf("WebSocketBus: connect attempt %d failed: %v", attempts, err)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > b.config.BackoffTimeMax {
				backoff = b.config.BackoffTimeMax
			}
		case <-b.closeCh:
			b.setConnecting(false)
			return errClosed("websocket")
		case <-ctx.Done():
			b.setConnecting(false)
			return ctx.Err()
		}
	}

	b.setConnecting(false)
	return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
}

func (b *WebSocketBus) setConnecting(v bool) {
	b.mu.Lock()
	b.connecting = v
	b.mu.Unlock()
}

// attemptConnection makes a single connection attempt to the relay
func (b *WebSocketBus) attemptConnection(ctx context.Context) error {
	target, err := b.relayURL()
	if err != nil {
		return err
	}

	headers := http.Header{}
	if b.config.Token != "" {
		headers.Set("Authorization", "Bearer "+b.config.Token)
	}
	headers.Set("X-Client-Id", b.clientID)

	dialer := websocket.Dialer{HandshakeTimeout: b.config.HandshakeTimeout}
	if b.config.HTTPClient != nil && b.config.HTTPClient.Transport != nil {
		if transport, ok := b.config.HTTPClient.Transport.(*http.Transport); ok {
			dialer.NetDialContext = transport.DialContext
		}
	}

	conn, _, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return errClosed("websocket")
	}
	b.conn = conn
	b.connected = true
	b.connecting = false
	b.hasConnected = true
	b.mu.Unlock()

	done := make(chan struct{})
	go b.listen(conn, done)
	go b.pingLoop(conn, done)
	return nil
}

func (b *WebSocketBus) relayURL() (string, error) {
	u, err := url.Parse(b.config.URL)
	if err != nil || b.config.URL == "" {
		return "", fmt.Errorf("invalid relay URL %q", b.config.URL)
	}
	q := u.Query()
	if b.config.UserID != "" {
		q.Set("user", b.config.UserID)
	}
	q.Set("clientId", b.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listen reads frames from conn until it fails
func (b *WebSocketBus) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.handleConnectionError(conn, err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Printf("WebSocketBus: dropping malformed frame: %v", err)
			continue
		}
		in, err := toInbound(frame, b.clientID, true)
		if err != nil {
			b.logger.Printf("WebSocketBus: dropping frame from %s: %v", frame.From, err)
			continue
		}
		b.handlers.dispatch(in)
	}
}

// pingLoop keeps conn alive; a missed pong surfaces as a read error in listen
func (b *WebSocketBus) pingLoop(conn *websocket.Conn, done chan struct{}) {
	if b.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.SetReadDeadline(time.Now().Add(b.config.PongTimeout)); err != nil {
				return
			}
			pingData := fmt.Sprintf("%d", time.Now().UnixMilli())
			b.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, []byte(pingData))
			b.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		case <-b.closeCh:
			return
		}
	}
}

// handleConnectionError drops conn and reconnects unless the bus was closed
func (b *WebSocketBus) handleConnectionError(conn *websocket.Conn, err error) {
	b.mu.Lock()
	if b.conn != conn || b.closed {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.connected = false
	b.connecting = true
	b.mu.Unlock()

	_ = conn.Close()
	b.logger.Printf("WebSocketBus: connection lost: %v", err)

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-b.closeCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		if err := b.connectWithBackoff(ctx); err != nil {
			b.logger.Printf("WebSocketBus: reconnect failed: %v", err)
		}
	}()
}
