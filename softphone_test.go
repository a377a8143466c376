/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/pion/webrtc/v4"

	"github.com/tejzpr/softphone-go-sdk/config"
	"github.com/tejzpr/softphone-go-sdk/headset"
	"github.com/tejzpr/softphone-go-sdk/messagebus"
	"github.com/tejzpr/softphone-go-sdk/platform"
	"github.com/tejzpr/softphone-go-sdk/session"
)

// ---- Fakes ----

type fakeSignaler struct {
	mu       sync.Mutex
	proceeds []string
	rejects  []string
}

func (s *fakeSignaler) Proceed(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proceeds = append(s.proceeds, sessionID)
	return nil
}

func (s *fakeSignaler) Reject(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = append(s.rejects, sessionID)
	return nil
}

func (s *fakeSignaler) Initiate(ctx context.Context, req session.InitiateRequest) (string, error) {
	return "outbound-1", nil
}

func (s *fakeSignaler) proceeded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.proceeds {
		if p == id {
			return true
		}
	}
	return false
}

type fakeDriver struct {
	mu      sync.Mutex
	calls   []string
	handler func(headset.DeviceEvent)
}

func (d *fakeDriver) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return nil
}

func (d *fakeDriver) has(call string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (d *fakeDriver) IsSupported(label string) bool { return label == "Jabra Evolve2 65" }
func (d *fakeDriver) ActiveMicChange(ctx context.Context, label, reason string) error {
	return d.record("activeMicChange:" + label)
}
func (d *fakeDriver) IncomingCall(ctx context.Context, call headset.CallInfo) error {
	return d.record("incomingCall:" + call.ConversationID)
}
func (d *fakeDriver) OutgoingCall(ctx context.Context, call headset.CallInfo) error {
	return d.record("outgoingCall:" + call.ConversationID)
}
func (d *fakeDriver) AnswerCall(ctx context.Context, conversationID string) error {
	return d.record("answerCall:" + conversationID)
}
func (d *fakeDriver) RejectCall(ctx context.Context, conversationID string) error {
	return d.record("rejectCall:" + conversationID)
}
func (d *fakeDriver) EndCall(ctx context.Context, conversationID string) error {
	return d.record("endCall:" + conversationID)
}
func (d *fakeDriver) SetMute(ctx context.Context, muted bool) error {
	if muted {
		return d.record("setMute:true")
	}
	return d.record("setMute:false")
}
func (d *fakeDriver) SetHold(ctx context.Context, conversationID string, held bool) error {
	return d.record("setHold:" + conversationID)
}
func (d *fakeDriver) Subscribe(fn func(headset.DeviceEvent)) func() {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.handler = nil
		d.mu.Unlock()
	}
}

func (d *fakeDriver) press(ev headset.DeviceEvent) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

type fakeRTC struct {
	id, conversationID string
}

func (r *fakeRTC) ID() string                             { return r.id }
func (r *fakeRTC) ConversationID() string                 { return r.conversationID }
func (r *fakeRTC) SessionType() session.SessionType       { return session.SessionTypeSoftphone }
func (r *fakeRTC) Accept(ctx context.Context) error       { return nil }
func (r *fakeRTC) End(ctx context.Context) error          { return nil }
func (r *fakeRTC) PeerConnection() session.PeerConnection { return nil }

func (r *fakeRTC) Mute(ctx context.Context, kind session.MediaKind, muted bool) error {
	return nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newPlatformServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v2/users/user-1/station":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"no station"}`))
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, sig session.Signaler, driver headset.Driver, bus messagebus.Bus) *Client {
	t.Helper()
	server := newPlatformServer(t)
	cfg := DefaultConfig()
	cfg.UserID = "user-1"
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.Platform.BaseURL = server.URL
	cfg.Platform.HttpClient = server.Client()
	cfg.Platform.MaxRetries = 0
	cfg.Headset.NegotiationTimeout = 30 * time.Millisecond

	client, err := NewClient("test-token", sig, driver, bus, cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Stop() })
	return client
}

// ---- Tests ----

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("token", nil, nil, nil, nil); err == nil {
		t.Error("Expected error without signaler")
	}
	if _, err := NewClient("", &fakeSignaler{}, nil, nil, &Config{UserID: "u"}); err == nil {
		t.Error("Expected error for empty token")
	}
	if _, err := NewClient("opaque-token", &fakeSignaler{}, nil, nil, nil); err == nil {
		t.Error("Expected error when user id cannot be derived")
	}
}

func TestNewClient_UserIDFromToken(t *testing.T) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")}, nil)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(jwt.Claims{Subject: "user-7"}).Serialize()
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	client, err := NewClient(raw, &fakeSignaler{}, nil, nil, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.UserID() != "user-7" {
		t.Errorf("Expected user-7, got %s", client.UserID())
	}
	if client.Headset().State() != headset.StateNotStarted {
		t.Errorf("Expected notStarted, got %s", client.Headset().State())
	}
	// Without a driver, device selection is a no-op.
	if err := client.SelectAudioInput(context.Background(), "Jabra Evolve2 65"); err != nil {
		t.Errorf("SelectAudioInput failed: %v", err)
	}

	s := &config.Settings{AccessToken: raw}
	if id, err := ResolveUserID(s); err != nil || id != "user-7" {
		t.Errorf("ResolveUserID = %q, %v", id, err)
	}
}

func TestClient_CallFlowDrivesHeadset(t *testing.T) {
	hub := messagebus.NewHub()
	sig := &fakeSignaler{}
	driver := &fakeDriver{}
	client := newTestClient(t, sig, driver, hub.Join("user-1"))
	ctx := context.Background()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.SelectAudioInput(ctx, "Jabra Evolve2 65"); err != nil {
		t.Fatalf("SelectAudioInput failed: %v", err)
	}
	eventually(t, "headset controls", func() bool { return client.Headset().State() == headset.StateHasControls })

	sessions := client.Sessions()
	err := sessions.OnPropose(ctx, session.ProposeInfo{
		SessionID: "s1", ConversationID: "c1", SessionType: session.SessionTypeSoftphone, FromAddress: "tel:+15551234",
	})
	if err != nil {
		t.Fatalf("OnPropose failed: %v", err)
	}
	eventually(t, "device ringing", func() bool { return driver.has("incomingCall:c1") })

	driver.press(headset.DeviceAnsweredCall{ConversationID: "c1"})
	eventually(t, "proceed from device answer", func() bool { return sig.proceeded("s1") })
	eventually(t, "device answered", func() bool { return driver.has("answerCall:c1") })

	if err := sessions.OnIncomingSession(ctx, &fakeRTC{id: "s1", conversationID: "c1"}); err != nil {
		t.Fatalf("OnIncomingSession failed: %v", err)
	}
	sessions.OnSessionConnectionState("s1", webrtc.PeerConnectionStateConnected)
	sessions.OnSessionTerminated("s1", "hangup")
	eventually(t, "device call ended", func() bool { return driver.has("endCall:c1") })

	if driver.has("outgoingCall:c1") {
		t.Error("Expected answered inbound call not to be shown as outgoing")
	}
}

// lineLogger records formatted log lines.
type lineLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *lineLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestClient_TrackGivesUpOnDroppedOperations(t *testing.T) {
	client := newTestClient(t, &fakeSignaler{}, nil, nil)
	logs := &lineLogger{}
	client.logger = logs
	client.trackTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	client.queue.Enqueue(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	dropped := client.queue.Enqueue(func(ctx context.Context) (any, error) { return nil, nil })
	client.queue.Clear()

	client.track("incomingCall", dropped)
	eventually(t, "tracker to give up", func() bool { return logs.contains("headset incomingCall did not run") })
}

func TestClient_StopRemovesSessionRelay(t *testing.T) {
	hub := messagebus.NewHub()
	client := newTestClient(t, &fakeSignaler{}, &fakeDriver{}, hub.Join("user-1"))
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	err := client.Sessions().OnPropose(ctx, session.ProposeInfo{SessionID: "s1", ConversationID: "c1", SessionType: session.SessionTypeSoftphone})
	if err != nil {
		t.Fatalf("OnPropose failed: %v", err)
	}
	if client.isAnnounced("c1") {
		t.Error("Expected session events not to reach a stopped client")
	}
}

func TestClient_OutgoingCall(t *testing.T) {
	hub := messagebus.NewHub()
	driver := &fakeDriver{}
	client := newTestClient(t, &fakeSignaler{}, driver, hub.Join("user-1"))
	ctx := context.Background()
	_ = client.Start(ctx)
	_ = client.SelectAudioInput(ctx, "Jabra Evolve2 65")
	eventually(t, "headset controls", func() bool { return client.Headset().State() == headset.StateHasControls })

	_ = client.Sessions().OnIncomingSession(ctx, &fakeRTC{id: "s9", conversationID: "c9"})
	eventually(t, "outgoing call shown", func() bool { return driver.has("outgoingCall:c9") })
}

func TestClient_HandleNotification(t *testing.T) {
	client := newTestClient(t, &fakeSignaler{}, nil, nil)
	var got []session.ConversationUpdate
	var mu sync.Mutex
	client.Sessions().On(session.EventConversationUpdated, func(ev session.Event) {
		mu.Lock()
		got = append(got, ev.(session.ConversationUpdatedEvent).Update)
		mu.Unlock()
	})

	data := []byte(`{"topicName":"v2.users.user-1.conversations","eventBody":{"id":"c1","participants":[
		{"id":"p1","purpose":"user","userId":"user-1","calls":[{"id":"k1","state":"connected"}]}]}}`)
	if err := client.HandleNotification(data); err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if err := client.HandleNotification([]byte(`{"topicName":"channel.metadata"}`)); err != nil {
		t.Fatalf("HandleNotification for other topic failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("Expected one update for c1, got %+v", got)
	}
}

func TestConfigFromSettings(t *testing.T) {
	s := config.Default()
	s.AccessToken = "token"
	s.BaseURL = "https://api.example.com"
	s.Headset.RequestType = "mediaHelper"
	cfg := ConfigFromSettings(s, nil)
	if cfg.Platform.BaseURL != "https://api.example.com" {
		t.Errorf("unexpected base URL %s", cfg.Platform.BaseURL)
	}
	if cfg.Headset.RequestType != headset.RequestType(messagebus.RequestTypeMediaHelper) {
		t.Errorf("unexpected request type %s", cfg.Headset.RequestType)
	}
	if cfg.Session.ResolvedRetention != 10*time.Minute {
		t.Errorf("unexpected retention %v", cfg.Session.ResolvedRetention)
	}
}

func TestDialBus(t *testing.T) {
	ctx := context.Background()
	s := config.Default()

	hub := messagebus.NewHub()
	bus, err := DialBus(ctx, s, "user-1", hub, nil)
	if err != nil {
		t.Fatalf("DialBus(hub) failed: %v", err)
	}
	if hub.Members("user-1") != 1 {
		t.Errorf("Expected 1 hub member, got %d", hub.Members("user-1"))
	}
	_ = bus.Close()

	s.Bus.Kind = config.BusRedis
	if _, err := DialBus(ctx, s, "user-1", nil, nil); err == nil {
		t.Error("Expected error for redis bus without address")
	}

	s.Bus.Kind = "smoke-signals"
	if _, err := DialBus(ctx, s, "user-1", nil, nil); err == nil {
		t.Error("Expected error for unknown bus kind")
	}
}

func TestResolveUserID_Override(t *testing.T) {
	id, err := ResolveUserID(&config.Settings{UserID: "explicit", AccessToken: "opaque"})
	if err != nil || id != "explicit" {
		t.Errorf("ResolveUserID = %q, %v", id, err)
	}
	if _, err := ResolveUserID(&config.Settings{AccessToken: "opaque"}); !errors.Is(err, platform.ErrOpaqueToken) {
		t.Errorf("Expected ErrOpaqueToken, got %v", err)
	}
}
