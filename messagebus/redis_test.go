/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messagebus

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisBus(t *testing.T, addr, userID string) *RedisBus {
	t.Helper()
	b, err := NewRedisBus(context.Background(), RedisOptions{
		Addr:   addr,
		UserID: userID,
		Prefix: "test",
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewRedisBus_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts RedisOptions
	}{
		{"missing addr", RedisOptions{UserID: "u1"}},
		{"missing user", RedisOptions{Addr: "127.0.0.1:6379"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRedisBus(context.Background(), tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestRedisChannel(t *testing.T) {
	if got := RedisChannel(DefaultRedisPrefix, "u1"); got != "softphone:headset:u1" {
		t.Errorf("Unexpected channel %q", got)
	}
}

func TestRedisBus_Broadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestRedisBus(t, mr.Addr(), "u1")
	b := newTestRedisBus(t, mr.Addr(), "u1")
	other := newTestRedisBus(t, mr.Addr(), "u2")

	aCh, _ := collect(a)
	bCh, _ := collect(b)
	otherCh, _ := collect(other)

	id, err := a.Send(context.Background(), HeadsetControlsRequest{RequestType: RequestTypeStandard})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	peer := receive(t, bCh)
	if peer.FromMyClient {
		t.Error("Peer must not see the frame as its own")
	}
	if !peer.FromMyUser {
		t.Error("Expected FromMyUser on the user's channel")
	}
	if peer.ID != id || peer.From != a.ClientID() {
		t.Errorf("Expected id %s from %s, got %s from %s", id, a.ClientID(), peer.ID, peer.From)
	}
	if req, ok := peer.Message.(HeadsetControlsRequest); !ok || req.RequestType != RequestTypeStandard {
		t.Errorf("Unexpected message %+v", peer.Message)
	}

	echo := receive(t, aCh)
	if !echo.FromMyClient {
		t.Error("Expected own echo to be marked FromMyClient")
	}

	expectNothing(t, otherCh)
}

func TestRedisBus_DropsMalformedFrames(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestRedisBus(t, mr.Addr(), "u1")
	b := newTestRedisBus(t, mr.Addr(), "u1")
	bCh, _ := collect(b)

	channel := RedisChannel("test", "u1")
	mr.Publish(channel, "not json")
	mr.Publish(channel, `{"from":"x","mediaMessage":{"jsonrpc":"2.0","method":"unknownMethod","params":{}}}`)

	if _, err := a.Send(context.Background(), HeadsetControlsChanged{HasControls: true}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	in := receive(t, bCh)
	if changed, ok := in.Message.(HeadsetControlsChanged); !ok || !changed.HasControls {
		t.Fatalf("Expected only the valid frame, got %+v", in.Message)
	}
	expectNothing(t, bCh)
}

func TestRedisBus_Close(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestRedisBus(t, mr.Addr(), "u1")

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if _, err := a.Send(context.Background(), HeadsetControlsChanged{}); err == nil {
		t.Error("Expected Send on a closed bus to fail")
	}
}
