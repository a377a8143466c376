/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package stations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tejzpr/softphone-go-sdk/platform"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	platformClient, err := platform.NewClient("test-token", &platform.Config{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		HttpClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return New(platformClient, nil)
}

func stationServer(t *testing.T, userStations string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v2/users/user-1/station":
			if userStations == "" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"not found"}`))
				return
			}
			_, _ = w.Write([]byte(userStations))
		case "/api/v2/stations/st-1":
			_, _ = w.Write([]byte(`{"id":"st-1","name":"WebRTC - user","status":"ASSOCIATED",
				"type":"inin_webrtc_softphone","webRtcPersistentEnabled":true,"webRtcCallAppearances":100}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestGetStation(t *testing.T) {
	client := newTestClient(t, stationServer(t, ""))
	station, err := client.GetStation(context.Background(), "st-1")
	if err != nil {
		t.Fatalf("GetStation failed: %v", err)
	}
	if station.ID != "st-1" || station.Type != TypeWebRTC || !station.WebRTCPersistentEnabled {
		t.Errorf("unexpected station: %+v", station)
	}

	if _, err := client.GetStation(context.Background(), ""); err == nil {
		t.Error("Expected error for empty station id")
	}
}

func TestGetEffectiveStation(t *testing.T) {
	tests := []struct {
		name         string
		userStations string
		wantOK       bool
	}{
		{"effective", `{"effectiveStation":{"id":"st-1"}}`, true},
		{"associated fallback", `{"associatedStation":{"id":"st-1"}}`, true},
		{"no station", `{"defaultStation":{"id":""}}`, false},
		{"user not found", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, stationServer(t, tt.userStations))
			station, ok, err := client.GetEffectiveStation(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("GetEffectiveStation failed: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && station.ID != "st-1" {
				t.Errorf("Expected st-1, got %+v", station)
			}
		})
	}
}
