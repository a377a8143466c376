/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient("test-token", &Config{
		BaseURL:        server.URL,
		Timeout:        5 * time.Second,
		HttpClient:     server.Client(),
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("empty token", func(t *testing.T) {
		if _, err := NewClient("", nil); err == nil {
			t.Error("Expected error for empty access token")
		}
	})

	t.Run("default config", func(t *testing.T) {
		client, err := NewClient("token", nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if client.BaseURL.String() != "https://api.mypurecloud.com" {
			t.Errorf("Unexpected base URL: %s", client.BaseURL)
		}
		if client.GetLogger() == nil {
			t.Error("Expected default logger")
		}
		if client.Config.MaxRetries != 3 {
			t.Errorf("Expected MaxRetries 3, got %d", client.Config.MaxRetries)
		}
	})
}

func TestRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if r.Header.Get("ININ-Correlation-Id") == "" {
			t.Error("Expected correlation id header")
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Error("Expected default header to be applied")
		}
		if r.URL.Path != "/api/v2/things" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"t1"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	client.Config.DefaultHeaders = map[string]string{"X-Custom": "yes"}

	resp, err := client.Request(context.Background(), http.MethodGet, "api/v2/things", nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := ParseResponse(resp, &out); err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}
	if out.ID != "t1" {
		t.Errorf("Expected id t1, got %s", out.ID)
	}
}

func TestRequestWithRetry(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := newTestClient(t, server)
		resp, err := client.Request(context.Background(), http.MethodPatch, "x", nil, map[string]string{"a": "b"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("Expected 204 after retries, got %d", resp.StatusCode)
		}
		if atomic.LoadInt32(&calls) != 3 {
			t.Errorf("Expected 3 attempts, got %d", calls)
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := newTestClient(t, server)
		resp, err := client.Request(context.Background(), http.MethodGet, "x", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()
		if atomic.LoadInt32(&calls) != 1 {
			t.Errorf("Expected a single attempt, got %d", calls)
		}
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := newTestClient(t, server)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := client.Request(ctx, http.MethodGet, "x", nil, nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	})
}

func TestRetryDelay(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "4")
	if d := retryDelay(resp, time.Second, 0); d != 4*time.Second {
		t.Errorf("Expected Retry-After delay 4s, got %v", d)
	}

	resp = &http.Response{StatusCode: http.StatusBadGateway, Header: http.Header{}}
	if d := retryDelay(resp, time.Second, 2); d != 4*time.Second {
		t.Errorf("Expected exponential delay 4s, got %v", d)
	}
}

func TestParseResponse_StructuredErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, IsAuthError},
		{http.StatusForbidden, IsForbidden},
		{http.StatusNotFound, IsNotFound},
		{http.StatusConflict, IsConflict},
		{http.StatusTooManyRequests, IsRateLimited},
		{http.StatusInternalServerError, IsServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			body := `{"code":"some.code","message":"boom","contextId":"ctx-1"}`
			resp := &http.Response{
				StatusCode: tt.status,
				Status:     http.StatusText(tt.status),
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader(body)),
			}
			err := ParseResponse(resp, nil)
			if !tt.check(err) {
				t.Fatalf("Unexpected error type %T", err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatal("Expected errors.As to find APIError")
			}
			if apiErr.Code != "some.code" || apiErr.ContextID != "ctx-1" {
				t.Errorf("Body fields not parsed: %+v", apiErr)
			}
			if !strings.Contains(apiErr.Error(), "boom") {
				t.Errorf("Error message missing body message: %s", apiErr.Error())
			}
		})
	}
}

func TestParseTokenClaims(t *testing.T) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")}, nil)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	t.Run("subject and org", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour).Truncate(time.Second)
		raw, err := jwt.Signed(signer).
			Claims(jwt.Claims{Subject: "user-1", Expiry: jwt.NewNumericDate(expiry)}).
			Claims(map[string]interface{}{"org_id": "org-1"}).
			Serialize()
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}

		claims, err := ParseTokenClaims(raw)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if claims.UserID != "user-1" || claims.OrgID != "org-1" {
			t.Errorf("Unexpected claims: %+v", claims)
		}
		if !claims.Expiry.Equal(expiry) {
			t.Errorf("Expected expiry %v, got %v", expiry, claims.Expiry)
		}
		if claims.Expired(time.Now()) {
			t.Error("Token should not be expired")
		}
	})

	t.Run("user_id claim wins over subject", func(t *testing.T) {
		raw, err := jwt.Signed(signer).
			Claims(jwt.Claims{Subject: "client-credentials"}).
			Claims(map[string]interface{}{"user_id": "user-2"}).
			Serialize()
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		claims, err := ParseTokenClaims(raw)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if claims.UserID != "user-2" {
			t.Errorf("Expected user-2, got %s", claims.UserID)
		}
	})

	t.Run("opaque token", func(t *testing.T) {
		_, err := ParseTokenClaims("not-a-jwt")
		if !errors.Is(err, ErrOpaqueToken) {
			t.Errorf("Expected ErrOpaqueToken, got %v", err)
		}
	})
}

func TestAPIError_JSONBodyOptional(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTeapot, Status: "418", Header: http.Header{}}
	err := NewAPIError(resp, []byte("plain text"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if string(apiErr.RawBody) != "plain text" {
		t.Errorf("Raw body not preserved")
	}
}
