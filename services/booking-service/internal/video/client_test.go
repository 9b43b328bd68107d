package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sessions" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "vs-123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	id, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "vs-123" {
		t.Fatalf("session id = %q, want vs-123", id)
	}
}

func TestClientGenerateToken(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/vs-123/tokens" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			ExpiresAt string `json:"expires_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.ExpiresAt != "2024-06-01T12:00:00Z" {
			t.Fatalf("expires_at = %q", body.ExpiresAt)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	token, err := client.GenerateToken(context.Background(), "vs-123", expires)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("token = %q, want tok-1", token)
	}
}

func TestClientErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if _, err := client.CreateSession(context.Background()); err == nil {
		t.Fatalf("expected error on 502")
	}
}
