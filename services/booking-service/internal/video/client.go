package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client talks to the video platform's REST API to mint media sessions and
// per-participant access tokens.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.post(ctx, "/v1/sessions", map[string]any{"media_mode": "routed"}, &out); err != nil {
		return "", fmt.Errorf("create video session: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("create video session: empty session id in response")
	}
	return out.SessionID, nil
}

func (c *Client) GenerateToken(ctx context.Context, sessionID string, expiresAt time.Time) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	path := "/v1/sessions/" + sessionID + "/tokens"
	body := map[string]any{
		"role":       "publisher",
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}
	if err := c.post(ctx, path, body, &out); err != nil {
		return "", fmt.Errorf("generate video token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("generate video token: empty token in response")
	}
	return out.Token, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("video api returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FakeProvider hands out local identifiers so the service can run without a
// video platform account.
type FakeProvider struct{}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

func (f *FakeProvider) CreateSession(_ context.Context) (string, error) {
	return "local-" + uuid.NewString(), nil
}

func (f *FakeProvider) GenerateToken(_ context.Context, sessionID string, _ time.Time) (string, error) {
	return "token-" + sessionID, nil
}
