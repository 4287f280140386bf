// Package provision calls the server's token and avatar endpoints.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is a non-2xx response from a provisioning endpoint.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Details    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s failed: status=%d", e.Endpoint, e.StatusCode)
	if e.Message != "" {
		msg += " " + e.Message
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

type AvatarRequest struct {
	Room     string `json:"room"`
	Token    string `json:"token"`
	AvatarID string `json:"avatarId,omitempty"`
}

type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Token fetches a room-join credential for identity.
func (c *Client) Token(ctx context.Context, room, identity string) (string, error) {
	q := url.Values{}
	q.Set("room", room)
	q.Set("username", identity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/token?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, "token", &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("token: empty token in response")
	}
	return out.Token, nil
}

// CreateAvatarSession provisions the avatar and returns its session id.
func (c *Client) CreateAvatarSession(ctx context.Context, ar AvatarRequest) (string, error) {
	payload, err := json.Marshal(ar)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/avatar", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		Success   bool   `json:"success"`
		SessionID string `json:"sessionId"`
	}
	if err := c.do(req, "avatar", &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s read body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		var e struct {
			Error   string          `json:"error"`
			Details json.RawMessage `json:"details"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			se.Message = e.Error
			se.Details = strings.Trim(string(e.Details), `"`)
		} else {
			se.Details = strings.TrimSpace(string(body))
		}
		return se
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s decode: %w", endpoint, err)
	}
	return nil
}
