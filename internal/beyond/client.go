// Package beyond talks to the Beyond Presence avatar API.
package beyond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://api.bey.dev"

var ErrMissingAPIKey = errors.New("BEY_API_KEY not configured")

// APIError carries a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("beyond presence error: status=%d body=%s", e.StatusCode, e.Body)
}

type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	log        zerolog.Logger
}

func NewClient(apiKey, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger,
	}
}

type SessionRequest struct {
	AvatarID      string `json:"avatar_id"`
	LiveKitURL    string `json:"livekit_url"`
	LiveKitToken  string `json:"livekit_token"`
	TransportType string `json:"transport_type"`
}

// Session is the decoded provisioning response. Raw keeps the full upstream body.
type Session struct {
	ID  string
	Raw json.RawMessage
}

// CreateSession asks the avatar service to join a LiveKit room.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.TransportType == "" {
		req.TransportType = "livekit"
	}
	c.log.Info().
		Str("avatar_id", req.AvatarID).
		Str("livekit_url", req.LiveKitURL).
		Bool("api_key_present", c.APIKey != "").
		Msg("creating avatar session")

	body, err := c.do(ctx, http.MethodPost, "/v1/sessions", req)
	if err != nil {
		return nil, err
	}
	var ids struct {
		SessionID string `json:"session_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	s := &Session{ID: ids.SessionID, Raw: json.RawMessage(body)}
	if s.ID == "" {
		s.ID = ids.ID
	}
	c.log.Info().Str("session_id", s.ID).Msg("avatar session created")
	return s, nil
}

// Call is one call summary as listed by the API. Messages is nil unless the
// listing embedded them.
type Call struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Status    string          `json:"status"`
	StartedAt *time.Time      `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at"`
	Summary   string          `json:"summary"`
	Messages  []Message       `json:"messages"`
	Raw       json.RawMessage `json:"-"`
}

type Message struct {
	ID      string          `json:"id"`
	Sender  string          `json:"sender"`
	Message string          `json:"message"`
	SentAt  *time.Time      `json:"sent_at"`
	Raw     json.RawMessage `json:"-"`
}

// ListCalls returns up to limit most recent calls.
func (c *Client) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/calls?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	raws, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}
	calls := make([]Call, 0, len(raws))
	for _, r := range raws {
		var call Call
		if err := json.Unmarshal(r, &call); err != nil {
			return nil, fmt.Errorf("decode call: %w", err)
		}
		call.Raw = r
		calls = append(calls, call)
	}
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

// ListMessages returns the transcript messages of one call.
func (c *Client) ListMessages(ctx context.Context, callID string) ([]Message, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(callID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	raws, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]Message, 0, len(raws))
	for _, r := range raws {
		var m Message
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		m.Raw = r
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// decodeList accepts either a bare array or an object with a "data" array.
func decodeList(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []json.RawMessage
		err := json.Unmarshal(trimmed, &out)
		return out, err
	}
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Str("path", path).Str("body", string(body)).Msg("beyond presence request failed")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
