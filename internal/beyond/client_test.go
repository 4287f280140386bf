package beyond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCreateSession_NoKey(t *testing.T) {
	c := NewClient("", "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.CreateSession(ctx, SessionRequest{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCreateSession_Success(t *testing.T) {
	var got SessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"sess-1","status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, zerolog.Nop())
	s, err := c.CreateSession(context.Background(), SessionRequest{AvatarID: "a", LiveKitURL: "wss://x", LiveKitToken: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "sess-1" {
		t.Fatalf("expected id fallback, got %q", s.ID)
	}
	if got.TransportType != "livekit" || got.LiveKitToken != "t" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestCreateSession_PrefersSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s-2","id":"other"}`))
	}))
	defer srv.Close()
	s, err := NewClient("key", srv.URL, zerolog.Nop()).CreateSession(context.Background(), SessionRequest{})
	if err != nil || s.ID != "s-2" {
		t.Fatalf("expected s-2, got %+v err=%v", s, err)
	}
}

func TestCreateSession_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(502)
			_, _ = w.Write([]byte("upstream down"))
		}, 502},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := NewClient("key", srv.URL, zerolog.Nop()).CreateSession(context.Background(), SessionRequest{})
			if err == nil {
				t.Fatalf("expected error; got nil")
			}
			var apiErr *APIError
			if tc.status != 0 {
				if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status || apiErr.Body != "upstream down" {
					t.Fatalf("expected APIError %d, got %v", tc.status, err)
				}
			}
		})
	}
}

func TestListCalls_ArrayAndWrapped(t *testing.T) {
	bodies := map[string]string{
		"array":   `[{"id":"c1","status":"ended","messages":[]},{"id":"c2","status":"active"}]`,
		"wrapped": `{"data":[{"id":"c1","status":"ended","messages":[]},{"id":"c2","status":"active"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("limit") != "5" {
					t.Errorf("expected limit=5, got %q", r.URL.RawQuery)
				}
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()
			calls, err := NewClient("key", srv.URL, zerolog.Nop()).ListCalls(context.Background(), 5)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(calls) != 2 || calls[0].ID != "c1" || calls[1].Status != "active" {
				t.Fatalf("unexpected calls %+v", calls)
			}
			if calls[0].Messages == nil || calls[1].Messages != nil {
				t.Fatalf("expected embedded messages only on c1")
			}
			if len(calls[0].Raw) == 0 {
				t.Fatalf("expected raw payload kept")
			}
		})
	}
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls/c%201/messages" && r.URL.Path != "/v1/calls/c 1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"sender":"user","message":"hello","sent_at":"2025-01-01T10:00:00Z"}]`))
	}))
	defer srv.Close()
	msgs, err := NewClient("key", srv.URL, zerolog.Nop()).ListMessages(context.Background(), "c 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message != "hello" || msgs[0].SentAt == nil {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
