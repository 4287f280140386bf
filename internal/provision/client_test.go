package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token", r.URL.Path)
		assert.Equal(t, "dementia-care-room", r.URL.Query().Get("room"))
		assert.Equal(t, "ai-therapist", r.URL.Query().Get("username"))
		_, _ = w.Write([]byte(`{"token":"jwt-1"}`))
	}))
	defer srv.Close()

	tok, err := NewClient(srv.URL+"/").Token(context.Background(), "dementia-care-room", "ai-therapist")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", tok)
}

func TestTokenStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"LiveKit credentials not configured"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Token(context.Background(), "r", "u")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "LiveKit credentials not configured", se.Message)
}

func TestCreateAvatarSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var ar AvatarRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ar))
		assert.Equal(t, AvatarRequest{Room: "room", Token: "tok", AvatarID: "av"}, ar)
		_, _ = w.Write([]byte(`{"success":true,"sessionId":"sess-9","data":{}}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL).CreateAvatarSession(context.Background(), AvatarRequest{Room: "room", Token: "tok", AvatarID: "av"})
	require.NoError(t, err)
	assert.Equal(t, "sess-9", id)
}

func TestCreateAvatarSessionRelaysUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"Failed to create avatar session","details":"quota"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateAvatarSession(context.Background(), AvatarRequest{Room: "r", Token: "t"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "quota", se.Details)
	assert.Contains(t, err.Error(), "avatar failed")
}
