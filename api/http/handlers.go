package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/beyond"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/livekit"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/metrics"
)

type TokenMinter interface {
	Token(room, identity string) (string, error)
}

type AvatarCreator interface {
	CreateSession(ctx context.Context, req beyond.SessionRequest) (*beyond.Session, error)
}

type CallSyncer interface {
	SyncAll(ctx context.Context, limit int) (callsync.Result, error)
	SyncEnded(ctx context.Context, limit int) (callsync.Result, error)
	SyncCombined(ctx context.Context, limit int) (callsync.Result, error)
	TestConnections(ctx context.Context) callsync.ConnectionReport
}

type Handlers struct {
	Tokens          TokenMinter
	Avatars         AvatarCreator
	Calls           CallSyncer
	LiveKitURL      string
	DefaultAvatarID string
	SyncLookback    int
	Log             zerolog.Logger
}

// Register mounts all routes. guard protects the call sync and diagnostics routes.
func (h Handlers) Register(e *echo.Echo, guard echo.MiddlewareFunc) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.Any("/api/token", h.token)
	e.Any("/api/avatar", h.avatar)

	api := e.Group("/api", guard)
	api.POST("/calls/sync", h.syncCalls)
	api.GET("/connections", h.connections)
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h Handlers) token(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return c.JSON(http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	}
	room := c.QueryParam("room")
	username := c.QueryParam("username")
	if room == "" {
		return h.reject(c, "token", http.StatusBadRequest, `Missing "room"`)
	}
	if username == "" {
		return h.reject(c, "token", http.StatusBadRequest, `Missing "username"`)
	}

	tok, err := h.Tokens.Token(room, username)
	if errors.Is(err, livekit.ErrMissingCredentials) {
		return h.reject(c, "token", http.StatusInternalServerError, "LiveKit credentials not configured")
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("error generating token")
		return h.reject(c, "token", http.StatusInternalServerError, "Internal server error")
	}
	metrics.ProvisionRequests.WithLabelValues("token", "200").Inc()
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, map[string]string{"token": tok})
}

type avatarRequest struct {
	Room     string `json:"room"`
	Token    string `json:"token"`
	AvatarID string `json:"avatarId"`
}

type avatarResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
}

func (h Handlers) avatar(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return c.JSON(http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	}
	var req avatarRequest
	if err := c.Bind(&req); err != nil {
		return h.reject(c, "avatar", http.StatusBadRequest, "Invalid request body")
	}
	if req.Room == "" {
		return h.reject(c, "avatar", http.StatusBadRequest, `Missing "room"`)
	}
	if req.Token == "" {
		return h.reject(c, "avatar", http.StatusBadRequest, `Missing "token"`)
	}
	avatarID := req.AvatarID
	if avatarID == "" {
		avatarID = h.DefaultAvatarID
	}

	sess, err := h.Avatars.CreateSession(c.Request().Context(), beyond.SessionRequest{
		AvatarID:     avatarID,
		LiveKitURL:   h.LiveKitURL,
		LiveKitToken: req.Token,
	})
	var apiErr *beyond.APIError
	switch {
	case errors.Is(err, beyond.ErrMissingAPIKey):
		return h.reject(c, "avatar", http.StatusInternalServerError, "BEY_API_KEY not configured")
	case errors.As(err, &apiErr):
		h.Log.Error().Int("status", apiErr.StatusCode).Str("body", apiErr.Body).Msg("beyond API error response")
		metrics.ProvisionRequests.WithLabelValues("avatar", strconv.Itoa(apiErr.StatusCode)).Inc()
		return c.JSON(apiErr.StatusCode, errorBody{Error: "Failed to create avatar session", Details: apiErr.Body})
	case err != nil:
		h.Log.Error().Err(err).Msg("error creating avatar session")
		metrics.ProvisionRequests.WithLabelValues("avatar", "500").Inc()
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Internal server error", Details: err.Error()})
	}

	metrics.ProvisionRequests.WithLabelValues("avatar", "200").Inc()
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, avatarResponse{Success: true, SessionID: sess.ID, Data: sess.Raw})
}

func (h Handlers) reject(c echo.Context, endpoint string, status int, msg string) error {
	metrics.ProvisionRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	return c.JSON(status, errorBody{Error: msg})
}

type syncResponse struct {
	Scope         string `json:"scope"`
	Calls         int    `json:"calls"`
	TotalMessages int    `json:"totalMessages"`
}

// syncCalls runs one sync; scope is all, ended or combined (default).
func (h Handlers) syncCalls(c echo.Context) error {
	if h.Calls == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "call sync not configured"})
	}
	limit := h.SyncLookback
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody{Error: `Invalid "limit"`})
		}
		limit = n
	}
	scope := c.QueryParam("scope")
	if scope == "" {
		scope = "combined"
	}
	ctx := c.Request().Context()
	var (
		res callsync.Result
		err error
	)
	switch scope {
	case "all":
		res, err = h.Calls.SyncAll(ctx, limit)
	case "ended":
		res, err = h.Calls.SyncEnded(ctx, limit)
	case "combined":
		res, err = h.Calls.SyncCombined(ctx, limit)
	default:
		return c.JSON(http.StatusBadRequest, errorBody{Error: `Invalid "scope"`})
	}
	if err != nil {
		h.Log.Error().Err(err).Str("scope", scope).Msg("call sync failed")
		return c.JSON(http.StatusBadGateway, errorBody{Error: "Call sync failed", Details: err.Error()})
	}
	return c.JSON(http.StatusOK, syncResponse{Scope: scope, Calls: len(res.Calls), TotalMessages: res.TotalMessages})
}

func (h Handlers) connections(c echo.Context) error {
	if h.Calls == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "call sync not configured"})
	}
	return c.JSON(http.StatusOK, h.Calls.TestConnections(c.Request().Context()))
}
