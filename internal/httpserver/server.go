// Package httpserver hosts the provisioning and call sync HTTP API.
package httpserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apihttp "github.com/MindMate-tech/Mind-Mate-Monorepo/api/http"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/middleware"
)

// Server bundles the router and the listening server.
type Server struct {
	Router http.Handler
	HTTP   *http.Server
}

// NewServer mounts handlers behind the bearer guard for authToken.
func NewServer(addr, authToken string, h apihttp.Handlers, logger zerolog.Logger) *Server {
	e := New(logger)
	h.Register(e, middleware.BearerAuth(func() string { return authToken }))
	return &Server{
		Router: e,
		HTTP: &http.Server{
			Addr:              addr,
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}
