package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/MindMate-tech/Mind-Mate-Monorepo/api/http"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/beyond"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/config"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/httpserver"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/infra/storage"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/livekit"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/logging"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/scheduler"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel)

	bey := beyond.NewClient(cfg.BeyondAPIKey, cfg.BeyondAPIURL, logging.Component(logger, "beyond"))

	store, closer, err := storage.OpenCallStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open call store")
	}
	defer closer.Close()
	syncer := callsync.New(callsync.BeyondSource{Client: bey}, store, logging.Component(logger, "callsync"))

	srv := httpserver.NewServer(cfg.HTTPAddress, cfg.APIAuthToken, apihttp.Handlers{
		Tokens:          livekit.NewMinter(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret),
		Avatars:         bey,
		Calls:           syncer,
		LiveKitURL:      cfg.LiveKitURL,
		DefaultAvatarID: cfg.AvatarID,
		SyncLookback:    cfg.SyncLookback,
		Log:             logging.Component(logger, "api"),
	}, logging.Component(logger, "http"))

	var sched *scheduler.Scheduler
	if cfg.SyncSchedule != "" {
		sched = scheduler.New(logging.Component(logger, "scheduler"))
		if err := sched.AddEndedSync(cfg.SyncSchedule, syncer, cfg.SyncLookback); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule call sync")
		}
		sched.Start()
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- srv.HTTP.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	if sched != nil {
		sched.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.HTTP.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = srv.HTTP.Close()
	}
}
