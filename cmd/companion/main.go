// Package main is the patient-side companion client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audioconv"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/beyond"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/config"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/infra/storage"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/logging"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/provision"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/rtc"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/session"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/speech"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/upload"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "companion",
		Short:         "Cognitive companion session client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(runCmd(), syncCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the care room and run one companion session",
		Long: `Join the care room and run one companion session.

Send SIGUSR1 to upload the current audio batch immediately.
SIGINT or SIGTERM ends the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if participant != "" {
				cfg.ParticipantName = participant
			}
			return runSession(cmd.Context(), cfg, logging.Setup(cfg.LogLevel))
		},
	}
	cmd.Flags().StringVar(&participant, "identity", "", "participant identity (default patient-<unix ms>)")
	return cmd
}

func syncCmd() *cobra.Command {
	var (
		scope string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror avatar call records into the record store once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.Setup(cfg.LogLevel)
			syncer, closer, err := newSyncer(cfg, logger)
			if err != nil {
				return err
			}
			defer closer()

			if limit <= 0 {
				limit = cfg.SyncLookback
			}
			var res callsync.Result
			switch scope {
			case "all":
				res, err = syncer.SyncAll(cmd.Context(), limit)
			case "ended":
				res, err = syncer.SyncEnded(cmd.Context(), limit)
			case "combined":
				res, err = syncer.SyncCombined(cmd.Context(), limit)
			default:
				return fmt.Errorf("unknown scope %q (want all, ended or combined)", scope)
			}
			if err != nil {
				return err
			}
			fmt.Printf("synced %d calls, %d messages\n", len(res.Calls), res.TotalMessages)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "combined", "calls to sync: all, ended or combined")
	cmd.Flags().IntVar(&limit, "limit", 0, "how many recent calls to list (default SYNC_LOOKBACK)")
	return cmd
}

func newSyncer(cfg config.Config, logger zerolog.Logger) (*callsync.Syncer, func(), error) {
	store, closer, err := storage.OpenCallStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	bey := beyond.NewClient(cfg.BeyondAPIKey, cfg.BeyondAPIURL, logging.Component(logger, "beyond"))
	syncer := callsync.New(callsync.BeyondSource{Client: bey}, store, logging.Component(logger, "callsync"))
	return syncer, func() { _ = closer.Close() }, nil
}

func runSession(parent context.Context, cfg config.Config, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	device := audio.NewFFmpegDevice(audio.FFmpegOptions{
		Command:     cfg.FFmpegCommand,
		AudioFormat: cfg.AudioInputFormat,
		AudioDevice: cfg.AudioInputDevice,
		VideoFormat: cfg.VideoInputFormat,
		VideoDevice: cfg.VideoInputDevice,
	})

	bucket, err := storage.OpenBucket(ctx, cfg)
	if err != nil {
		return err
	}
	syncer, closeStore, err := newSyncer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ended := make(chan session.State, 1)
	var orch *session.Orchestrator
	room := rtc.NewRoom(rtc.RoomOptions{
		SignalingURL:   cfg.RoomSignalingURL,
		ICEServersJSON: cfg.ICEServersJSON,
		Microphone:     device,
		OnState: func(s rtc.ConnectionState) {
			if orch != nil {
				orch.HandleConnectionState(s)
			}
		},
	}, logging.Component(logger, "rtc"))

	deps := session.Deps{
		Permissions: device,
		Provisioner: provision.NewClient(cfg.ServerBaseURL),
		Room:        room,
		Recorder:    audio.NewRecorder(device, logging.Component(logger, "recorder")),
		Converter:   audioconv.New(audioconv.FFmpegTranscoder{Command: cfg.FFmpegCommand}),
		Uploader:    upload.New(bucket, logging.Component(logger, "upload")),
		Sync:        syncer,
	}
	if cfg.AssemblyAIKey != "" {
		speechLog := logging.Component(logger, "speech")
		deps.Cues = func(o speech.Options) session.CueDetector {
			return speech.NewDetector(speech.NewAssemblyAIRecognizer(cfg.AssemblyAIKey, device, speechLog), o, speechLog)
		}
	}

	hooks := session.Hooks{
		OnState: func(s session.State, err error) {
			if s == session.StateDisconnected || s == session.StateError {
				select {
				case ended <- s:
				default:
				}
			}
		},
		OnTranscript: func(text string) {
			logger.Debug().Str("transcript", text).Msg("heard")
		},
		OnShowMemories: func(m speech.KeywordMatch) {
			logger.Info().Str("keyword", m.Keyword).Msg("show memories")
		},
		OnToggleExercises: func(open bool, m speech.KeywordMatch) {
			logger.Info().Bool("open", open).Str("keyword", m.Keyword).Msg("exercise panel toggled")
		},
		OnBatchUploaded: func(url string) {
			logger.Info().Str("url", url).Msg("audio batch uploaded")
		},
	}
	orch = session.New(deps, session.OptionsFromConfig(cfg), hooks, logging.Component(logger, "session"))

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := orch.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("session close failed")
		}
	}()

	if err := orch.Start(ctx); err != nil {
		if errors.Is(err, session.ErrAccessDenied) {
			return fmt.Errorf("camera/microphone access denied, allow access and run again: %w", err)
		}
		return err
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("ending session")
			return nil
		case s := <-ended:
			logger.Info().Str("state", string(s)).Err(orch.Err()).Msg("session ended")
			if s == session.StateError {
				return orch.Err()
			}
			return nil
		case <-usr1:
			go func() {
				url, err := orch.UploadNow(ctx)
				switch {
				case errors.Is(err, session.ErrBusy):
					logger.Info().Msg("upload already in progress")
				case err != nil:
					logger.Error().Err(err).Msg("manual upload failed")
				default:
					logger.Info().Str("url", url).Msg("manual upload done")
				}
			}()
		}
	}
}
