// Package scheduler runs periodic server-side jobs.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
)

// EndedSyncer is the part of callsync.Syncer the scheduler drives.
type EndedSyncer interface {
	SyncEnded(ctx context.Context, limit int) (callsync.Result, error)
}

// Scheduler wraps a cron instance. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func New(logger zerolog.Logger) *Scheduler {
	cl := cronLogger{log: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:  logger,
	}
}

// AddFunc registers fn on spec (standard cron or descriptors such as "@every 5m").
func (s *Scheduler) AddFunc(spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// AddEndedSync registers a job that mirrors ended calls into the record store.
func (s *Scheduler) AddEndedSync(spec string, syncer EndedSyncer, limit int) error {
	return s.AddFunc(spec, func() {
		res, err := syncer.SyncEnded(context.Background(), limit)
		if err != nil {
			s.log.Error().Err(err).Msg("scheduled ended-call sync failed")
			return
		}
		s.log.Info().Int("calls", len(res.Calls)).Int("messages", res.TotalMessages).Msg("scheduled ended-call sync done")
	})
}

func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Len()).Msg("scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
