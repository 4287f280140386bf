// Package callsync mirrors remote avatar call records into a local store.
package callsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/metrics"
)

const DefaultLimit = 100

type Syncer struct {
	source Source
	store  Store
	log    zerolog.Logger
}

func New(source Source, store Store, logger zerolog.Logger) *Syncer {
	return &Syncer{source: source, store: store, log: logger}
}

// SyncAll upserts the most recent calls regardless of status.
func (s *Syncer) SyncAll(ctx context.Context, limit int) (Result, error) {
	return s.run(ctx, "all", limit, func(Call) bool { return true })
}

// SyncEnded upserts only calls that have terminated.
func (s *Syncer) SyncEnded(ctx context.Context, limit int) (Result, error) {
	return s.run(ctx, "ended", limit, Ended)
}

// SyncCombined upserts calls and their messages and reports aggregate counts.
func (s *Syncer) SyncCombined(ctx context.Context, limit int) (Result, error) {
	res, err := s.run(ctx, "combined", limit, func(Call) bool { return true })
	if err == nil {
		s.log.Info().Int("calls", len(res.Calls)).Int("messages", res.TotalMessages).Msg("synced calls and meeting notes")
	}
	return res, err
}

// Ended reports whether the remote status says the call is over.
func Ended(c Call) bool {
	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "ended", "completed", "finished", "terminated", "closed":
		return true
	case "active", "ongoing", "in_progress", "started":
		return false
	}
	return c.EndedAt != nil
}

func (s *Syncer) run(ctx context.Context, kind string, limit int, keep func(Call) bool) (res Result, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.SyncRuns.WithLabelValues(kind, result).Inc()
	}()
	if limit <= 0 {
		limit = DefaultLimit
	}
	logger := s.log.With().Str("sync", kind).Logger()

	remote, err := s.source.ListCalls(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list calls: %w", err)
	}

	calls := make([]Call, 0, len(remote))
	for _, c := range remote {
		if keep(c) {
			calls = append(calls, c)
		}
	}
	if len(calls) == 0 {
		logger.Debug().Int("fetched", len(remote)).Msg("no calls to sync")
		return Result{Calls: calls}, nil
	}

	for i := range calls {
		if calls[i].Messages != nil {
			continue
		}
		msgs, err := s.source.ListMessages(ctx, calls[i].ID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			logger.Warn().Err(err).Str("call_id", calls[i].ID).Msg("failed to fetch call messages")
			continue
		}
		calls[i].Messages = msgs
	}

	if err := s.store.UpsertCalls(ctx, calls); err != nil {
		return Result{}, fmt.Errorf("upsert calls: %w", err)
	}
	res = Result{Calls: calls}
	for _, c := range calls {
		if len(c.Messages) == 0 {
			continue
		}
		msgs := normalizeMessages(c.ID, c.Messages)
		if err := s.store.UpsertMessages(ctx, c.ID, msgs); err != nil {
			return Result{}, fmt.Errorf("upsert messages for call %s: %w", c.ID, err)
		}
		res.TotalMessages += len(msgs)
	}
	metrics.SyncedCalls.Add(float64(len(calls)))
	logger.Info().Int("fetched", len(remote)).Int("synced", len(calls)).Int("messages", res.TotalMessages).Msg("call sync complete")
	return res, nil
}

// normalizeMessages fills in the owning call id and a stable id for messages
// the remote API returned without one.
func normalizeMessages(callID string, msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.CallID = callID
		if m.ID == "" {
			m.ID = callID + "-" + strconv.Itoa(i)
		}
		out[i] = m
	}
	return out
}
