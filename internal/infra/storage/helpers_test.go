package storage

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
)

type staticSource struct {
	calls []callsync.Call
}

func (s staticSource) ListCalls(ctx context.Context, limit int) ([]callsync.Call, error) {
	return s.calls, nil
}

func (s staticSource) ListMessages(ctx context.Context, callID string) ([]callsync.Message, error) {
	return []callsync.Message{{Text: "note for " + callID}}, nil
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
