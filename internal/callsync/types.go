package callsync

import (
	"context"
	"encoding/json"
	"time"
)

// Call is a remote call record as stored locally. Messages is nil when the
// remote listing did not embed them.
type Call struct {
	ID        string
	AgentID   string
	Status    string
	StartedAt *time.Time
	EndedAt   *time.Time
	Summary   string
	Raw       json.RawMessage
	Messages  []Message
}

type Message struct {
	ID     string
	CallID string
	Sender string
	Text   string
	SentAt *time.Time
	Raw    json.RawMessage
}

// Source lists remote call records.
type Source interface {
	ListCalls(ctx context.Context, limit int) ([]Call, error)
	ListMessages(ctx context.Context, callID string) ([]Message, error)
}

// Store persists call records, upserting by remote id.
type Store interface {
	UpsertCalls(ctx context.Context, calls []Call) error
	UpsertMessages(ctx context.Context, callID string, msgs []Message) error
	CountCalls(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// Result summarises one sync run.
type Result struct {
	Calls         []Call
	TotalMessages int
}
