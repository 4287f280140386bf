package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
)

const (
	callsTable    = "beyond_calls"
	messagesTable = "beyond_call_messages"
)

// SupabaseCallStore upserts call records into Supabase tables via PostgREST.
type SupabaseCallStore struct {
	cfg SupabaseConfig

	once    sync.Once
	client  *supabase.Client
	initErr error
}

func NewSupabaseCallStore(cfg SupabaseConfig) *SupabaseCallStore {
	return &SupabaseCallStore{cfg: cfg}
}

func (s *SupabaseCallStore) db() (*supabase.Client, error) {
	s.once.Do(func() {
		s.client, s.initErr = newSupabaseClient(s.cfg)
	})
	return s.client, s.initErr
}

type callRow struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	SyncedAt  time.Time       `json:"synced_at"`
}

type messageRow struct {
	ID      string          `json:"id"`
	CallID  string          `json:"call_id"`
	Sender  string          `json:"sender,omitempty"`
	Message string          `json:"message"`
	SentAt  *time.Time      `json:"sent_at,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

func (s *SupabaseCallStore) UpsertCalls(ctx context.Context, calls []callsync.Call) error {
	if len(calls) == 0 {
		return nil
	}
	q, err := s.table(callsTable)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	rows := make([]callRow, len(calls))
	for i, c := range calls {
		rows[i] = callRow{
			ID:        c.ID,
			AgentID:   c.AgentID,
			Status:    c.Status,
			StartedAt: c.StartedAt,
			EndedAt:   c.EndedAt,
			Summary:   c.Summary,
			Raw:       c.Raw,
			SyncedAt:  now,
		}
	}
	if _, _, err := q.Upsert(rows, "id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("upsert %s: %w", callsTable, err)
	}
	return nil
}

func (s *SupabaseCallStore) UpsertMessages(ctx context.Context, callID string, msgs []callsync.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	q, err := s.table(messagesTable)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]messageRow, len(msgs))
	for i, m := range msgs {
		rows[i] = messageRow{ID: m.ID, CallID: callID, Sender: m.Sender, Message: m.Text, SentAt: m.SentAt, Raw: m.Raw}
	}
	if _, _, err := q.Upsert(rows, "id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("upsert %s: %w", messagesTable, err)
	}
	return nil
}

func (s *SupabaseCallStore) CountCalls(ctx context.Context) (int, error) {
	q, err := s.table(callsTable)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, count, err := q.Select("id", "exact", true).Execute()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", callsTable, err)
	}
	return int(count), nil
}

// table starts a PostgREST query on name.
func (s *SupabaseCallStore) table(name string) (*postgrest.QueryBuilder, error) {
	client, err := s.db()
	if err != nil {
		return nil, err
	}
	return client.From(name), nil
}

// Ping performs a head count against the calls table.
func (s *SupabaseCallStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.CountCalls(ctx)
	return err
}

var _ callsync.Store = (*SupabaseCallStore)(nil)
