package callsync

import (
	"context"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/beyond"
)

// BeyondSource adapts the Beyond Presence client to Source.
type BeyondSource struct {
	Client *beyond.Client
}

func (b BeyondSource) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	remote, err := b.Client.ListCalls(ctx, limit)
	if err != nil {
		return nil, err
	}
	calls := make([]Call, len(remote))
	for i, rc := range remote {
		calls[i] = Call{
			ID:        rc.ID,
			AgentID:   rc.AgentID,
			Status:    rc.Status,
			StartedAt: rc.StartedAt,
			EndedAt:   rc.EndedAt,
			Summary:   rc.Summary,
			Raw:       rc.Raw,
		}
		if rc.Messages != nil {
			calls[i].Messages = convertMessages(rc.ID, rc.Messages)
		}
	}
	return calls, nil
}

func (b BeyondSource) ListMessages(ctx context.Context, callID string) ([]Message, error) {
	remote, err := b.Client.ListMessages(ctx, callID)
	if err != nil {
		return nil, err
	}
	return convertMessages(callID, remote), nil
}

func convertMessages(callID string, remote []beyond.Message) []Message {
	out := make([]Message, len(remote))
	for i, m := range remote {
		out[i] = Message{
			ID:     m.ID,
			CallID: callID,
			Sender: m.Sender,
			Text:   m.Message,
			SentAt: m.SentAt,
			Raw:    m.Raw,
		}
	}
	return out
}
