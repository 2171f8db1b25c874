// Package storage defines the persistence contract used by the gateway:
// channels, chats, messages, runs, and events. Two implementations are
// provided — storage/memory for tests and single-node deployments without a
// durable store, and storage/sqlite for a file-backed one.
package storage

import (
	"context"

	"github.com/agw/gateway/internal/models"
)

// Repository is the minimum surface the gateway needs: upsert/list for
// channels, chats, messages, runs, and events. Each write commits on its
// own; the interface offers no transaction spanning several calls.
type Repository interface {
	UpsertChannel(ctx context.Context, ch models.Channel) error
	ListChannels(ctx context.Context) ([]models.Channel, error)

	UpsertChat(ctx context.Context, chat models.Chat) error
	ListChats(ctx context.Context, channelID string) ([]models.Chat, error)

	AddMessage(ctx context.Context, msg models.Message) error
	ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)

	UpsertRun(ctx context.Context, run models.AgentRun) error
	GetRun(ctx context.Context, runID string) (models.AgentRun, bool, error)

	AddEvent(ctx context.Context, evt models.Event) error
	// TailEvents returns events ordered by seq ascending. runID empty means
	// all runs; afterSeq 0 means from the beginning. limit <= 0 defaults to 200.
	TailEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]models.Event, error)

	Close() error
}

// DefaultTailLimit bounds an unbounded tail_events(limit=0) request.
const DefaultTailLimit = 200
