// Package memory implements storage.Repository entirely in process memory:
// a single RWMutex, plain Go maps and slices, no background compaction.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/storage"
)

// Repository is a storage.Repository backed by in-memory maps. Safe for
// concurrent use; not durable across process restarts.
type Repository struct {
	mu sync.RWMutex

	channels map[string]models.Channel
	chats    map[string]models.Chat
	messages map[string][]models.Message // keyed by chat_id, append-only
	runs     map[string]models.AgentRun
	events   []models.Event // append-only, already seq-ordered by construction
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{
		channels: make(map[string]models.Channel),
		chats:    make(map[string]models.Chat),
		messages: make(map[string][]models.Message),
		runs:     make(map[string]models.AgentRun),
	}
}

func (r *Repository) UpsertChannel(_ context.Context, ch models.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID] = ch
	return nil
}

func (r *Repository) ListChannels(_ context.Context) ([]models.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) UpsertChat(_ context.Context, chat models.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[chat.ChatID] = chat
	return nil
}

func (r *Repository) ListChats(_ context.Context, channelID string) ([]models.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Chat, 0)
	for _, chat := range r.chats {
		if channelID != "" && chat.ChannelID != channelID {
			continue
		}
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (r *Repository) AddMessage(_ context.Context, msg models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.ChatID] = append(r.messages[msg.ChatID], msg)
	return nil
}

func (r *Repository) ListMessages(_ context.Context, chatID string, limit int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.messages[chatID]
	if limit <= 0 || limit >= len(all) {
		out := make([]models.Message, len(all))
		copy(out, all)
		return out, nil
	}
	start := len(all) - limit
	out := make([]models.Message, limit)
	copy(out, all[start:])
	return out, nil
}

func (r *Repository) UpsertRun(_ context.Context, run models.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	return nil
}

func (r *Repository) GetRun(_ context.Context, runID string) (models.AgentRun, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	return run, ok, nil
}

func (r *Repository) AddEvent(_ context.Context, evt models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Repository) TailEvents(_ context.Context, runID string, afterSeq int64, limit int) ([]models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = storage.DefaultTailLimit
	}
	out := make([]models.Event, 0, limit)
	for _, evt := range r.events {
		if evt.Seq <= afterSeq {
			continue
		}
		if runID != "" && evt.RunID != runID {
			continue
		}
		out = append(out, evt)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *Repository) Close() error { return nil }

var _ storage.Repository = (*Repository)(nil)
