package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/models"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agw.db")
	repo, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSqliteUpsertAndGetRun(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	run := models.AgentRun{RunID: "run-1", ChatID: "c1", ChannelID: "webchat", RequestedBy: "u1", Status: models.RunRunning, StartedAt: &started}
	require.NoError(t, repo.UpsertRun(ctx, run))

	got, ok, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RunRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))

	run.Status = models.RunCompleted
	run.OutputText = "done"
	require.NoError(t, repo.UpsertRun(ctx, run))

	got, ok, err = repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, "done", got.OutputText)
}

func TestSqliteTailEventsOrderedBySeq(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.AddEvent(ctx, models.Event{Seq: 1, RunID: "run-1", Type: models.EventRunProgress, TS: now}))
	require.NoError(t, repo.AddEvent(ctx, models.Event{Seq: 2, RunID: "run-2", Type: models.EventRunProgress, TS: now}))
	require.NoError(t, repo.AddEvent(ctx, models.Event{Seq: 3, RunID: "run-1", Type: models.EventRunCompleted, TS: now}))

	tail, err := repo.TailEvents(ctx, "run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(1), tail[0].Seq)
	assert.Equal(t, int64(3), tail[1].Seq)
}

func TestSqliteListMessagesChronological(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AddMessage(ctx, models.Message{
			MsgID: string(rune('a' + i)), ChatID: "c1", ChannelID: "webchat", SenderID: "u1",
			Text: "hi", Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := repo.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].MsgID)
	assert.Equal(t, "c", msgs[2].MsgID)
}
