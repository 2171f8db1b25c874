// Package sqlite implements storage.Repository on top of a file-backed
// SQLite database, using database/sql with prepared statements, with
// modernc.org/sqlite as the driver (pure Go, no cgo) and golang-migrate for
// schema setup.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Repository implements storage.Repository on a *sql.DB opened against a
// SQLite file. Prepared statements are created once at construction and
// reused for the lifetime of the repository.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger

	stmtUpsertChannel *sql.Stmt
	stmtUpsertChat    *sql.Stmt
	stmtAddMessage    *sql.Stmt
	stmtUpsertRun     *sql.Stmt
	stmtAddEvent      *sql.Stmt
}

// Open opens (creating if necessary) a SQLite database at path, applies
// pending migrations, and returns a ready Repository.
func Open(path string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &Repository{db: db, logger: logger.With("component", "sqlite_repository")}
	if err := repo.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return repo, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (r *Repository) prepareStatements() error {
	var err error
	r.stmtUpsertChannel, err = r.db.Prepare(`
		INSERT INTO channels (id, type, status, config, last_seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type=excluded.type, status=excluded.status, config=excluded.config, last_seen=excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert channel: %w", err)
	}

	r.stmtUpsertChat, err = r.db.Prepare(`
		INSERT INTO chats (chat_id, channel_id, participants, metadata) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET channel_id=excluded.channel_id, participants=excluded.participants, metadata=excluded.metadata
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert chat: %w", err)
	}

	r.stmtAddMessage, err = r.db.Prepare(`
		INSERT INTO messages (msg_id, chat_id, channel_id, sender_id, text, timestamp, attachments, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare add message: %w", err)
	}

	r.stmtUpsertRun, err = r.db.Prepare(`
		INSERT INTO runs (run_id, chat_id, channel_id, requested_by, status, started_at, finished_at, steps_executed, tools_called, output_text, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status=excluded.status, started_at=excluded.started_at, finished_at=excluded.finished_at,
			steps_executed=excluded.steps_executed, tools_called=excluded.tools_called,
			output_text=excluded.output_text, summary=excluded.summary, error=excluded.error
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert run: %w", err)
	}

	r.stmtAddEvent, err = r.db.Prepare(`
		INSERT INTO events (seq, run_id, type, payload, ts) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare add event: %w", err)
	}
	return nil
}

func (r *Repository) UpsertChannel(ctx context.Context, ch models.Channel) error {
	cfg, err := json.Marshal(ch.Config)
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}
	var lastSeen *string
	if ch.LastSeen != nil {
		s := ch.LastSeen.Format(time.RFC3339Nano)
		lastSeen = &s
	}
	_, err = r.stmtUpsertChannel.ExecContext(ctx, ch.ID, string(ch.Type), string(ch.Status), string(cfg), lastSeen)
	return err
}

func (r *Repository) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, type, status, config, last_seen FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		var ch models.Channel
		var cfg string
		var lastSeen sql.NullString
		if err := rows.Scan(&ch.ID, &ch.Type, &ch.Status, &cfg, &lastSeen); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cfg), &ch.Config); err != nil {
			return nil, fmt.Errorf("unmarshal channel config: %w", err)
		}
		if lastSeen.Valid {
			t, err := time.Parse(time.RFC3339Nano, lastSeen.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_seen: %w", err)
			}
			ch.LastSeen = &t
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertChat(ctx context.Context, chat models.Chat) error {
	participants, err := json.Marshal(chat.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	metadata, err := json.Marshal(chat.Metadata)
	if err != nil {
		return fmt.Errorf("marshal chat metadata: %w", err)
	}
	_, err = r.stmtUpsertChat.ExecContext(ctx, chat.ChatID, chat.ChannelID, string(participants), string(metadata))
	return err
}

func (r *Repository) ListChats(ctx context.Context, channelID string) ([]models.Chat, error) {
	query := `SELECT chat_id, channel_id, participants, metadata FROM chats`
	args := []any{}
	if channelID != "" {
		query += ` WHERE channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY chat_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chat
	for rows.Next() {
		var chat models.Chat
		var participants, metadata string
		if err := rows.Scan(&chat.ChatID, &chat.ChannelID, &participants, &metadata); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &chat.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &chat.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chat metadata: %w", err)
		}
		out = append(out, chat)
	}
	return out, rows.Err()
}

func (r *Repository) AddMessage(ctx context.Context, msg models.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}
	_, err = r.stmtAddMessage.ExecContext(ctx, msg.MsgID, msg.ChatID, msg.ChannelID, msg.SenderID, msg.Text,
		msg.Timestamp.Format(time.RFC3339Nano), string(attachments), string(metadata))
	return err
}

func (r *Repository) ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultTailLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT msg_id, chat_id, channel_id, sender_id, text, timestamp, attachments, metadata
		FROM (
			SELECT * FROM messages WHERE chat_id = ? ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC
	`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var msg models.Message
		var ts, attachments, metadata string
		if err := rows.Scan(&msg.MsgID, &msg.ChatID, &msg.ChannelID, &msg.SenderID, &msg.Text, &ts, &attachments, &metadata); err != nil {
			return nil, err
		}
		msg.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal message metadata: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertRun(ctx context.Context, run models.AgentRun) error {
	toolsCalled, err := json.Marshal(run.ToolsCalled)
	if err != nil {
		return fmt.Errorf("marshal tools_called: %w", err)
	}
	var startedAt, finishedAt *string
	if run.StartedAt != nil {
		s := run.StartedAt.Format(time.RFC3339Nano)
		startedAt = &s
	}
	if run.FinishedAt != nil {
		s := run.FinishedAt.Format(time.RFC3339Nano)
		finishedAt = &s
	}
	_, err = r.stmtUpsertRun.ExecContext(ctx, run.RunID, run.ChatID, run.ChannelID, run.RequestedBy, string(run.Status),
		startedAt, finishedAt, run.StepsExecuted, string(toolsCalled), run.OutputText, run.Summary, run.Error)
	return err
}

func (r *Repository) GetRun(ctx context.Context, runID string) (models.AgentRun, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, chat_id, channel_id, requested_by, status, started_at, finished_at, steps_executed, tools_called, output_text, summary, error
		FROM runs WHERE run_id = ?
	`, runID)

	var run models.AgentRun
	var startedAt, finishedAt sql.NullString
	var toolsCalled string
	if err := row.Scan(&run.RunID, &run.ChatID, &run.ChannelID, &run.RequestedBy, &run.Status,
		&startedAt, &finishedAt, &run.StepsExecuted, &toolsCalled, &run.OutputText, &run.Summary, &run.Error); err != nil {
		if err == sql.ErrNoRows {
			return models.AgentRun{}, false, nil
		}
		return models.AgentRun{}, false, err
	}
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return models.AgentRun{}, false, fmt.Errorf("parse started_at: %w", err)
		}
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return models.AgentRun{}, false, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(toolsCalled), &run.ToolsCalled); err != nil {
		return models.AgentRun{}, false, fmt.Errorf("unmarshal tools_called: %w", err)
	}
	return run, true, nil
}

func (r *Repository) AddEvent(ctx context.Context, evt models.Event) error {
	payload := evt.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	_, err := r.stmtAddEvent.ExecContext(ctx, evt.Seq, evt.RunID, string(evt.Type), string(payload), evt.TS.Format(time.RFC3339Nano))
	return err
}

func (r *Repository) TailEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = storage.DefaultTailLimit
	}
	query := `SELECT seq, run_id, type, payload, ts FROM events WHERE seq > ?`
	args := []any{afterSeq}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var evt models.Event
		var ts, payload string
		if err := rows.Scan(&evt.Seq, &evt.RunID, &evt.Type, &payload, &ts); err != nil {
			return nil, err
		}
		evt.Payload = json.RawMessage(payload)
		evt.TS, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (r *Repository) Close() error {
	return r.db.Close()
}

var _ storage.Repository = (*Repository)(nil)
