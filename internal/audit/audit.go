// Package audit implements the structured, async, write-once audit log of
// policy decisions and tool calls — separate from the EventBus (which is a
// best-effort live stream), this is a durable record of every
// security.blocked, run.tool_call, and run.completed moment the gateway
// produces. Grounded on the teacher's internal/audit.Logger: a buffered
// channel drained by a single writer goroutine, JSON or text encoding via
// log/slog, with a full-buffer fallback that writes synchronously rather
// than drop an audit record.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the audit-worthy moments this system records.
type EventType string

const (
	EventSecurityBlocked EventType = "security.blocked"
	EventToolCall        EventType = "run.tool_call"
	EventRunCompleted    EventType = "run.completed"
)

// Format selects the on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures a Logger. A zero Config disables logging entirely.
type Config struct {
	Enabled    bool
	Format     Format
	Output     string // "stdout", "stderr", or a file path
	BufferSize int
}

// Record is a single audit entry.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	SenderID  string         `json:"sender_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger is the async audit sink. Safe for concurrent use.
type Logger struct {
	cfg     Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Record
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // guards direct writeRecord fallback against the writer goroutine
}

// NewLogger constructs a Logger from cfg. A disabled Logger's Log is a no-op.
func NewLogger(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{cfg: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}

	var output io.WriteCloser
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit output: %w", err)
		}
		output = f
	}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(output, nil)
	} else {
		handler = slog.NewJSONHandler(output, nil)
	}

	l := &Logger{
		cfg:     cfg,
		output:  output,
		slogger: slog.New(handler).With("component", "audit"),
		buffer:  make(chan *Record, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Close drains the buffer and closes the underlying sink. Safe to call once.
func (l *Logger) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log records an event by enqueuing it for the writer goroutine. If the
// buffer is full the record is written synchronously rather than dropped, since an audit log that drops
// silently is worse than one that occasionally stalls the caller.
func (l *Logger) Log(_ context.Context, rec Record) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r := rec
	select {
	case l.buffer <- &r:
	default:
		l.writeRecord(&r)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.buffer:
			l.writeRecord(rec)
		case <-l.done:
			for {
				select {
				case rec := <-l.buffer:
					l.writeRecord(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeRecord(rec *Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slogger.Info(string(rec.Type),
		"id", rec.ID,
		"ts", rec.Timestamp,
		"run_id", rec.RunID,
		"channel_id", rec.ChannelID,
		"sender_id", rec.SenderID,
		"tool_name", rec.ToolName,
		"reason", rec.Reason,
		"details", rec.Details,
	)
}

// SecurityBlocked records a denied sender or tool call.
func (l *Logger) SecurityBlocked(ctx context.Context, channelID, senderID, reason string) {
	l.Log(ctx, Record{Type: EventSecurityBlocked, ChannelID: channelID, SenderID: senderID, Reason: reason})
}

// ToolCall records a tool invocation (approval-gated or not).
func (l *Logger) ToolCall(ctx context.Context, runID, toolName string, approvalRequired bool) {
	l.Log(ctx, Record{
		Type: EventToolCall, RunID: runID, ToolName: toolName,
		Details: map[string]any{"approval_required": approvalRequired},
	})
}

// RunCompleted records a run's terminal outcome.
func (l *Logger) RunCompleted(ctx context.Context, runID, status, summary string) {
	l.Log(ctx, Record{
		Type: EventRunCompleted, RunID: runID,
		Details: map[string]any{"status": status, "summary": summary},
	})
}
