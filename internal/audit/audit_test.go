package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerDisabledIsNoop(t *testing.T) {
	l, err := NewLogger(Config{Enabled: false})
	require.NoError(t, err)
	l.SecurityBlocked(context.Background(), "ch1", "u1", "sender_not_allowlisted")
	require.NoError(t, l.Close())
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(Config{Enabled: true, Format: FormatJSON, Output: path, BufferSize: 4})
	require.NoError(t, err)

	l.SecurityBlocked(context.Background(), "ch1", "u1", "sender_not_allowlisted")
	l.ToolCall(context.Background(), "run-1", "core.echo", false)
	l.RunCompleted(context.Background(), "run-1", "completed", "Completed successfully")

	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "security.blocked")
	require.Contains(t, string(data), "run.tool_call")
	require.Contains(t, string(data), "run.completed")
}

func TestLoggerFullBufferFallsBackToSyncWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(Config{Enabled: true, Format: FormatJSON, Output: path, BufferSize: 1})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		l.SecurityBlocked(context.Background(), "ch1", "u1", "rate_limited")
	}
	// give the writer goroutine a moment, then close to flush the rest.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
