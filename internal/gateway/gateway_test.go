package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/agent"
	"github.com/agw/gateway/internal/audit"
	"github.com/agw/gateway/internal/eventbus"
	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/policy"
	"github.com/agw/gateway/internal/storage/memory"
)

func newTestGateway(t *testing.T, pol *models.Policy, planner agent.Planner) (*Gateway, *eventbus.Bus) {
	t.Helper()
	repo := memory.New()
	bus := eventbus.New(0)
	sink := NewEventSink(bus, repo, nil)
	polEngine := policy.New(pol)
	tools := agent.NewToolRegistry()
	approvals := agent.NewApprovalBroker()
	engine := agent.NewEngine(tools, polEngine, sink, approvals, planner, nil, agent.EngineConfig{
		MaxSteps: 5, TimeoutS: 2 * time.Second,
	})
	auditLog, err := audit.NewLogger(audit.Config{})
	require.NoError(t, err)

	gw := New(Deps{
		Repo:     repo,
		Bus:      bus,
		Policy:   polEngine,
		Tools:    tools,
		Engine:   engine,
		AuditLog: auditLog,
	}, Config{})
	return gw, bus
}

func waitForEvent(t *testing.T, sub *eventbus.Subscription, timeout time.Duration, match func(models.Event) bool) models.Event {
	t.Helper()
	deadline := time.After(timeout)
	ch := sub.Events()
	for {
		select {
		case evt := <-ch:
			if match(evt) {
				return evt
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching event")
		}
	}
}

// Scenario 6: deny-by-default sender. An empty allowlist must drop the
// inbound message, emit security.blocked, and never emit message.inbound or
// create a chat.
func TestIngestInboundDeniesUnknownSender(t *testing.T) {
	gw, bus := newTestGateway(t, models.DefaultPolicy(), nil)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	gw.IngestInbound(context.Background(), models.Message{
		ChatID: "chat-1", ChannelID: "ch1", SenderID: "u1", Text: "hello",
	})

	evt := waitForEvent(t, sub, time.Second, func(e models.Event) bool { return e.Type == models.EventSecurityBlocked })
	var payload map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	require.Equal(t, "sender_not_allowlisted", payload["reason"])

	chats, err := gw.ListChats(context.Background(), "ch1")
	require.NoError(t, err)
	require.Empty(t, chats)
}

func TestIngestInboundAllowsAllowlistedSender(t *testing.T) {
	pol := &models.Policy{
		Allowlist: map[string][]string{"ch1": {"u1"}},
		DMPolicy:  models.PolicyAllow,
	}
	gw, bus := newTestGateway(t, pol, nil)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	gw.IngestInbound(context.Background(), models.Message{
		ChatID: "chat-1", ChannelID: "ch1", SenderID: "u1", Text: "hello",
		Metadata: map[string]string{"conversation_type": "dm"},
	})

	waitForEvent(t, sub, time.Second, func(e models.Event) bool { return e.Type == models.EventMessageInbound })

	msgs, err := gw.ListMessages(context.Background(), "chat-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
}

// Scenario 1: simple echo, driven end-to-end through Gateway.StartRun.
func TestStartRunSimpleEcho(t *testing.T) {
	planner := agent.PlannerFunc(func(_ context.Context, history []agent.Turn, _ []models.ToolSpec) (agent.PlanResult, error) {
		for _, turn := range history {
			if turn.Role == "tool" {
				return agent.PlanResult{Content: turn.Content}, nil
			}
		}
		return agent.PlanResult{ToolCalls: []agent.ToolCallRequest{{Name: "core.echo", Args: map[string]any{"text": "hi"}}}}, nil
	})

	pol := &models.Policy{
		ToolAllow: map[string]models.ToolPermission{"core.echo": models.PermissionRead},
	}
	gw, bus := newTestGateway(t, pol, planner)
	require.NoError(t, gw.tools.Register(
		models.ToolSpec{Name: "core.echo", Permission: models.PermissionRead},
		func(_ context.Context, args map[string]any) (map[string]any, error) { return args, nil },
	))

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	run, err := gw.StartRun(context.Background(), "chat-1", "webchat", "u1", "tool:core.echo")
	require.NoError(t, err)
	require.Equal(t, models.RunQueued, run.Status)

	evt := waitForEvent(t, sub, 2*time.Second, func(e models.Event) bool {
		return e.Type == models.EventRunCompleted && e.RunID == run.RunID
	})
	var payload map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	require.Equal(t, "completed", payload["status"])

	stored, ok, err := gw.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.RunCompleted, stored.Status)
	require.Contains(t, stored.OutputText, "hi")
}

// Scenario 5: tool not allowed falls through to the clarification fallback
// and still completes successfully.
func TestStartRunToolNotAllowed(t *testing.T) {
	planner := agent.PlannerFunc(func(_ context.Context, _ []agent.Turn, _ []models.ToolSpec) (agent.PlanResult, error) {
		return agent.PlanResult{ToolCalls: []agent.ToolCallRequest{{Name: "foo.bar"}}}, nil
	})
	gw, bus := newTestGateway(t, models.DefaultPolicy(), planner)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	run, err := gw.StartRun(context.Background(), "chat-1", "webchat", "u1", "do the thing")
	require.NoError(t, err)

	waitForEvent(t, sub, 2*time.Second, func(e models.Event) bool {
		return e.Type == models.EventSecurityBlocked && e.RunID == run.RunID
	})
	completed := waitForEvent(t, sub, 2*time.Second, func(e models.Event) bool {
		return e.Type == models.EventRunCompleted && e.RunID == run.RunID
	})
	var payload map[string]any
	require.NoError(t, json.Unmarshal(completed.Payload, &payload))
	require.Equal(t, "completed", payload["status"])
}
