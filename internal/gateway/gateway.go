// Package gateway wires the storage, policy, event, and agent layers into
// the single running gateway process: it owns the channel adapters, the
// plugin registry, and the instance lock; it is the only component that
// mutates persisted state. ingest_inbound and start_run are its two
// entry points from the outside world; everything else (control-plane
// RPCs, the CLI) is a thin caller of the methods defined here.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agw/gateway/internal/agent"
	"github.com/agw/gateway/internal/audit"
	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/doctor"
	"github.com/agw/gateway/internal/eventbus"
	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/observability"
	"github.com/agw/gateway/internal/plugins"
	"github.com/agw/gateway/internal/policy"
	"github.com/agw/gateway/internal/storage"
)

// ErrSenderDenied is returned by IngestInbound when PolicyEngine.AllowSender
// rejects the message; the reason is carried in the error text and also
// emitted as a security.blocked event.
var ErrSenderDenied = errors.New("sender denied")

// Config holds the Gateway's own settings that the Policy document does not
// cover: the run history window, the plugin directories scanned at Start,
// and the shutdown grace period. Per-run step/time bounds live in
// agent.EngineConfig.
type Config struct {
	MaxContextMessages int
	PluginDirs         []string
	ShutdownGrace      time.Duration
}

func (c Config) sanitized() Config {
	out := c
	if out.MaxContextMessages <= 0 {
		out.MaxContextMessages = 40
	}
	if out.ShutdownGrace <= 0 {
		out.ShutdownGrace = 5 * time.Second
	}
	return out
}

// Gateway is the single authority: it owns every registry and mutates
// persisted state. The AgentEngine it drives only ever mutates the
// in-memory run object handed to it.
type Gateway struct {
	cfg Config

	repo     storage.Repository
	bus      *eventbus.Bus
	events   *EventSink
	policy   *policy.Engine
	tools    *agent.ToolRegistry
	engine   *agent.Engine
	channels *channels.Registry
	plugins  *plugins.Registry
	metrics  *observability.Metrics
	auditLog *audit.Logger
	logger   *slog.Logger
	lock     *InstanceLock

	mu          sync.Mutex
	activeRuns  map[string]context.CancelFunc
	toolCallSub *eventbus.Subscription
}

// Deps collects Gateway's constructor dependencies; every field is owned by
// the caller (typically cmd/agw's serve wiring) and handed to Gateway by
// reference.
type Deps struct {
	Repo     storage.Repository
	Bus      *eventbus.Bus
	Policy   *policy.Engine
	Tools    *agent.ToolRegistry
	Engine   *agent.Engine
	Channels *channels.Registry
	Plugins  *plugins.Registry
	Metrics  *observability.Metrics
	AuditLog *audit.Logger
	Logger   *slog.Logger
	Lock     *InstanceLock
}

// New wires a Gateway from its collaborators.
func New(deps Deps, cfg Config) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gw := &Gateway{
		cfg:        cfg.sanitized(),
		repo:       deps.Repo,
		bus:        deps.Bus,
		events:     NewEventSink(deps.Bus, deps.Repo, logger),
		policy:     deps.Policy,
		tools:      deps.Tools,
		engine:     deps.Engine,
		channels:   deps.Channels,
		plugins:    deps.Plugins,
		metrics:    deps.Metrics,
		auditLog:   deps.AuditLog,
		logger:     logger.With("component", "gateway"),
		lock:       deps.Lock,
		activeRuns: make(map[string]context.CancelFunc),
	}
	gw.startAuditSubscriber()
	return gw
}

// Start loads plugins, ensures every registered channel's row exists, then
// starts every lifecycle-capable adapter with IngestInbound wired as the
// inbound callback. The instance lock is expected to already be held by the
// caller (see AcquireInstanceLock) before Start is invoked.
func (g *Gateway) Start(ctx context.Context) error {
	if g.plugins != nil && g.tools != nil {
		for _, err := range g.plugins.LoadAll(g.cfg.PluginDirs, g.tools) {
			g.logger.Warn("plugin load error", "error", err)
		}
	}

	if g.channels != nil {
		for _, adapter := range g.channels.All() {
			ch := models.Channel{ID: string(adapter.Type()), Type: adapter.Type(), Status: models.ChannelOffline}
			if err := g.repo.UpsertChannel(ctx, ch); err != nil {
				g.logger.Error("upsert channel failed", "channel", ch.ID, "error", err)
			}
		}
		if err := g.channels.StartAll(ctx, g.IngestInbound); err != nil {
			g.logger.Error("one or more channel adapters failed to start", "error", err)
		}
	}

	g.logger.Info("gateway started")
	return nil
}

// Stop stops adapters first, then cancels any still-running agent runs and
// waits up to cfg.ShutdownGrace for them to finalize. Runs that don't
// finalize in time are left with their last persisted status.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.toolCallSub != nil {
		g.bus.Unsubscribe(g.toolCallSub)
	}

	if g.channels != nil {
		if err := g.channels.StopAll(ctx); err != nil {
			g.logger.Warn("adapter stop error", "error", err)
		}
	}

	g.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(g.activeRuns))
	for _, cancel := range g.activeRuns {
		cancels = append(cancels, cancel)
	}
	g.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}

	if len(cancels) > 0 {
		deadline := time.NewTimer(g.cfg.ShutdownGrace)
		defer deadline.Stop()
		for {
			g.mu.Lock()
			remaining := len(g.activeRuns)
			g.mu.Unlock()
			if remaining == 0 {
				break
			}
			select {
			case <-deadline.C:
				g.logger.Warn("shutdown grace window elapsed with runs still in flight", "remaining", remaining)
				goto releaseLock
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

releaseLock:
	if g.lock != nil {
		return g.lock.Release()
	}
	return nil
}

// IngestInbound sanitizes msg's text, checks sender admission, and — if
// allowed — upserts the chat and appends the message, emitting
// message.inbound. A denied sender produces a security.blocked event and no
// message.inbound event; the message is dropped.
func (g *Gateway) IngestInbound(ctx context.Context, msg models.Message) {
	sanitized := Sanitize(msg.Text)
	msg.Text = sanitized.Text
	if msg.MsgID == "" {
		msg.MsgID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	isDM, isGroup := classifyConversation(msg)
	allowed, reason := g.policy.AllowSender(msg.ChannelID, msg.SenderID, isDM, isGroup)
	if !allowed {
		g.emitSecurityBlocked(msg.ChannelID, reason)
		g.auditLog.SecurityBlocked(ctx, msg.ChannelID, msg.SenderID, reason)
		if g.metrics != nil {
			g.metrics.PolicyBlocksTotal.WithLabelValues(reason).Inc()
		}
		g.logger.Info("inbound message denied", "channel", msg.ChannelID, "sender", msg.SenderID, "reason", reason)
		return
	}

	chat := models.Chat{ChatID: msg.ChatID, ChannelID: msg.ChannelID}
	if err := g.repo.UpsertChat(ctx, chat); err != nil {
		g.logger.Error("upsert chat failed", "chat_id", msg.ChatID, "error", err)
	}
	if err := g.repo.AddMessage(ctx, msg); err != nil {
		g.logger.Error("add message failed", "chat_id", msg.ChatID, "error", err)
		return
	}

	payload, _ := json.Marshal(map[string]any{"chat_id": msg.ChatID, "channel_id": msg.ChannelID, "sender_id": msg.SenderID})
	g.publish(models.Event{Type: models.EventMessageInbound, Payload: payload})
}

// classifyConversation reads the "conversation_type" metadata key an adapter
// is expected to set ("dm" or "group"); absent metadata means neither flag
// is set, so only allowlist/rate-limit admission applies.
func classifyConversation(msg models.Message) (isDM, isGroup bool) {
	switch msg.Metadata["conversation_type"] {
	case "dm":
		return true, false
	case "group":
		return false, true
	default:
		return false, false
	}
}

// StartRun creates a queued AgentRun, persists it, assembles the bounded
// conversation history, and launches the engine as an independent
// background task tracked by run id. It returns immediately with the
// queued run; callers that want the terminal state should subscribe to the
// EventBus or poll GetRun.
func (g *Gateway) StartRun(ctx context.Context, chatID, channelID, requestedBy, prompt string) (models.AgentRun, error) {
	run := models.AgentRun{
		RunID:       uuid.NewString(),
		ChatID:      chatID,
		ChannelID:   channelID,
		RequestedBy: requestedBy,
		Status:      models.RunQueued,
	}
	if err := g.repo.UpsertRun(ctx, run); err != nil {
		return models.AgentRun{}, fmt.Errorf("persist queued run: %w", err)
	}

	history, err := g.assembleHistory(ctx, chatID, prompt)
	if err != nil {
		return models.AgentRun{}, fmt.Errorf("assemble history: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.activeRuns[run.RunID] = cancel
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.ActiveRuns.Inc()
	}

	go func() {
		defer cancel()
		defer func() {
			g.mu.Lock()
			delete(g.activeRuns, run.RunID)
			g.mu.Unlock()
			if g.metrics != nil {
				g.metrics.ActiveRuns.Dec()
			}
		}()

		final := g.engine.Run(runCtx, run, history)

		if err := g.repo.UpsertRun(context.Background(), final); err != nil {
			g.logger.Error("persist final run failed", "run_id", final.RunID, "error", err)
		}
		g.auditLog.RunCompleted(context.Background(), final.RunID, string(final.Status), final.Summary)
		if g.metrics != nil {
			g.metrics.RunsTotal.WithLabelValues(string(final.Status)).Inc()
			if final.StartedAt != nil && final.FinishedAt != nil {
				g.metrics.RunDuration.Observe(final.FinishedAt.Sub(*final.StartedAt).Seconds())
			}
			g.metrics.RunStepsExecuted.Observe(float64(final.StepsExecuted))
		}
	}()

	return run, nil
}

// assembleHistory returns the last cfg.MaxContextMessages messages for
// chatID, chronological, followed by prompt as the final user turn.
func (g *Gateway) assembleHistory(ctx context.Context, chatID, prompt string) ([]agent.Turn, error) {
	msgs, err := g.repo.ListMessages(ctx, chatID, g.cfg.MaxContextMessages)
	if err != nil {
		return nil, err
	}
	turns := make([]agent.Turn, 0, len(msgs)+1)
	for _, m := range msgs {
		turns = append(turns, agent.Turn{Role: "user", Content: m.Text})
	}
	turns = append(turns, agent.Turn{Role: "user", Content: prompt})
	return turns, nil
}

// GrantApproval wakes a run parked in wait_approval.
func (g *Gateway) GrantApproval(runID string) bool {
	return g.engine.GrantApproval(runID)
}

// ListChannels, ListChats, ListMessages, GetRun, and TailEvents are
// read-only passthroughs to the Repository for the control plane and CLI.
func (g *Gateway) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return g.repo.ListChannels(ctx)
}

func (g *Gateway) ListChats(ctx context.Context, channelID string) ([]models.Chat, error) {
	return g.repo.ListChats(ctx, channelID)
}

func (g *Gateway) ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	return g.repo.ListMessages(ctx, chatID, limit)
}

func (g *Gateway) GetRun(ctx context.Context, runID string) (models.AgentRun, bool, error) {
	return g.repo.GetRun(ctx, runID)
}

func (g *Gateway) TailEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]models.Event, error) {
	return g.repo.TailEvents(ctx, runID, afterSeq, limit)
}

// Subscribe and Unsubscribe expose the EventBus to the control plane.
func (g *Gateway) Subscribe() *eventbus.Subscription     { return g.bus.Subscribe() }
func (g *Gateway) Unsubscribe(sub *eventbus.Subscription) { g.bus.Unsubscribe(sub) }

// Policy returns the currently active policy document.
func (g *Gateway) Policy() *models.Policy { return g.policy.Policy() }

// SetPolicy atomically replaces the active policy document (config.set).
func (g *Gateway) SetPolicy(p *models.Policy) { g.policy.SetPolicy(p) }

// DoctorAudit runs the configuration/health audit. When the caller leaves
// the instance-lock fields unset, they are filled from the lock this
// Gateway holds.
func (g *Gateway) DoctorAudit(opts doctor.Options) *doctor.Report {
	if !opts.InstanceLockHeld && g.lock != nil {
		opts.InstanceLockHeld = true
		opts.InstanceLockAge = time.Since(g.lock.AcquiredAt)
	}
	return doctor.Audit(opts)
}

func (g *Gateway) emitSecurityBlocked(channelID, reason string) {
	payload, _ := json.Marshal(map[string]any{"channel_id": channelID, "reason": reason})
	g.publish(models.Event{Type: models.EventSecurityBlocked, Payload: payload})
}

// publish persists evt and fans it out via EventSink — persist always comes
// before fan-out so a control-plane subscriber can never observe an event the
// Repository doesn't have yet.
func (g *Gateway) publish(evt models.Event) {
	if g.events == nil {
		return
	}
	g.events.Publish(evt)
}

// startAuditSubscriber reads the bus for run.tool_call events and forwards
// them to the audit log. The engine has no audit-log dependency of its own,
// so tool-call auditing is sourced from the same event stream every
// control-plane connection sees rather than a direct call from Engine.
func (g *Gateway) startAuditSubscriber() {
	if g.bus == nil || g.auditLog == nil {
		return
	}
	g.toolCallSub = g.bus.Subscribe()
	go func() {
		for evt := range g.toolCallSub.Events() {
			if evt.Type != models.EventRunToolCall {
				continue
			}
			var payload struct {
				Tool             string `json:"tool"`
				ApprovalRequired bool   `json:"approval_required"`
			}
			if err := json.Unmarshal(evt.Payload, &payload); err != nil {
				g.logger.Warn("failed to decode tool_call payload for audit", "error", err)
				continue
			}
			g.auditLog.ToolCall(context.Background(), evt.RunID, payload.Tool, payload.ApprovalRequired)
		}
	}()
}
