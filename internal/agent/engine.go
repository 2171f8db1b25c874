// Package agent implements the per-run state machine: a bounded
// plan -> policy-check -> (approval) -> tool-execute -> decide cycle that
// emits structured events at every transition and never panics across its
// own boundary — failures are folded into state-machine routing via
// blocked_reason instead.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/policy"
)

// EventPublisher is the sink an Engine reports every transition onto.
// *eventbus.Bus satisfies it directly (no persistence); production wiring
// passes a persisting sink instead so run-scoped events land in the
// Repository before any subscriber can observe them.
type EventPublisher interface {
	Publish(evt models.Event) models.Event
}

// EngineConfig bounds a run's steps and wall-clock budget.
type EngineConfig struct {
	MaxSteps int
	TimeoutS time.Duration
	// RunRetry bounds how many times the plan step is retried in place when
	// blocked by planning_timeout/planning_error. Zero disables retry.
	RunRetry int
}

func (c EngineConfig) sanitized() EngineConfig {
	out := c
	if out.MaxSteps <= 0 {
		out.MaxSteps = 10
	}
	if out.TimeoutS <= 0 {
		out.TimeoutS = 60 * time.Second
	}
	if out.RunRetry < 0 {
		out.RunRetry = 0
	}
	return out
}

// Engine is the AgentEngine: it drives one run at a time through Run, calling
// out to the Planner, the ToolRegistry, the PolicyEngine, and the
// ApprovalBroker, and emitting every transition onto the EventBus.
type Engine struct {
	tools     *ToolRegistry
	policy    *policy.Engine
	events    EventPublisher
	approvals *ApprovalBroker
	planner   Planner
	logger    *slog.Logger
	cfg       EngineConfig
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(tools *ToolRegistry, pol *policy.Engine, events EventPublisher, approvals *ApprovalBroker, planner Planner, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tools:     tools,
		policy:    pol,
		events:    events,
		approvals: approvals,
		planner:   planner,
		logger:    logger.With("component", "agent_engine"),
		cfg:       cfg.sanitized(),
	}
}

// GrantApproval wakes a run parked in wait_approval. Returns false if no run
// with that id is currently waiting (already timed out, already granted, or
// never requested approval).
func (e *Engine) GrantApproval(runID string) bool {
	return e.approvals.Grant(runID)
}

// runState is the per-run state object carried through the state machine.
type runState struct {
	runID, chatID, channelID, requestedBy string
	messages                              []Turn
	step                                  int
	toolRequest                           *ToolCallRequest
	toolResult                            map[string]any
	outputChunks                          []string
	toolsCalled                           []string
	needsApproval                         bool
	blockedReason                         string
	done                                  bool
	maxSteps                              int
	planRetries                           int
	panicked                              string
}

// Run drives run through build_context -> plan -> ... -> finalize under a
// single global timeout, then persists the terminal fields onto run and
// returns it. Run is the sole emitter of the terminal run.completed event.
func (e *Engine) Run(ctx context.Context, run models.AgentRun, history []Turn) models.AgentRun {
	started := time.Now()
	run.StartedAt = &started
	run.Status = models.RunRunning
	e.emit(run.RunID, models.EventRunProgress, map[string]any{"status": "started", "engine": "agent"})

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.TimeoutS)
	defer cancel()

	st := &runState{
		runID:       run.RunID,
		chatID:      run.ChatID,
		channelID:   run.ChannelID,
		requestedBy: run.RequestedBy,
		messages:    append([]Turn(nil), history...),
		maxSteps:    e.cfg.MaxSteps,
	}

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		defer func() {
			if r := recover(); r != nil {
				st.panicked = fmt.Sprintf("%v", r)
			}
		}()
		e.runGraph(runCtx, st)
	}()

	select {
	case <-doneCh:
	case <-runCtx.Done():
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
		}
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.StepsExecuted = st.step
	run.ToolsCalled = st.toolsCalled
	run.OutputText = strings.Join(st.outputChunks, "\n")

	switch {
	case st.panicked != "":
		run.Status = models.RunFailed
		run.Summary = "Failed: " + st.panicked
		run.Error = st.panicked
		e.emitCompleted(run, "error")
	case !st.done:
		run.Status = models.RunFailed
		run.Summary = "Timeout"
		e.emitCompleted(run, "timeout")
	case st.blockedReason == "approval_timeout":
		run.Status = models.RunFailed
		run.Summary = "Completed with issues: approval_timeout"
		e.emitCompleted(run, "timeout")
	case st.blockedReason != "":
		run.Status = models.RunCompleted
		run.Summary = "Completed with issues: " + st.blockedReason
		e.emitCompleted(run, "")
	default:
		run.Status = models.RunCompleted
		run.Summary = "Completed successfully"
		e.emitCompleted(run, "")
	}
	return run
}

// runGraph walks the run's node graph until it reaches finalize.
func (e *Engine) runGraph(ctx context.Context, st *runState) {
	node := "build_context"
	for node != "finalize" {
		switch node {
		case "build_context":
			node = e.nodeBuildContext(st)
		case "plan":
			node = e.nodePlan(ctx, st)
		case "policy_check":
			node = e.nodePolicyCheck(st)
		case "wait_approval":
			node = e.nodeWaitApproval(ctx, st)
		case "execute_tool":
			node = e.nodeExecuteTool(ctx, st)
		case "decide_next":
			node = e.nodeDecideNext(st)
		case "ask_clarification":
			node = e.nodeAskClarification(st)
		default:
			e.logger.Error("unknown state machine node", "node", node, "run_id", st.runID)
			return
		}
	}
	e.logger.Debug("run finalize", "run_id", st.runID, "steps", st.step)
}

func (e *Engine) nodeBuildContext(st *runState) string {
	e.emit(st.runID, models.EventRunProgress, map[string]any{"node": "build_context", "phase": "start"})
	e.emit(st.runID, models.EventRunProgress, map[string]any{"node": "build_context", "phase": "end"})
	return "plan"
}

func (e *Engine) nodePlan(ctx context.Context, st *runState) string {
	tools := e.tools.ListSpecs()
	result, err := e.planner.Plan(ctx, st.messages, tools)
	if err != nil {
		if ctx.Err() != nil {
			st.blockedReason = "planning_timeout"
		} else {
			st.blockedReason = "planning_error:" + classifyError(err)
		}
		if e.cfg.RunRetry > 0 && st.planRetries < e.cfg.RunRetry {
			st.planRetries++
			st.blockedReason = ""
			return "plan"
		}
		return "decide_next"
	}

	if len(result.ToolCalls) > 0 {
		tc := result.ToolCalls[0]
		st.toolRequest = &tc
		return "policy_check"
	}
	if result.Content != "" {
		st.outputChunks = append(st.outputChunks, result.Content)
	}
	return "decide_next"
}

func (e *Engine) nodePolicyCheck(st *runState) string {
	spec, _, ok := e.tools.Get(st.toolRequest.Name)
	if !ok {
		e.emitSecurityBlocked(st.runID, "tool_missing")
		st.blockedReason = "tool_missing"
		st.toolRequest = nil
		return "decide_next"
	}

	allowed, reason, needsApproval := e.policy.AllowTool(spec)
	if !allowed {
		e.emitSecurityBlocked(st.runID, reason)
		st.blockedReason = reason
		st.toolRequest = nil
		return "decide_next"
	}
	if needsApproval {
		st.needsApproval = true
		return "wait_approval"
	}
	return "execute_tool"
}

func (e *Engine) nodeWaitApproval(ctx context.Context, st *runState) string {
	sig := e.approvals.Register(st.runID, PendingApproval{
		ToolName:    st.toolRequest.Name,
		ToolArgs:    st.toolRequest.Args,
		RequestedAt: time.Now(),
	})
	defer e.approvals.Deregister(st.runID)

	e.emit(st.runID, models.EventRunToolCall, map[string]any{
		"tool": st.toolRequest.Name, "args": st.toolRequest.Args, "approval_required": true,
	})
	e.emit(st.runID, models.EventRunProgress, map[string]any{"node": "wait_approval"})

	select {
	case <-sig:
		st.needsApproval = false
		return "execute_tool"
	case <-ctx.Done():
		e.emitSecurityBlocked(st.runID, "approval_timeout")
		st.done = true
		st.blockedReason = "approval_timeout"
		st.toolRequest = nil
		return "finalize"
	}
}

func (e *Engine) nodeExecuteTool(ctx context.Context, st *runState) string {
	tc := st.toolRequest
	e.emit(st.runID, models.EventRunToolCall, map[string]any{
		"tool": tc.Name, "args": tc.Args, "approval_required": false,
	})

	_, handler, ok := e.tools.Get(tc.Name)
	if !ok {
		st.blockedReason = "tool_missing"
		st.toolRequest = nil
		return "decide_next"
	}

	type outcome struct {
		out map[string]any
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := handler(ctx, tc.Args)
		resCh <- outcome{out: out, err: err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			st.blockedReason = "tool_error:" + classifyError(r.err)
		} else {
			st.toolResult = r.out
			st.toolsCalled = append(st.toolsCalled, tc.Name)
			st.messages = append(st.messages, Turn{
				Role:    "tool",
				Content: fmt.Sprintf("%s -> %v", tc.Name, r.out),
			})
		}
	case <-ctx.Done():
		st.blockedReason = "tool_timeout"
	}
	st.toolRequest = nil
	return "decide_next"
}

func (e *Engine) nodeDecideNext(st *runState) string {
	if len(st.outputChunks) > 0 {
		e.emit(st.runID, models.EventRunOutput, map[string]any{"text": strings.Join(st.outputChunks, "\n")})
		st.done = true
		return "finalize"
	}
	if st.blockedReason != "" {
		return "ask_clarification"
	}
	if st.step >= st.maxSteps {
		st.outputChunks = append(st.outputChunks, "max steps reached")
		e.emit(st.runID, models.EventRunOutput, map[string]any{"text": strings.Join(st.outputChunks, "\n")})
		st.done = true
		return "finalize"
	}
	st.step++
	return "plan"
}

func (e *Engine) nodeAskClarification(st *runState) string {
	clarification := fmt.Sprintf(
		"I couldn't complete that request (%s). Could you rephrase or provide more detail?",
		st.blockedReason,
	)
	st.outputChunks = append(st.outputChunks, clarification)
	e.emit(st.runID, models.EventRunOutput, map[string]any{"text": clarification})
	st.done = true
	return "finalize"
}

func (e *Engine) emit(runID string, t models.EventType, payload map[string]any) {
	if e.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("failed to marshal event payload", "error", err, "type", t)
		data = nil
	}
	e.events.Publish(models.Event{RunID: runID, Type: t, Payload: data, TS: time.Now()})
}

func (e *Engine) emitSecurityBlocked(runID, reason string) {
	e.emit(runID, models.EventSecurityBlocked, map[string]any{"reason": reason})
}

func (e *Engine) emitCompleted(run models.AgentRun, reason string) {
	payload := map[string]any{
		"status":  string(run.Status),
		"summary": run.Summary,
		"output":  run.OutputText,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	e.emit(run.RunID, models.EventRunCompleted, payload)
}

// classifyError returns a short, stable kind string for blocked_reason
// suffixes (e.g. "planning_error:timeout").
func classifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}
