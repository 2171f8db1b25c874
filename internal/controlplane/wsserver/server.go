// Package wsserver implements the control-plane WebSocket protocol: one
// long-lived connection per client, carrying request/response frames for
// on-demand operations (channels.list, agent.run, approval.grant, ...) and
// event frames streaming the EventBus live. Grounded on the teacher's
// internal/gateway/ws_control_plane.go: a per-connection session with
// separate read/write loops joined by a buffered send channel, and a single
// upgrader shared across connections.
package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agw/gateway/internal/auth"
	"github.com/agw/gateway/internal/controlplane/wsschema"
	"github.com/agw/gateway/internal/doctor"
	"github.com/agw/gateway/internal/eventbus"
	"github.com/agw/gateway/internal/gateway"
	"github.com/agw/gateway/internal/models"
)

const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = 20 * time.Second
	sendBufferSize  = 256
)

// Frame is the wire envelope for every direction of traffic on the
// connection: a client request ("req"), a server response ("res"), or a
// server-pushed event ("evt").
type Frame struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	TS      int64            `json:"ts,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	OK      *bool            `json:"ok,omitempty"`
	Err     *FrameError      `json:"err,omitempty"`
	Event   models.EventType `json:"event,omitempty"`
	Seq     int64            `json:"seq,omitempty"`
}

// FrameError carries a structured error code alongside a human message.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeBadJSON      = "bad_json"
	CodeBadRequest   = "bad_request"
	CodeNoSuchMethod = "no_such_method"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

// Server hosts the /ws endpoint plus the /healthz and /metrics HTTP
// surfaces, dispatching every request frame to the Gateway it wraps.
type Server struct {
	gw        *gateway.Gateway
	auth      *auth.Service
	logger    *slog.Logger
	version   string
	startedAt time.Time
	upgrader  websocket.Upgrader
	metrics   http.Handler
}

// Options configures a Server.
type Options struct {
	Auth           *auth.Service
	Logger         *slog.Logger
	Version        string
	MetricsHandler http.Handler
}

// New builds a Server wrapping gw.
func New(gw *gateway.Gateway, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		gw:        gw,
		auth:      opts.Auth,
		logger:    logger.With("component", "wsserver"),
		version:   version,
		startedAt: time.Now(),
		metrics:   opts.MetricsHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns an http.Handler routing wsPath to the WebSocket upgrade,
// healthPath to a liveness probe, and metricsPath (if a MetricsHandler was
// supplied) to the Prometheus exposition endpoint.
func (s *Server) Handler(wsPath, healthPath, metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.serveWS)
	mux.HandleFunc(healthPath, s.serveHealth)
	if s.metrics != nil && metricsPath != "" {
		mux.Handle(metricsPath, s.metrics)
	}
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":       true,
		"version":  s.version,
		"uptime_s": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) authenticate(r *http.Request) error {
	if s.auth == nil || !s.auth.Enabled() {
		return nil
	}
	credential := r.Header.Get("X-API-Key")
	if credential == "" {
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			credential = strings.TrimSpace(authz[len("Bearer "):])
		}
	}
	if _, err := s.auth.Authenticate(credential); err != nil {
		return err
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := s.authenticate(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	sess.run()
}

// session is one connected control-plane client.
type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	// runFilter, when non-empty, narrows the live event stream (via
	// runs.tail) to events carrying a matching RunID. Empty means "all
	// events" — the default subscription scope. Each runs.tail replaces the
	// filter (a null run_id clears it), so only one run id is followed at a
	// time.
	runFilter atomic.Value // string
}

func (s *session) run() {
	defer s.close()
	sub := s.server.gw.Subscribe()
	defer s.server.gw.Unsubscribe(sub)

	go s.pumpEvents(sub)
	go s.writeLoop()
	s.readLoop()
}

func (s *session) close() {
	s.cancel()
	close(s.send)
	_ = s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendErr("", CodeBadJSON, err.Error())
			continue
		}
		if frame.Type == "" {
			frame.Type = "req"
		}
		if frame.Type != "req" {
			s.sendErr(frame.ID, CodeBadRequest, fmt.Sprintf("unsupported frame type %q", frame.Type))
			continue
		}

		s.handleRequest(frame)
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pumpEvents forwards every EventBus event matching the session's current
// run filter as an "evt" frame, until the subscription or connection closes.
func (s *session) pumpEvents(sub *eventbus.Subscription) {
	for evt := range sub.Events() {
		if filter, _ := s.runFilter.Load().(string); filter != "" && evt.RunID != filter {
			continue
		}
		s.enqueue(Frame{
			Type:    "evt",
			TS:      time.Now().UnixMilli(),
			Event:   evt.Type,
			Payload: evt.Payload,
			Seq:     evt.Seq,
		})
	}
}

func (s *session) handleRequest(frame Frame) {
	if err := wsschema.ValidatePayload(frame.Method, frame.Payload); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}

	switch frame.Method {
	case "hello":
		s.respond(frame.ID, map[string]any{
			"server_version": s.server.version,
			"methods":        supportedMethods(),
			"events":         supportedEvents(),
		})
	case "channels.list":
		s.handleChannelsList(frame)
	case "chat.list":
		s.handleChatList(frame)
	case "chat.messages":
		s.handleChatMessages(frame)
	case "agent.run":
		s.handleAgentRun(frame)
	case "runs.tail":
		s.handleRunsTail(frame)
	case "config.get":
		s.handleConfigGet(frame)
	case "config.set":
		s.handleConfigSet(frame)
	case "doctor.audit":
		s.handleDoctorAudit(frame)
	case "approval.grant":
		s.handleApprovalGrant(frame)
	default:
		s.sendErr(frame.ID, CodeNoSuchMethod, fmt.Sprintf("unknown method %q", frame.Method))
	}
}

func (s *session) handleChannelsList(frame Frame) {
	channels, err := s.server.gw.ListChannels(s.ctx)
	if err != nil {
		s.sendErr(frame.ID, CodeInternal, err.Error())
		return
	}
	s.respond(frame.ID, map[string]any{"channels": channels})
}

func (s *session) handleChatList(frame Frame) {
	var params struct {
		ChannelID string `json:"channel_id"`
	}
	if err := unmarshalParams(frame.Payload, &params); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}
	chats, err := s.server.gw.ListChats(s.ctx, params.ChannelID)
	if err != nil {
		s.sendErr(frame.ID, CodeInternal, err.Error())
		return
	}
	s.respond(frame.ID, map[string]any{"chats": chats})
}

func (s *session) handleChatMessages(frame Frame) {
	var params struct {
		ChatID string `json:"chat_id"`
		Limit  int    `json:"limit"`
	}
	if err := unmarshalParams(frame.Payload, &params); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}
	if params.ChatID == "" {
		s.sendErr(frame.ID, CodeBadRequest, "chat_id is required")
		return
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.server.gw.ListMessages(s.ctx, params.ChatID, limit)
	if err != nil {
		s.sendErr(frame.ID, CodeInternal, err.Error())
		return
	}
	s.respond(frame.ID, map[string]any{"messages": msgs})
}

func (s *session) handleAgentRun(frame Frame) {
	var params struct {
		ChatID      string `json:"chat_id"`
		ChannelID   string `json:"channel_id"`
		RequestedBy string `json:"requested_by"`
		Prompt      string `json:"prompt"`
	}
	if err := unmarshalParams(frame.Payload, &params); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}
	if params.ChatID == "" || params.ChannelID == "" || params.Prompt == "" {
		s.sendErr(frame.ID, CodeBadRequest, "chat_id, channel_id, and prompt are required")
		return
	}
	run, err := s.server.gw.StartRun(s.ctx, params.ChatID, params.ChannelID, params.RequestedBy, params.Prompt)
	if err != nil {
		s.sendErr(frame.ID, CodeInternal, err.Error())
		return
	}
	s.respond(frame.ID, map[string]any{"run": run})
}

func (s *session) handleRunsTail(frame Frame) {
	var params struct {
		RunID    *string `json:"run_id"`
		AfterSeq int64   `json:"after_seq"`
		Limit    int     `json:"limit"`
	}
	if err := unmarshalParams(frame.Payload, &params); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}

	runID := ""
	if params.RunID != nil {
		runID = *params.RunID
	}
	s.runFilter.Store(runID)

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	events, err := s.server.gw.TailEvents(s.ctx, runID, params.AfterSeq, limit)
	if err != nil {
		s.sendErr(frame.ID, CodeInternal, err.Error())
		return
	}
	s.respond(frame.ID, map[string]any{"events": events, "subscribed_run_id": runID})
}

func (s *session) handleConfigGet(frame Frame) {
	s.respond(frame.ID, s.server.gw.Policy())
}

func (s *session) handleConfigSet(frame Frame) {
	current := s.server.gw.Policy().Clone()
	if current == nil {
		current = models.DefaultPolicy()
	}

	var params struct {
		Allowlist                     *map[string][]string              `json:"allowlist"`
		DMPolicy                      *models.ConversationPolicy        `json:"dm_policy"`
		GroupPolicy                   *models.ConversationPolicy        `json:"group_policy"`
		ToolAllow                     *map[string]models.ToolPermission `json:"tool_allow"`
		RequireApprovalsForWriteTools *bool                             `json:"require_approvals_for_write_tools"`
		RateLimitRPS                  *float64                          `json:"rate_limit_rps"`
		RateLimitBurst                *int                              `json:"rate_limit_burst"`
	}
	if err := unmarshalParams(frame.Payload, &params); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}

	if params.Allowlist != nil {
		current.Allowlist = *params.Allowlist
	}
	if params.DMPolicy != nil {
		current.DMPolicy = *params.DMPolicy
	}
	if params.GroupPolicy != nil {
		current.GroupPolicy = *params.GroupPolicy
	}
	if params.ToolAllow != nil {
		current.ToolAllow = *params.ToolAllow
	}
	if params.RequireApprovalsForWriteTools != nil {
		current.RequireApprovalsForWriteTools = *params.RequireApprovalsForWriteTools
	}
	if params.RateLimitRPS != nil {
		current.RateLimitRPS = *params.RateLimitRPS
	}
	if params.RateLimitBurst != nil {
		current.RateLimitBurst = *params.RateLimitBurst
	}

	s.server.gw.SetPolicy(current)
	s.respond(frame.ID, current)
}

func (s *session) handleDoctorAudit(frame Frame) {
	report := s.server.gw.DoctorAudit(doctor.Options{Policy: s.server.gw.Policy()})
	s.respond(frame.ID, report)
}

func (s *session) handleApprovalGrant(frame Frame) {
	var params struct {
		RunID string `json:"run_id"`
	}
	if err := unmarshalParams(frame.Payload, &params); err != nil {
		s.sendErr(frame.ID, CodeBadRequest, err.Error())
		return
	}
	if params.RunID == "" {
		s.sendErr(frame.ID, CodeBadRequest, "run_id is required")
		return
	}
	granted := s.server.gw.GrantApproval(params.RunID)
	s.respond(frame.ID, map[string]any{"granted": granted})
}

func (s *session) respond(id string, payload any) {
	ok := true
	data, err := json.Marshal(payload)
	if err != nil {
		s.sendErr(id, CodeInternal, err.Error())
		return
	}
	s.enqueue(Frame{Type: "res", ID: id, TS: time.Now().UnixMilli(), OK: &ok, Payload: data})
}

func (s *session) sendErr(id, code, message string) {
	ok := false
	s.enqueue(Frame{Type: "res", ID: id, TS: time.Now().UnixMilli(), OK: &ok, Err: &FrameError{Code: code, Message: message}})
}

func (s *session) enqueue(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.server.logger.Error("marshal frame failed", "error", err)
		return
	}
	select {
	case s.send <- data:
	default:
		s.server.logger.Warn("send buffer full, dropping frame", "type", frame.Type)
	}
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func supportedMethods() []string {
	return []string{
		"hello", "channels.list", "chat.list", "chat.messages",
		"agent.run", "runs.tail", "config.get", "config.set",
		"doctor.audit", "approval.grant",
	}
}

func supportedEvents() []string {
	return []string{
		string(models.EventRunProgress), string(models.EventRunToolCall),
		string(models.EventRunOutput), string(models.EventRunCompleted),
		string(models.EventSecurityBlocked), string(models.EventMessageInbound),
	}
}
