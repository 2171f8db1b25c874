// Package models defines the core data types shared across the gateway:
// channels, chats, messages, agent runs, events, tool specs, and policy.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies a supported chat transport.
type ChannelType string

const (
	ChannelWebchat ChannelType = "webchat"
	ChannelTelegram ChannelType = "telegram"
	ChannelWhatsAppBusiness ChannelType = "whatsapp_business"
	ChannelSlack ChannelType = "slack"
	ChannelDiscord ChannelType = "discord"
)

// ChannelStatus reflects channel adapter health, mutated by adapter heartbeats.
type ChannelStatus string

const (
	ChannelOffline     ChannelStatus = "offline"
	ChannelReady       ChannelStatus = "ready"
	ChannelError       ChannelStatus = "error"
	ChannelRateLimited ChannelStatus = "rate_limited"
)

// Channel is a configured chat transport and its last known status.
type Channel struct {
	ID       string            `json:"id" yaml:"id"`
	Type     ChannelType       `json:"type" yaml:"type"`
	Status   ChannelStatus     `json:"status" yaml:"-"`
	Config   map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	LastSeen *time.Time        `json:"last_seen,omitempty" yaml:"-"`
}

// Chat is a conversation thread on a channel, created lazily on first inbound message.
type Chat struct {
	ChatID       string            `json:"chat_id"`
	ChannelID    string            `json:"channel_id"`
	Participants []string          `json:"participants,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Message is a single append-only turn in a chat.
type Message struct {
	MsgID       string            `json:"msg_id"`
	ChatID      string            `json:"chat_id"`
	ChannelID   string            `json:"channel_id"`
	SenderID    string            `json:"sender_id"`
	Text        string            `json:"text"`
	Timestamp   time.Time         `json:"timestamp"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Attachment is a reference to inbound/outbound media.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// RunStatus is the terminal/non-terminal state of an AgentRun.
type RunStatus string

const (
	RunQueued          RunStatus = "queued"
	RunRunning         RunStatus = "running"
	RunApprovalPending RunStatus = "approval_pending"
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
	RunTimeout         RunStatus = "timeout"
	RunCancelled       RunStatus = "cancelled"
)

// AgentRun tracks one agent task instance from a user prompt to a terminal status.
// Only AgentEngine mutates an in-flight AgentRun; Gateway persists it at creation
// and again at terminal state.
type AgentRun struct {
	RunID        string     `json:"run_id"`
	ChatID       string     `json:"chat_id"`
	ChannelID    string     `json:"channel_id"`
	RequestedBy  string     `json:"requested_by"`
	Status       RunStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	StepsExecuted int       `json:"steps_executed"`
	ToolsCalled  []string   `json:"tools_called,omitempty"`
	OutputText   string     `json:"output_text,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// EventType enumerates the event kinds emitted on the EventBus.
type EventType string

const (
	EventRunProgress     EventType = "run.progress"
	EventRunToolCall      EventType = "run.tool_call"
	EventRunOutput        EventType = "run.output"
	EventRunCompleted     EventType = "run.completed"
	EventSecurityBlocked  EventType = "security.blocked"
	EventMessageInbound   EventType = "message.inbound"
)

// Event is an append-only, strictly-ordered record of system activity.
// Seq is minted under a mutex by the EventBus and is unique and gapless
// within a single process lifetime.
type Event struct {
	RunID   string          `json:"run_id,omitempty"`
	Seq     int64           `json:"seq"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      time.Time       `json:"ts"`
}

// ToolPermission classifies the blast radius of a tool invocation.
type ToolPermission string

const (
	PermissionRead  ToolPermission = "read"
	PermissionWrite ToolPermission = "write"
)

// ToolSpec describes a registered tool's contract to the planner and policy engine.
// Names are dotted ("namespace.op") and must be unique within a ToolRegistry.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Permission  ToolPermission `json:"permission"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// DMPolicy / GroupPolicy modes for the PolicyEngine.
type ConversationPolicy string

const (
	PolicyAllow         ConversationPolicy = "allow"
	PolicyDeny           ConversationPolicy = "deny"
	PolicyAllowlistOnly  ConversationPolicy = "allowlist_only"
)

// Policy is the mutable, deny-by-default admission configuration for senders and tools.
type Policy struct {
	Allowlist                    map[string][]string           `json:"allowlist" yaml:"allowlist"`
	DMPolicy                     ConversationPolicy             `json:"dm_policy" yaml:"dm_policy"`
	GroupPolicy                  ConversationPolicy             `json:"group_policy" yaml:"group_policy"`
	ToolAllow                    map[string]ToolPermission      `json:"tool_allow" yaml:"tool_allow"`
	RequireApprovalsForWriteTools bool                          `json:"require_approvals_for_write_tools" yaml:"require_approvals_for_write_tools"`
	RateLimitRPS                 float64                        `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst                int                           `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// Clone returns a deep copy of the Policy so config.set can swap it in atomically
// without aliasing the caller's maps.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := &Policy{
		DMPolicy:                      p.DMPolicy,
		GroupPolicy:                   p.GroupPolicy,
		RequireApprovalsForWriteTools: p.RequireApprovalsForWriteTools,
		RateLimitRPS:                  p.RateLimitRPS,
		RateLimitBurst:                p.RateLimitBurst,
	}
	if p.Allowlist != nil {
		out.Allowlist = make(map[string][]string, len(p.Allowlist))
		for k, v := range p.Allowlist {
			out.Allowlist[k] = append([]string(nil), v...)
		}
	}
	if p.ToolAllow != nil {
		out.ToolAllow = make(map[string]ToolPermission, len(p.ToolAllow))
		for k, v := range p.ToolAllow {
			out.ToolAllow[k] = v
		}
	}
	return out
}

// DefaultPolicy is deny-by-default: empty allowlists and tool_allow forbid everything.
func DefaultPolicy() *Policy {
	return &Policy{
		Allowlist:   map[string][]string{},
		DMPolicy:    PolicyDeny,
		GroupPolicy: PolicyDeny,
		ToolAllow:   map[string]ToolPermission{},
	}
}

// User is a minimal identity record backing control-plane authentication.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// PluginRecord is the PluginRegistry's bookkeeping of what a loaded plugin contributed.
type PluginRecord struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Status   string   `json:"status"` // loaded | failed
	Error    string   `json:"error,omitempty"`
	Tools    []string `json:"tools,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Hooks    []string `json:"hooks,omitempty"`
}
