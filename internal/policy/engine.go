// Package policy implements the deny-by-default admission engine that gates
// which senders may talk to the gateway and which tools an agent run may
// invoke, via a single allowlist/deny-mode Policy document covering both
// per-channel sender admission and per-tool permission checks.
package policy

import (
	"fmt"
	"sync"

	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/ratelimit"
)

// Reason codes returned alongside allow/deny decisions. Callers should treat
// these as stable identifiers for audit logs and security.blocked events.
const (
	ReasonOK                  = "ok"
	ReasonSenderNotAllowlisted = "sender_not_allowlisted"
	ReasonDMBlocked            = "dm_blocked"
	ReasonGroupBlocked         = "group_blocked"
	ReasonRateLimited          = "rate_limited"
	ReasonToolNotAllowed       = "tool_not_allowed"
)

// Engine is the process-wide, thread-safe PolicyEngine. Its Policy document
// is swapped atomically by config.set; in-flight admission checks always see
// either the old or the new document in full, never a half-applied mix.
type Engine struct {
	mu      sync.RWMutex
	policy  *models.Policy
	limiter *ratelimit.Limiter
}

// New constructs an Engine. A nil policy is replaced with DefaultPolicy,
// preserving deny-by-default.
func New(p *models.Policy) *Engine {
	if p == nil {
		p = models.DefaultPolicy()
	}
	rps := p.RateLimitRPS
	burst := p.RateLimitBurst
	if rps <= 0 {
		rps = ratelimit.DefaultConfig().RequestsPerSecond
	}
	if burst <= 0 {
		burst = ratelimit.DefaultConfig().BurstSize
	}
	return &Engine{
		policy:  p.Clone(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: rps, BurstSize: burst}),
	}
}

// Policy returns a defensive copy of the currently active policy document.
func (e *Engine) Policy() *models.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Clone()
}

// SetPolicy atomically replaces the active policy. Idempotent: setting the
// same document twice leaves the engine's observable state bit-identical.
func (e *Engine) SetPolicy(p *models.Policy) {
	if p == nil {
		p = models.DefaultPolicy()
	}
	clone := p.Clone()
	e.mu.Lock()
	e.policy = clone
	rps := clone.RateLimitRPS
	burst := clone.RateLimitBurst
	if rps <= 0 {
		rps = ratelimit.DefaultConfig().RequestsPerSecond
	}
	if burst <= 0 {
		burst = ratelimit.DefaultConfig().BurstSize
	}
	e.limiter.SetConfig(ratelimit.Config{RequestsPerSecond: rps, BurstSize: burst})
	e.mu.Unlock()
}

// AllowSender checks, in order: allowlist membership, DM policy, group
// policy, then rate limiting.
func (e *Engine) AllowSender(channelID, senderID string, isDM, isGroup bool) (bool, string) {
	e.mu.RLock()
	p := e.policy
	e.mu.RUnlock()

	if !senderAllowlisted(p, channelID, senderID) {
		return false, ReasonSenderNotAllowlisted
	}
	if isDM && p.DMPolicy != models.PolicyAllow {
		return false, ReasonDMBlocked
	}
	if isGroup && p.GroupPolicy != models.PolicyAllow {
		return false, ReasonGroupBlocked
	}
	key := fmt.Sprintf("sender:%s:%s", channelID, senderID)
	if !e.limiter.Allow(key) {
		return false, ReasonRateLimited
	}
	return true, ReasonOK
}

func senderAllowlisted(p *models.Policy, channelID, senderID string) bool {
	if p == nil || p.Allowlist == nil {
		return false
	}
	for _, id := range p.Allowlist[channelID] {
		if id == senderID {
			return true
		}
	}
	return false
}

// AllowTool denies tools not named in tool_allow, then requires approval for
// write tools when configured to.
func (e *Engine) AllowTool(spec models.ToolSpec) (ok bool, reason string, needsApproval bool) {
	e.mu.RLock()
	p := e.policy
	e.mu.RUnlock()

	if p == nil || p.ToolAllow == nil {
		return false, ReasonToolNotAllowed, false
	}
	if _, allowed := p.ToolAllow[spec.Name]; !allowed {
		return false, ReasonToolNotAllowed, false
	}
	if spec.Permission == models.PermissionWrite && p.RequireApprovalsForWriteTools {
		return true, ReasonOK, true
	}
	return true, ReasonOK, false
}
