// Package doctor audits a running gateway's configuration and reports
// findings the operator should act on: missing auth credentials, an empty
// policy document, an unreadable plugin directory, or an instance lock that
// is not held.
package doctor

import (
	"fmt"
	"os"
	"time"

	"github.com/agw/gateway/internal/config"
	"github.com/agw/gateway/internal/models"
)

// Severity ranks how urgently a Finding needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Finding is a single audit result.
type Finding struct {
	CheckID  string   `json:"check_id"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
}

// Summary counts findings by severity.
type Summary struct {
	Critical int `json:"critical"`
	Warn     int `json:"warn"`
	Info     int `json:"info"`
}

// Report is the result of a full audit pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   Summary   `json:"summary"`
	Findings  []Finding `json:"findings"`
}

// HasCritical reports whether any finding is critical severity.
func (r *Report) HasCritical() bool {
	return r.Summary.Critical > 0
}

// Options configures which checks Audit runs.
type Options struct {
	Config           *config.Config
	Policy           *models.Policy
	InstanceLockHeld bool
	InstanceLockAge  time.Duration
}

// Audit runs every configured check and returns a findings report.
func Audit(opts Options) *Report {
	report := &Report{Timestamp: time.Now(), Findings: []Finding{}}

	report.Findings = append(report.Findings, auditAuth(opts.Config)...)
	report.Findings = append(report.Findings, auditPolicy(opts.Policy)...)
	report.Findings = append(report.Findings, auditPluginDir(opts.Config)...)
	report.Findings = append(report.Findings, auditInstanceLock(opts)...)

	report.Summary = summarize(report.Findings)
	return report
}

func summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityWarn:
			s.Warn++
		default:
			s.Info++
		}
	}
	return s
}

func auditAuth(cfg *config.Config) []Finding {
	if cfg == nil {
		return nil
	}
	var findings []Finding
	if cfg.Auth.RequireClientAuth && len(cfg.Auth.ClientAPIKeys) == 0 {
		findings = append(findings, Finding{
			CheckID:  "auth.no_keys_configured",
			Severity: SeverityCritical,
			Title:    "Client auth required but no keys configured",
			Detail:   "require_client_auth is true but auth.client_api_keys is empty; every control-plane connection will be rejected.",
		})
	}
	if !cfg.Auth.RequireClientAuth {
		findings = append(findings, Finding{
			CheckID:  "auth.disabled",
			Severity: SeverityWarn,
			Title:    "Control-plane auth is disabled",
			Detail:   "require_client_auth is false; any client that can reach the listener can open a session.",
		})
	}
	return findings
}

func auditPolicy(p *models.Policy) []Finding {
	if p == nil {
		return []Finding{{
			CheckID:  "policy.missing",
			Severity: SeverityCritical,
			Title:    "No policy document loaded",
			Detail:   "The gateway has no admission policy; it will deny every sender and tool by default.",
		}}
	}
	var findings []Finding
	if len(p.Allowlist) == 0 {
		findings = append(findings, Finding{
			CheckID:  "policy.empty_allowlist",
			Severity: SeverityWarn,
			Title:    "Allowlist is empty",
			Detail:   "policy.allowlist has no entries; every inbound sender will be denied as sender_not_allowlisted.",
		})
	}
	if len(p.ToolAllow) == 0 {
		findings = append(findings, Finding{
			CheckID:  "policy.no_tools_allowed",
			Severity: SeverityWarn,
			Title:    "No tools are allowlisted",
			Detail:   "policy.tool_allow has no entries; every tool call will be denied.",
		})
	}
	return findings
}

func auditPluginDir(cfg *config.Config) []Finding {
	if cfg == nil || cfg.Storage.PluginDir == "" {
		return nil
	}
	info, err := os.Stat(cfg.Storage.PluginDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Finding{{
				CheckID:  "plugins.dir_missing",
				Severity: SeverityInfo,
				Title:    "Plugin directory does not exist",
				Detail:   fmt.Sprintf("%s does not exist; no plugins will be discovered.", cfg.Storage.PluginDir),
			}}
		}
		return []Finding{{
			CheckID:  "plugins.dir_unreadable",
			Severity: SeverityWarn,
			Title:    "Plugin directory is not readable",
			Detail:   fmt.Sprintf("stat %s: %v", cfg.Storage.PluginDir, err),
		}}
	}
	if !info.IsDir() {
		return []Finding{{
			CheckID:  "plugins.dir_not_a_directory",
			Severity: SeverityWarn,
			Title:    "Plugin directory path is not a directory",
			Detail:   fmt.Sprintf("%s exists but is not a directory.", cfg.Storage.PluginDir),
		}}
	}
	return nil
}

func auditInstanceLock(opts Options) []Finding {
	if !opts.InstanceLockHeld {
		return []Finding{{
			CheckID:  "instance.lock_not_held",
			Severity: SeverityCritical,
			Title:    "Instance lock is not held",
			Detail:   "This process does not hold the singleton instance lock; another gateway instance may already be running against the same data directory.",
		}}
	}
	if opts.InstanceLockAge > 0 && opts.InstanceLockAge < time.Second {
		return []Finding{{
			CheckID:  "instance.lock_recently_acquired",
			Severity: SeverityInfo,
			Title:    "Instance lock was just acquired",
			Detail:   "The gateway started within the last second; transient errors during this window are expected.",
		}}
	}
	return nil
}
