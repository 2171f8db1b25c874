// Package config loads and validates the gateway's on-disk YAML configuration,
// applying AGW_-prefixed environment overrides and field defaults before the
// result is handed to the rest of the process.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the gateway process.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Policy  PolicyConfig  `yaml:"policy"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`

	// InstanceID is recorded in the instance lock and attached to traces.
	InstanceID string `yaml:"instance_id"`
}

// ServerConfig places the control-plane and peripheral HTTP listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	WSPath      string `yaml:"ws_path"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
}

// StorageConfig places persisted state and loadable plugins on disk.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	PluginDir  string `yaml:"plugin_dir"`
}

// AuthConfig gates the control-plane connection.
type AuthConfig struct {
	RequireClientAuth bool     `yaml:"require_client_auth"`
	ClientAPIKeys     []string `yaml:"client_api_keys"`
}

// PolicyConfig carries the admission settings not already covered by the
// policy document loaded at runtime (models.Policy).
type PolicyConfig struct {
	RequireApprovalsForWriteTools bool `yaml:"require_approvals_for_write_tools"`
	RateLimitRPS                  int  `yaml:"rate_limit_rps"`
	RateLimitBurst                int  `yaml:"rate_limit_burst"`
}

// EngineConfig bounds the per-run state machine.
type EngineConfig struct {
	MaxContextMessages int           `yaml:"max_context_messages"`
	RunMaxSteps        int           `yaml:"run_max_steps"`
	RunTimeoutS        time.Duration `yaml:"run_timeout_s"`
	RunRetry           int           `yaml:"run_retry"`
}

// LoggingConfig controls the slog sink.
type LoggingConfig struct {
	Level string `yaml:"log_level"`
	JSON  bool   `yaml:"json_logs"`
}

// Load reads path, expands $VARS, decodes a single YAML document into a
// Config, applies AGW_ environment overrides and field defaults, then
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = "/ws"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.HealthPath == "" {
		cfg.Server.HealthPath = "/healthz"
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = cfg.Storage.DataDir + "/agw.db"
	}
	if cfg.Storage.PluginDir == "" {
		cfg.Storage.PluginDir = "./plugins"
	}

	if cfg.Policy.RateLimitRPS == 0 {
		cfg.Policy.RateLimitRPS = 5
	}
	if cfg.Policy.RateLimitBurst == 0 {
		cfg.Policy.RateLimitBurst = 10
	}

	if cfg.Engine.MaxContextMessages == 0 {
		cfg.Engine.MaxContextMessages = 40
	}
	if cfg.Engine.RunMaxSteps == 0 {
		cfg.Engine.RunMaxSteps = 10
	}
	if cfg.Engine.RunTimeoutS == 0 {
		cfg.Engine.RunTimeoutS = 60 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = "agw-local"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("AGW_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGW_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_WS_PATH")); value != "" {
		cfg.Server.WSPath = value
	}
	if value := strings.TrimSpace(os.Getenv("AGW_METRICS_PATH")); value != "" {
		cfg.Server.MetricsPath = value
	}
	if value := strings.TrimSpace(os.Getenv("AGW_HEALTH_PATH")); value != "" {
		cfg.Server.HealthPath = value
	}

	if value := strings.TrimSpace(os.Getenv("AGW_DATA_DIR")); value != "" {
		cfg.Storage.DataDir = value
	}
	if value := strings.TrimSpace(os.Getenv("AGW_SQLITE_PATH")); value != "" {
		cfg.Storage.SQLitePath = value
	}
	if value := strings.TrimSpace(os.Getenv("AGW_PLUGIN_DIR")); value != "" {
		cfg.Storage.PluginDir = value
	}

	if value := strings.TrimSpace(os.Getenv("AGW_REQUIRE_CLIENT_AUTH")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Auth.RequireClientAuth = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_CLIENT_API_KEYS")); value != "" {
		cfg.Auth.ClientAPIKeys = splitAndTrim(value)
	}

	if value := strings.TrimSpace(os.Getenv("AGW_REQUIRE_APPROVALS_FOR_WRITE_TOOLS")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Policy.RequireApprovalsForWriteTools = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_RATE_LIMIT_RPS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Policy.RateLimitRPS = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_RATE_LIMIT_BURST")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Policy.RateLimitBurst = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("AGW_MAX_CONTEXT_MESSAGES")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Engine.MaxContextMessages = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_RUN_MAX_STEPS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Engine.RunMaxSteps = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_RUN_TIMEOUT_S")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Engine.RunTimeoutS = time.Duration(parsed) * time.Second
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGW_RUN_RETRY")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Engine.RunRetry = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("AGW_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("AGW_JSON_LOGS")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Logging.JSON = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("AGW_INSTANCE_ID")); value != "" {
		cfg.InstanceID = value
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidationError collects every configuration problem found in one pass,
// rather than failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		issues = append(issues, "server.ws_path must start with /")
	}
	if !strings.HasPrefix(cfg.Server.MetricsPath, "/") {
		issues = append(issues, "server.metrics_path must start with /")
	}
	if !strings.HasPrefix(cfg.Server.HealthPath, "/") {
		issues = append(issues, "server.health_path must start with /")
	}

	if cfg.Storage.DataDir == "" {
		issues = append(issues, "storage.data_dir must not be empty")
	}

	if cfg.Auth.RequireClientAuth && len(cfg.Auth.ClientAPIKeys) == 0 {
		issues = append(issues, "auth.client_api_keys must be non-empty when require_client_auth is true")
	}
	seenKeys := make(map[string]bool, len(cfg.Auth.ClientAPIKeys))
	for _, k := range cfg.Auth.ClientAPIKeys {
		if seenKeys[k] {
			issues = append(issues, "auth.client_api_keys must not contain duplicates")
			break
		}
		seenKeys[k] = true
	}

	if cfg.Policy.RateLimitRPS < 0 {
		issues = append(issues, "policy.rate_limit_rps must be >= 0")
	}
	if cfg.Policy.RateLimitBurst < 0 {
		issues = append(issues, "policy.rate_limit_burst must be >= 0")
	}

	if cfg.Engine.MaxContextMessages < 0 {
		issues = append(issues, "engine.max_context_messages must be >= 0")
	}
	if cfg.Engine.RunMaxSteps <= 0 {
		issues = append(issues, "engine.run_max_steps must be > 0")
	}
	if cfg.Engine.RunTimeoutS <= 0 {
		issues = append(issues, "engine.run_timeout_s must be > 0")
	}
	if cfg.Engine.RunRetry < 0 {
		issues = append(issues, "engine.run_retry must be >= 0")
	}

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		issues = append(issues, "logging.log_level must be one of debug, info, warn, error")
	}

	if strings.TrimSpace(cfg.InstanceID) == "" {
		issues = append(issues, "instance_id must not be empty")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
