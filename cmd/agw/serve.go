package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agw/gateway/internal/agent"
	"github.com/agw/gateway/internal/audit"
	"github.com/agw/gateway/internal/auth"
	"github.com/agw/gateway/internal/channels"
	"github.com/agw/gateway/internal/channels/discord"
	"github.com/agw/gateway/internal/channels/slack"
	"github.com/agw/gateway/internal/channels/telegram"
	"github.com/agw/gateway/internal/channels/webchat"
	"github.com/agw/gateway/internal/channels/whatsapp"
	"github.com/agw/gateway/internal/config"
	"github.com/agw/gateway/internal/controlplane/wsserver"
	"github.com/agw/gateway/internal/eventbus"
	"github.com/agw/gateway/internal/gateway"
	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/observability"
	"github.com/agw/gateway/internal/plugins"
	"github.com/agw/gateway/internal/policy"
	"github.com/agw/gateway/internal/storage"
	"github.com/agw/gateway/internal/storage/memory"
	"github.com/agw/gateway/internal/storage/sqlite"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var policyPath string
	var memoryOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, policyPath, memoryOnly)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "./agw.yaml", "Path to the gateway YAML configuration")
	cmd.Flags().StringVar(&policyPath, "policy", "./policy.yaml", "Path to the policy document")
	cmd.Flags().BoolVar(&memoryOnly, "memory-only", false, "Use the in-memory repository instead of SQLite (for local trials)")
	return cmd
}

func runServe(ctx context.Context, configPath, policyPath string, memoryOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	lock, err := gateway.AcquireInstanceLock(gateway.LockOptions{
		StateDir:   cfg.Storage.DataDir,
		ConfigPath: configPath,
	})
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	releaseLock := true
	defer func() {
		if releaseLock {
			_ = lock.Release()
		}
	}()

	var repo storage.Repository
	if memoryOnly {
		repo = memory.New()
	} else {
		repo, err = sqlite.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open sqlite repository: %w", err)
		}
	}

	policyDoc, err := policy.LoadDocument(policyPath)
	if err != nil {
		return fmt.Errorf("load policy document: %w", err)
	}
	if policyDoc.RateLimitRPS <= 0 {
		policyDoc.RateLimitRPS = float64(cfg.Policy.RateLimitRPS)
	}
	if policyDoc.RateLimitBurst <= 0 {
		policyDoc.RateLimitBurst = cfg.Policy.RateLimitBurst
	}
	if cfg.Policy.RequireApprovalsForWriteTools {
		policyDoc.RequireApprovalsForWriteTools = true
	}
	policyEngine := policy.New(policyDoc)

	bus := eventbus.New(256)
	sink := gateway.NewEventSink(bus, repo, logger)

	tools := agent.NewToolRegistry()
	registerBuiltinTools(tools)

	approvals := agent.NewApprovalBroker()

	engine := agent.NewEngine(tools, policyEngine, sink, approvals, agent.ClarificationPlanner{}, logger, agent.EngineConfig{
		MaxSteps: cfg.Engine.RunMaxSteps,
		TimeoutS: cfg.Engine.RunTimeoutS,
		RunRetry: cfg.Engine.RunRetry,
	})

	registry := channels.NewRegistry()
	registry.Register(webchat.NewAdapter())
	registerOptionalChannels(registry, logger)

	pluginRegistry := plugins.NewRegistry()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:    true,
		Format:     audit.FormatJSON,
		Output:     "stderr",
		BufferSize: 256,
	})
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}
	defer auditLogger.Close()

	gw := gateway.New(gateway.Deps{
		Repo:     repo,
		Bus:      bus,
		Policy:   policyEngine,
		Tools:    tools,
		Engine:   engine,
		Channels: registry,
		Plugins:  pluginRegistry,
		Metrics:  metrics,
		AuditLog: auditLogger,
		Logger:   logger,
		Lock:     lock,
	}, gateway.Config{
		MaxContextMessages: cfg.Engine.MaxContextMessages,
		PluginDirs:         []string{cfg.Storage.PluginDir},
		ShutdownGrace:      10 * time.Second,
	})

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()
	if err := gw.Start(startCtx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	releaseLock = false // gw.Stop releases the lock now that Start succeeded

	authSvc := auth.NewService(auth.Config{
		Mode:    auth.ModeAPIKey,
		APIKeys: cfg.Auth.ClientAPIKeys,
	})

	wsSrv := wsserver.New(gw, wsserver.Options{
		Auth:           authSvc,
		Logger:         logger,
		Version:        version,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: wsSrv.Handler(cfg.Server.WSPath, cfg.Server.HealthPath, cfg.Server.MetricsPath),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr, "ws_path", cfg.Server.WSPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("gateway stop error", "error", err)
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// registerOptionalChannels wires slack/discord/telegram/whatsapp adapters
// only when their required credentials are present in the environment —
// there is no per-channel secret schema in config.Config, so each adapter's
// own token(s) are read directly via AGW_-prefixed env vars, same as every
// other environment override in this process.
func registerOptionalChannels(registry *channels.Registry, logger *slog.Logger) {
	if botToken, appToken := os.Getenv("AGW_SLACK_BOT_TOKEN"), os.Getenv("AGW_SLACK_APP_TOKEN"); botToken != "" && appToken != "" {
		registry.Register(slack.NewAdapter(slack.Config{BotToken: botToken, AppToken: appToken}))
		logger.Info("slack adapter registered")
	}

	if token := os.Getenv("AGW_DISCORD_TOKEN"); token != "" {
		adapter, err := discord.NewAdapter(discord.Config{Token: token})
		if err != nil {
			logger.Error("discord adapter init failed", "error", err)
		} else {
			registry.Register(adapter)
			logger.Info("discord adapter registered")
		}
	}

	if token := os.Getenv("AGW_TELEGRAM_TOKEN"); token != "" {
		adapter, err := telegram.NewAdapter(telegram.Config{Token: token})
		if err != nil {
			logger.Error("telegram adapter init failed", "error", err)
		} else {
			registry.Register(adapter)
			logger.Info("telegram adapter registered")
		}
	}

	if dbPath := os.Getenv("AGW_WHATSAPP_SESSION_DB"); dbPath != "" {
		adapter, err := whatsapp.NewAdapter(context.Background(), whatsapp.Config{SessionDBPath: dbPath})
		if err != nil {
			logger.Error("whatsapp adapter init failed", "error", err)
		} else {
			registry.Register(adapter)
			logger.Info("whatsapp adapter registered")
		}
	}
}

// registerBuiltinTools registers the tools every gateway deployment carries
// regardless of plugins: core.echo, a read-permission diagnostic tool that
// exercises the full plan -> policy -> execute path without touching any
// external system.
func registerBuiltinTools(tools *agent.ToolRegistry) {
	_ = tools.Register(models.ToolSpec{
		Name:        "core.echo",
		Description: "Echoes back its message argument. Used to exercise the run pipeline without side effects.",
		Permission:  models.PermissionRead,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
		},
	}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		msg, _ := args["message"].(string)
		return map[string]any{"echo": msg}, nil
	})
}
