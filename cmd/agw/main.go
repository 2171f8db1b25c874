// Command agw is the CLI entry point for the secure agent orchestration
// gateway: "serve" boots the long-running process, while the remaining
// subcommands are thin control-plane clients that dial the running
// gateway's WebSocket endpoint.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agw",
		Short:        "Secure agent orchestration gateway",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildChannelsCmd(),
		buildChatsCmd(),
		buildRunCmd(),
		buildApproveCmd(),
		buildEventsCmd(),
		buildConfigGetCmd(),
		buildConfigSetCmd(),
	)
	return root
}
