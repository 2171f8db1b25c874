package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultRequestTimeout = 10 * time.Second

// addControlPlaneFlags attaches the --addr/--api-key flags every
// control-plane client subcommand shares, defaulting from AGW_ADDR/
// AGW_API_KEY so scripted use doesn't need to repeat them.
func addControlPlaneFlags(cmd *cobra.Command, addr, apiKey *string) {
	*addr = strings.TrimSpace(os.Getenv("AGW_ADDR"))
	if *addr == "" {
		*addr = "localhost:8080"
	}
	*apiKey = os.Getenv("AGW_API_KEY")

	cmd.Flags().StringVar(addr, "addr", *addr, "Gateway control-plane address (host:port)")
	cmd.Flags().StringVar(apiKey, "api-key", *apiKey, "API key for the gateway control plane")
}

func buildChannelsCmd() *cobra.Command {
	var addr, apiKey string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List configured channel adapters and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			if err := client.call("channels.list", nil, &result, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	return cmd
}

func buildChatsCmd() *cobra.Command {
	var addr, apiKey, channelID string
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats on a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			params := map[string]any{"channel_id": channelID}
			if err := client.call("chat.list", params, &result, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	cmd.Flags().StringVar(&channelID, "channel", "webchat", "Channel to list chats for")
	return cmd
}

func buildRunCmd() *cobra.Command {
	var addr, apiKey, chatID, channelID, requestedBy, prompt string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an agent run against a chat and tail it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			var started map[string]any
			params := map[string]any{
				"chat_id": chatID, "channel_id": channelID,
				"requested_by": requestedBy, "prompt": prompt,
			}
			if err := client.call("agent.run", params, &started, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(started)

			return client.streamEvents(time.Now().Add(timeout), func(frame wireFrame) {
				printJSON(frame)
			})
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID (required)")
	cmd.Flags().StringVar(&channelID, "channel", "webchat", "Channel ID")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "cli", "Identity attributed as the requester")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long to tail events before exiting")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func buildApproveCmd() *cobra.Command {
	var addr, apiKey, runID string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Grant a pending run's approval wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			if err := client.call("approval.grant", map[string]any{"run_id": runID}, &result, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	cmd.Flags().StringVar(&runID, "run", "", "Run ID to approve (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func buildEventsCmd() *cobra.Command {
	var addr, apiKey, runID string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the live event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			if runID != "" {
				var result map[string]any
				params := map[string]any{"run_id": runID}
				if err := client.call("runs.tail", params, &result, defaultRequestTimeout); err != nil {
					return err
				}
			}

			return client.streamEvents(time.Now().Add(duration), func(frame wireFrame) {
				printJSON(frame)
			})
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	cmd.Flags().StringVar(&runID, "run", "", "Narrow the stream to one run ID")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "How long to tail before exiting")
	return cmd
}

func buildConfigGetCmd() *cobra.Command {
	var addr, apiKey string
	cmd := &cobra.Command{
		Use:   "config-get",
		Short: "Print the active policy document",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			if err := client.call("config.get", nil, &result, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	return cmd
}

func buildConfigSetCmd() *cobra.Command {
	var addr, apiKey string
	var allowSender, allowTool string
	var dmPolicy, groupPolicy string
	var requireApprovals bool
	cmd := &cobra.Command{
		Use:   "config-set",
		Short: "Update the active policy document",
		Long: `Update the active policy document. --allow-sender and --allow-tool may be
repeated-free comma lists (channel:sender and tool:permission respectively);
omitted flags leave the corresponding field untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			params := map[string]any{}
			if allowSender != "" {
				params["allowlist"] = parseAllowSender(allowSender)
			}
			if allowTool != "" {
				params["tool_allow"] = parseAllowTool(allowTool)
			}
			if dmPolicy != "" {
				params["dm_policy"] = dmPolicy
			}
			if groupPolicy != "" {
				params["group_policy"] = groupPolicy
			}
			if cmd.Flags().Changed("require-approvals") {
				params["require_approvals_for_write_tools"] = requireApprovals
			}

			var result map[string]any
			if err := client.call("config.set", params, &result, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	cmd.Flags().StringVar(&allowSender, "allow-sender", "", "channel:sender[,channel:sender...] entries to allowlist")
	cmd.Flags().StringVar(&allowTool, "allow-tool", "", "tool:permission[,tool:permission...] entries to allow")
	cmd.Flags().StringVar(&dmPolicy, "dm-policy", "", "allow|deny|allowlist_only")
	cmd.Flags().StringVar(&groupPolicy, "group-policy", "", "allow|deny|allowlist_only")
	cmd.Flags().BoolVar(&requireApprovals, "require-approvals", false, "Require approval for write-permission tools")
	return cmd
}

func parseAllowSender(spec string) map[string][]string {
	out := map[string][]string{}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = append(out[parts[0]], parts[1])
	}
	return out
}

func parseAllowTool(spec string) map[string]string {
	out := map[string]string{}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
