package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "doctor", "channels", "chats", "run", "approve", "events", "config-get", "config-set"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestRunCommandRequiresPromptAndChat(t *testing.T) {
	cmd := buildRunCmd()
	if err := cmd.Flags().Set("addr", "localhost:0"); err != nil {
		t.Fatalf("set addr: %v", err)
	}
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when --chat and --prompt are not supplied")
	}
}

func TestParseAllowSender(t *testing.T) {
	out := parseAllowSender("webchat:alice,slack:bob,webchat:carol")
	if len(out["webchat"]) != 2 || len(out["slack"]) != 1 {
		t.Fatalf("unexpected grouping: %+v", out)
	}
}

func TestParseAllowTool(t *testing.T) {
	out := parseAllowTool("core.echo:read,fs.write:write")
	if out["core.echo"] != "read" || out["fs.write"] != "write" {
		t.Fatalf("unexpected mapping: %+v", out)
	}
}
