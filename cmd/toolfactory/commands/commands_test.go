package commands

import (
	"log/slog"
	"testing"

	"github.com/simple-efficient/toolfactory/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		configLevel string
		override    string
		want        slog.Level
		wantErr     bool
	}{
		{"", "", slog.LevelInfo, false},
		{"debug", "", slog.LevelDebug, false},
		{"warning", "", slog.LevelWarn, false},
		{"error", "", slog.LevelError, false},
		{"info", "debug", slog.LevelDebug, false},
		{"nope", "", 0, true},
		{"info", "nope", 0, true},
	}

	for _, tc := range cases {
		got, err := parseLogLevel(tc.configLevel, tc.override)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseLogLevel(%q, %q): expected error", tc.configLevel, tc.override)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLogLevel(%q, %q): %v", tc.configLevel, tc.override, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseLogLevel(%q, %q) = %v, want %v", tc.configLevel, tc.override, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 20); got != "short" {
		t.Errorf("unexpected truncate result: %q", got)
	}
	if got := truncate("line one\nline two", 40); got != "line one line two" {
		t.Errorf("expected newlines collapsed, got %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("unexpected truncation: %q", got)
	}
}

func TestServerTarget(t *testing.T) {
	if got := serverTarget(config.ServerConfig{URL: "http://x/sse"}); got != "http://x/sse" {
		t.Errorf("unexpected target: %q", got)
	}
	if got := serverTarget(config.ServerConfig{Command: "npx", Args: []string{"-y", "server"}}); got != "npx -y server" {
		t.Errorf("unexpected target: %q", got)
	}
}

func TestNewRootCmdWiring(t *testing.T) {
	cmd := NewRootCmd()
	want := map[string]bool{"tools": false, "call": false, "status": false, "version": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s subcommand to be registered", name)
		}
	}
}
