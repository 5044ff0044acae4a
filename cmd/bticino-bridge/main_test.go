package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bticino-bridge/internal/config"
	"bticino-bridge/internal/registration"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestURLsCommand(t *testing.T) {
	path := writeConfig(t, "controller_address: 10.0.0.5\nlocal_address: 10.0.0.9\nidentifier: home1\n")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"urls", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{
		"register: http://10.0.0.5:8080/register-endpoint?raw=true&identifier=home1&pressed=",
		"pressed:  http://10.0.0.9:8282/doorbell",
		"locked:   http://10.0.0.9:8282/locked",
		"unlocked: http://10.0.0.9:8282/unlocked",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	// The printed register URL decodes back to the printed callbacks.
	line := strings.SplitN(got, "\n", 2)[0]
	urls, err := registration.DecodeRegisterURL(strings.TrimPrefix(line, "register: "))
	if err != nil {
		t.Fatal(err)
	}
	if urls.Pressed != "http://10.0.0.9:8282/doorbell" {
		t.Errorf("decoded pressed = %q", urls.Pressed)
	}
}

func TestURLsCommandInvalidConfig(t *testing.T) {
	path := writeConfig(t, "local_address: 10.0.0.9\n")
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"urls", "--config", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "controller_address") {
		t.Errorf("err = %v", err)
	}
}

func TestRegisterInvalidConfig(t *testing.T) {
	path := writeConfig(t, "controller_address: 10.0.0.5\n")
	if err := runRegister(context.Background(), path, &bytes.Buffer{}); err == nil {
		t.Error("expected config error")
	}
}

func TestRegisterMissingFile(t *testing.T) {
	err := runRegister(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("err = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       slog.Level
		disabled      slog.Level
		json          bool
	}{
		{"debug", "text", slog.LevelDebug, slog.LevelDebug - 1, false},
		{"", "", slog.LevelInfo, slog.LevelDebug, false},
		{"WARN", "json", slog.LevelWarn, slog.LevelInfo, true},
		{"error", "JSON", slog.LevelError, slog.LevelWarn, true},
	}
	for _, tt := range tests {
		cfg := &config.Config{}
		cfg.Log.Level = tt.level
		cfg.Log.Format = tt.format

		var buf bytes.Buffer
		logger := newLogger(cfg, &buf)
		ctx := context.Background()
		if !logger.Enabled(ctx, tt.enabled) || logger.Enabled(ctx, tt.disabled) {
			t.Errorf("level %q: wrong threshold", tt.level)
		}
		logger.Error("boom")
		if isJSON := strings.HasPrefix(buf.String(), "{"); isJSON != tt.json {
			t.Errorf("format %q: output %q", tt.format, buf.String())
		}
	}
}
