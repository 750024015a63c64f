package daemon

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogHandler_Levels(t *testing.T) {
	var buf bytes.Buffer

	quiet := newLogHandler(&buf, 0, false)
	if quiet.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug must be off without -v")
	}
	if !quiet.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info must be on")
	}

	verbose := newLogHandler(&buf, 1, false)
	if !verbose.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug must be on with -v")
	}
}

func TestNewLogHandler_NoColor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLogHandler(&buf, 0, false))

	logger.Info("Handshake received", "phone", "192.168.1.5")

	out := buf.String()
	if !strings.Contains(out, "Handshake received") || !strings.Contains(out, "phone=192.168.1.5") {
		t.Errorf("unexpected log line %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no ANSI escapes without a terminal, got %q", out)
	}
}

func TestSetupLogging_DoesNotPanic(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	SetupLogging(1)

	if slog.Default().Handler() == nil {
		t.Error("expected non-nil slog handler after SetupLogging")
	}
}
