package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newQuietLogger(t *testing.T, level string) (*slog.Logger, string) {
	t.Helper()
	home := t.TempDir()
	logger, closer, err := NewLogger(home, level, true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { _ = closer.Close() })
	return logger, filepath.Join(home, "logs", "system.jsonl")
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestLoggerWritesJSONToFile(t *testing.T) {
	logger, path := newQuietLogger(t, "info")
	logger.Info("search served", "query", "golang generics", "cache", "hit")

	out := readLog(t, path)
	if !strings.Contains(out, `"msg":"search served"`) {
		t.Fatalf("log line missing message: %s", out)
	}
	if !strings.Contains(out, `"timestamp"`) {
		t.Fatalf("time key not renamed to timestamp: %s", out)
	}
	if !strings.Contains(out, `"component":"searchd"`) {
		t.Fatalf("component attr missing: %s", out)
	}
}

func TestLoggerRedactsSensitiveKeys(t *testing.T) {
	logger, path := newQuietLogger(t, "info")
	logger.Info("upstream call", "api_key", "BSAsupersecret123", "url", "https://api.search.brave.com")

	out := readLog(t, path)
	if strings.Contains(out, "BSAsupersecret123") {
		t.Fatalf("api key leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction placeholder: %s", out)
	}
}

func TestLoggerRedactsSecretBearingValues(t *testing.T) {
	logger, path := newQuietLogger(t, "info")
	logger.Info("upstream error", "error", "brave API returned 401: Bearer sk-abcdef0123456789xyz rejected")

	out := readLog(t, path)
	if strings.Contains(out, "sk-abcdef0123456789xyz") {
		t.Fatalf("bearer token leaked into log: %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, path := newQuietLogger(t, "warn")
	logger.Info("should be dropped")
	logger.Warn("should be kept")

	out := readLog(t, path)
	if strings.Contains(out, "should be dropped") {
		t.Fatalf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, "should be kept") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
