package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/llmc-dev/ragd/internal/config"
)

func TestNewLogger_PrettyFormat(t *testing.T) {
	cfg := config.NewAppConfigWithOptions(
		config.WithLogLevel("INFO"),
		config.WithLogFormat(config.LogFormatPretty),
	)

	logger := NewLogger(cfg)

	if logger == nil {
		t.Fatal("NewLogger should not return nil")
	}
	if logger.Slog() == nil {
		t.Error("Slog() should not return nil")
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := config.NewAppConfigWithOptions(
		config.WithLogLevel("DEBUG"),
		config.WithLogFormat(config.LogFormatJSON),
	)

	logger := NewLogger(cfg)

	if logger == nil {
		t.Fatal("NewLogger should not return nil")
	}
}

func TestLogger_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "DEBUG")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")

	if len(lines) != 4 {
		t.Errorf("expected 4 log lines, got %d", len(lines))
	}

	for i, line := range lines {
		var data map[string]any
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "INFO")

	loggerWithComponent := logger.With("component", "scheduler")
	loggerWithComponent.Info("tick")

	var data map[string]any
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if data["component"] != "scheduler" {
		t.Errorf("expected component=scheduler, got %v", data["component"])
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "INFO")

	ctx := context.Background()
	ctx = WithCorrelationID(ctx, "corr-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithRepoID(ctx, "repo-789")

	logger.InfoContext(ctx, "refresh started")

	var data map[string]any
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if data["correlation_id"] != "corr-123" {
		t.Errorf("expected correlation_id=corr-123, got %v", data["correlation_id"])
	}
	if data["request_id"] != "req-456" {
		t.Errorf("expected request_id=req-456, got %v", data["request_id"])
	}
	if data["repo_id"] != "repo-789" {
		t.Errorf("expected repo_id=repo-789, got %v", data["repo_id"])
	}
}

func TestWithCorrelationID(t *testing.T) {
	ctx := context.Background()
	ctx = WithCorrelationID(ctx, "test-corr-id")

	if CorrelationID(ctx) != "test-corr-id" {
		t.Errorf("CorrelationID() = %v, want 'test-corr-id'", CorrelationID(ctx))
	}
}

func TestWithRepoID(t *testing.T) {
	ctx := context.Background()
	ctx = WithRepoID(ctx, "demo-repo")

	if RepoID(ctx) != "demo-repo" {
		t.Errorf("RepoID() = %v, want 'demo-repo'", RepoID(ctx))
	}
}

func TestCorrelationID_NotSet(t *testing.T) {
	ctx := context.Background()
	if CorrelationID(ctx) != "" {
		t.Errorf("CorrelationID() should be empty when not set")
	}
}

func TestRepoID_NotSet(t *testing.T) {
	ctx := context.Background()
	if RepoID(ctx) != "" {
		t.Errorf("RepoID() should be empty when not set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"DEBUG", "DEBUG"},
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warn", "WARN"},
		{"WARNING", "WARN"},
		{"ERROR", "ERROR"},
		{"error", "ERROR"},
		{"unknown", "INFO"}, // defaults to INFO
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level := parseLevel(tt.input)
			if level.String() != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, level.String(), tt.expected)
			}
		})
	}
}

func TestLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "WARN")

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")

	// Should only have WARN and ERROR
	if len(lines) != 2 {
		t.Errorf("expected 2 log lines, got %d: %s", len(lines), output)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Error("Default() should not return nil")
	}
}

func TestConfigure(t *testing.T) {
	cfg := config.NewAppConfigWithOptions(
		config.WithLogLevel("DEBUG"),
		config.WithLogFormat(config.LogFormatJSON),
	)

	logger := Configure(cfg)

	if logger == nil {
		t.Error("Configure() should not return nil")
	}
	if Default() != logger {
		t.Error("Configure() should set the default logger")
	}
}

func TestLogger_WithContext_NoContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "INFO")

	// Empty context - should not add extra fields
	ctx := context.Background()
	logger.InfoContext(ctx, "test message")

	var data map[string]any
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if _, ok := data["correlation_id"]; ok {
		t.Error("should not have correlation_id when not set")
	}
	if _, ok := data["repo_id"]; ok {
		t.Error("should not have repo_id when not set")
	}
}

func TestFanoutHandler_WritesAllHandlers(t *testing.T) {
	var console, file bytes.Buffer
	h := newFanoutHandler(
		NewLoggerWithWriter(&console, config.LogFormatJSON, "DEBUG").Handler(),
		NewLoggerWithWriter(&file, config.LogFormatJSON, "DEBUG").Handler(),
	)

	logger := &Logger{handler: h, logger: slog.New(h)}
	logger.Info("shared record", "repo", "demo")

	for name, buf := range map[string]*bytes.Buffer{"console": &console, "file": &file} {
		var data map[string]any
		if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
			t.Fatalf("%s output is not valid JSON: %v", name, err)
		}
		if data["msg"] != "shared record" {
			t.Errorf("%s: expected msg='shared record', got %v", name, data["msg"])
		}
		if data["repo"] != "demo" {
			t.Errorf("%s: expected repo=demo, got %v", name, data["repo"])
		}
	}
}

func TestFanoutHandler_RespectsPerHandlerLevels(t *testing.T) {
	var quiet, verbose bytes.Buffer
	h := newFanoutHandler(
		NewLoggerWithWriter(&quiet, config.LogFormatJSON, "WARN").Handler(),
		NewLoggerWithWriter(&verbose, config.LogFormatJSON, "DEBUG").Handler(),
	)

	logger := &Logger{handler: h, logger: slog.New(h)}
	logger.Debug("noisy detail")

	if quiet.Len() != 0 {
		t.Errorf("WARN handler should not receive DEBUG records, got: %s", quiet.String())
	}
	if verbose.Len() == 0 {
		t.Error("DEBUG handler should receive DEBUG records")
	}
}

func TestFanoutHandler_WithAttrsPropagates(t *testing.T) {
	var a, b bytes.Buffer
	h := newFanoutHandler(
		NewLoggerWithWriter(&a, config.LogFormatJSON, "DEBUG").Handler(),
		NewLoggerWithWriter(&b, config.LogFormatJSON, "DEBUG").Handler(),
	)

	withAttrs := h.WithAttrs(nil)
	logger := &Logger{handler: withAttrs, logger: slog.New(withAttrs)}
	logger = logger.With("component", "worker")
	logger.Info("attr check")

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		var data map[string]any
		if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
			t.Fatalf("%s output is not valid JSON: %v", name, err)
		}
		if data["component"] != "worker" {
			t.Errorf("%s: expected component=worker, got %v", name, data["component"])
		}
	}
}

func TestNewDaemonLogger_WritesRollingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "rag-daemon", "rag-daemon.log")
	cfg := config.NewAppConfigWithOptions(
		config.WithLogLevel("INFO"),
		config.WithLogFormat(config.LogFormatJSON),
		config.WithLogPath(logPath),
	)

	logger, closer, err := NewDaemonLogger(cfg)
	if err != nil {
		t.Fatalf("NewDaemonLogger() error: %v", err)
	}

	logger.Info("daemon started", "pid", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read daemon log: %v", err)
	}

	var data map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &data); err != nil {
		t.Fatalf("daemon log line is not valid JSON: %v", err)
	}
	if data["msg"] != "daemon started" {
		t.Errorf("expected msg='daemon started', got %v", data["msg"])
	}
}
