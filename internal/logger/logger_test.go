package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
}

func TestSetup_IncludesTimeField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Warn("warning test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_MultipleAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("user logged in",
		slog.String("user_id", "u-123"),
		slog.String("session_id", "s-456"),
		slog.String("path", "/api/v1/auth/login"),
		slog.Int("status", 200),
		slog.Int("attempts", 2),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["user_id"] != "u-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "u-123")
	}
	if entry["session_id"] != "s-456" {
		t.Errorf("session_id = %q, want %q", entry["session_id"], "s-456")
	}
	if entry["path"] != "/api/v1/auth/login" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/v1/auth/login")
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want %v", entry["status"], 200)
	}
	if entry["attempts"] != float64(2) {
		t.Errorf("attempts = %v, want %v", entry["attempts"], 2)
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}

// 機密属性の値はマスクされること
func TestSetup_RedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("request",
		slog.String("password", "hunter2"),
		slog.String("refresh_token", "eyJ.secret"),
		slog.String("Token", "abc"),
		slog.String("email", "a@example.com"),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	for _, key := range []string{"password", "refresh_token", "Token"} {
		if entry[key] != RedactedValue {
			t.Errorf("%s = %v, want %s", key, entry[key], RedactedValue)
		}
	}
	if entry["email"] != "a@example.com" {
		t.Errorf("email = %v, want unchanged", entry["email"])
	}
	if bytes.Contains(buf.Bytes(), []byte("hunter2")) {
		t.Error("raw password leaked into log output")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel_FiltersGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)
	SetLevel("warn")
	t.Cleanup(func() { SetLevel("info") })

	slog.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info log should be filtered at warn level: %s", buf.String())
	}

	slog.Warn("kept")
	if !bytes.Contains(buf.Bytes(), []byte("kept")) {
		t.Error("warn log should be written")
	}
}
