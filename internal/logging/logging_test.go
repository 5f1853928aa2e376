package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/skobkin/myolink/internal/config"
)

func TestFanoutWriter_ContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	w := newFanoutWriter(errorWriter{err: errors.New("broken stdout")}, &dst)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if n != len("test") {
		t.Fatalf("unexpected bytes written: got %d, want %d", n, len("test"))
	}
	if got := dst.String(); got != "test" {
		t.Fatalf("unexpected destination contents: got %q", got)
	}
}

func TestManagerConfigure_LogFileStillReceivesLogsWhenConsoleFails(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "app.log")
	m := NewManagerWithOutput(errorWriter{err: errors.New("broken console")})
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	slog.Info("file must receive this message")
	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	cleanLogPath := filepath.Clean(logPath)
	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(cleanLogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
}

func TestManagerConfigure_JSONFormat(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var out bytes.Buffer
	m := NewManagerWithOutput(&out)
	if err := m.Configure(config.LoggingConfig{Level: "info", Format: "json"}, ""); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("recorder").Info("session saved", "samples", 42)
	m.Logger("recorder").Debug("filtered out")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", out.String(), err)
	}
	if entry["msg"] != "session saved" || entry["component"] != "recorder" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestManagerConfigure_RejectsUnknownSettings(t *testing.T) {
	m := NewManagerWithOutput(&bytes.Buffer{})
	if err := m.Configure(config.LoggingConfig{Level: "verbose"}, ""); err == nil {
		t.Fatalf("expected unsupported level error")
	}
	if err := m.Configure(config.LoggingConfig{Level: "info", Format: "xml"}, ""); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestRotateIfLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	if err := rotateIfLarge(path, 4); err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}

	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := rotateIfLarge(path, 4); err != nil {
		t.Fatalf("rotate small file: %v", err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Fatalf("small file must stay in place, stat err: %v", err)
	}

	if err := os.WriteFile(path, []byte("abcdef"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := rotateIfLarge(path, 4); err != nil {
		t.Fatalf("rotate large file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("large file must be moved away, stat err: %v", err)
	}
	// #nosec G304 -- path is created from t.TempDir() in this test.
	raw, err := os.ReadFile(path + ".1")
	if err != nil || string(raw) != "abcdef" {
		t.Fatalf("expected backup with old contents, got %q err=%v", raw, err)
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
