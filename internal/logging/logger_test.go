package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	log, err := New(Options{Level: "info", Directory: dir, MaxSize: 1, Console: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Named("flow").Info("session started")
	log.Debug("hidden")
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "session started") {
		t.Errorf("console missing entry: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug entry should be filtered at info level")
	}

	data, err := os.ReadFile(filepath.Join(dir, "dst-flow.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 file entry, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["message"] != "session started" || entry["level"] != "INFO" || entry["logger"] != "flow" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLevelChangeAtRuntime(t *testing.T) {
	var console bytes.Buffer
	log, err := New(Options{Level: "warn", Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("before")
	if err := SetLevel(log.Level, "debug"); err != nil {
		t.Fatal(err)
	}
	log.Debug("after")

	out := console.String()
	if strings.Contains(out, "before") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "after") {
		t.Error("debug entry missing after level change")
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}
