package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zdmr/zdmr/logging"
)

func TestInitWritesJSONLinesToTodaysFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.Init(dir, "info")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	logger.Info("hello from zdmr", "download_id", "abc123")

	want := filepath.Join(dir, "zdmr-"+time.Now().UTC().Format("2006-01-02")+".log")
	contents, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("expected daily log file to exist: %v", err)
	}
	if !strings.Contains(string(contents), "hello from zdmr") {
		t.Errorf("expected message in log file, got %q", string(contents))
	}
	if !strings.Contains(string(contents), `"download_id":"abc123"`) {
		t.Errorf("expected structured field in log file, got %q", string(contents))
	}
}

func TestInitCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	if _, err := logging.Init(dir, "debug"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected log directory to be created, err=%v", err)
	}
}

func TestInitFiltersBelowConfiguredLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.Init(dir, "warn")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	logger.Debug("should not appear")
	logger.Warn("should appear")

	want := filepath.Join(dir, "zdmr-"+time.Now().UTC().Format("2006-01-02")+".log")
	contents, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(contents), "should not appear") {
		t.Error("expected debug line to be filtered out at warn level")
	}
	if !strings.Contains(string(contents), "should appear") {
		t.Error("expected warn line to be present")
	}
}

func TestInitDefaultsUnknownLevelToInfo(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.Init(dir, "not-a-real-level")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	logger.Info("visible at default level")

	want := filepath.Join(dir, "zdmr-"+time.Now().UTC().Format("2006-01-02")+".log")
	contents, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(contents), "visible at default level") {
		t.Error("expected info line to pass through the default level")
	}
}
