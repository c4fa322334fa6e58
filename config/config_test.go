package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zdmr/zdmr/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	b, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.LocalAPIPort == 0 {
		t.Error("expected a nonzero default port")
	}
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zdmr.yaml")
	content := "local_api_port: 9999\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.LocalAPIPort != 9999 {
		t.Errorf("expected overridden port, got %d", b.LocalAPIPort)
	}
	if b.LogLevel != "debug" {
		t.Errorf("expected overridden log level, got %q", b.LogLevel)
	}
	if b.DefaultDownloadDir != "." {
		t.Errorf("expected default download dir to survive, got %q", b.DefaultDownloadDir)
	}
}
