package naming_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zdmr/zdmr/naming"
)

func TestFilenameFromContentDispositionStarDoesNotConsumeFollowingParams(t *testing.T) {
	cd := `attachment; filename*=UTF-8''Qwen3-4B-Q5_K_M.gguf; filename=Qwen3-4B-Q5_K_M.gguf`
	got := naming.FilenameFromHeadersAndURL("https://example.com/x", cd, "")
	if got != "Qwen3-4B-Q5_K_M.gguf" {
		t.Errorf("got %q", got)
	}
}

func TestFilenameFromContentDispositionBasic(t *testing.T) {
	cd := `attachment; filename="Qwen3-4B-Q5_K_M.gguf"`
	got := naming.FilenameFromHeadersAndURL("https://example.com/x", cd, "")
	if got != "Qwen3-4B-Q5_K_M.gguf" {
		t.Errorf("got %q", got)
	}
}

func TestFilenameFromContentDispositionStarPercentDecodes(t *testing.T) {
	cd := `attachment; filename*=UTF-8''a%20b.txt; filename=a b.txt`
	got := naming.FilenameFromHeadersAndURL("https://example.com/x", cd, "")
	if got != "a b.txt" {
		t.Errorf("got %q", got)
	}
}

func TestFilenameFallsBackToURLPath(t *testing.T) {
	got := naming.FilenameFromHeadersAndURL("https://example.com/dir/file.bin?x=1", "", "")
	if got != "file.bin" {
		t.Errorf("got %q", got)
	}
}

func TestFilenameFallsBackToGenericWithExtension(t *testing.T) {
	got := naming.FilenameFromHeadersAndURL("https://example.com/", "", "image/png")
	if got != "download.png" {
		t.Errorf("got %q", got)
	}
}

func TestChooseNonCollidingFilenameNoCollision(t *testing.T) {
	dir := t.TempDir()
	got, err := naming.ChooseNonCollidingFilename(dir, "file.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file.bin" {
		t.Errorf("got %q", got)
	}
}

func TestChooseNonCollidingFilenameAppendsSuffix(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file.bin"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := naming.ChooseNonCollidingFilename(dir, "file.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file (1).bin" {
		t.Errorf("got %q", got)
	}
}

func TestChooseNonCollidingFilenameSkipsExistingVariants(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"file.bin", "file (1).bin", "file (2).bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := naming.ChooseNonCollidingFilename(dir, "file.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file (3).bin" {
		t.Errorf("got %q", got)
	}
}

func TestTempPathIsHiddenAndScoped(t *testing.T) {
	got := naming.TempPath("/dest", "abc123")
	want := filepath.Join("/dest", ".zdmr-abc123.part")
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
