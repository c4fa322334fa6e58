package job

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/zdmr/zdmr/bandwidth"
	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/stats"
	"github.com/zdmr/zdmr/store"
	"github.com/zdmr/zdmr/transport"
)

func TestRunSingleResumesFromExistingBytes(t *testing.T) {
	full := []byte("the quick brown fox jumps over the lazy dog")
	resumeFrom := int64(10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			t.Errorf("expected a Range header when resuming, got none")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(full[resumeFrom:])
	}))
	defer srv.Close()

	destDir := t.TempDir()
	s, err := store.Open(filepath.Join(t.TempDir(), "zdmr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	id := cmn.GenID()
	d := &store.Download{ID: id, OriginalURL: srv.URL, DestDir: destDir}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("insert skeleton: %v", err)
	}
	if err := s.UpdateBytes(id, resumeFrom); err != nil {
		t.Fatalf("seed resume bytes: %v", err)
	}

	tempPath := filepath.Join(destDir, ".zdmr-"+id+".part")
	partial := make([]byte, len(full))
	copy(partial, full[:resumeFrom])
	if err := os.WriteFile(tempPath, partial, 0o644); err != nil {
		t.Fatalf("prealloc temp file: %v", err)
	}

	deps := Deps{
		Store:   s,
		Policy:  transport.NewPolicy(),
		Cloud:   transport.NewCloudResolver(),
		Limiter: bandwidth.NewLimiter(0),
		Events:  events.NewHub(),
	}
	j := New(deps, id, &store.RulesSnapshot{}, cmn.NewRunCell(), stats.NewRuntime())

	u, _ := url.Parse(srv.URL)
	client := &http.Client{}
	contentLength := int64(len(full))

	if err := j.runSingle(context.Background(), client, u, map[string]string{}, tempPath, &contentLength, true); err != nil {
		t.Fatalf("runSingle: %v", err)
	}

	got, err := os.ReadFile(tempPath)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Errorf("expected resumed download to reconstruct full content, got %q", string(got))
	}

	rec, err := s.GetDownload(id)
	if err != nil {
		t.Fatalf("get download: %v", err)
	}
	if rec.BytesDownloaded != int64(len(full)) {
		t.Errorf("expected bytes_downloaded=%d, got %d", len(full), rec.BytesDownloaded)
	}
}
