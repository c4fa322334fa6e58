package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/zdmr/zdmr/bandwidth"
	"github.com/zdmr/zdmr/engine"
	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/store"
	"github.com/zdmr/zdmr/transport"
)

func newTestDispatcher(t *testing.T) (*engine.Dispatcher, *store.Store, *events.Hub) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "zdmr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ev := events.NewHub()
	limiter := bandwidth.NewLimiter(0)
	d := engine.New(s, ev, limiter, transport.NewPolicy(), transport.NewCloudResolver(), nil)
	return d, s, ev
}

func waitForStatus(t *testing.T, s *store.Store, id string, want store.Status, timeout time.Duration) *store.Download {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := s.GetDownload(id)
		if err != nil {
			t.Fatalf("get download: %v", err)
		}
		if rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s on %s", want, id)
	return nil
}

func TestDispatcherAddDownloadsRunsToCompletion(t *testing.T) {
	const body = "engine end-to-end test payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "30")
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	d, s, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}

	destDir := t.TempDir()
	d.Submit(engine.AddDownloadsCmd{URLs: []string{srv.URL + "/f.txt"}, DestDir: destDir})

	list := waitUntilOneDownload(t, s, 2*time.Second)
	waitForStatus(t, s, list.ID, store.StatusCompleted, 2*time.Second)
}

func waitUntilOneDownload(t *testing.T, s *store.Store, timeout time.Duration) *store.Download {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		list, err := s.ListDownloads()
		if err != nil {
			t.Fatalf("list downloads: %v", err)
		}
		if len(list) == 1 {
			return list[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for download row to appear")
	return nil
}

func TestDispatcherAddDownloadsDeduplicatesSameURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	d, s, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}

	destDir := t.TempDir()
	url := srv.URL + "/dup.bin"
	d.Submit(engine.AddDownloadsCmd{URLs: []string{url}, DestDir: destDir})
	rec := waitUntilOneDownload(t, s, 2*time.Second)
	waitForStatus(t, s, rec.ID, store.StatusCompleted, 2*time.Second)

	d.Submit(engine.AddDownloadsCmd{URLs: []string{url}, DestDir: destDir})
	time.Sleep(100 * time.Millisecond)

	list, err := s.ListDownloads()
	if err != nil {
		t.Fatalf("list downloads: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected the duplicate url to be suppressed, got %d rows", len(list))
	}
}

func TestDispatcherPauseSetsStatusImmediately(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		if r.Method == http.MethodHead {
			return
		}
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			_, _ = w.Write(make([]byte, 1000))
			if flusher != nil {
				flusher.Flush()
			}
		}
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	d, s, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}

	destDir := t.TempDir()
	d.Submit(engine.AddDownloadsCmd{URLs: []string{srv.URL + "/slow.bin"}, DestDir: destDir})
	rec := waitUntilOneDownload(t, s, 2*time.Second)

	d.Submit(engine.PauseCmd{ID: rec.ID})
	waitForStatus(t, s, rec.ID, store.StatusPaused, 2*time.Second)
}
