package store_test

import (
	"path/filepath"
	"testing"

	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "zdmr.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetDownload(t *testing.T) {
	s := openTestStore(t)

	d := &store.Download{
		ID:          cmn.GenID(),
		OriginalURL: "https://example.com/file.bin",
		DestDir:     "/tmp/out",
	}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("InsertDownloadSkeleton: %v", err)
	}

	got, err := s.GetDownload(d.ID)
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if got.Status != store.StatusQueued {
		t.Errorf("expected QUEUED, got %s", got.Status)
	}
	if got.OriginalURL != d.OriginalURL {
		t.Errorf("original_url mismatch: %s", got.OriginalURL)
	}
}

func TestGetDownloadNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDownload("missing"); !store.IsNotFound(err) {
		t.Fatalf("expected IsNotFound, got %v", err)
	}
}

func TestListDownloadsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		d := &store.Download{ID: cmn.GenID(), OriginalURL: "https://example.com/a", DestDir: "/tmp"}
		if err := s.InsertDownloadSkeleton(d); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, d.ID)
	}

	list, err := s.ListDownloads()
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 downloads, got %d", len(list))
	}
	if list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Errorf("expected newest first (%s ... %s), got %s ... %s", ids[2], ids[0], list[0].ID, list[2].ID)
	}
}

func TestUpdateStatusStampsTimestamps(t *testing.T) {
	s := openTestStore(t)
	d := &store.Download{ID: cmn.GenID(), OriginalURL: "https://example.com/a", DestDir: "/tmp"}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdateStatus(d.ID, store.StatusDownloading, nil, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := s.GetDownload(d.ID)
	if got.StartedAt == nil {
		t.Error("expected started_at to be stamped")
	}

	code := cmn.ErrHTTP5xx
	msg := "server error"
	if err := s.UpdateStatus(d.ID, store.StatusError, &code, &msg); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	got, _ = s.GetDownload(d.ID)
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be stamped on ERROR")
	}
	if got.ErrorCode == nil || *got.ErrorCode != cmn.ErrHTTP5xx {
		t.Error("expected error_code to persist")
	}
}

func TestResetForRetryClearsSegments(t *testing.T) {
	s := openTestStore(t)
	d := &store.Download{ID: cmn.GenID(), OriginalURL: "https://example.com/a", DestDir: "/tmp"}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	segs := []*store.Segment{
		{ID: "0", RangeStart: 0, RangeEnd: 99, Status: store.SegmentActive},
		{ID: "1", RangeStart: 100, RangeEnd: 199, Status: store.SegmentActive},
	}
	if err := s.ReplaceSegments(d.ID, segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	b := true
	if err := s.SetFinalization(d.ID, "https://example.com/a", "/tmp/.zdmr-"+d.ID+".part",
		"a", nil, nil, nil, &b, nil); err != nil {
		t.Fatalf("SetFinalization: %v", err)
	}

	if err := s.ResetForRetry(d.ID); err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}

	got, _ := s.GetDownload(d.ID)
	if got.Status != store.StatusQueued {
		t.Errorf("expected QUEUED after retry, got %s", got.Status)
	}
	if got.SupportsRanges != nil {
		t.Error("expected supports_ranges cleared")
	}

	remaining, err := s.ListSegments(d.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected segments cleared on retry, got %d", len(remaining))
	}
}

func TestDeleteDownloadCascadesSegments(t *testing.T) {
	s := openTestStore(t)
	d := &store.Download{ID: cmn.GenID(), OriginalURL: "https://example.com/a", DestDir: "/tmp"}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	segs := []*store.Segment{{ID: "0", RangeStart: 0, RangeEnd: 99, Status: store.SegmentActive}}
	if err := s.ReplaceSegments(d.ID, segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	if err := s.DeleteDownload(d.ID); err != nil {
		t.Fatalf("DeleteDownload: %v", err)
	}
	if _, err := s.GetDownload(d.ID); !store.IsNotFound(err) {
		t.Error("expected download to be gone")
	}
	remaining, _ := s.ListSegments(d.ID)
	if len(remaining) != 0 {
		t.Error("expected segments to cascade-delete")
	}
}

func TestRecoverIncompleteForcesPaused(t *testing.T) {
	s := openTestStore(t)
	d := &store.Download{ID: cmn.GenID(), OriginalURL: "https://example.com/a", DestDir: "/tmp"}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpdateStatus(d.ID, store.StatusDownloading, nil, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	n, err := s.RecoverIncomplete()
	if err != nil {
		t.Fatalf("RecoverIncomplete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recovered, got %d", n)
	}
	got, _ := s.GetDownload(d.ID)
	if got.Status != store.StatusPaused {
		t.Errorf("expected PAUSED, got %s", got.Status)
	}
}

func TestSegmentsOrderedByRangeStart(t *testing.T) {
	s := openTestStore(t)
	d := &store.Download{ID: cmn.GenID(), OriginalURL: "https://example.com/a", DestDir: "/tmp"}
	if err := s.InsertDownloadSkeleton(d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	segs := []*store.Segment{
		{ID: "2", RangeStart: 200, RangeEnd: 299},
		{ID: "0", RangeStart: 0, RangeEnd: 99},
		{ID: "1", RangeStart: 100, RangeEnd: 199},
	}
	if err := s.ReplaceSegments(d.ID, segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	got, err := s.ListSegments(d.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	for i, seg := range got {
		if seg.RangeStart != int64(i*100) {
			t.Errorf("segment %d out of order: range_start=%d", i, seg.RangeStart)
		}
	}
}

func TestLocalAPITokenGeneratedOnce(t *testing.T) {
	s := openTestStore(t)
	tok1, err := s.LocalAPIToken()
	if err != nil {
		t.Fatalf("LocalAPIToken: %v", err)
	}
	if tok1 == "" {
		t.Fatal("expected non-empty token")
	}
	tok2, err := s.LocalAPIToken()
	if err != nil {
		t.Fatalf("LocalAPIToken: %v", err)
	}
	if tok1 != tok2 {
		t.Error("expected stable token across calls")
	}
}
