package store

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/zdmr/zdmr/cmn"
)

type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusDownloading Status = "DOWNLOADING"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
	StatusError       Status = "ERROR"
)

// Download is the primary persisted entity. supports_ranges is a *bool
// tri-state (nil = unknown) per the spec's Open Question (c): it is never
// collapsed to a plain bool outside the planner's eligibility check.
type Download struct {
	ID              string        `json:"id"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
	StartedAt       *string       `json:"started_at,omitempty"`
	CompletedAt     *string       `json:"completed_at,omitempty"`
	OriginalURL     string        `json:"original_url"`
	DestDir         string        `json:"dest_dir"`
	FinalFilename   *string       `json:"final_filename,omitempty"`
	TempPath        *string       `json:"temp_path,omitempty"`
	ResolvedURL     *string       `json:"resolved_url,omitempty"`
	MirrorUsed      *string       `json:"mirror_used,omitempty"`
	Status          Status        `json:"status"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	ContentLength   *int64        `json:"content_length,omitempty"`
	SupportsRanges  *bool         `json:"supports_ranges,omitempty"`
	ETag            *string       `json:"etag,omitempty"`
	LastModified    *string       `json:"last_modified,omitempty"`
	ForcedProxy     bool          `json:"forced_proxy"`
	ForcedProxyURL  *string       `json:"forced_proxy_url,omitempty"`
	ErrorCode       *cmn.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	BatchID         *string       `json:"batch_id,omitempty"`
}

// InsertDownloadSkeleton creates the initial QUEUED row for a newly
// submitted URL. id is assigned by the caller (cmn.GenID()) so the
// engine can reference it before the store round trip completes.
func (s *Store) InsertDownloadSkeleton(d *Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowISO()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusQueued
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.setJSON(tx, collDownloads, d.ID, d)
	})
}

func (s *Store) GetDownload(id string) (*Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Download
	err := s.db.View(func(tx *buntdb.Tx) error {
		return s.getJSON(tx, collDownloads, id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDownloads returns every download, newest first.
func (s *Store) ListDownloads() ([]*Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Download
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.Ascend(idxDownloadsByStatus, func(key, value string) bool {
			var d Download
			if e := json.Unmarshal([]byte(value), &d); e != nil {
				iterErr = e
				return false
			}
			out = append(out, &d)
			return true
		})
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (s *Store) updateDownload(id string, mutate func(d *Download)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *buntdb.Tx) error {
		var d Download
		if err := s.getJSON(tx, collDownloads, id, &d); err != nil {
			return err
		}
		mutate(&d)
		d.UpdatedAt = nowISO()
		return s.setJSON(tx, collDownloads, id, &d)
	})
}

// UpdateStatus transitions status, stamping started_at/completed_at on the
// appropriate edges and recording error fields for ERROR transitions.
func (s *Store) UpdateStatus(id string, status Status, errCode *cmn.ErrorCode, errMsg *string) error {
	return s.updateDownload(id, func(d *Download) {
		d.Status = status
		switch status {
		case StatusDownloading:
			if d.StartedAt == nil {
				now := nowISO()
				d.StartedAt = &now
			}
		case StatusCompleted, StatusError:
			now := nowISO()
			d.CompletedAt = &now
		}
		if status == StatusError {
			d.ErrorCode = errCode
			d.ErrorMessage = errMsg
		} else {
			// Every non-ERROR transition clears stale error fields: the
			// retry path (QUEUED) starts clean and PAUSED never carries an
			// error per the spec's user-visible behavior note.
			d.ErrorCode = nil
			d.ErrorMessage = nil
		}
	})
}

func (s *Store) UpdateBytes(id string, bytesDownloaded int64) error {
	return s.updateDownload(id, func(d *Download) {
		d.BytesDownloaded = bytesDownloaded
	})
}

func (s *Store) UpdateResolvedAndMirror(id string, resolvedURL string, mirrorUsed *string) error {
	return s.updateDownload(id, func(d *Download) {
		d.ResolvedURL = &resolvedURL
		d.MirrorUsed = mirrorUsed
	})
}

// SetFinalization persists the fields discovered on the first successful
// HEAD probe: resolved URL, temp/final paths, size, freshness witnesses
// and range support. Called at most once per download's lifetime per
// invariant 3 (final_filename never changes once chosen).
func (s *Store) SetFinalization(id, resolvedURL, tempPath, finalFilename string,
	contentLength *int64, etag, lastModified *string, supportsRanges *bool, mirrorUsed *string) error {
	return s.updateDownload(id, func(d *Download) {
		d.ResolvedURL = &resolvedURL
		d.TempPath = &tempPath
		d.FinalFilename = &finalFilename
		d.ContentLength = contentLength
		d.ETag = etag
		d.LastModified = lastModified
		d.SupportsRanges = supportsRanges
		d.MirrorUsed = mirrorUsed
	})
}

// ResetForRetry clears progress, segments and error state and re-queues
// the download. Segments are removed in the same transaction that clears
// the parent, the application-level stand-in for ON DELETE CASCADE that
// buntdb has no declarative support for.
func (s *Store) ResetForRetry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *buntdb.Tx) error {
		var d Download
		if err := s.getJSON(tx, collDownloads, id, &d); err != nil {
			return err
		}
		d.Status = StatusQueued
		d.BytesDownloaded = 0
		d.SupportsRanges = nil
		d.MirrorUsed = nil
		d.ErrorCode = nil
		d.ErrorMessage = nil
		d.StartedAt = nil
		d.CompletedAt = nil
		d.UpdatedAt = nowISO()
		if err := s.setJSON(tx, collDownloads, id, &d); err != nil {
			return err
		}
		return s.deleteSegmentsTx(tx, id)
	})
}

// DeleteDownload physically removes the row and cascades to its segments.
func (s *Store) DeleteDownload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *buntdb.Tx) error {
		if err := s.deleteKey(tx, collDownloads, id); err != nil {
			return err
		}
		return s.deleteSegmentsTx(tx, id)
	})
}

// DeleteCompleted removes every download whose status is COMPLETED.
func (s *Store) DeleteCompleted() error {
	ids, err := func() ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var ids []string
		err := s.db.View(func(tx *buntdb.Tx) error {
			tx.Ascend(idxDownloadsByStatus, func(key, value string) bool {
				var d Download
				if json.Unmarshal([]byte(value), &d) == nil && d.Status == StatusCompleted {
					ids = append(ids, d.ID)
				}
				return true
			})
			return nil
		})
		return ids, err
	}()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.DeleteDownload(id); err != nil {
			return errors.Wrapf(err, "delete completed %s", id)
		}
	}
	return nil
}

// RecoverIncomplete forces every DOWNLOADING row to PAUSED, called once at
// process start so a crash never leaves a download claiming an active
// worker that no longer exists (invariant 4).
func (s *Store) RecoverIncomplete() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		tx.Ascend(idxDownloadsByStatus, func(key, value string) bool {
			var d Download
			if json.Unmarshal([]byte(value), &d) == nil && d.Status == StatusDownloading {
				ids = append(ids, d.ID)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		for _, id := range ids {
			var d Download
			if err := s.getJSON(tx, collDownloads, id, &d); err != nil {
				return err
			}
			d.Status = StatusPaused
			d.UpdatedAt = nowISO()
			if err := s.setJSON(tx, collDownloads, id, &d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
