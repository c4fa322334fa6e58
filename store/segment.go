package store

import (
	"fmt"
	"sort"

	"github.com/tidwall/buntdb"
)

type SegmentStatus string

const (
	SegmentActive    SegmentStatus = "ACTIVE"
	SegmentCompleted SegmentStatus = "COMPLETED"
	SegmentError     SegmentStatus = "ERROR"
)

type Segment struct {
	ID         string        `json:"id"`
	DownloadID string        `json:"download_id"`
	RangeStart int64         `json:"range_start"`
	RangeEnd   int64         `json:"range_end"`
	BytesDone  int64         `json:"bytes_done"`
	Status     SegmentStatus `json:"status"`
	LastError  *string       `json:"last_error,omitempty"`
}

func segmentKey(downloadID, segID string) string {
	return downloadID + "/" + segID
}

// ReplaceSegments atomically deletes any existing segments for
// downloadID and inserts the planned list, each starting at bytes_done=0
// per §4.E. Used by first-time multipart planning; the downgrade to
// single-stream clears segment rows through ResetForRetry instead.
func (s *Store) ReplaceSegments(downloadID string, segs []*Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *buntdb.Tx) error {
		if err := s.deleteSegmentsTx(tx, downloadID); err != nil {
			return err
		}
		for i, seg := range segs {
			seg.DownloadID = downloadID
			if seg.ID == "" {
				seg.ID = fmt.Sprintf("%d", i)
			}
			if err := s.setJSON(tx, collSegments, segmentKey(downloadID, seg.ID), seg); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSegments returns downloadID's segments ordered by range_start.
func (s *Store) ListSegments(downloadID string) ([]*Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Segment
	prefix := makePath(collSegments, downloadID+"/")
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var seg Segment
			if e := json.Unmarshal([]byte(value), &seg); e != nil {
				iterErr = e
				return false
			}
			out = append(out, &seg)
			return true
		})
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RangeStart < out[j].RangeStart })
	return out, nil
}

func (s *Store) UpdateSegment(downloadID, segID string, bytesDone int64, status SegmentStatus, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *buntdb.Tx) error {
		var seg Segment
		if err := s.getJSON(tx, collSegments, segmentKey(downloadID, segID), &seg); err != nil {
			return err
		}
		seg.BytesDone = bytesDone
		seg.Status = status
		seg.LastError = lastError
		return s.setJSON(tx, collSegments, segmentKey(downloadID, segID), &seg)
	})
}

// deleteSegmentsTx removes every segment row belonging to downloadID
// inside the caller's transaction. Must be called with s.mu held.
func (s *Store) deleteSegmentsTx(tx *buntdb.Tx, downloadID string) error {
	prefix := makePath(collSegments, downloadID+"/")
	var keys []string
	tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	for _, k := range keys {
		if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}
