package job

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/planner"
	"github.com/zdmr/zdmr/store"
)

// runMultipart loads or plans this download's segments and runs one
// goroutine per segment, polling every 200ms for completion, a segment
// error (signaling a range-unsupported downgrade) or a pause/cancel
// request, per spec.md §4.F's Multipart transfer section. Segment workers
// are never aborted individually on error: each persists its own ERROR
// status and returns, and the poll loop is what decides the outcome for
// the whole attempt.
func (j *Job) runMultipart(ctx context.Context, client *http.Client, u *url.URL, headers map[string]string, tempPath string, contentLength int64) error {
	existing, err := j.deps.Store.ListSegments(j.downloadID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		ranges, err := planner.Plan(u.String(), contentLength, headers)
		if err != nil {
			return cmn.WrapCoded(cmn.ErrUnknown, err, "plan segments")
		}
		segs := make([]*store.Segment, 0, len(ranges))
		for _, r := range ranges {
			segs = append(segs, &store.Segment{RangeStart: r.Start, RangeEnd: r.End, Status: store.SegmentActive})
		}
		if err := j.deps.Store.ReplaceSegments(j.downloadID, segs); err != nil {
			return err
		}
		existing, err = j.deps.Store.ListSegments(j.downloadID)
		if err != nil {
			return err
		}
	}

	var initial int64
	for _, s := range existing {
		initial += s.BytesDone
	}
	totalBytes := atomic.NewInt64(initial)
	j.stats.BytesDownloaded.Store(initial)

	file, err := os.OpenFile(tempPath, os.O_WRONLY, 0o644)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrPermissionDenied, err, "open temp file for segments")
	}
	defer file.Close()

	// A plain errgroup.Group (not WithContext) is used deliberately: one
	// segment's error must never cancel its siblings, since they hold
	// disjoint byte ranges of the same file and the poll loop below, not
	// the group's own error, decides whether the whole attempt downgrades.
	// The semaphore caps concurrent in-flight segment bodies independently
	// of how many segments the planner laid out.
	sem := cmn.NewDynSemaphore(cmn.MaxConcurrentSegments)
	var g errgroup.Group
	for _, seg := range existing {
		seg := seg
		g.Go(func() error {
			sem.Acquire()
			defer sem.Release()
			if err := j.downloadSegment(ctx, client, u, headers, file, seg, totalBytes); err != nil {
				j.deps.Log.Warn("segment failed", "download_id", j.downloadID, "segment", seg.ID, "error", err)
			}
			return nil
		})
	}

	persistTick := time.NewTicker(cmn.ByteCheckpointTTL)
	defer persistTick.Stop()
	pollTick := time.NewTicker(cmn.WorkerPollTick)
	defer pollTick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-persistTick.C:
			cur := totalBytes.Load()
			j.stats.BytesDownloaded.Store(cur)
			if err := j.deps.Store.UpdateBytes(j.downloadID, cur); err != nil {
				return err
			}
		case <-pollTick.C:
			if j.control.Get() != cmn.Run {
				cur := totalBytes.Load()
				_ = j.deps.Store.UpdateBytes(j.downloadID, cur)
				_ = g.Wait()
				return errPaused
			}
			segs, err := j.deps.Store.ListSegments(j.downloadID)
			if err != nil {
				return err
			}
			errored, allDone := false, true
			for _, s := range segs {
				if s.Status == store.SegmentError {
					errored = true
				}
				if s.Status != store.SegmentCompleted {
					allDone = false
				}
			}
			if errored {
				_ = g.Wait()
				return cmn.NewCodedError(cmn.ErrRangeUnsupported, "segmented download failed (range unsupported)")
			}
			if allDone {
				cur := totalBytes.Load()
				_ = j.deps.Store.UpdateBytes(j.downloadID, cur)
				_ = g.Wait()
				return nil
			}
		}
	}
}

// downloadSegment streams one segment's byte range, resuming at
// range_start+bytes_done. A non-206 response or transport failure marks
// the segment ERROR and returns; the poll loop in runMultipart is what
// turns that into a RANGE_UNSUPPORTED downgrade decision.
func (j *Job) downloadSegment(ctx context.Context, client *http.Client, u *url.URL, headers map[string]string, file *os.File, seg *store.Segment, totalBytes *atomic.Int64) error {
	if seg.Status == store.SegmentCompleted {
		return nil
	}
	start := seg.RangeStart + seg.BytesDone
	if start > seg.RangeEnd {
		return j.deps.Store.UpdateSegment(j.downloadID, seg.ID, seg.BytesDone, store.SegmentCompleted, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	cmn.SetUserAgent(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, seg.RangeEnd))

	resp, err := client.Do(req)
	if err != nil {
		msg := err.Error()
		_ = j.deps.Store.UpdateSegment(j.downloadID, seg.ID, seg.BytesDone, store.SegmentError, &msg)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		msg := "range unsupported"
		_ = j.deps.Store.UpdateSegment(j.downloadID, seg.ID, seg.BytesDone, store.SegmentError, &msg)
		return cmn.NewCodedError(cmn.ErrRangeUnsupported, msg)
	}

	offset := start
	bytesDone := seg.BytesDone
	lastPersist := time.Now()
	buf := make([]byte, cmn.ChunkSize)

	for {
		if j.control.Get() != cmn.Run {
			return j.deps.Store.UpdateSegment(j.downloadID, seg.ID, bytesDone, store.SegmentActive, nil)
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := j.deps.Limiter.Acquire(ctx, n); err != nil {
				return err
			}
			if _, err := file.WriteAt(buf[:n], offset); err != nil {
				msg := err.Error()
				_ = j.deps.Store.UpdateSegment(j.downloadID, seg.ID, bytesDone, store.SegmentError, &msg)
				return err
			}
			offset += int64(n)
			bytesDone += int64(n)
			totalBytes.Add(int64(n))
			if time.Since(lastPersist) >= cmn.ByteCheckpointTTL {
				_ = j.deps.Store.UpdateSegment(j.downloadID, seg.ID, bytesDone, store.SegmentActive, nil)
				lastPersist = time.Now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			msg := readErr.Error()
			_ = j.deps.Store.UpdateSegment(j.downloadID, seg.ID, bytesDone, store.SegmentError, &msg)
			return readErr
		}
	}

	return j.deps.Store.UpdateSegment(j.downloadID, seg.ID, bytesDone, store.SegmentCompleted, nil)
}
