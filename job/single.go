package job

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/zdmr/zdmr/cmn"
)

// runSingle streams the whole resource (or its remaining bytes, if
// resuming) as one connection, per spec.md §4.F's Single transfer
// section.
func (j *Job) runSingle(ctx context.Context, client *http.Client, u *url.URL, headers map[string]string, tempPath string, contentLength *int64, supportsRanges bool) error {
	rec, err := j.deps.Store.GetDownload(j.downloadID)
	if err != nil {
		return err
	}
	start := rec.BytesDownloaded
	if start < 0 {
		start = 0
	}
	if start > 0 && !supportsRanges {
		start = 0
		if err := j.deps.Store.UpdateBytes(j.downloadID, 0); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrInvalidURL, err, "build get request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	cmn.SetUserAgent(req)
	if start > 0 && supportsRanges {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := client.Do(req)
	if err != nil {
		return cmn.WrapCoded(classifyTransportError(err), err, "get request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return cmn.NewCodedError(classifyHTTPError(resp.StatusCode), "http "+http.StatusText(resp.StatusCode))
	}

	file, err := os.OpenFile(tempPath, os.O_WRONLY, 0o644)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrPermissionDenied, err, "open temp file")
	}
	defer file.Close()

	offset := start
	bytesTotal := start
	lastPersist := time.Now()
	buf := make([]byte, cmn.ChunkSize)

	for {
		if j.control.Get() != cmn.Run {
			_ = j.deps.Store.UpdateBytes(j.downloadID, bytesTotal)
			j.stats.BytesDownloaded.Store(bytesTotal)
			return errPaused
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := j.deps.Limiter.Acquire(ctx, n); err != nil {
				return err
			}
			if _, err := file.WriteAt(buf[:n], offset); err != nil {
				return cmn.WrapCoded(cmn.ErrDiskFull, err, "write chunk")
			}
			offset += int64(n)
			bytesTotal += int64(n)
			j.stats.BytesDownloaded.Store(bytesTotal)
			if time.Since(lastPersist) >= cmn.ByteCheckpointTTL {
				if err := j.deps.Store.UpdateBytes(j.downloadID, bytesTotal); err != nil {
					return err
				}
				lastPersist = time.Now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return cmn.WrapCoded(cmn.ErrTimeout, readErr, "read response body")
		}
	}

	if err := j.deps.Store.UpdateBytes(j.downloadID, bytesTotal); err != nil {
		return err
	}
	if contentLength != nil && bytesTotal != *contentLength {
		j.deps.Log.Warn("single download length mismatch", "download_id", j.downloadID,
			"bytes_total", bytesTotal, "content_length", *contentLength)
	}
	return nil
}
