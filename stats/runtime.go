// Package stats holds the in-memory, per-job counters the progress
// aggregator reads at ~30 Hz. Counters are atomics so a job's worker
// goroutines and the aggregator goroutine can touch them without a lock;
// the few string/enum fields use a small mutex, matching the spec's
// "atomics for counters, small mutexes for strings" resource model.
package stats

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/zdmr/zdmr/cmn"
)

// Runtime is one job's live counters. SPEC_FULL §9(a) intentionally omits
// status_detail/backoff_until_ms: no backoff scheduler is implemented, so
// nothing would ever populate them.
type Runtime struct {
	BytesDownloaded atomic.Int64
	ContentLength   atomic.Int64 // -1 when unknown

	mu        sync.Mutex
	status    string
	errorCode cmn.ErrorCode
	errorMsg  string
}

func NewRuntime() *Runtime {
	r := &Runtime{}
	r.ContentLength.Store(-1)
	return r
}

func (r *Runtime) SetStatus(status string) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *Runtime) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runtime) SetError(code cmn.ErrorCode, msg string) {
	r.mu.Lock()
	r.errorCode = code
	r.errorMsg = msg
	r.mu.Unlock()
}

func (r *Runtime) Error() (cmn.ErrorCode, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCode, r.errorMsg
}

// ContentLengthOrNil returns nil when the length is not yet known.
func (r *Runtime) ContentLengthOrNil() *int64 {
	n := r.ContentLength.Load()
	if n < 0 {
		return nil
	}
	return &n
}

// Snapshot is a consistent, immutable view of Runtime taken by the
// aggregator on each tick.
type Snapshot struct {
	DownloadID    string
	Status        string
	Bytes         int64
	ContentLength *int64
	ErrorCode     cmn.ErrorCode
	ErrorMessage  string
}

func (r *Runtime) Snapshot(downloadID string) Snapshot {
	code, msg := r.Error()
	return Snapshot{
		DownloadID:    downloadID,
		Status:        r.Status(),
		Bytes:         r.BytesDownloaded.Load(),
		ContentLength: r.ContentLengthOrNil(),
		ErrorCode:     code,
		ErrorMessage:  msg,
	}
}
