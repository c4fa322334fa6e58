// Package job implements the per-download attempt/mirror failover loop,
// the eight-step per-attempt sequence and the multipart/single-stream
// transfer strategies chosen by planner. It is grounded on
// engine/job.rs's run_download_job/attempt_download_once/download_single/
// download_multipart split, replacing tokio::watch with cmn.RunCell and
// tokio::spawn/JoinHandle with golang.org/x/sync/errgroup.
package job

import (
	"context"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/zdmr/zdmr/bandwidth"
	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/stats"
	"github.com/zdmr/zdmr/store"
	"github.com/zdmr/zdmr/transport"
)

// errPaused is the sentinel an attempt returns when the control cell flips
// to Pause or Cancel mid-transfer. It is never wrapped, so callers compare
// with == rather than errors.Is.
var errPaused = errors.New("job: paused")

// Deps bundles the collaborators every job shares; the engine dispatcher
// builds one set and hands it to every job it starts.
type Deps struct {
	Store   *store.Store
	Policy  *transport.Policy
	Cloud   *transport.CloudResolver
	Limiter *bandwidth.Limiter
	Events  *events.Hub
	Log     *slog.Logger
}

// Job runs exactly one download's attempt/transfer/finalize lifecycle to
// completion, pause or terminal error.
type Job struct {
	deps       Deps
	downloadID string
	rules      *store.RulesSnapshot
	control    *cmn.RunCell
	stats      *stats.Runtime
}

func New(deps Deps, downloadID string, rules *store.RulesSnapshot, control *cmn.RunCell, rt *stats.Runtime) *Job {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Job{deps: deps, downloadID: downloadID, rules: rules, control: control, stats: rt}
}

// Run drives the candidate URL list in order until one succeeds, a
// non-retryable failure terminates the download, or the list is
// exhausted, per spec.md §4.F's Failover section.
func (j *Job) Run(ctx context.Context) error {
	rec, err := j.deps.Store.GetDownload(j.downloadID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}

	j.stats.SetStatus(string(store.StatusDownloading))
	if err := j.deps.Store.UpdateStatus(j.downloadID, store.StatusDownloading, nil, nil); err != nil {
		return err
	}

	if err := os.MkdirAll(rec.DestDir, 0o755); err != nil {
		return j.terminate(cmn.ErrPermissionDenied, errors.Wrap(err, "create destination directory").Error())
	}

	urls := transport.BuildAttemptURLs(j.rules.MirrorRules, rec.OriginalURL)

	var lastCode cmn.ErrorCode
	var lastMsg string
	for idx, rawURL := range urls {
		if j.control.Get() != cmn.Run {
			return j.pause()
		}

		err := j.attempt(ctx, rec, rawURL, idx)
		if err == nil {
			return j.complete(rec)
		}
		if err == errPaused {
			return j.pause()
		}

		code := cmn.CodeOf(err)
		lastCode, lastMsg = code, err.Error()
		j.deps.Log.Warn("attempt failed", "download_id", j.downloadID, "url", rawURL, "error", err, "code", code)
		if !code.Retryable() {
			break
		}
	}

	if lastCode == "" {
		lastCode = cmn.ErrUnknown
	}
	if lastMsg == "" {
		lastMsg = "download failed"
	}
	return j.terminate(lastCode, lastMsg)
}

func (j *Job) pause() error {
	j.stats.SetStatus(string(store.StatusPaused))
	return j.deps.Store.UpdateStatus(j.downloadID, store.StatusPaused, nil, nil)
}

func (j *Job) terminate(code cmn.ErrorCode, msg string) error {
	j.stats.SetStatus(string(store.StatusError))
	j.stats.SetError(code, msg)
	return j.deps.Store.UpdateStatus(j.downloadID, store.StatusError, &code, &msg)
}

// complete performs finalization: rename the temp file to its final name
// and verify size, per spec.md §4.F's Finalization section. It runs after
// a successful attempt, outside the mirror loop, so it executes exactly
// once regardless of which candidate succeeded.
func (j *Job) complete(rec *store.Download) error {
	if j.control.Get() != cmn.Run {
		return j.pause()
	}

	fresh, err := j.deps.Store.GetDownload(j.downloadID)
	if err != nil {
		return err
	}
	if fresh.FinalFilename == nil || fresh.TempPath == nil {
		return j.terminate(cmn.ErrUnknown, "missing finalization fields")
	}

	finalPath := fresh.DestDir + string(os.PathSeparator) + *fresh.FinalFilename
	if err := os.Rename(*fresh.TempPath, finalPath); err != nil {
		return j.terminate(cmn.ErrUnknown, errors.Wrap(err, "move temp file to final path").Error())
	}

	if fresh.ContentLength != nil {
		info, err := os.Stat(finalPath)
		if err != nil {
			return j.terminate(cmn.ErrUnknown, errors.Wrap(err, "stat final file").Error())
		}
		if info.Size() != *fresh.ContentLength {
			return j.terminate(cmn.ErrUnknown, "downloaded size mismatch")
		}
	}

	j.stats.SetStatus(string(store.StatusCompleted))
	j.deps.Events.EmitDownloadsChanged()
	return j.deps.Store.UpdateStatus(j.downloadID, store.StatusCompleted, nil, nil)
}
