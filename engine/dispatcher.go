// Package engine owns the command queue and the map of active jobs,
// recovers incomplete downloads at startup, and runs the progress
// aggregator and local HTTP control surface. Grounded on
// engine/mod.rs's DownloadEngine/EngineCommand/handle_cmd/start_or_resume
// split, replacing tokio::sync::mpsc with a buffered Go channel and
// dashmap::DashMap with a plain map behind a sync.Mutex (the job/stats
// maps here are touched far less often than per-chunk hot paths, so a
// lock-free map buys nothing extra aistore's ClientCache pattern
// wouldn't already cover).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/zdmr/zdmr/bandwidth"
	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/job"
	"github.com/zdmr/zdmr/stats"
	"github.com/zdmr/zdmr/store"
	"github.com/zdmr/zdmr/transport"
)

const cmdQueueSize = 1024

// Command is the closed set of requests the dispatcher accepts, mirroring
// spec.md §4.G's EngineCommand enum as a family of small Go structs
// instead of a tagged union.
type Command interface{ isCommand() }

type AddDownloadsCmd struct {
	URLs           []string
	DestDir        string
	BatchID        *string
	ForcedProxy    bool
	ForcedProxyURL *string
}
type PauseCmd struct{ ID string }
type ResumeCmd struct{ ID string }
type RetryCmd struct{ ID string }
type DeleteCmd struct{ ID string }
type PauseAllCmd struct{}
type ResumeAllCmd struct{}
type UpdateSettingsCmd struct{ BandwidthLimitBps *int64 }

func (AddDownloadsCmd) isCommand()   {}
func (PauseCmd) isCommand()          {}
func (ResumeCmd) isCommand()         {}
func (RetryCmd) isCommand()          {}
func (DeleteCmd) isCommand()         {}
func (PauseAllCmd) isCommand()       {}
func (ResumeAllCmd) isCommand()      {}
func (UpdateSettingsCmd) isCommand() {}

type jobEntry struct {
	control *cmn.RunCell
	cancel  context.CancelFunc
}

// Dispatcher owns the command queue, the active-job map and the
// dedupe filter gating AddDownloads.
type Dispatcher struct {
	store   *store.Store
	events  *events.Hub
	limiter *bandwidth.Limiter
	policy  *transport.Policy
	cloud   *transport.CloudResolver
	log     *slog.Logger

	cmds chan Command

	mu    sync.Mutex
	jobs  map[string]*jobEntry
	stats map[string]*stats.Runtime

	// seen is a probabilistic, process-lifetime-only dedupe guard: a url
	// added once since startup is skipped by later AddDownloads calls,
	// whatever its current status, and a filter hit is not checked
	// against the store, so a false positive also skips a new url.
	// Entries are removed on delete, after which the url can be added again.
	seen *cuckoo.Filter

	wg sync.WaitGroup
}

func New(s *store.Store, ev *events.Hub, limiter *bandwidth.Limiter, policy *transport.Policy, cloud *transport.CloudResolver, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:   s,
		events:  ev,
		limiter: limiter,
		policy:  policy,
		cloud:   cloud,
		log:     log,
		cmds:    make(chan Command, cmdQueueSize),
		jobs:    make(map[string]*jobEntry),
		stats:   make(map[string]*stats.Runtime),
		seen:    cuckoo.NewDefaultCuckooFilter(),
	}
}

// Start recovers any DOWNLOADING row left by a crash, then launches the
// command loop and progress aggregator as independent goroutines bound to
// ctx, per spec.md §4.G's Startup section.
func (d *Dispatcher) Start(ctx context.Context) error {
	n, err := d.store.RecoverIncomplete()
	if err != nil {
		return err
	}
	if n > 0 {
		d.log.Info("recovered incomplete downloads", "count", n)
	}

	d.wg.Add(2)
	go func() { defer d.wg.Done(); d.runCommandLoop(ctx) }()
	go func() { defer d.wg.Done(); d.runAggregator(ctx) }()
	return nil
}

// Wait blocks until every background goroutine Start launched has
// returned, which happens once ctx is cancelled.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Submit enqueues cmd for asynchronous processing by the command loop.
func (d *Dispatcher) Submit(cmd Command) { d.cmds <- cmd }

func (d *Dispatcher) runCommandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cmds:
			if err := d.handle(ctx, cmd); err != nil {
				d.log.Error("engine command failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case AddDownloadsCmd:
		return d.addDownloads(ctx, c)
	case PauseCmd:
		return d.pause(c.ID)
	case ResumeCmd:
		return d.resume(ctx, c.ID)
	case RetryCmd:
		return d.retry(ctx, c.ID)
	case DeleteCmd:
		return d.delete(c.ID)
	case PauseAllCmd:
		return d.pauseAll()
	case ResumeAllCmd:
		return d.resumeAll(ctx)
	case UpdateSettingsCmd:
		return d.updateSettings(c)
	default:
		return fmt.Errorf("engine: unknown command %T", cmd)
	}
}

func (d *Dispatcher) addDownloads(ctx context.Context, c AddDownloadsCmd) error {
	for _, u := range c.URLs {
		if !d.seen.InsertUnique([]byte(u)) {
			d.log.Info("skipping duplicate url", "url", u)
			continue
		}
		id := cmn.GenID()
		dl := &store.Download{
			ID:             id,
			OriginalURL:    u,
			DestDir:        c.DestDir,
			ForcedProxy:    c.ForcedProxy,
			ForcedProxyURL: c.ForcedProxyURL,
			BatchID:        c.BatchID,
		}
		if err := d.store.InsertDownloadSkeleton(dl); err != nil {
			return err
		}
		if err := d.startOrResume(ctx, id); err != nil {
			return err
		}
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) pause(id string) error {
	d.mu.Lock()
	entry, ok := d.jobs[id]
	d.mu.Unlock()
	if ok {
		entry.control.Set(cmn.Pause)
	}
	if err := d.store.UpdateStatus(id, store.StatusPaused, nil, nil); err != nil {
		return err
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) resume(ctx context.Context, id string) error {
	if err := d.store.UpdateStatus(id, store.StatusQueued, nil, nil); err != nil {
		return err
	}
	if err := d.startOrResume(ctx, id); err != nil {
		return err
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) retry(ctx context.Context, id string) error {
	d.mu.Lock()
	entry, ok := d.jobs[id]
	d.mu.Unlock()
	if ok {
		entry.control.Set(cmn.Cancel)
	}
	if rec, err := d.store.GetDownload(id); err == nil && rec.TempPath != nil {
		_ = os.Remove(*rec.TempPath)
	}
	if err := d.store.ResetForRetry(id); err != nil {
		return err
	}
	if err := d.startOrResume(ctx, id); err != nil {
		return err
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) delete(id string) error {
	d.mu.Lock()
	entry, ok := d.jobs[id]
	d.mu.Unlock()
	if ok {
		entry.control.Set(cmn.Cancel)
	}
	if rec, err := d.store.GetDownload(id); err == nil {
		if rec.TempPath != nil {
			_ = os.Remove(*rec.TempPath)
		}
		if rec.FinalFilename != nil {
			_ = os.Remove(filepath.Join(rec.DestDir, *rec.FinalFilename))
		}
		d.seen.Delete([]byte(rec.OriginalURL))
	}
	if err := d.store.DeleteDownload(id); err != nil {
		return err
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) pauseAll() error {
	d.mu.Lock()
	entries := make(map[string]*jobEntry, len(d.jobs))
	for id, e := range d.jobs {
		entries[id] = e
	}
	d.mu.Unlock()
	for id, e := range entries {
		e.control.Set(cmn.Pause)
		if err := d.store.UpdateStatus(id, store.StatusPaused, nil, nil); err != nil {
			d.log.Warn("pause-all status update failed", "download_id", id, "error", err)
		}
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) resumeAll(ctx context.Context) error {
	list, err := d.store.ListDownloads()
	if err != nil {
		return err
	}
	for _, rec := range list {
		if rec.Status != store.StatusPaused && rec.Status != store.StatusQueued {
			continue
		}
		if err := d.startOrResume(ctx, rec.ID); err != nil {
			d.log.Warn("resume-all failed for one download", "download_id", rec.ID, "error", err)
		}
	}
	d.events.EmitDownloadsChanged()
	return nil
}

func (d *Dispatcher) updateSettings(c UpdateSettingsCmd) error {
	bps := int64(0)
	if c.BandwidthLimitBps != nil {
		bps = *c.BandwidthLimitBps
	}
	d.limiter.SetLimitBps(bps)
	return d.store.SetSetting(store.KeyBandwidthLimitBps, strconv.FormatInt(bps, 10))
}

// startOrResume spawns a job task for id unless one is already active, per
// spec.md §4.G's "Skip if already active" rule.
func (d *Dispatcher) startOrResume(ctx context.Context, id string) error {
	d.mu.Lock()
	if _, active := d.jobs[id]; active {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	rules, err := d.store.SnapshotRules()
	if err != nil {
		return err
	}

	control := cmn.NewRunCell()
	rt := stats.NewRuntime()
	jobCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.jobs[id] = &jobEntry{control: control, cancel: cancel}
	d.stats[id] = rt
	d.mu.Unlock()

	deps := job.Deps{Store: d.store, Policy: d.policy, Cloud: d.cloud, Limiter: d.limiter, Events: d.events, Log: d.log}
	j := job.New(deps, id, rules, control, rt)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := j.Run(jobCtx); err != nil {
			d.log.Error("download job failed", "download_id", id, "error", err)
		}
		d.mu.Lock()
		delete(d.jobs, id)
		delete(d.stats, id)
		d.mu.Unlock()
		d.events.EmitDownloadsChanged()
	}()
	return nil
}
