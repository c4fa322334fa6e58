package engine

import (
	"context"
	"time"

	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/stats"
)

// progressEWMAAlpha is the smoothing factor applied to each tick's
// instantaneous speed sample, per engine/mod.rs's spawn_progress_flusher.
const progressEWMAAlpha = 0.2

// runAggregator wakes every cmn.AggregatorTick, takes a snapshot of every
// active job's counters, derives an EWMA-smoothed speed and an ETA from
// it, and publishes the batch to the event hub. It never touches the
// store: speed and ETA are presentation-only values, not persisted state.
func (d *Dispatcher) runAggregator(ctx context.Context) {
	ticker := time.NewTicker(cmn.AggregatorTick)
	defer ticker.Stop()

	lastBytes := make(map[string]int64)
	ewma := make(map[string]float64)
	tickSeconds := cmn.AggregatorTick.Seconds()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snaps := d.collectSnapshots()

			for id := range lastBytes {
				if _, ok := snaps[id]; !ok {
					delete(lastBytes, id)
					delete(ewma, id)
				}
			}
			if len(snaps) == 0 {
				continue
			}

			now := time.Now().UTC().Format(time.RFC3339Nano)
			batch := make([]events.ProgressRecord, 0, len(snaps))
			for id, snap := range snaps {
				inst := float64(snap.Bytes-lastBytes[id]) / tickSeconds
				if inst < 0 {
					inst = 0
				}
				speed := ewma[id]*(1-progressEWMAAlpha) + inst*progressEWMAAlpha
				ewma[id] = speed
				lastBytes[id] = snap.Bytes

				var eta *float64
				if snap.ContentLength != nil && speed > 1.0 {
					remaining := *snap.ContentLength - snap.Bytes
					if remaining > 0 {
						v := float64(remaining) / speed
						eta = &v
					}
				}

				batch = append(batch, events.ProgressRecord{
					DownloadID:    id,
					Status:        snap.Status,
					BytesDone:     snap.Bytes,
					ContentLength: snap.ContentLength,
					SpeedBps:      speed,
					ETASeconds:    eta,
					ErrorCode:     string(snap.ErrorCode),
					ErrorMessage:  snap.ErrorMessage,
					UpdatedAt:     now,
				})
			}
			d.events.EmitProgressBatch(batch)
		}
	}
}

func (d *Dispatcher) collectSnapshots() map[string]stats.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]stats.Snapshot, len(d.stats))
	for id, rt := range d.stats {
		out[id] = rt.Snapshot(id)
	}
	return out
}
