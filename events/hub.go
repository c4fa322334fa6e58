// Package events implements the broadcast Event Hub (§4.H): a small set
// of multi-producer, multi-consumer progress/change notifications, lossy
// on slow consumers, never blocking a publisher.
package events

import (
	"encoding/json"
	"sync"
)

// Kind discriminates the two message variants the hub carries.
type Kind int

const (
	KindProgressBatch Kind = iota
	KindDownloadsChanged
)

// ProgressRecord is one download's row inside a ProgressBatch.
type ProgressRecord struct {
	DownloadID    string  `json:"id"`
	Status        string  `json:"status"`
	BytesDone     int64   `json:"bytes_downloaded"`
	ContentLength *int64  `json:"content_length,omitempty"`
	SpeedBps      float64 `json:"speed_bps"`
	ETASeconds    *float64 `json:"eta_seconds,omitempty"`
	ErrorCode     string  `json:"error_code,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// Event is the envelope published to every subscriber.
type Event struct {
	Kind     Kind
	Progress []ProgressRecord
}

func (k Kind) String() string {
	switch k {
	case KindProgressBatch:
		return "progress_batch"
	case KindDownloadsChanged:
		return "downloads_changed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Kind as its string name rather than the bare int,
// since Event crosses the process boundary over the SSE control surface.
func (ev Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind     string           `json:"kind"`
		Progress []ProgressRecord `json:"progress,omitempty"`
	}
	return json.Marshal(wire{Kind: ev.Kind.String(), Progress: ev.Progress})
}

const subscriberBuffer = 32

// Hub fans Event values out to any number of subscribers. Each subscriber
// gets its own buffered channel, and the publisher sends to each one
// without blocking, so one slow consumer cannot stall another; when a
// subscriber's buffer is full the oldest queued event is dropped rather
// than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must call when done.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// EmitProgressBatch publishes one progress batch to every subscriber.
func (h *Hub) EmitProgressBatch(records []ProgressRecord) {
	h.broadcast(Event{Kind: KindProgressBatch, Progress: records})
}

// EmitDownloadsChanged publishes a bare change notification.
func (h *Hub) EmitDownloadsChanged() {
	h.broadcast(Event{Kind: KindDownloadsChanged})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Buffer full: drop the oldest queued event and retry once.
			// A stalled subscriber loses its oldest queued events and keeps
			// the most recent ones, matching the spec's "late joiners see
			// only future messages, lossy on slow consumers" contract.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
