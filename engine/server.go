package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/zdmr/zdmr/events"
	"github.com/zdmr/zdmr/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes the local control surface described in spec.md §6:
// a bearer-token-guarded JSON API plus a Server-Sent-Events stream of
// the event hub's progress batches and change notifications.
type Server struct {
	dispatcher *Dispatcher
	store      *store.Store
	events     *events.Hub
	addr       string
	log        *slog.Logger
}

func NewServer(d *Dispatcher, s *store.Store, ev *events.Hub, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{dispatcher: d, store: s, events: ev, addr: addr, log: log}
}

// ListenAndServe runs the control surface until ctx is cancelled.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	token, err := srv.store.LocalAPIToken()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/downloads", srv.withAuth(token, srv.handleDownloads))
	mux.HandleFunc("/downloads/", srv.withAuth(token, srv.handleDownloadByID))
	mux.HandleFunc("/pause-all", srv.withAuth(token, srv.handlePauseAll))
	mux.HandleFunc("/resume-all", srv.withAuth(token, srv.handleResumeAll))
	mux.HandleFunc("/settings", srv.withAuth(token, srv.handleSettings))
	mux.HandleFunc("/events", srv.withAuth(token, srv.handleEvents))

	httpSrv := &http.Server{Addr: srv.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (srv *Server) withAuth(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type addDownloadsRequest struct {
	URLs           []string `json:"urls"`
	DestDir        string   `json:"dest_dir"`
	BatchID        *string  `json:"batch_id,omitempty"`
	ForcedProxy    bool     `json:"forced_proxy,omitempty"`
	ForcedProxyURL *string  `json:"forced_proxy_url,omitempty"`
}

func (srv *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := srv.store.ListDownloads()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req addDownloadsRequest
		if err := decodeJSON(r.Body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.URLs) == 0 || req.DestDir == "" {
			http.Error(w, "urls and dest_dir are required", http.StatusBadRequest)
			return
		}
		srv.dispatcher.Submit(AddDownloadsCmd{
			URLs:           req.URLs,
			DestDir:        req.DestDir,
			BatchID:        req.BatchID,
			ForcedProxy:    req.ForcedProxy,
			ForcedProxyURL: req.ForcedProxyURL,
		})
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDownloadByID dispatches /downloads/{id}, /downloads/{id}/pause,
// /downloads/{id}/resume and /downloads/{id}/retry.
func (srv *Server) handleDownloadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/downloads/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		http.Error(w, "missing download id", http.StatusBadRequest)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			rec, err := srv.store.GetDownload(id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, rec)
		case http.MethodDelete:
			srv.dispatcher.Submit(DeleteCmd{ID: id})
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "pause":
		srv.dispatcher.Submit(PauseCmd{ID: id})
	case "resume":
		srv.dispatcher.Submit(ResumeCmd{ID: id})
	case "retry":
		srv.dispatcher.Submit(RetryCmd{ID: id})
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (srv *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	srv.dispatcher.Submit(PauseAllCmd{})
	w.WriteHeader(http.StatusAccepted)
}

func (srv *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	srv.dispatcher.Submit(ResumeAllCmd{})
	w.WriteHeader(http.StatusAccepted)
}

type updateSettingsRequest struct {
	BandwidthLimitBps *int64 `json:"bandwidth_limit_bps"`
}

func (srv *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateSettingsRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	srv.dispatcher.Submit(UpdateSettingsCmd{BandwidthLimitBps: req.BandwidthLimitBps})
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents streams the hub's events as text/event-stream frames until
// the client disconnects.
func (srv *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsub := srv.events.Subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
