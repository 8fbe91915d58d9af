package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/logic/scan"
	"github.com/mfxhutch/pumpprobe/internal/logic/timing"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// minStartInterval is the shortest time allowed between two scan starts.
const minStartInterval = 5 * time.Second

// Scanner runs scans; *scan.Controller implements it.
type Scanner interface {
	Run(ctx context.Context, req scan.Request) (scan.Outcome, error)
	Validate(req scan.Request) error
	Progress() scan.Progress
}

// FormConfig holds the scan defaults shown to clients (from config).
type FormConfig struct {
	LightEvents     int      `json:"light_events"`
	Rate            string   `json:"rate"`
	Rates           []string `json:"rates"`
	Record          bool     `json:"record"`
	MaxDelayNs      float64  `json:"max_delay_ns"`
	ZeroDelayPolicy string   `json:"zero_delay_policy"`
}

// OutcomeView is the JSON form of a finished scan.
type OutcomeView struct {
	ScanID    string         `json:"scan_id"`
	Status    scan.State     `json:"status"`
	Iteration scan.Iteration `json:"iteration"`
	RunsDone  int            `json:"runs_done"`
	Error     string         `json:"error,omitempty"`
}

// StateView is returned by GET /api/state.
type StateView struct {
	Progress scan.Progress `json:"progress"`
	Last     *OutcomeView  `json:"last,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Scanner      Scanner
	Quantizer    *timing.Quantizer
	FormDefaults FormConfig

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc
	lastStart time.Time
	last      *OutcomeView
	done      chan struct{}
}

// NewHandlers creates handlers with the given dependencies.
// If scanner is nil, POST /api/scan will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, scanner Scanner, q *timing.Quantizer, formDefaults FormConfig) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Scanner:      scanner,
		Quantizer:    q,
		FormDefaults: formDefaults,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the scan defaults (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// HandleScan handles POST /api/scan to start a scan in the background.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req := scan.Request{
		Repetitions: 1,
		LightEvents: h.FormDefaults.LightEvents,
		Rate:        h.FormDefaults.Rate,
		Record:      h.FormDefaults.Record,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if h.Scanner == nil {
		http.Error(w, "scanner not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.Scanner.Validate(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "scan already in progress", http.StatusConflict)
		return
	}
	if !h.lastStart.IsZero() && time.Since(h.lastStart) < minStartInterval {
		h.runningMu.Unlock()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.running = true
	h.cancel = cancel
	h.lastStart = time.Now()
	h.done = make(chan struct{})
	done := h.done
	h.runningMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		out, err := h.Scanner.Run(ctx, req)
		view := &OutcomeView{
			ScanID:    out.ScanID.String(),
			Status:    out.Status,
			Iteration: out.Iteration,
			RunsDone:  out.RunsDone,
		}
		switch {
		case err == nil:
			h.Broadcaster.Broadcast("info", "Scan complete")
		case errors.Is(err, scan.ErrInterrupted):
			view.Error = err.Error()
			h.Broadcaster.Broadcast("warn", "Scan interrupted")
		default:
			view.Error = err.Error()
			h.Broadcaster.Broadcast("error", "Scan failed: "+err.Error())
			debug.Errorf(err, "scan failed")
		}

		h.runningMu.Lock()
		h.running = false
		h.cancel = nil
		h.last = view
		h.runningMu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStop handles POST /api/scan/stop. The scan stops before its next
// acquisition; the response does not wait for that.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.runningMu.Lock()
	cancel := h.cancel
	h.runningMu.Unlock()
	if cancel == nil {
		http.Error(w, "no scan in progress", http.StatusConflict)
		return
	}
	cancel()
	debug.Warn("Scan stop requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// HandleState returns the progress of the current scan and the outcome of
// the last one.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	var view StateView
	if h.Scanner != nil {
		view.Progress = h.Scanner.Progress()
	} else {
		view.Progress.State = scan.Idle
	}
	h.runningMu.Lock()
	view.Last = h.last
	h.runningMu.Unlock()
	writeJSON(w, http.StatusOK, view)
}

// HandleDelay returns the trigger settings for GET /api/delay?ns=...
// without touching hardware.
func (h *Handlers) HandleDelay(w http.ResponseWriter, r *http.Request) {
	if h.Quantizer == nil {
		http.Error(w, "timing not configured", http.StatusServiceUnavailable)
		return
	}
	ns, err := strconv.ParseFloat(r.URL.Query().Get("ns"), 64)
	if err != nil {
		http.Error(w, "ns must be a number", http.StatusBadRequest)
		return
	}
	s, err := h.Quantizer.Settings(ns)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleStatusStream handles GET /api/status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// Shutdown cancels a running scan and waits for it to clean up or for ctx
// to expire.
func (h *Handlers) Shutdown(ctx context.Context) error {
	h.runningMu.Lock()
	cancel, done := h.cancel, h.done
	h.runningMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
