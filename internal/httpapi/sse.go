package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipwave/clipwave/internal/jobs"
)

const keepaliveInterval = 15 * time.Second

// handleJobStream pushes every mutation of one job to the client as
// server-sent events. The event id is the job's sequence counter, so a
// reconnecting client sends Last-Event-ID and is resynchronized with the
// current snapshot first, then subsequent deltas, without gaps or a repeated
// terminal event. The stream closes once the job is terminal.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.visibleJob(w, r); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snapshot, events, cancel, err := s.queue.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		writeQueueError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	afterSeq := lastEventSeq(r)
	if snapshot.Seq > afterSeq {
		if !sendEvent(w, flusher, snapshot.Seq, snapshot) {
			return
		}
	}
	if snapshot.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if !sendEvent(w, flusher, ev.Seq, ev.Job) {
				return
			}
			if ev.Job.Status.Terminal() {
				return
			}
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, seq uint64, job *jobs.ClipJob) bool {
	payload, err := json.Marshal(job)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", seq, payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func lastEventSeq(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
