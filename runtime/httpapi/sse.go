package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/siteforge-ai/core/runtime/run"
)

// ssePollInterval is how often streamRunEvents re-checks the Event Store for
// new rows; short enough to feel live without hammering the store.
const ssePollInterval = 250 * time.Millisecond

// streamRunEvents implements the SSE branch of GET /{id}/events (spec §4.1):
// chunked data frames, a periodic keepalive comment while idle, and the
// literal [DONE] marker once the run reaches a terminal status.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, rec run.Run, sinceSeq int64, limit int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	keepalive := s.cfg.SSEKeepalive
	if keepalive <= 0 {
		keepalive = DefaultConfig().SSEKeepalive
	}

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()
	lastFrame := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			page, err := s.events.GetEventsByRun(ctx, rec.SessionID, rec.ID, sinceSeq, limit)
			if err != nil {
				s.logger.Error(ctx, "httpapi: sse poll failed", "run_id", rec.ID, "error", err)
				continue
			}
			for _, ev := range page.Events {
				frame, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", frame)
				sinceSeq = ev.Seq
				lastFrame = time.Now()
			}
			if len(page.Events) > 0 {
				flusher.Flush()
			}

			current, err := s.runs.Get(ctx, rec.ID)
			if err == nil && run.IsTerminal(current.Status) {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}

			if time.Since(lastFrame) >= keepalive {
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
				lastFrame = time.Now()
			}
		}
	}
}
