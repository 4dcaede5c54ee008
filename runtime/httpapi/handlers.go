package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/orchestrator"
	"github.com/siteforge-ai/core/runtime/run"
)

// createRunRequest is the body spec §6 documents for POST /api/runs.
type createRunRequest struct {
	SessionID      string   `json:"session_id"`
	Message        string   `json:"message"`
	GenerateNow    bool     `json:"generate_now,omitempty"`
	StyleReference string   `json:"style_reference,omitempty"`
	TargetPages    []string `json:"target_pages,omitempty"`
}

type resumeRunRequest struct {
	ResumePayload json.RawMessage `json:"resume_payload,omitempty"`
	Resume        json.RawMessage `json:"resume,omitempty"`
}

// discardSink is used for the background drive StreamResponsesAsync starts:
// the Response it would yield has no subscriber, since the HTTP contract
// observes progress through the Event Store / SSE stream instead.
type discardSink struct{}

func (discardSink) Send(_ context.Context, _ orchestrator.Response) error { return nil }

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CategoryValidation, "invalid request body")
		return
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, apperr.CategoryValidation, "session_id is required")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if cached, ok := s.idem.Get("create_run", body.SessionID, idemKey); ok {
		writeJSON(w, cached.Status, cached.Body)
		return
	}

	created, err := s.orch.StreamResponsesAsync(background(r), discardSink{}, orchestrator.Request{
		SessionID:      body.SessionID,
		UserMessage:    body.Message,
		GenerateNow:    body.GenerateNow,
		StyleReference: body.StyleReference,
		TargetPages:    body.TargetPages,
	})
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}

	body2, _ := json.Marshal(created)
	s.idem.Put("create_run", body.SessionID, idemKey, run.CachedResponse{Status: http.StatusCreated, Body: body2})
	writeJSON(w, http.StatusCreated, body2)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.runs.Get(r.Context(), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	body, _ := json.Marshal(rec)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.runs.Get(r.Context(), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if rec.Status != run.StatusWaitingInput {
		writeError(w, http.StatusConflict, apperr.CategoryStateConflict, "run is not waiting_input")
		return
	}

	var body resumeRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, apperr.CategoryValidation, "invalid resume payload")
		return
	}
	feedback := string(body.ResumePayload)
	if len(body.Resume) > 0 {
		feedback = string(body.Resume)
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if cached, ok := s.idem.Get("resume_run", id, idemKey); ok {
		writeJSON(w, cached.Status, cached.Body)
		return
	}

	updated, err := s.orch.StreamResponsesAsync(background(r), discardSink{}, orchestrator.Request{
		SessionID: rec.SessionID,
		Resume:    &orchestrator.Resume{RunID: id, UserFeedback: feedback},
	})
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}

	respBody, _ := json.Marshal(updated)
	s.idem.Put("resume_run", id, idemKey, run.CachedResponse{Status: http.StatusOK, Body: respBody})
	writeJSON(w, http.StatusOK, respBody)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, err := s.orch.Cancel(r.Context(), id)
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	status := http.StatusAccepted
	if outcome.AlreadyTerminal {
		status = http.StatusOK
	}
	body, _ := json.Marshal(outcome.Run)
	writeJSON(w, status, body)
}

type eventsPageResponse struct {
	Events  []event.SessionEvent `json:"events"`
	LastSeq int64                `json:"last_seq"`
	HasMore bool                 `json:"has_more"`
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.runs.Get(r.Context(), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	sinceSeq, limit := parseEventsQuery(r)

	if r.Header.Get("Accept") == "text/event-stream" {
		s.streamRunEvents(w, r, rec, sinceSeq, limit)
		return
	}

	page, err := s.events.GetEventsByRun(r.Context(), rec.SessionID, id, sinceSeq, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperr.CategoryFatal, "failed to load events")
		return
	}
	var lastSeq int64
	if n := len(page.Events); n > 0 {
		lastSeq = page.Events[n-1].Seq
	} else {
		lastSeq = sinceSeq
	}
	body, _ := json.Marshal(eventsPageResponse{Events: page.Events, LastSeq: lastSeq, HasMore: page.HasMore})
	writeJSON(w, http.StatusOK, body)
}

func parseEventsQuery(r *http.Request) (sinceSeq int64, limit int) {
	limit = 100
	q := r.URL.Query()
	if v := q.Get("since_seq"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			sinceSeq = parsed
		}
	}
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return sinceSeq, limit
}

func writeJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, cat apperr.Category, message string) {
	body, _ := json.Marshal(map[string]any{"error": message, "category": cat})
	writeJSON(w, status, body)
}

func (s *Server) writeOrchestratorError(w http.ResponseWriter, err error) {
	switch apperr.CategoryOf(err) {
	case apperr.CategoryValidation:
		writeError(w, http.StatusBadRequest, apperr.CategoryValidation, err.Error())
	case apperr.CategoryStateConflict:
		writeError(w, http.StatusConflict, apperr.CategoryStateConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, apperr.CategoryOf(err), err.Error())
	}
}
