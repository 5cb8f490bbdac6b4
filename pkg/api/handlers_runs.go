package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/msslab/testmgr/pkg/run"
)

const maxSessionPayloadBytes = 64 * 1024

// writeRunError maps engine errors to HTTP status codes.
func (s *server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, run.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, run.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})
	case errors.Is(err, run.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	case errors.Is(err, run.ErrPrecondition):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	default:
		s.log.WithError(err).Error("Run operation failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

type submitRunRequest struct {
	Targets    []string `json:"targets"`
	OldVersion string   `json:"old_version,omitempty"`
	NewVersion string   `json:"new_version,omitempty"`
}

// handleSubmitRun admits a new run for the caller.
func (s *server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	kind := chi.URLParam(r, "kind")

	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	view, err := s.orchestrator.Submit(
		r.Context(), user.UserID, kind, run.SubmitRequest{
			Targets:    req.Targets,
			OldVersion: req.OldVersion,
			NewVersion: req.NewVersion,
		},
	)
	if err != nil {
		s.writeRunError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, view)
}

// handleRunStatus returns the merged status view of a run.
func (s *server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.orchestrator.Status(
		r.Context(), chi.URLParam(r, "run_id"),
	)
	if err != nil {
		s.writeRunError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleLastRun returns the caller's most recent run of the kind.
func (s *server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	view, err := s.orchestrator.LastRun(
		r.Context(), user.UserID, chi.URLParam(r, "kind"),
	)
	if err != nil {
		s.writeRunError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleRawResult returns raw result handles for a successful run. An
// optional target_id query narrows the response to one target.
func (s *server) handleRawResult(w http.ResponseWriter, r *http.Request) {
	view, err := s.orchestrator.RawResult(
		r.Context(),
		chi.URLParam(r, "run_id"),
		r.URL.Query().Get("target_id"),
	)
	if err != nil {
		s.writeRunError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, view)
}

type createSummaryRequest struct {
	SummaryText string `json:"summary_text"`
}

type createSummaryResponse struct {
	FilePath string `json:"file_path"`
}

// handleCreateSummary stores the user-authored summary for a run whose
// targets all succeeded.
func (s *server) handleCreateSummary(
	w http.ResponseWriter, r *http.Request,
) {
	var req createSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.SummaryText == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"summary_text is required"})

		return
	}

	path, err := s.orchestrator.CreateSummary(
		r.Context(), chi.URLParam(r, "run_id"), req.SummaryText,
	)
	if err != nil {
		s.writeRunError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, createSummaryResponse{FilePath: path})
}

// --- Wizard sessions ---

// handleGetSession returns the caller's wizard session for the kind, or
// an empty object when none exists.
func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	payload := s.sessions.Get(user.UserID, chi.URLParam(r, "kind"))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleSaveSession replaces the caller's wizard session wholesale.
func (s *server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	body, err := io.ReadAll(
		io.LimitReader(r.Body, maxSessionPayloadBytes),
	)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"reading request body"})

		return
	}

	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"session payload must be valid JSON"})

		return
	}

	s.sessions.Save(
		user.UserID, chi.URLParam(r, "kind"), json.RawMessage(body),
	)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClearSession removes the caller's wizard session for the kind.
func (s *server) handleClearSession(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())

	s.sessions.Clear(user.UserID, chi.URLParam(r, "kind"))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
