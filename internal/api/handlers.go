package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kamilpajak/diffscope/internal/analysis"
	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/kamilpajak/diffscope/pkg/models"
)

const maxRequestBytes = 1 << 20

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	if !s.limiter.Allow(key) {
		writeError(w, http.StatusTooManyRequests, "too many analyses started, try again shortly")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req analysis.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.svc.StartAnalysis(r.Context(), req, key)
	if err != nil {
		var ve *analysis.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"analysisId": id})
}

// handleGetStatus always answers 200; unknown ids report status NotFound.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetStatus(r.PathValue("id")))
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	content, ok := s.svc.Content(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "content not found")
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		if stored, err := s.store.Defaults(sessionKey(r)); err == nil {
			folder = stored.DocsFolder
		}
	}
	if folder == "" {
		folder = s.docsFolder
	}
	if folder == "" {
		writeError(w, http.StatusBadRequest, "folder parameter required")
		return
	}

	names, err := s.documents.List(folder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"folder":    folder,
		"documents": names,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	analyses, err := s.history.ListRecentAnalyses(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses})
}

func parseLimit(r *http.Request) int {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// eventSource adapts the service to the SSE handler.
type eventSource struct {
	svc *analysis.Service
}

func (e eventSource) GetStatus(id string) models.StatusResponse {
	return e.svc.GetStatus(id)
}

func (e eventSource) Subscribe(id string) (<-chan progress.Event, func()) {
	return e.svc.Broadcaster().Hub().Subscribe(id)
}
