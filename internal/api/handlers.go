package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
)

type handler struct {
	records Records
	logger  *slog.Logger
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	recs, err := h.records.List(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	view, err := h.records.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) getFull(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	rec, err := h.records.GetFull(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) verification(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	call, err := h.records.VerificationStatus(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	if err := h.records.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps err onto a status and a body that never leaks internals.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	reqID := common.RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed.", "requestId", reqID, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: common.PublicMessage(err), RequestID: reqID})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
