package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// Handler serves /kiosk/session/*.
type Handler struct {
	manager *Manager
	logger  *logging.Logger
}

func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if manager == nil {
		panic("session: manager cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

type setRequest struct {
	PatientID string `json:"patientId"`
}

// Set binds the kiosk to a patient.
// POST /kiosk/session/set
func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	pid := strings.TrimSpace(req.PatientID)
	if len(pid) < minPatientIDLen {
		http.Error(w, `{"error": "patientId must be at least 6 characters"}`, http.StatusUnprocessableEntity)
		return
	}
	if err := h.manager.SetCookie(w, pid); err != nil {
		h.logger.Error("failed to issue kiosk session", "error", err)
		http.Error(w, `{"error": "failed to issue session"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "patientId": pid})
}

// Me reports the session's patient id.
// GET /kiosk/session/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	pid, err := h.manager.FromRequest(r)
	switch {
	case errors.Is(err, ErrNoSession):
		http.Error(w, `{"error": "no kiosk session"}`, http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, `{"error": "invalid or expired kiosk session"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patientId": pid})
}

// Clear ends the session.
// POST /kiosk/session/clear
func (h *Handler) Clear(w http.ResponseWriter, _ *http.Request) {
	h.manager.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
