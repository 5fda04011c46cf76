package bookings

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/session"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// Handler serves /appointments/* and /kiosk/appointments/*.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("bookings: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the booking endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/appointments/availability", h.Availability)
	r.Post("/appointments/book", h.Book)
	r.Post("/appointments/book-batch", h.Book)
	r.Get("/appointments/patients/{patientId}", h.ListForPatient)
	r.Post("/kiosk/appointments/attach", h.Attach)
}

// Availability returns the booked slots of a resource on a date.
// GET /appointments/availability?type=doctor&resourceId=1&date=2025-03-04
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ := q.Get("type")
	if typ == "" {
		typ = string(resource.TypeDoctor)
	}
	id := q.Get("resourceId")
	if id == "" {
		id = q.Get("doctorId")
	}
	ref, err := resource.NewRef(typ, id)
	if err != nil {
		http.Error(w, `{"error": "type and resourceId are required"}`, http.StatusUnprocessableEntity)
		return
	}
	date, err := slots.ParseDate(q.Get("date"))
	if err != nil {
		http.Error(w, `{"error": "date must be YYYY-MM-DD"}`, http.StatusUnprocessableEntity)
		return
	}

	avail, err := h.service.Availability(r.Context(), ref, date)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			http.Error(w, `{"error": "resource not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("availability lookup failed", "resource_key", ref.Key(), "date", date.String(), "error", err)
		http.Error(w, `{"error": "failed to load availability"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// Book reserves one or more consecutive slots.
// POST /appointments/book and /appointments/book-batch
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if !h.sessionAllows(r, req.PatientID) {
		http.Error(w, `{"error": "patientId does not match kiosk session"}`, http.StatusForbidden)
		return
	}

	result, err := h.service.Book(r.Context(), req)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type conflictResponse struct {
	Detail    string   `json:"detail"`
	Conflicts []string `json:"conflicts"`
}

func (h *Handler) writeBookingError(w http.ResponseWriter, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, conflictResponse{
			Detail:    "Some slots are no longer available",
			Conflicts: slots.Strings(conflict.Slots),
		})
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrDuplicateRequest):
		http.Error(w, `{"error": "duplicate booking request"}`, http.StatusTooManyRequests)
	default:
		h.logger.Error("booking failed", "error", err)
		http.Error(w, `{"error": "failed to book appointment"}`, http.StatusInternalServerError)
	}
}

// ListForPatient returns a patient's appointments, newest first.
// GET /appointments/patients/{patientId}?limit=100&cursor=...
func (h *Handler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientId")
	if !h.sessionAllows(r, patientID) {
		http.Error(w, `{"error": "patientId does not match kiosk session"}`, http.StatusForbidden)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxListLimit {
			http.Error(w, `{"error": "limit must be between 1 and 500"}`, http.StatusUnprocessableEntity)
			return
		}
		limit = n
	}

	page, err := h.service.List(r.Context(), patientID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("list appointments failed", "patient_id", patientID, "error", err)
		http.Error(w, `{"error": "failed to list appointments"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Attach merges kiosk data into an existing appointment.
// POST /kiosk/appointments/attach
func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if !h.sessionAllows(r, req.PatientID) {
		http.Error(w, `{"error": "patientId does not match kiosk session"}`, http.StatusForbidden)
		return
	}

	appt, err := h.service.Attach(r.Context(), req)
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, `{"error": "appointment not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("attach kiosk data failed", "appointment_id", req.AppointmentID, "error", err)
		http.Error(w, `{"error": "failed to attach kiosk data"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": appt})
}

// sessionAllows rejects requests whose patient differs from the kiosk
// session. Requests without a session are allowed.
func (h *Handler) sessionAllows(r *http.Request, patientID string) bool {
	pid, ok := session.PatientIDFromContext(r.Context())
	return !ok || pid == strings.TrimSpace(patientID)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
