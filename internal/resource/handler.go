package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// Writer persists resource overrides.
type Writer interface {
	Set(ctx context.Context, r Resource) error
}

// Handler serves the resource catalog.
type Handler struct {
	catalog Catalog
	writer  Writer
	logger  *logging.Logger
}

// NewHandler creates a catalog handler. writer may be nil, in which case
// updates are rejected.
func NewHandler(catalog Catalog, writer Writer, logger *logging.Logger) *Handler {
	if catalog == nil {
		panic("resource: catalog cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{catalog: catalog, writer: writer, logger: logger}
}

type resourceView struct {
	Resource
	Key   string   `json:"resourceKey"`
	Slots []string `json:"slots"`
}

// List returns resources, optionally filtered by type.
// GET /resources?type=doctor
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var typ Type
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := ParseType(raw)
		if err != nil {
			http.Error(w, `{"error": "unknown resource type"}`, http.StatusUnprocessableEntity)
			return
		}
		typ = t
	}

	items, err := h.catalog.List(r.Context(), typ)
	if err != nil {
		h.logger.Error("failed to list resources", "type", typ, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	views := make([]resourceView, 0, len(items))
	for _, res := range items {
		grid, err := res.Grid()
		if err != nil {
			h.logger.Warn("skipping resource with invalid window", "resource_key", res.Key(), "error", err)
			continue
		}
		views = append(views, resourceView{Resource: res, Key: res.Key(), Slots: slots.Strings(grid.Slots())})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// Put stores an override for one resource.
// PUT /admin/resources/{type}/{id}
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		http.Error(w, `{"error": "resource updates disabled"}`, http.StatusNotImplemented)
		return
	}
	ref, err := NewRef(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid resource"}`, http.StatusBadRequest)
		return
	}

	var res Resource
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	res.Type, res.ID = ref.Type, ref.ID

	if err := h.writer.Set(r.Context(), res); err != nil {
		if errors.Is(err, slots.ErrInvalidWindow) || errors.Is(err, slots.ErrMisaligned) || errors.Is(err, slots.ErrInvalidStep) {
			http.Error(w, `{"error": "invalid slot window"}`, http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("failed to save resource", "resource_key", ref.Key(), "error", err)
		http.Error(w, `{"error": "failed to save resource"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("resource updated", "resource_key", ref.Key(), "name", res.Name)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
