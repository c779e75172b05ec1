package zones

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
)

// Source is the zone data behind the handler, either the database or a
// static catalog.
type Source interface {
	ListAll(ctx context.Context) ([]domain.DeliveryZone, error)
	LookupZones(ctx context.Context, productID string) ([]domain.DeliveryZone, error)
	SetActive(ctx context.Context, zoneID string, active bool) error
}

type Handler struct {
	source Source
	logger *slog.Logger
}

func NewHandler(source Source, logger *slog.Logger) *Handler {
	return &Handler{
		source: source,
		logger: logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	zones, err := h.source.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list zones", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("zones listed", "count", len(zones))
	h.writeJSON(w, http.StatusOK, nonNil(zones))
}

func (h *Handler) HandleProductZones(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	zones, err := h.source.LookupZones(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to lookup zones", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, nonNil(zones))
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	zoneID := r.PathValue("zoneId")
	if zoneID == "" {
		h.writeError(w, http.StatusBadRequest, "missing zone id")
		return
	}

	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		h.writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	if !caller.Admin {
		h.writeError(w, http.StatusForbidden, "only admins may change zones")
		return
	}

	if err := h.source.SetActive(r.Context(), zoneID, active); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "zone not found")
			return
		}
		h.logger.Error("failed to update zone", "error", err, "zone_id", zoneID, "active", active)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("zone updated", "zone_id", zoneID, "active", active, "actor", caller.Actor())
	h.writeJSON(w, http.StatusOK, map[string]any{"id": zoneID, "active": active})
}

func nonNil(zones []domain.DeliveryZone) []domain.DeliveryZone {
	if zones == nil {
		return []domain.DeliveryZone{}
	}
	return zones
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
