package eligibility

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

type Handler struct {
	evaluator *Evaluator
	logger    *slog.Logger
}

func NewHandler(evaluator *Evaluator, logger *slog.Logger) *Handler {
	return &Handler{
		evaluator: evaluator,
		logger:    logger,
	}
}

// availabilityRequest uses pointers so that absent fields can be told apart
// from zero values.
type availabilityRequest struct {
	Items     *[]domain.CartItem `json:"items"`
	Latitude  *float64           `json:"latitude"`
	Longitude *float64           `json:"longitude"`
}

type availabilityResponse struct {
	Success bool `json:"success"`
	Result
}

func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Items == nil {
		h.writeError(w, http.StatusBadRequest, "items are required")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		h.writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	destination := domain.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	result, err := h.evaluator.Evaluate(r.Context(), *req.Items, destination)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to evaluate cart availability", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.Degraded {
		h.logger.Warn("cart availability evaluated with missing zone data", "undeliverable", result.Undeliverable)
	}
	h.writeJSON(w, http.StatusOK, availabilityResponse{Success: true, Result: result})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}
