package statussync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type StatusResponse struct {
	Success bool               `json:"success"`
	Status  domain.OrderStatus `json:"status"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type SetStatusRequest struct {
	Status         domain.OrderStatus `json:"status"`
	ExpectedStatus domain.OrderStatus `json:"expectedStatus,omitempty"`
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}

	order, err := h.service.GetStatus(r.Context(), caller, orderID)
	if err != nil {
		h.handleError(w, err, "order_id", orderID)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{Success: true, Status: order.Status})
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized", "missing caller identity")
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.Code(domain.ErrInvalidInput), "invalid request body")
		return
	}

	order, err := h.service.SetStatus(r.Context(), caller, orderID, req.Status, req.ExpectedStatus)
	if err != nil {
		h.handleError(w, err, "order_id", orderID, "status", req.Status)
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status, "actor", caller.Actor())
	h.writeJSON(w, http.StatusOK, StatusResponse{Success: true, Status: order.Status})
}

// handleError maps the error taxonomy onto HTTP codes. Only client errors
// carry their own message; everything else is logged and reported generically.
func (h *Handler) handleError(w http.ResponseWriter, err error, attrs ...any) {
	code := domain.Code(err)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, code, "operation not permitted")
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, code, "order not found")
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, code, "order status changed concurrently, retry with fresh state")
	default:
		h.logger.Error("status request failed", append([]any{"error", err}, attrs...)...)
		h.writeError(w, http.StatusInternalServerError, "Internal", "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Success: false, Code: code, Error: message})
}
