package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
)

// Handler serves the orders resource. Status reads and writes live in the
// statussync package.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

type createOrderRequest struct {
	CustomerID  string             `json:"customerId"`
	Items       []domain.OrderItem `json:"items"`
	Destination *domain.Coordinate `json:"destination"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		h.writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Destination == nil {
		h.writeError(w, http.StatusBadRequest, "destination is required")
		return
	}

	customerID := caller.ID
	if caller.Admin && req.CustomerID != "" {
		customerID = req.CustomerID
	}
	if !caller.Admin && req.CustomerID != "" && req.CustomerID != caller.ID {
		h.writeError(w, http.StatusForbidden, "cannot place orders for another customer")
		return
	}

	order, err := h.store.Create(r.Context(), &domain.Order{
		CustomerID:  customerID,
		Items:       req.Items,
		Destination: *req.Destination,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order created", "order_id", order.ID, "customer_id", order.CustomerID)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		h.writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	order, err := h.store.GetStatus(r.Context(), id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil || !caller.CanAccess(order.CustomerID) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		h.writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	all, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	visible := make([]domain.Order, 0, len(all))
	for _, order := range all {
		if caller.CanAccess(order.CustomerID) {
			visible = append(visible, order)
		}
	}

	h.logger.Info("orders listed", "count", len(visible))
	h.writeJSON(w, http.StatusOK, visible)
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
