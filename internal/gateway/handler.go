package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bigbestmart/internal/telemetry"
)

// Handler is the single public entry point. It routes order and status
// traffic to the orders service and zone and cart traffic to the zones
// service.
type Handler struct {
	ordersProxy *ServiceProxy
	zonesProxy  *ServiceProxy
	logger      *slog.Logger
}

func NewHandler(ordersProxy, zonesProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy: ordersProxy,
		zonesProxy:  zonesProxy,
		logger:      logger,
	}
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.EscapedPath())
}

func (h *Handler) HandleZones(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.zonesProxy, r.URL.EscapedPath())
}

// Routes registers every public path on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	for _, pattern := range []string{
		"GET /order/status/{orderId}",
		"PUT /order/status/{orderId}",
		"GET /orders",
		"POST /orders",
		"GET /orders/{orderId}",
	} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleOrders))
	}

	for _, pattern := range []string{
		"POST /cart/availability",
		"GET /zones",
		"GET /zones/product/{productId}",
		"POST /zones/{zoneId}/activate",
		"POST /zones/{zoneId}/deactivate",
	} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleZones))
	}
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
