// Package email is a stand-in mail service: it accepts customer
// notifications over HTTP and logs them instead of delivering them.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("email/handler")

type Handler struct {
	logger *slog.Logger
	sent   metric.Int64Counter
}

func NewHandler(logger *slog.Logger) (*Handler, error) {
	sent, err := meter.Int64Counter("email.sent",
		metric.WithDescription("Notification emails accepted for delivery."),
	)
	if err != nil {
		return nil, err
	}

	return &Handler{
		logger: logger,
		sent:   sent,
	}, nil
}

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (m Message) validate() string {
	switch {
	case !strings.Contains(m.To, "@"):
		return "invalid recipient"
	case strings.TrimSpace(m.Subject) == "":
		return "missing subject"
	}
	return ""
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if problem := msg.validate(); problem != "" {
		h.writeError(w, http.StatusBadRequest, problem)
		return
	}

	domainPart := msg.To[strings.LastIndex(msg.To, "@")+1:]
	h.sent.Add(r.Context(), 1, metric.WithAttributes(attribute.String("recipient.domain", domainPart)))
	h.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
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
