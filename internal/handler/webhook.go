package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/metrics"
	"github.com/sakif/promptr-access/internal/service"
)

// maxWebhookBytes caps webhook payloads; Stripe events are far smaller.
const maxWebhookBytes = 1 << 20

type WebhookHandler struct {
	parser  billing.WebhookParser
	applier WebhookApplier
	logger  *slog.Logger
}

func NewWebhookHandler(parser billing.WebhookParser, applier WebhookApplier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, applier: applier, logger: logger}
}

// HandleStripe receives payment-provider events.
//
// HTTP: POST /api/stripe-webhooks
// Answers {"received": true} once the event is handled or deliberately
// ignored. A bad signature is 400 (not retried); a storage failure is 500 so
// Stripe delivers the event again.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	outcome := "failed"
	defer func() {
		metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		outcome = "invalid"
		h.logger.Warn("webhook body unreadable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid payload", Message: "Request body could not be read", Timestamp: now(),
		})
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		outcome = "invalid"
		h.logger.Warn("webhook without signature header")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Missing signature", Message: "Stripe-Signature header is required", Timestamp: now(),
		})
		return
	}

	ev, err := h.parser.ParseEvent(payload, sig)
	if err != nil {
		outcome = "invalid"
		h.logger.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		msg := "Webhook payload could not be verified"
		if errors.Is(err, billing.ErrInvalidSignature) {
			msg = "Webhook signature verification failed"
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid signature", Message: msg, Timestamp: now(),
		})
		return
	}
	eventType = ev.Type

	res, err := h.applier.Apply(r.Context(), ev)
	if err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Webhook processing failed", Message: "Event could not be applied", Timestamp: now(),
		})
		return
	}
	outcome = string(res)

	if res == service.OutcomeApplied {
		h.logger.Info("webhook applied", slog.String("event_id", ev.ID), slog.String("event_type", ev.Type))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
