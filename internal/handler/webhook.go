// Package handler contains HTTP handlers for the advisory API.
//
// This file implements the Stripe webhook handler for processing billing events.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
//
// Stripe delivers events at-least-once and without ordering guarantees.
// Every event ID is recorded before processing so replays are acknowledged
// without being reapplied, and the entitlement service discards events that
// describe an older billing period than the one on record.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/copperline/advisory/internal/billing"
	"github.com/copperline/advisory/internal/domain"
	"github.com/copperline/advisory/internal/metrics"
	"github.com/copperline/advisory/internal/service"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing      billing.Service
	userService  service.UserService
	bookings     service.BookingService
	entitlements service.EntitlementService
	logger       *slog.Logger

	retainerPriceID string
	chatPriceID     string
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(
	billingService billing.Service,
	userService service.UserService,
	bookings service.BookingService,
	entitlements service.EntitlementService,
	retainerPriceID, chatPriceID string,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		billing:         billingService,
		userService:     userService,
		bookings:        bookings,
		entitlements:    entitlements,
		retainerPriceID: retainerPriceID,
		chatPriceID:     chatPriceID,
		logger:          logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC — no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// A 400 tells Stripe the delivery itself was bad (unverifiable signature).
// Everything after signature verification acknowledges with 200: Stripe
// retries on anything else, and a retried event would be dropped as a
// duplicate anyway once its ID is recorded.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	h.logger.Info("stripe webhook received", "type", eventType, "id", event.ID)

	if !h.handlesEventType(eventType) {
		h.logger.Debug("unhandled webhook event type", "type", eventType)
		metrics.WebhookEvents.WithLabelValues(eventType, "ignored").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	// Claim the event ID before applying it. A replay finds the ID already
	// recorded and is acknowledged without touching any state.
	fresh, err := h.entitlements.MarkEventProcessed(r.Context(), event.ID, eventType, event.Data.Raw)
	if err != nil {
		h.logger.Error("failed to record webhook event", "error", err, "id", event.ID)
		metrics.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}
	if !fresh {
		h.logger.Info("duplicate webhook event dropped", "type", eventType, "id", event.ID)
		metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome := h.processEvent(r.Context(), event)
	metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()

	w.WriteHeader(http.StatusOK)
}

// handlesEventType reports whether this handler acts on the event type.
// Other event types are acknowledged without being recorded.
func (h *WebhookHandler) handlesEventType(eventType string) bool {
	switch eventType {
	case "checkout.session.completed",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"customer.subscription.deleted":
		return true
	}
	return false
}

// processEvent routes a verified, deduplicated event and returns the metrics
// outcome label.
func (h *WebhookHandler) processEvent(ctx context.Context, event stripe.Event) string {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		return h.handlePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return h.handlePaymentFailed(ctx, event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)
	}
	return "ignored"
}

// handleCheckoutCompleted dispatches on the checkout type the API recorded
// in the session metadata when it created the checkout.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) string {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return "error"
	}

	switch sess.Metadata[billing.MetaKeyType] {
	case billing.CheckoutTypeBooking:
		return h.recordPaidBooking(ctx, sess)
	case billing.CheckoutTypeRetainer:
		return h.activateRetainer(ctx, sess)
	case billing.CheckoutTypeChat:
		return h.activateChat(ctx, sess)
	default:
		h.logger.Warn("checkout session without recognized type metadata", "session_id", sess.ID)
		return "ignored"
	}
}

// recordPaidBooking writes the booking ledger entry for a paid session.
// The session details round-trip through the checkout metadata.
func (h *WebhookHandler) recordPaidBooking(ctx context.Context, sess stripe.CheckoutSession) string {
	userID, err := uuid.Parse(sess.Metadata[billing.MetaKeyUserID])
	if err != nil {
		h.logger.Error("checkout metadata has invalid user ID", "session_id", sess.ID)
		return "error"
	}

	scheduledAt, err := time.Parse(time.RFC3339, sess.Metadata[billing.MetaKeyScheduledAt])
	if err != nil {
		h.logger.Error("checkout metadata has invalid scheduled time", "session_id", sess.ID)
		return "error"
	}

	durationMinutes, err := strconv.Atoi(sess.Metadata[billing.MetaKeyDurationMinutes])
	if err != nil {
		h.logger.Error("checkout metadata has invalid duration", "session_id", sess.ID)
		return "error"
	}

	paymentID := ""
	if sess.PaymentIntent != nil {
		paymentID = sess.PaymentIntent.ID
	}

	_, err = h.bookings.CreatePaidBooking(ctx, domain.PaidBookingParams{
		UserID:          userID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: durationMinutes,
		Channel:         domain.Channel(sess.Metadata[billing.MetaKeyChannel]),
		IntakeText:      sess.Metadata[billing.MetaKeyIntakeText],
		PricePaid:       sess.AmountTotal,
		StripePaymentID: paymentID,
	})
	if err != nil {
		h.logger.Error("failed to record paid booking", "error", err, "session_id", sess.ID)
		return "error"
	}

	return "processed"
}

// activateRetainer grants a fresh session allowance for a new retainer
// subscription, with the period bounds taken from the subscription itself.
func (h *WebhookHandler) activateRetainer(ctx context.Context, sess stripe.CheckoutSession) string {
	userID, err := uuid.Parse(sess.Metadata[billing.MetaKeyUserID])
	if err != nil {
		h.logger.Error("checkout metadata has invalid user ID", "session_id", sess.ID)
		return "error"
	}

	if sess.Customer == nil || sess.Subscription == nil {
		h.logger.Error("retainer checkout missing customer or subscription", "session_id", sess.ID)
		return "error"
	}

	sub, err := h.billing.GetSubscription(sess.Subscription.ID)
	if err != nil {
		h.logger.Error("failed to fetch subscription for activation", "error", err, "session_id", sess.ID)
		return "error"
	}

	periodStart := time.Unix(sub.CurrentPeriodStart, 0).UTC()
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()

	applied, err := h.entitlements.ActivateRetainer(ctx, userID, sess.Customer.ID, periodStart, periodEnd)
	if err != nil {
		h.logger.Error("failed to activate retainer", "error", err, "user_id", userID)
		return "error"
	}
	if !applied {
		return "discarded"
	}
	return "processed"
}

// activateChat flips the chat subscription flag for a new chat plan.
func (h *WebhookHandler) activateChat(ctx context.Context, sess stripe.CheckoutSession) string {
	if sess.Customer == nil {
		h.logger.Error("chat checkout missing customer", "session_id", sess.ID)
		return "error"
	}

	var ends *time.Time
	if sess.Subscription != nil {
		if sub, err := h.billing.GetSubscription(sess.Subscription.ID); err == nil {
			t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			ends = &t
		}
	}

	if err := h.userService.UpdateChatSubscription(ctx, sess.Customer.ID, true, ends); err != nil {
		h.logger.Error("failed to activate chat subscription", "error", err, "customer_id", sess.Customer.ID)
		return "error"
	}
	return "processed"
}

// handlePaymentSucceeded applies a billing-cycle renewal.
//
// The first invoice of a subscription arrives alongside the activation
// checkout event; the reconciler's ordering guard discards whichever of the
// two carries the older (or equal) period end.
func (h *WebhookHandler) handlePaymentSucceeded(ctx context.Context, event stripe.Event) string {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment succeeded event", "error", err)
		return "error"
	}

	if invoice.Customer == nil || invoice.Subscription == nil {
		// One-off invoices carry no subscription and need no reconciling
		return "ignored"
	}

	sub, err := h.billing.GetSubscription(invoice.Subscription.ID)
	if err != nil {
		h.logger.Error("failed to fetch subscription for renewal", "error", err, "invoice_id", invoice.ID)
		return "error"
	}

	periodStart := time.Unix(sub.CurrentPeriodStart, 0).UTC()
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()

	switch h.planForSubscription(sub) {
	case billing.CheckoutTypeRetainer:
		applied, err := h.entitlements.RenewRetainer(ctx, invoice.Customer.ID, periodStart, periodEnd)
		if err != nil {
			if domain.ErrorCode(err) == domain.ENOTFOUND {
				h.logger.Warn("renewal for unknown customer", "customer_id", invoice.Customer.ID)
				return "discarded"
			}
			h.logger.Error("failed to renew retainer", "error", err, "customer_id", invoice.Customer.ID)
			return "error"
		}
		if !applied {
			return "discarded"
		}
		return "processed"

	case billing.CheckoutTypeChat:
		if err := h.userService.UpdateChatSubscription(ctx, invoice.Customer.ID, true, &periodEnd); err != nil {
			h.logger.Error("failed to extend chat subscription", "error", err, "customer_id", invoice.Customer.ID)
			return "error"
		}
		return "processed"
	}

	return "ignored"
}

// handlePaymentFailed logs the failure. The retainer stays active until
// Stripe gives up and deletes the subscription; a failed payment alone does
// not revoke access.
func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) string {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment failed event", "error", err)
		return "error"
	}

	customerID := ""
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}
	h.logger.Warn("subscription payment failed", "customer_id", customerID, "invoice_id", invoice.ID)
	return "processed"
}

// handleSubscriptionDeleted revokes access for the cancelled plan.
func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) string {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return "error"
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription deleted event missing customer", "subscription_id", sub.ID)
		return "error"
	}

	switch h.planForSubscription(&sub) {
	case billing.CheckoutTypeRetainer:
		if err := h.entitlements.CancelRetainer(ctx, sub.Customer.ID); err != nil {
			if domain.ErrorCode(err) == domain.ENOTFOUND {
				h.logger.Warn("cancellation for unknown customer", "customer_id", sub.Customer.ID)
				return "discarded"
			}
			h.logger.Error("failed to cancel retainer", "error", err, "customer_id", sub.Customer.ID)
			return "error"
		}
		return "processed"

	case billing.CheckoutTypeChat:
		if err := h.userService.UpdateChatSubscription(ctx, sub.Customer.ID, false, nil); err != nil {
			h.logger.Error("failed to end chat subscription", "error", err, "customer_id", sub.Customer.ID)
			return "error"
		}
		return "processed"
	}

	return "ignored"
}

// planForSubscription maps a subscription to a checkout type by its price ID.
func (h *WebhookHandler) planForSubscription(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		switch item.Price.ID {
		case h.retainerPriceID:
			return billing.CheckoutTypeRetainer
		case h.chatPriceID:
			return billing.CheckoutTypeChat
		}
	}
	return ""
}
