// Package handler contains HTTP handlers for the advisory API.
//
// This file implements Stripe Checkout handlers for paid sessions and the
// retainer/chat subscriptions.
//
// Routes handled (all require authentication):
//   - POST /api/checkout/booking  -> CreateBookingCheckout
//   - POST /api/checkout/retainer -> CreateRetainerCheckout
//   - POST /api/checkout/chat     -> CreateChatCheckout
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/copperline/advisory/internal/auth"
	"github.com/copperline/advisory/internal/billing"
	"github.com/copperline/advisory/internal/domain"
	"github.com/copperline/advisory/internal/pricing"
	"github.com/copperline/advisory/internal/service"
)

// MaxPaidSessionMinutes caps pay-per-minute sessions at 4 hours. Retainer
// sessions have their own 60-minute cap enforced by the booking service.
const MaxPaidSessionMinutes = 240

// CheckoutHandler handles Stripe Checkout session creation.
type CheckoutHandler struct {
	billing     billing.Service
	userService service.UserService
	calc        *pricing.Calculator
	baseURL     string

	retainerPriceID string
	chatPriceID     string

	logger *slog.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewCheckoutHandler(
	billingService billing.Service,
	userService service.UserService,
	calc *pricing.Calculator,
	baseURL, retainerPriceID, chatPriceID string,
	logger *slog.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		billing:         billingService,
		userService:     userService,
		calc:            calc,
		baseURL:         baseURL,
		retainerPriceID: retainerPriceID,
		chatPriceID:     chatPriceID,
		logger:          logger,
	}
}

// RegisterRoutes registers checkout routes on the provided mux.
func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/checkout/booking", requireUser(http.HandlerFunc(h.CreateBookingCheckout)))
	mux.Handle("POST /api/checkout/retainer", requireUser(http.HandlerFunc(h.CreateRetainerCheckout)))
	mux.Handle("POST /api/checkout/chat", requireUser(http.HandlerFunc(h.CreateChatCheckout)))
}

// CreateBookingCheckout starts a one-time payment for a pay-per-minute
// session. The booking itself is only recorded when the payment completes,
// via the checkout.session.completed webhook.
func (h *CheckoutHandler) CreateBookingCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "CheckoutHandler.CreateBookingCheckout"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EPAYMENT, op, "Billing is not configured"))
		return
	}

	var req struct {
		ScheduledAt     time.Time `json:"scheduledAt"`
		DurationMinutes int       `json:"durationMinutes"`
		Channel         string    `json:"channel"`
		IntakeText      string    `json:"intakeText"`
	}
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if req.ScheduledAt.IsZero() {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Scheduled time is required"))
		return
	}
	if req.DurationMinutes > MaxPaidSessionMinutes {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Maximum session duration is 4 hours"))
		return
	}
	switch domain.Channel(req.Channel) {
	case domain.ChannelPhone, domain.ChannelVideo:
	case "":
		req.Channel = string(domain.ChannelVideo)
	default:
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Channel must be phone or video"))
		return
	}

	amountCents, err := h.calc.PriceForDuration(req.DurationMinutes)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	customerID, err := h.ensureCustomer(r, user)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreateBookingCheckout(billing.BookingCheckoutParams{
		CustomerID:      customerID,
		UserID:          user.ID.String(),
		AmountCents:     amountCents,
		DurationMinutes: req.DurationMinutes,
		ScheduledAt:     req.ScheduledAt,
		Channel:         req.Channel,
		IntakeText:      req.IntakeText,
		SuccessURL:      h.baseURL + "/bookings?checkout=success",
		CancelURL:       h.baseURL + "/bookings?checkout=cancelled",
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EPAYMENT, op, "Failed to create checkout session"))
		return
	}

	h.logger.Info("booking checkout created",
		"user_id", user.ID,
		"amount_cents", amountCents,
		"duration_minutes", req.DurationMinutes,
	)

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// CreateRetainerCheckout starts the monthly retainer subscription checkout.
func (h *CheckoutHandler) CreateRetainerCheckout(w http.ResponseWriter, r *http.Request) {
	h.createSubscriptionCheckout(w, r, h.retainerPriceID, billing.CheckoutTypeRetainer)
}

// CreateChatCheckout starts the monthly chat subscription checkout.
func (h *CheckoutHandler) CreateChatCheckout(w http.ResponseWriter, r *http.Request) {
	h.createSubscriptionCheckout(w, r, h.chatPriceID, billing.CheckoutTypeChat)
}

func (h *CheckoutHandler) createSubscriptionCheckout(w http.ResponseWriter, r *http.Request, priceID, checkoutType string) {
	const op = "CheckoutHandler.createSubscriptionCheckout"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EPAYMENT, op, "Billing is not configured"))
		return
	}
	if priceID == "" {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EPAYMENT, op, "Plan is not configured"))
		return
	}

	customerID, err := h.ensureCustomer(r, user)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreateSubscriptionCheckout(billing.SubscriptionCheckoutParams{
		CustomerID:   customerID,
		UserID:       user.ID.String(),
		PriceID:      priceID,
		CheckoutType: checkoutType,
		SuccessURL:   h.baseURL + "/account?checkout=success",
		CancelURL:    h.baseURL + "/account?checkout=cancelled",
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EPAYMENT, op, "Failed to create checkout session"))
		return
	}

	h.logger.Info("subscription checkout created",
		"user_id", user.ID,
		"type", checkoutType,
	)

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ensureCustomer returns the user's Stripe customer ID, creating the
// customer on first use.
func (h *CheckoutHandler) ensureCustomer(r *http.Request, user *domain.User) (string, error) {
	const op = "CheckoutHandler.ensureCustomer"

	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	customerID, err := h.billing.CreateCustomer(user.Email, user.Name)
	if err != nil {
		return "", domain.Wrap(err, domain.EPAYMENT, op, "Failed to create billing customer")
	}

	if err := h.userService.UpdateStripeCustomer(r.Context(), user.ID, customerID); err != nil {
		return "", err
	}

	return customerID, nil
}
