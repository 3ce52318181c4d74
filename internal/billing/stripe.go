// Package billing provides Stripe integration for session payments and
// retainer/chat subscriptions.
package billing

import (
	"fmt"
	"time"

	"github.com/copperline/advisory/internal/pricing"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/refund"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Checkout metadata keys and values. The webhook handler reads these back to
// decide what a completed checkout session was paying for.
const (
	MetaKeyType            = "type"
	MetaKeyUserID          = "userId"
	MetaKeyScheduledAt     = "scheduledAt"
	MetaKeyDurationMinutes = "durationMinutes"
	MetaKeyChannel         = "channel"
	MetaKeyIntakeText      = "intakeText"

	CheckoutTypeBooking  = "booking"
	CheckoutTypeRetainer = "retainer"
	CheckoutTypeChat     = "chat"
)

// Stripe caps metadata values at 500 characters.
const maxMetadataValueLen = 500

// Service defines the interface for billing operations.
type Service interface {
	// CreateCustomer creates a new Stripe customer for the given email.
	CreateCustomer(email, name string) (string, error)

	// CreateBookingCheckout creates a one-time-payment Checkout session for a
	// pay-per-minute advisory session. Returns the checkout URL.
	CreateBookingCheckout(p BookingCheckoutParams) (string, error)

	// CreateSubscriptionCheckout creates a recurring Checkout session for the
	// retainer or chat plan. checkoutType must be CheckoutTypeRetainer or
	// CheckoutTypeChat. Returns the checkout URL.
	CreateSubscriptionCheckout(p SubscriptionCheckoutParams) (string, error)

	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// CreateRefund refunds part of a payment intent.
	// Returns the Stripe refund ID.
	CreateRefund(paymentIntentID string, amountCents int64) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// BookingCheckoutParams describe a one-time advisory session purchase.
type BookingCheckoutParams struct {
	CustomerID      string
	UserID          string
	AmountCents     int64
	DurationMinutes int
	ScheduledAt     time.Time
	Channel         string
	IntakeText      string
	SuccessURL      string
	CancelURL       string
}

// SubscriptionCheckoutParams describe a recurring plan purchase.
type SubscriptionCheckoutParams struct {
	CustomerID   string
	UserID       string
	PriceID      string
	CheckoutType string // CheckoutTypeRetainer or CheckoutTypeChat
	SuccessURL   string
	CancelURL    string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls. The webhookSecret verifies
// incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
	}
}

func (s *stripeService) CreateCustomer(email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (s *stripeService) CreateBookingCheckout(p BookingCheckoutParams) (string, error) {
	name := "Advisory Session - " + pricing.SlotLabel(p.DurationMinutes)
	description := fmt.Sprintf("%s consultation on %s",
		channelLabel(p.Channel), p.ScheduledAt.Format("January 2, 2006"))

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(p.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(name),
						Description: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(p.UserID),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
	}
	params.AddMetadata(MetaKeyType, CheckoutTypeBooking)
	params.AddMetadata(MetaKeyUserID, p.UserID)
	params.AddMetadata(MetaKeyScheduledAt, p.ScheduledAt.Format(time.RFC3339))
	params.AddMetadata(MetaKeyDurationMinutes, fmt.Sprintf("%d", p.DurationMinutes))
	params.AddMetadata(MetaKeyChannel, p.Channel)
	params.AddMetadata(MetaKeyIntakeText, truncate(p.IntakeText, maxMetadataValueLen))

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create booking checkout: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreateSubscriptionCheckout(p SubscriptionCheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(p.UserID),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
	}
	params.AddMetadata(MetaKeyType, p.CheckoutType)
	params.AddMetadata(MetaKeyUserID, p.UserID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create subscription checkout: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) CreateRefund(paymentIntentID string, amountCents int64) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create refund: %w", err)
	}
	return r.ID, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func channelLabel(channel string) string {
	if channel == "phone" {
		return "Phone"
	}
	return "Video"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
