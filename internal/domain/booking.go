// Package domain contains core business types and interfaces.
//
// This file defines the booking ledger entry for advisory sessions, both
// retainer-covered and pay-per-minute.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// CanTransitionTo checks whether a booking may move to the target status.
//
// Valid transitions:
// - confirmed -> completed (session held)
// - completed -> refunded (unused time refunded afterwards)
// - confirmed -> cancelled (called off before the session)
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	switch s {
	case BookingStatusConfirmed:
		return target == BookingStatusCompleted || target == BookingStatusCancelled
	case BookingStatusCompleted:
		return target == BookingStatusRefunded
	}
	return false
}

// Channel is how the session is fulfilled.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelVideo Channel = "video"
)

// Booking is one ledger entry for a scheduled advisory session.
//
// Entries are append-only: after creation the only permitted mutations are
// status transitions and the refund fields populated by a later refund.
type Booking struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	ScheduledAt           time.Time
	DurationMinutes       int
	Channel               Channel
	IntakeText            string
	RetainerCovered       bool  // true when covered by the retainer (PricePaid is 0)
	PricePaid             int64 // minor currency units
	Status                BookingStatus
	StripePaymentID       string
	ActualDurationMinutes int   // 0 until a refund records actual usage
	RefundAmount          int64 // minor currency units, 0 unless refunded
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TransitionTo moves the booking to the target status, or returns an error
// leaving the booking unchanged if the transition is not allowed.
func (b *Booking) TransitionTo(target BookingStatus) error {
	if !b.Status.CanTransitionTo(target) {
		return Invalid("booking.transition",
			fmt.Sprintf("cannot transition booking from %s to %s", b.Status, target))
	}
	b.Status = target
	return nil
}

// RetainerBookingParams are the validated inputs for booking a session
// against an active retainer.
type RetainerBookingParams struct {
	UserID          uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Channel         Channel
	IntakeText      string
}

// Validate checks the request shape. Quota enforcement happens later, inside
// the booking transaction.
func (p *RetainerBookingParams) Validate() error {
	const op = "booking.validate"
	if p.UserID == uuid.Nil {
		return Invalid(op, "User ID is required")
	}
	if p.ScheduledAt.IsZero() {
		return Invalid(op, "Scheduled time is required")
	}
	if p.DurationMinutes <= 0 {
		return Invalid(op, "Duration must be positive")
	}
	if p.DurationMinutes > MaxRetainerSessionMinutes {
		return Invalid(op, fmt.Sprintf("Maximum session duration is %d minutes for retainer sessions", MaxRetainerSessionMinutes))
	}
	switch p.Channel {
	case ChannelPhone, ChannelVideo:
	case "":
		p.Channel = ChannelVideo
	default:
		return Invalid(op, "Channel must be phone or video")
	}
	return nil
}

// PaidBookingParams are the inputs recorded when a paid session checkout
// completes. These arrive via the Stripe webhook, not a user request.
type PaidBookingParams struct {
	UserID          uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Channel         Channel
	IntakeText      string
	PricePaid       int64
	StripePaymentID string
}
