// Package service contains the business logic layer.
//
// This file implements the booking service: the retainer quota path, the
// paid-booking ledger, and refunds for unused session time.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/copperline/advisory/internal/domain"
	"github.com/copperline/advisory/internal/metrics"
	"github.com/copperline/advisory/internal/pricing"
	"github.com/copperline/advisory/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/copperline/advisory/internal/billing"
)

// =============================================================================
// Interface Definition
// =============================================================================

// BookingService defines operations on the booking ledger.
type BookingService interface {
	// BookRetainerSession books a session against the user's active retainer.
	//
	// The quota check and the booking insert happen in one transaction with
	// the entitlement row locked, so two concurrent requests for the same
	// subscriber serialize and the loser sees the winner's updated counters.
	//
	// Returns a domain error with code ENORETAINER, EPERIODEXPIRED,
	// EMONTHLYLIMIT, or EWEEKLYLIMIT when the retainer cannot cover the
	// session.
	BookRetainerSession(ctx context.Context, params domain.RetainerBookingParams) (*domain.Booking, error)

	// CreatePaidBooking records a pay-per-minute booking after its Stripe
	// checkout completed. Called from the webhook handler, not user requests.
	CreatePaidBooking(ctx context.Context, params domain.PaidBookingParams) (*domain.Booking, error)

	// RefundUnusedTime refunds the whole 15-minute blocks booked but not
	// used, based on the actual session length. The booking moves to
	// completed, then refunded if any amount was returned.
	// Returns domain.EINVALID if the booking cannot be refunded.
	RefundUnusedTime(ctx context.Context, bookingID, userID uuid.UUID, actualMinutes int) (*domain.Booking, error)

	// CancelBooking calls off a confirmed session before it happens. Paid
	// sessions are refunded in full; a retainer session's used quota slot
	// is not restored.
	// Returns domain.EINVALID if the booking is not cancellable.
	CancelBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error)

	// GetBooking retrieves a single booking.
	// Returns domain.ENOTFOUND if it does not exist.
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)

	// ListBookings returns the user's bookings, newest first.
	ListBookings(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error)

	// GetEntitlement returns the user's retainer entitlement record.
	// Returns domain.ENOTFOUND if the user has never had a retainer.
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
}

// =============================================================================
// Implementation
// =============================================================================

type bookingService struct {
	db      *sql.DB
	queries *repository.Queries
	billing billing.Service
	calc    *pricing.Calculator
	logger  *slog.Logger

	retryAttempts uint64
	retryBase     time.Duration
}

// NewBookingService creates a new BookingService.
//
// Dependencies:
// - db: database handle for booking transactions
// - queries: sqlc-generated database queries
// - billingSvc: Stripe operations (refunds); may be a stub in development
// - calc: session price calculator
// - retryAttempts/retryBase: budget for retrying serialization conflicts
func NewBookingService(
	db *sql.DB,
	queries *repository.Queries,
	billingSvc billing.Service,
	calc *pricing.Calculator,
	logger *slog.Logger,
	retryAttempts uint64,
	retryBase time.Duration,
) BookingService {
	return &bookingService{
		db:            db,
		queries:       queries,
		billing:       billingSvc,
		calc:          calc,
		logger:        logger,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
	}
}

// =============================================================================
// Retainer Booking
// =============================================================================

// BookRetainerSession books a session against the user's retainer allowance.
//
// Flow:
// 1. Validate request shape (duration cap, channel)
// 2. In a transaction: lock the entitlement row, evaluate the quota,
//    insert the booking, persist the advanced counters
// 3. Retry on serialization conflicts with exponential backoff
func (s *bookingService) BookRetainerSession(ctx context.Context, params domain.RetainerBookingParams) (*domain.Booking, error) {
	const op = "BookingService.BookRetainerSession"

	if err := params.Validate(); err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryBase))

	var booking *domain.Booking
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := s.bookRetainerTx(ctx, params, time.Now().UTC())
		if err != nil {
			if isSerializationError(err) {
				metrics.BookingRetries.Inc()
				s.logger.Warn("booking transaction conflict, retrying", "user_id", params.UserID)
				return retry.RetryableError(err)
			}
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		// Quota rejections carry their own codes; surface them unchanged
		if code := domain.ErrorCode(err); code != domain.EINTERNAL {
			metrics.QuotaRejections.WithLabelValues(code).Inc()
			return nil, err
		}
		return nil, domain.Internal(err, op, "Failed to book session")
	}

	metrics.BookingsCreated.WithLabelValues("retainer").Inc()
	s.logger.Info("retainer session booked",
		"user_id", params.UserID,
		"booking_id", booking.ID,
		"scheduled_at", params.ScheduledAt,
		"duration_minutes", params.DurationMinutes,
	)

	return booking, nil
}

// bookRetainerTx performs one attempt of the booking transaction.
//
// The entitlement row is locked with SELECT ... FOR UPDATE so concurrent
// bookings for the same subscriber serialize. The booking insert and the
// counter update commit atomically.
func (s *bookingService) bookRetainerTx(ctx context.Context, params domain.RetainerBookingParams, now time.Time) (*domain.Booking, error) {
	const op = "BookingService.bookRetainerTx"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	// Lock the entitlement row for this subscriber
	repoEnt, err := qtx.GetEntitlementForUpdate(ctx, params.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Never subscribed: same outcome as an inactive retainer
			return nil, domain.Errorf(domain.ENORETAINER, op, "No active retainer subscription")
		}
		return nil, domain.Internal(err, op, "Failed to load entitlement")
	}

	ent := repoEntitlementToDomain(repoEnt)

	// Quota decision; admitted returns the counters to persist
	admitted, err := ent.Evaluate(now)
	if err != nil {
		return nil, err
	}

	repoBooking, err := qtx.CreateBooking(ctx, repository.CreateBookingParams{
		UserID:          params.UserID,
		ScheduledAt:     params.ScheduledAt,
		DurationMinutes: int32(params.DurationMinutes),
		Channel:         string(params.Channel),
		IntakeText:      domain.ToNullString(params.IntakeText),
		RetainerCovered: true,
		PricePaid:       0,
		Status:          string(domain.BookingStatusConfirmed),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create booking")
	}

	err = qtx.UpdateEntitlementUsage(ctx, repository.UpdateEntitlementUsageParams{
		UserID:               params.UserID,
		SessionsUsedInPeriod: int32(admitted.SessionsUsedInPeriod),
		SessionsUsedInWeek:   int32(admitted.SessionsUsedInWeek),
		LastSessionWeekKey:   domain.ToNullString(admitted.LastSessionWeekKey),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to update entitlement usage")
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Internal(err, op, "Failed to commit booking")
	}

	return repoBookingToDomain(repoBooking), nil
}

// =============================================================================
// Paid Booking
// =============================================================================

// CreatePaidBooking records a pay-per-minute booking from a completed checkout.
func (s *bookingService) CreatePaidBooking(ctx context.Context, params domain.PaidBookingParams) (*domain.Booking, error) {
	const op = "BookingService.CreatePaidBooking"

	if params.UserID == uuid.Nil {
		return nil, domain.Invalid(op, "User ID is required")
	}
	if params.DurationMinutes <= 0 {
		return nil, domain.Invalid(op, "Duration must be positive")
	}
	if params.Channel == "" {
		params.Channel = domain.ChannelVideo
	}

	repoBooking, err := s.queries.CreateBooking(ctx, repository.CreateBookingParams{
		UserID:          params.UserID,
		ScheduledAt:     params.ScheduledAt,
		DurationMinutes: int32(params.DurationMinutes),
		Channel:         string(params.Channel),
		IntakeText:      domain.ToNullString(params.IntakeText),
		RetainerCovered: false,
		PricePaid:       params.PricePaid,
		Status:          string(domain.BookingStatusConfirmed),
		StripePaymentID: domain.ToNullString(params.StripePaymentID),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create booking")
	}

	metrics.BookingsCreated.WithLabelValues("paid").Inc()
	s.logger.Info("paid session booked",
		"user_id", params.UserID,
		"booking_id", repoBooking.ID,
		"price_paid", params.PricePaid,
	)

	return repoBookingToDomain(repoBooking), nil
}

// =============================================================================
// Refunds
// =============================================================================

// RefundUnusedTime issues a refund for booked-but-unused session time.
//
// Flow:
// 1. Load the booking and verify ownership
// 2. Compute the refund from whole unused 15-minute blocks
// 3. Issue the Stripe refund against the original payment
// 4. Record the refund and the actual duration on the ledger entry
//
// A session that ran its full length completes with no refund. Retainer
// sessions carry no payment and cannot be refunded.
func (s *bookingService) RefundUnusedTime(ctx context.Context, bookingID, userID uuid.UUID, actualMinutes int) (*domain.Booking, error) {
	const op = "BookingService.RefundUnusedTime"

	repoBooking, err := s.queries.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "booking", bookingID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve booking")
	}

	booking := repoBookingToDomain(repoBooking)

	// Ownership check; respond as not-found to avoid leaking other users' IDs
	if booking.UserID != userID {
		return nil, domain.NotFound(op, "booking", bookingID.String())
	}

	if booking.RetainerCovered {
		return nil, domain.Invalid(op, "Retainer sessions carry no payment to refund")
	}
	if actualMinutes < 0 {
		return nil, domain.Invalid(op, "Actual duration cannot be negative")
	}
	if actualMinutes > booking.DurationMinutes {
		return nil, domain.Invalid(op, "Actual duration cannot exceed booked duration")
	}
	if booking.Status != domain.BookingStatusConfirmed && booking.Status != domain.BookingStatusCompleted {
		return nil, domain.Invalid(op, "Booking is not refundable in its current state")
	}

	refundCents := s.calc.RefundForUnusedTime(booking.DurationMinutes, actualMinutes)

	// Session ran its full billing length: complete it, nothing to refund
	if refundCents == 0 {
		err = s.queries.RecordBookingRefund(ctx, repository.RecordBookingRefundParams{
			ID:                    booking.ID,
			Status:                string(domain.BookingStatusCompleted),
			ActualDurationMinutes: sql.NullInt32{Int32: int32(actualMinutes), Valid: true},
		})
		if err != nil {
			return nil, domain.Internal(err, op, "Failed to record session completion")
		}
		booking.Status = domain.BookingStatusCompleted
		booking.ActualDurationMinutes = actualMinutes
		return booking, nil
	}

	if booking.StripePaymentID == "" {
		return nil, domain.Invalid(op, "Booking has no payment on record")
	}

	refundID, err := s.billing.CreateRefund(booking.StripePaymentID, refundCents)
	if err != nil {
		return nil, domain.Wrap(err, domain.EPAYMENT, op, "Failed to issue refund")
	}

	err = s.queries.RecordBookingRefund(ctx, repository.RecordBookingRefundParams{
		ID:                    booking.ID,
		Status:                string(domain.BookingStatusRefunded),
		RefundAmount:          sql.NullInt64{Int64: refundCents, Valid: true},
		ActualDurationMinutes: sql.NullInt32{Int32: int32(actualMinutes), Valid: true},
	})
	if err != nil {
		// The Stripe refund succeeded but our record did not; log loudly
		s.logger.Error("refund issued but not recorded",
			"booking_id", booking.ID,
			"refund_id", refundID,
			"amount_cents", refundCents,
			"error", err,
		)
		return nil, domain.Internal(err, op, "Refund issued but could not be recorded")
	}

	metrics.RefundsTotal.Inc()
	metrics.RefundCentsTotal.Add(float64(refundCents))
	s.logger.Info("unused session time refunded",
		"booking_id", booking.ID,
		"refund_id", refundID,
		"amount_cents", refundCents,
		"amount", s.calc.FormatPrice(refundCents),
	)

	booking.Status = domain.BookingStatusRefunded
	booking.ActualDurationMinutes = actualMinutes
	booking.RefundAmount = refundCents
	return booking, nil
}

// =============================================================================
// Cancellation
// =============================================================================

// CancelBooking calls off a confirmed session.
//
// A paid session cancelled ahead of time gets its payment refunded in full.
// A retainer session just moves to cancelled; the quota slot it consumed
// stays spent, which keeps cancel-and-rebook from stretching the weekly cap.
func (s *bookingService) CancelBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	const op = "BookingService.CancelBooking"

	repoBooking, err := s.queries.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "booking", bookingID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve booking")
	}

	booking := repoBookingToDomain(repoBooking)

	// Ownership check; respond as not-found to avoid leaking other users' IDs
	if booking.UserID != userID {
		return nil, domain.NotFound(op, "booking", bookingID.String())
	}

	if err := booking.TransitionTo(domain.BookingStatusCancelled); err != nil {
		return nil, err
	}

	if !booking.RetainerCovered && booking.PricePaid > 0 {
		if booking.StripePaymentID == "" {
			return nil, domain.Invalid(op, "Booking has no payment on record")
		}

		refundID, err := s.billing.CreateRefund(booking.StripePaymentID, booking.PricePaid)
		if err != nil {
			return nil, domain.Wrap(err, domain.EPAYMENT, op, "Failed to refund cancelled booking")
		}

		err = s.queries.RecordBookingRefund(ctx, repository.RecordBookingRefundParams{
			ID:           booking.ID,
			Status:       string(domain.BookingStatusCancelled),
			RefundAmount: sql.NullInt64{Int64: booking.PricePaid, Valid: true},
		})
		if err != nil {
			// The Stripe refund succeeded but our record did not; log loudly
			s.logger.Error("cancellation refund issued but not recorded",
				"booking_id", booking.ID,
				"refund_id", refundID,
				"amount_cents", booking.PricePaid,
				"error", err,
			)
			return nil, domain.Internal(err, op, "Refund issued but could not be recorded")
		}

		metrics.RefundsTotal.Inc()
		metrics.RefundCentsTotal.Add(float64(booking.PricePaid))
		s.logger.Info("paid booking cancelled and refunded",
			"booking_id", booking.ID,
			"refund_id", refundID,
			"amount_cents", booking.PricePaid,
		)

		booking.RefundAmount = booking.PricePaid
		return booking, nil
	}

	err = s.queries.UpdateBookingStatus(ctx, repository.UpdateBookingStatusParams{
		ID:     booking.ID,
		Status: string(domain.BookingStatusCancelled),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to cancel booking")
	}

	s.logger.Info("booking cancelled",
		"booking_id", booking.ID,
		"user_id", userID,
	)

	return booking, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetBooking retrieves a single booking.
func (s *bookingService) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "BookingService.GetBooking"

	repoBooking, err := s.queries.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "booking", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve booking")
	}

	return repoBookingToDomain(repoBooking), nil
}

// ListBookings returns the user's bookings, newest first.
func (s *bookingService) ListBookings(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error) {
	const op = "BookingService.ListBookings"

	repoBookings, err := s.queries.ListBookingsByUser(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list bookings")
	}

	bookings := make([]*domain.Booking, 0, len(repoBookings))
	for _, rb := range repoBookings {
		bookings = append(bookings, repoBookingToDomain(rb))
	}
	return bookings, nil
}

// GetEntitlement returns the user's retainer entitlement record.
func (s *bookingService) GetEntitlement(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	const op = "BookingService.GetEntitlement"

	repoEnt, err := s.queries.GetEntitlement(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "entitlement", userID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve entitlement")
	}

	return repoEntitlementToDomain(repoEnt), nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// isSerializationError reports whether err is a transient transaction
// conflict worth retrying: serialization failure (40001) or deadlock
// detected (40P01).
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// repoBookingToDomain converts a repository.Booking to domain.Booking.
func repoBookingToDomain(b repository.Booking) *domain.Booking {
	return &domain.Booking{
		ID:                    b.ID,
		UserID:                b.UserID,
		ScheduledAt:           b.ScheduledAt,
		DurationMinutes:       int(b.DurationMinutes),
		Channel:               domain.Channel(b.Channel),
		IntakeText:            domain.NullStringValue(b.IntakeText),
		RetainerCovered:       b.RetainerCovered,
		PricePaid:             b.PricePaid,
		Status:                domain.BookingStatus(b.Status),
		StripePaymentID:       domain.NullStringValue(b.StripePaymentID),
		ActualDurationMinutes: int(nullInt32Value(b.ActualDurationMinutes)),
		RefundAmount:          nullInt64Value(b.RefundAmount),
		CreatedAt:             b.CreatedAt,
		UpdatedAt:             b.UpdatedAt,
	}
}

// repoEntitlementToDomain converts a repository.Entitlement to
// domain.Entitlement.
func repoEntitlementToDomain(e repository.Entitlement) *domain.Entitlement {
	ent := &domain.Entitlement{
		UserID:               e.UserID,
		StripeCustomerID:     domain.NullStringValue(e.StripeCustomerID),
		RetainerActive:       e.RetainerActive,
		SessionsUsedInPeriod: int(e.SessionsUsedInPeriod),
		SessionsUsedInWeek:   int(e.SessionsUsedInWeek),
		LastSessionWeekKey:   domain.NullStringValue(e.LastSessionWeekKey),
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
	if e.PeriodStart.Valid {
		ent.PeriodStart = e.PeriodStart.Time
	}
	if e.PeriodEnd.Valid {
		ent.PeriodEnd = e.PeriodEnd.Time
	}
	return ent
}

func nullInt32Value(n sql.NullInt32) int32 {
	if n.Valid {
		return n.Int32
	}
	return 0
}

func nullInt64Value(n sql.NullInt64) int64 {
	if n.Valid {
		return n.Int64
	}
	return 0
}
