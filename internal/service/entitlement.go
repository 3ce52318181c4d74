// Package service contains the business logic layer.
//
// This file implements the entitlement service: the reconciler that applies
// billing lifecycle events (activation, renewal, cancellation) to retainer
// entitlement records.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/copperline/advisory/internal/domain"
	"github.com/copperline/advisory/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService applies billing lifecycle events to entitlement records.
//
// Stripe delivers webhooks at-least-once and without ordering guarantees, so
// every mutation here must be safe to replay and must discard events that
// describe an older billing period than the one on record.
type EntitlementService interface {
	// ActivateRetainer grants a fresh allowance when a retainer subscription
	// is first purchased. Counters always start at zero, even if the user
	// held a retainer before.
	// Returns applied=false if the event describes a period older than the
	// one already on record.
	ActivateRetainer(ctx context.Context, userID uuid.UUID, stripeCustomerID string, periodStart, periodEnd time.Time) (applied bool, err error)

	// RenewRetainer resets the allowance for a new billing period.
	// Returns applied=false if the renewal is stale: its period does not
	// extend past the period already on record. This covers both duplicate
	// deliveries and out-of-order renewal/activation pairs.
	// Returns domain.ENOTFOUND if no entitlement exists for the customer.
	RenewRetainer(ctx context.Context, stripeCustomerID string, periodStart, periodEnd time.Time) (applied bool, err error)

	// CancelRetainer marks the retainer inactive. Usage counters and period
	// bounds are left untouched.
	// Returns domain.ENOTFOUND if no entitlement exists for the customer.
	CancelRetainer(ctx context.Context, stripeCustomerID string) error

	// MarkEventProcessed records a webhook event ID, claiming it for
	// processing. Returns false if the event was already recorded, in which
	// case the caller must acknowledge without reapplying it.
	MarkEventProcessed(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)

	// PruneProcessedEvents deletes webhook event records older than the
	// retention window.
	PruneProcessedEvents(ctx context.Context) error
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	db      *sql.DB
	queries *repository.Queries
	logger  *slog.Logger
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(db *sql.DB, queries *repository.Queries, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		db:      db,
		queries: queries,
		logger:  logger,
	}
}

// ActivateRetainer grants a fresh allowance for a new subscription.
func (s *entitlementService) ActivateRetainer(ctx context.Context, userID uuid.UUID, stripeCustomerID string, periodStart, periodEnd time.Time) (bool, error) {
	const op = "EntitlementService.ActivateRetainer"

	if userID == uuid.Nil {
		return false, domain.Invalid(op, "User ID is required")
	}
	if stripeCustomerID == "" {
		return false, domain.Invalid(op, "Stripe customer ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	// A replayed or late activation must not clobber a newer period. Lock
	// the existing row (if any) and compare period ends before writing.
	existing, err := qtx.GetEntitlementForUpdate(ctx, userID)
	if err == nil {
		if existing.PeriodEnd.Valid && !periodEnd.After(existing.PeriodEnd.Time) {
			s.logger.Warn("stale activation discarded",
				"user_id", userID,
				"stored_period_end", existing.PeriodEnd.Time,
				"event_period_end", periodEnd,
			)
			return false, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, domain.Internal(err, op, "Failed to load entitlement")
	}

	_, err = qtx.UpsertEntitlement(ctx, repository.UpsertEntitlementParams{
		UserID:           userID,
		StripeCustomerID: domain.ToNullString(stripeCustomerID),
		RetainerActive:   true,
		PeriodStart:      sql.NullTime{Time: periodStart, Valid: true},
		PeriodEnd:        sql.NullTime{Time: periodEnd, Valid: true},
	})
	if err != nil {
		return false, domain.Internal(err, op, "Failed to activate retainer")
	}

	if err := tx.Commit(); err != nil {
		return false, domain.Internal(err, op, "Failed to commit activation")
	}

	s.logger.Info("retainer activated",
		"user_id", userID,
		"customer_id", stripeCustomerID,
		"period_end", periodEnd,
	)

	return true, nil
}

// RenewRetainer resets the allowance for a new billing period.
func (s *entitlementService) RenewRetainer(ctx context.Context, stripeCustomerID string, periodStart, periodEnd time.Time) (bool, error) {
	const op = "EntitlementService.RenewRetainer"

	if stripeCustomerID == "" {
		return false, domain.Invalid(op, "Stripe customer ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	existing, err := qtx.GetEntitlementByCustomerForUpdate(ctx, domain.ToNullString(stripeCustomerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.NotFound(op, "entitlement", stripeCustomerID)
		}
		return false, domain.Internal(err, op, "Failed to load entitlement")
	}

	// Ordering guard: a renewal only counts if it extends the period on
	// record. Anything else is a duplicate delivery or an event that was
	// overtaken by a newer one.
	if existing.PeriodEnd.Valid && !periodEnd.After(existing.PeriodEnd.Time) {
		s.logger.Warn("stale renewal discarded",
			"customer_id", stripeCustomerID,
			"stored_period_end", existing.PeriodEnd.Time,
			"event_period_end", periodEnd,
		)
		return false, nil
	}

	err = qtx.RenewEntitlement(ctx, repository.RenewEntitlementParams{
		UserID:      existing.UserID,
		PeriodStart: sql.NullTime{Time: periodStart, Valid: true},
		PeriodEnd:   sql.NullTime{Time: periodEnd, Valid: true},
	})
	if err != nil {
		return false, domain.Internal(err, op, "Failed to renew entitlement")
	}

	if err := tx.Commit(); err != nil {
		return false, domain.Internal(err, op, "Failed to commit renewal")
	}

	s.logger.Info("retainer renewed",
		"user_id", existing.UserID,
		"customer_id", stripeCustomerID,
		"period_end", periodEnd,
	)

	return true, nil
}

// CancelRetainer marks the retainer inactive.
//
// Counters and period bounds stay as-is: booking is gated on the active flag
// alone, and a later reactivation grants a fresh allowance anyway.
func (s *entitlementService) CancelRetainer(ctx context.Context, stripeCustomerID string) error {
	const op = "EntitlementService.CancelRetainer"

	if stripeCustomerID == "" {
		return domain.Invalid(op, "Stripe customer ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	existing, err := qtx.GetEntitlementByCustomerForUpdate(ctx, domain.ToNullString(stripeCustomerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "entitlement", stripeCustomerID)
		}
		return domain.Internal(err, op, "Failed to load entitlement")
	}

	if err := qtx.SetEntitlementInactive(ctx, existing.UserID); err != nil {
		return domain.Internal(err, op, "Failed to cancel retainer")
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "Failed to commit cancellation")
	}

	s.logger.Info("retainer cancelled",
		"user_id", existing.UserID,
		"customer_id", stripeCustomerID,
	)

	return nil
}

// MarkEventProcessed claims a webhook event ID for processing.
func (s *entitlementService) MarkEventProcessed(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	const op = "EntitlementService.MarkEventProcessed"

	if eventID == "" {
		return false, domain.Invalid(op, "Event ID is required")
	}

	rows, err := s.queries.InsertWebhookEvent(ctx, repository.InsertWebhookEventParams{
		ID:        eventID,
		EventType: eventType,
		Payload:   pqtype.NullRawMessage{RawMessage: payload, Valid: len(payload) > 0},
	})
	if err != nil {
		return false, domain.Internal(err, op, "Failed to record webhook event")
	}

	// Zero rows affected means the ON CONFLICT clause fired: this event ID
	// was already processed.
	return rows > 0, nil
}

// PruneProcessedEvents deletes webhook event records past the retention
// window.
func (s *entitlementService) PruneProcessedEvents(ctx context.Context) error {
	const op = "EntitlementService.PruneProcessedEvents"

	count, err := s.queries.DeleteOldWebhookEvents(ctx)
	if err != nil {
		return domain.Internal(err, op, "Failed to prune webhook events")
	}

	if count > 0 {
		s.logger.Info("old webhook events pruned", "count", count)
	}

	return nil
}
