package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/copperline/advisory/internal"
	"github.com/copperline/advisory/internal/domain"
	"github.com/copperline/advisory/internal/pricing"
	"github.com/copperline/advisory/internal/repository"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// openTestDB connects to the database named by TEST_DATABASE_URL and applies
// migrations. Tests that need a real database skip when it is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, internal.RunMigrations(db))
	return db
}

// TestBookRetainerSession_ConcurrentRequests verifies that concurrent booking
// requests for the same subscriber serialize on the entitlement row: with a
// weekly limit of 2, exactly 2 of 4 simultaneous requests are admitted and
// the counters never overshoot.
func TestBookRetainerSession_ConcurrentRequests(t *testing.T) {
	db := openTestDB(t)
	queries := repository.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, repository.CreateUserParams{
		Email:        fmt.Sprintf("concurrent-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "x",
		Name:         "Concurrent Test",
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = queries.UpsertEntitlement(ctx, repository.UpsertEntitlementParams{
		UserID:           user.ID,
		StripeCustomerID: sql.NullString{String: "cus_concurrent_" + user.ID.String(), Valid: true},
		RetainerActive:   true,
		PeriodStart:      sql.NullTime{Time: now.AddDate(0, 0, -1), Valid: true},
		PeriodEnd:        sql.NullTime{Time: now.AddDate(0, 0, 29), Valid: true},
	})
	require.NoError(t, err)

	svc := NewBookingService(db, queries, nil, pricing.NewCalculator(pricing.DefaultPerBlockCents), logger, 3, 25*time.Millisecond)

	const attempts = 4
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.BookRetainerSession(ctx, domain.RetainerBookingParams{
				UserID:          user.ID,
				ScheduledAt:     now.AddDate(0, 0, 1),
				DurationMinutes: 30,
				Channel:         domain.ChannelVideo,
			})
		}(i)
	}
	wg.Wait()

	admitted, rejected := 0, 0
	for _, err := range results {
		if err == nil {
			admitted++
			continue
		}
		rejected++
		require.Equal(t, domain.EWEEKLYLIMIT, domain.ErrorCode(err))
	}
	require.Equal(t, domain.WeeklySessionLimit, admitted)
	require.Equal(t, attempts-domain.WeeklySessionLimit, rejected)

	ent, err := queries.GetEntitlement(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int32(2), ent.SessionsUsedInPeriod)
	require.Equal(t, int32(2), ent.SessionsUsedInWeek)
	require.Equal(t, domain.WeekKey(now), ent.LastSessionWeekKey.String)

	bookings, err := queries.ListBookingsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
}

// TestCancelBooking_RetainerSession verifies that cancelling a retainer
// session moves it to cancelled without giving the quota slot back, and that
// a second cancel is rejected.
func TestCancelBooking_RetainerSession(t *testing.T) {
	db := openTestDB(t)
	queries := repository.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, repository.CreateUserParams{
		Email:        fmt.Sprintf("cancel-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "x",
		Name:         "Cancel Test",
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = queries.UpsertEntitlement(ctx, repository.UpsertEntitlementParams{
		UserID:           user.ID,
		StripeCustomerID: sql.NullString{String: "cus_cancel_" + user.ID.String(), Valid: true},
		RetainerActive:   true,
		PeriodStart:      sql.NullTime{Time: now.AddDate(0, 0, -1), Valid: true},
		PeriodEnd:        sql.NullTime{Time: now.AddDate(0, 0, 29), Valid: true},
	})
	require.NoError(t, err)

	svc := NewBookingService(db, queries, nil, pricing.NewCalculator(pricing.DefaultPerBlockCents), logger, 3, 25*time.Millisecond)

	booking, err := svc.BookRetainerSession(ctx, domain.RetainerBookingParams{
		UserID:          user.ID,
		ScheduledAt:     now.AddDate(0, 0, 2),
		DurationMinutes: 30,
		Channel:         domain.ChannelVideo,
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelBooking(ctx, booking.ID, user.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingStatusCancelled, cancelled.Status)

	stored, err := queries.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.BookingStatusCancelled), stored.Status)

	// The quota slot stays spent
	ent, err := queries.GetEntitlement(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int32(1), ent.SessionsUsedInPeriod)
	require.Equal(t, int32(1), ent.SessionsUsedInWeek)

	// Already cancelled: the transition is rejected
	_, err = svc.CancelBooking(ctx, booking.ID, user.ID)
	require.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

// TestRenewRetainer_OrderingGuard verifies that a renewal carrying an older
// period than the one on record is discarded, and that a genuine renewal
// resets the allowance.
func TestRenewRetainer_OrderingGuard(t *testing.T) {
	db := openTestDB(t)
	queries := repository.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, repository.CreateUserParams{
		Email:        fmt.Sprintf("renewal-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "x",
		Name:         "Renewal Test",
	})
	require.NoError(t, err)

	customerID := "cus_renewal_" + user.ID.String()
	now := time.Now().UTC().Truncate(time.Second)

	svc := NewEntitlementService(db, queries, logger)

	applied, err := svc.ActivateRetainer(ctx, user.ID, customerID, now, now.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.True(t, applied)

	// Consume some allowance
	require.NoError(t, queries.UpdateEntitlementUsage(ctx, repository.UpdateEntitlementUsageParams{
		UserID:               user.ID,
		SessionsUsedInPeriod: 5,
		SessionsUsedInWeek:   2,
		LastSessionWeekKey:   sql.NullString{String: domain.WeekKey(now), Valid: true},
	}))

	// A stale renewal (older period end) must be discarded
	applied, err = svc.RenewRetainer(ctx, customerID, now.AddDate(0, -1, 0), now)
	require.NoError(t, err)
	require.False(t, applied)

	ent, err := queries.GetEntitlement(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int32(5), ent.SessionsUsedInPeriod)

	// A renewal extending the period resets the allowance
	applied, err = svc.RenewRetainer(ctx, customerID, now.AddDate(0, 1, 0), now.AddDate(0, 2, 0))
	require.NoError(t, err)
	require.True(t, applied)

	ent, err = queries.GetEntitlement(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, ent.RetainerActive)
	require.Equal(t, int32(0), ent.SessionsUsedInPeriod)
	require.Equal(t, int32(0), ent.SessionsUsedInWeek)
	require.False(t, ent.LastSessionWeekKey.Valid)

	// Cancellation flips the flag and nothing else
	require.NoError(t, svc.CancelRetainer(ctx, customerID))

	ent, err = queries.GetEntitlement(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, ent.RetainerActive)
}

// TestMarkEventProcessed_Deduplicates verifies at-least-once delivery
// handling: the second insert of the same event ID reports a duplicate.
func TestMarkEventProcessed_Deduplicates(t *testing.T) {
	db := openTestDB(t)
	queries := repository.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	svc := NewEntitlementService(db, queries, logger)

	eventID := fmt.Sprintf("evt_test_%d", time.Now().UnixNano())

	first, err := svc.MarkEventProcessed(ctx, eventID, "invoice.payment_succeeded", []byte(`{"id":"`+eventID+`"}`))
	require.NoError(t, err)
	require.True(t, first)

	second, err := svc.MarkEventProcessed(ctx, eventID, "invoice.payment_succeeded", nil)
	require.NoError(t, err)
	require.False(t, second)
}
