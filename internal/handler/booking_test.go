package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/copperline/advisory/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock BookingService Implementation
// =============================================================================

// mockBookingService implements the service.BookingService interface for testing.
type mockBookingService struct {
	BookRetainerSessionFunc func(ctx context.Context, params domain.RetainerBookingParams) (*domain.Booking, error)
	CreatePaidBookingFunc   func(ctx context.Context, params domain.PaidBookingParams) (*domain.Booking, error)
	RefundUnusedTimeFunc    func(ctx context.Context, bookingID, userID uuid.UUID, actualMinutes int) (*domain.Booking, error)
	CancelBookingFunc       func(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error)
	GetBookingFunc          func(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListBookingsFunc        func(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error)
	GetEntitlementFunc      func(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
}

func (m *mockBookingService) BookRetainerSession(ctx context.Context, params domain.RetainerBookingParams) (*domain.Booking, error) {
	if m.BookRetainerSessionFunc != nil {
		return m.BookRetainerSessionFunc(ctx, params)
	}
	return nil, errors.New("BookRetainerSessionFunc not implemented")
}

func (m *mockBookingService) CreatePaidBooking(ctx context.Context, params domain.PaidBookingParams) (*domain.Booking, error) {
	if m.CreatePaidBookingFunc != nil {
		return m.CreatePaidBookingFunc(ctx, params)
	}
	return nil, errors.New("CreatePaidBookingFunc not implemented")
}

func (m *mockBookingService) RefundUnusedTime(ctx context.Context, bookingID, userID uuid.UUID, actualMinutes int) (*domain.Booking, error) {
	if m.RefundUnusedTimeFunc != nil {
		return m.RefundUnusedTimeFunc(ctx, bookingID, userID, actualMinutes)
	}
	return nil, errors.New("RefundUnusedTimeFunc not implemented")
}

func (m *mockBookingService) CancelBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	if m.CancelBookingFunc != nil {
		return m.CancelBookingFunc(ctx, bookingID, userID)
	}
	return nil, errors.New("CancelBookingFunc not implemented")
}

func (m *mockBookingService) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, id)
	}
	return nil, errors.New("GetBookingFunc not implemented")
}

func (m *mockBookingService) ListBookings(ctx context.Context, userID uuid.UUID) ([]*domain.Booking, error) {
	if m.ListBookingsFunc != nil {
		return m.ListBookingsFunc(ctx, userID)
	}
	return nil, errors.New("ListBookingsFunc not implemented")
}

func (m *mockBookingService) GetEntitlement(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	if m.GetEntitlementFunc != nil {
		return m.GetEntitlementFunc(ctx, userID)
	}
	return nil, errors.New("GetEntitlementFunc not implemented")
}

// =============================================================================
// BookRetainerSession Tests
// =============================================================================

func TestBookRetainerSession_Success(t *testing.T) {
	user := testUser()
	scheduled := time.Date(2026, 9, 14, 15, 0, 0, 0, time.UTC)

	svc := &mockBookingService{
		BookRetainerSessionFunc: func(ctx context.Context, params domain.RetainerBookingParams) (*domain.Booking, error) {
			assert.Equal(t, user.ID, params.UserID)
			assert.Equal(t, 30, params.DurationMinutes)
			return &domain.Booking{
				ID:              uuid.New(),
				UserID:          user.ID,
				ScheduledAt:     params.ScheduledAt,
				DurationMinutes: params.DurationMinutes,
				Channel:         params.Channel,
				RetainerCovered: true,
				Status:          domain.BookingStatusConfirmed,
			}, nil
		},
		GetEntitlementFunc: func(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
			now := time.Now().UTC()
			return &domain.Entitlement{
				UserID:               user.ID,
				RetainerActive:       true,
				PeriodStart:          now.AddDate(0, 0, -5),
				PeriodEnd:            now.AddDate(0, 0, 25),
				SessionsUsedInPeriod: 1,
				SessionsUsedInWeek:   1,
				LastSessionWeekKey:   domain.WeekKey(now),
			}, nil
		},
	}
	h := NewBookingHandler(svc, testLogger())

	body := strings.NewReader(fmt.Sprintf(
		`{"scheduledAt":%q,"durationMinutes":30,"channel":"video"}`,
		scheduled.Format(time.RFC3339)))
	r := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/bookings/retainer", body), user)
	w := httptest.NewRecorder()

	h.BookRetainerSession(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Booking bookingResponse `json:"booking"`
		Usage   usageResponse   `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Booking.RetainerCovered)
	assert.Equal(t, int64(0), resp.Booking.PricePaid)
	assert.Equal(t, "confirmed", resp.Booking.Status)

	// Response carries the remaining allowance
	assert.Equal(t, 1, resp.Usage.SessionsUsed)
	assert.Equal(t, 7, resp.Usage.SessionsRemaining)
	assert.Equal(t, 1, resp.Usage.SessionsThisWeek)
}

func TestBookRetainerSession_QuotaRejections(t *testing.T) {
	user := testUser()

	rejections := []struct {
		code    string
		message string
	}{
		{domain.ENORETAINER, "No active retainer subscription"},
		{domain.EPERIODEXPIRED, "Retainer period has expired"},
		{domain.EMONTHLYLIMIT, "Monthly session limit reached (8 sessions max)"},
		{domain.EWEEKLYLIMIT, "Weekly session limit reached (2 sessions max per week)"},
	}

	for _, tc := range rejections {
		t.Run(tc.code, func(t *testing.T) {
			svc := &mockBookingService{
				BookRetainerSessionFunc: func(ctx context.Context, params domain.RetainerBookingParams) (*domain.Booking, error) {
					return nil, domain.Errorf(tc.code, "entitlement.evaluate", "%s", tc.message)
				},
			}
			h := NewBookingHandler(svc, testLogger())

			body := strings.NewReader(`{"scheduledAt":"2026-09-14T15:00:00Z","durationMinutes":30}`)
			r := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/bookings/retainer", body), user)
			w := httptest.NewRecorder()

			h.BookRetainerSession(w, r)

			// Every rejection reason is a 403 with its code in the body
			assert.Equal(t, http.StatusForbidden, w.Code)

			var resp JSONError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, tc.message, resp.Error.Message)
		})
	}
}

func TestBookRetainerSession_Unauthenticated(t *testing.T) {
	h := NewBookingHandler(&mockBookingService{}, testLogger())

	body := strings.NewReader(`{"scheduledAt":"2026-09-14T15:00:00Z","durationMinutes":30}`)
	r := httptest.NewRequest(http.MethodPost, "/api/bookings/retainer", body)
	w := httptest.NewRecorder()

	h.BookRetainerSession(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// GetBooking Tests
// =============================================================================

func TestGetBooking_OtherUsersBookingHidden(t *testing.T) {
	user := testUser()
	bookingID := uuid.New()

	svc := &mockBookingService{
		GetBookingFunc: func(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
			return &domain.Booking{
				ID:     bookingID,
				UserID: uuid.New(), // someone else's booking
				Status: domain.BookingStatusConfirmed,
			}, nil
		},
	}
	h := NewBookingHandler(svc, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodGet, "/api/bookings/"+bookingID.String(), nil), user)
	r.SetPathValue("id", bookingID.String())
	w := httptest.NewRecorder()

	h.GetBooking(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBooking_InvalidID(t *testing.T) {
	h := NewBookingHandler(&mockBookingService{}, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodGet, "/api/bookings/not-a-uuid", nil), testUser())
	r.SetPathValue("id", "not-a-uuid")
	w := httptest.NewRecorder()

	h.GetBooking(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// RefundBooking Tests
// =============================================================================

func TestRefundBooking_Success(t *testing.T) {
	user := testUser()
	bookingID := uuid.New()

	svc := &mockBookingService{
		RefundUnusedTimeFunc: func(ctx context.Context, id, userID uuid.UUID, actualMinutes int) (*domain.Booking, error) {
			assert.Equal(t, bookingID, id)
			assert.Equal(t, user.ID, userID)
			assert.Equal(t, 20, actualMinutes)
			return &domain.Booking{
				ID:                    bookingID,
				UserID:                user.ID,
				DurationMinutes:       60,
				ActualDurationMinutes: 20,
				PricePaid:             10000,
				RefundAmount:          5000,
				Status:                domain.BookingStatusRefunded,
			}, nil
		},
	}
	h := NewBookingHandler(svc, testLogger())

	body := strings.NewReader(`{"actualDurationMinutes":20}`)
	r := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/bookings/"+bookingID.String()+"/refund", body), user)
	r.SetPathValue("id", bookingID.String())
	w := httptest.NewRecorder()

	h.RefundBooking(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Booking bookingResponse `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "refunded", resp.Booking.Status)
	assert.Equal(t, int64(5000), resp.Booking.RefundAmount)
}

func TestRefundBooking_RetainerSessionRejected(t *testing.T) {
	user := testUser()
	bookingID := uuid.New()

	svc := &mockBookingService{
		RefundUnusedTimeFunc: func(ctx context.Context, id, userID uuid.UUID, actualMinutes int) (*domain.Booking, error) {
			return nil, domain.Invalid("BookingService.RefundUnusedTime", "Retainer sessions carry no payment to refund")
		},
	}
	h := NewBookingHandler(svc, testLogger())

	body := strings.NewReader(`{"actualDurationMinutes":15}`)
	r := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/bookings/"+bookingID.String()+"/refund", body), user)
	r.SetPathValue("id", bookingID.String())
	w := httptest.NewRecorder()

	h.RefundBooking(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// CancelBooking Tests
// =============================================================================

func TestCancelBooking_Success(t *testing.T) {
	user := testUser()
	bookingID := uuid.New()

	svc := &mockBookingService{
		CancelBookingFunc: func(ctx context.Context, id, userID uuid.UUID) (*domain.Booking, error) {
			assert.Equal(t, bookingID, id)
			assert.Equal(t, user.ID, userID)
			return &domain.Booking{
				ID:              bookingID,
				UserID:          user.ID,
				DurationMinutes: 30,
				RetainerCovered: true,
				Status:          domain.BookingStatusCancelled,
			}, nil
		},
	}
	h := NewBookingHandler(svc, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/bookings/"+bookingID.String()+"/cancel", nil), user)
	r.SetPathValue("id", bookingID.String())
	w := httptest.NewRecorder()

	h.CancelBooking(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Booking bookingResponse `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cancelled", resp.Booking.Status)
}

func TestCancelBooking_CompletedSessionRejected(t *testing.T) {
	user := testUser()
	bookingID := uuid.New()

	svc := &mockBookingService{
		CancelBookingFunc: func(ctx context.Context, id, userID uuid.UUID) (*domain.Booking, error) {
			return nil, domain.Invalid("booking.transition", "cannot transition booking from completed to cancelled")
		},
	}
	h := NewBookingHandler(svc, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/bookings/"+bookingID.String()+"/cancel", nil), user)
	r.SetPathValue("id", bookingID.String())
	w := httptest.NewRecorder()

	h.CancelBooking(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// RetainerUsage Tests
// =============================================================================

func TestRetainerUsage_ActiveRetainer(t *testing.T) {
	user := testUser()
	now := time.Now().UTC()

	svc := &mockBookingService{
		GetEntitlementFunc: func(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
			return &domain.Entitlement{
				UserID:               user.ID,
				RetainerActive:       true,
				PeriodStart:          now.AddDate(0, 0, -10),
				PeriodEnd:            now.AddDate(0, 0, 20),
				SessionsUsedInPeriod: 3,
				SessionsUsedInWeek:   1,
				LastSessionWeekKey:   domain.WeekKey(now),
			}, nil
		},
	}
	h := NewBookingHandler(svc, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodGet, "/api/retainer/usage", nil), user)
	w := httptest.NewRecorder()

	h.RetainerUsage(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp usageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.RetainerActive)
	assert.Equal(t, 3, resp.SessionsUsed)
	assert.Equal(t, 5, resp.SessionsRemaining)
	assert.Equal(t, 1, resp.SessionsThisWeek)
}

func TestRetainerUsage_StaleWeekReadsAsZero(t *testing.T) {
	user := testUser()
	now := time.Now().UTC()

	svc := &mockBookingService{
		GetEntitlementFunc: func(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
			return &domain.Entitlement{
				UserID:               user.ID,
				RetainerActive:       true,
				PeriodStart:          now.AddDate(0, 0, -20),
				PeriodEnd:            now.AddDate(0, 0, 10),
				SessionsUsedInPeriod: 4,
				SessionsUsedInWeek:   2,
				LastSessionWeekKey:   domain.WeekKey(now.AddDate(0, 0, -14)),
			}, nil
		},
	}
	h := NewBookingHandler(svc, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodGet, "/api/retainer/usage", nil), user)
	w := httptest.NewRecorder()

	h.RetainerUsage(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp usageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.SessionsUsed)
	// The stored weekly counter belongs to a past ISO week
	assert.Equal(t, 0, resp.SessionsThisWeek)
}

func TestRetainerUsage_NeverSubscribed(t *testing.T) {
	user := testUser()

	svc := &mockBookingService{
		GetEntitlementFunc: func(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
			return nil, domain.NotFound("BookingService.GetEntitlement", "entitlement", userID.String())
		},
	}
	h := NewBookingHandler(svc, testLogger())

	r := requestWithUser(httptest.NewRequest(http.MethodGet, "/api/retainer/usage", nil), user)
	w := httptest.NewRecorder()

	h.RetainerUsage(w, r)

	// Not an error: just an inactive retainer with zero allowance
	assert.Equal(t, http.StatusOK, w.Code)

	var resp usageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.RetainerActive)
	assert.Equal(t, 0, resp.SessionsUsed)
	assert.Equal(t, 0, resp.SessionsRemaining)
}
