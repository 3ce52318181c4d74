// Package handler contains HTTP handlers for the advisory API.
//
// This file implements booking and retainer usage handlers.
//
// Routes handled (all require authentication):
//   - POST /api/bookings/retainer    -> BookRetainerSession
//   - GET  /api/bookings             -> ListBookings
//   - GET  /api/bookings/{id}        -> GetBooking
//   - POST /api/bookings/{id}/refund -> RefundBooking
//   - POST /api/bookings/{id}/cancel -> CancelBooking
//   - GET  /api/retainer/usage       -> RetainerUsage
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/copperline/advisory/internal/auth"
	"github.com/copperline/advisory/internal/domain"
	"github.com/copperline/advisory/internal/service"
	"github.com/google/uuid"
)

// BookingHandler handles booking HTTP requests.
type BookingHandler struct {
	bookings service.BookingService
	logger   *slog.Logger
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookings service.BookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// RegisterRoutes registers booking routes on the provided mux.
func (h *BookingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/bookings/retainer", requireUser(http.HandlerFunc(h.BookRetainerSession)))
	mux.Handle("GET /api/bookings", requireUser(http.HandlerFunc(h.ListBookings)))
	mux.Handle("GET /api/bookings/{id}", requireUser(http.HandlerFunc(h.GetBooking)))
	mux.Handle("POST /api/bookings/{id}/refund", requireUser(http.HandlerFunc(h.RefundBooking)))
	mux.Handle("POST /api/bookings/{id}/cancel", requireUser(http.HandlerFunc(h.CancelBooking)))
	mux.Handle("GET /api/retainer/usage", requireUser(http.HandlerFunc(h.RetainerUsage)))
}

// bookingResponse is the JSON shape for a booking ledger entry.
type bookingResponse struct {
	ID                    string    `json:"id"`
	ScheduledAt           time.Time `json:"scheduledAt"`
	DurationMinutes       int       `json:"durationMinutes"`
	Channel               string    `json:"channel"`
	IntakeText            string    `json:"intakeText,omitempty"`
	RetainerCovered       bool      `json:"retainerCovered"`
	PricePaid             int64     `json:"pricePaid"`
	Status                string    `json:"status"`
	ActualDurationMinutes int       `json:"actualDurationMinutes,omitempty"`
	RefundAmount          int64     `json:"refundAmount,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                    b.ID.String(),
		ScheduledAt:           b.ScheduledAt,
		DurationMinutes:       b.DurationMinutes,
		Channel:               string(b.Channel),
		IntakeText:            b.IntakeText,
		RetainerCovered:       b.RetainerCovered,
		PricePaid:             b.PricePaid,
		Status:                string(b.Status),
		ActualDurationMinutes: b.ActualDurationMinutes,
		RefundAmount:          b.RefundAmount,
		CreatedAt:             b.CreatedAt,
	}
}

// BookRetainerSession books a session covered by the user's retainer.
func (h *BookingHandler) BookRetainerSession(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
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

	booking, err := h.bookings.BookRetainerSession(r.Context(), domain.RetainerBookingParams{
		UserID:          user.ID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Channel:         domain.Channel(req.Channel),
		IntakeText:      req.IntakeText,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := map[string]interface{}{
		"booking": toBookingResponse(booking),
	}
	// Include the remaining allowance so clients can update their quota
	// display without a second request
	if ent, err := h.bookings.GetEntitlement(r.Context(), user.ID); err == nil {
		resp["usage"] = toUsageResponse(ent)
	}

	writeJSON(w, http.StatusCreated, resp)
}

// ListBookings returns the user's bookings, newest first.
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	bookings, err := h.bookings.ListBookings(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": out,
	})
}

// GetBooking returns a single booking owned by the user.
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid booking ID"))
		return
	}

	booking, err := h.bookings.GetBooking(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	// Users only see their own ledger entries
	if booking.UserID != user.ID {
		NotFoundResponse(w, r, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking": toBookingResponse(booking),
	})
}

// RefundBooking refunds booked-but-unused time on a paid session.
func (h *BookingHandler) RefundBooking(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid booking ID"))
		return
	}

	var req struct {
		ActualDurationMinutes int `json:"actualDurationMinutes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	booking, err := h.bookings.RefundUnusedTime(r.Context(), id, user.ID, req.ActualDurationMinutes)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking": toBookingResponse(booking),
	})
}

// CancelBooking calls off a confirmed session.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Invalid booking ID"))
		return
	}

	booking, err := h.bookings.CancelBooking(r.Context(), id, user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking": toBookingResponse(booking),
	})
}

// usageResponse is the JSON shape for retainer quota usage.
type usageResponse struct {
	RetainerActive    bool       `json:"retainerActive"`
	PeriodStart       *time.Time `json:"periodStart,omitempty"`
	PeriodEnd         *time.Time `json:"periodEnd,omitempty"`
	SessionsUsed      int        `json:"sessionsUsed"`
	SessionsRemaining int        `json:"sessionsRemaining"`
	SessionsThisWeek  int        `json:"sessionsThisWeek"`
}

func toUsageResponse(ent *domain.Entitlement) usageResponse {
	usage := ent.UsageAt(time.Now().UTC())
	resp := usageResponse{
		RetainerActive:    ent.RetainerActive,
		SessionsUsed:      usage.SessionsUsed,
		SessionsRemaining: usage.SessionsRemaining,
		SessionsThisWeek:  usage.SessionsThisWeek,
	}
	if !ent.PeriodStart.IsZero() {
		resp.PeriodStart = &ent.PeriodStart
	}
	if !ent.PeriodEnd.IsZero() {
		resp.PeriodEnd = &ent.PeriodEnd
	}
	return resp
}

// RetainerUsage returns the user's current retainer allowance.
//
// The weekly count applies the lazy rollover: a counter stamped with a past
// ISO week reads as zero, the same way the booking path sees it.
func (h *BookingHandler) RetainerUsage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	ent, err := h.bookings.GetEntitlement(r.Context(), user.ID)
	if err != nil {
		// Never subscribed: report an inactive retainer rather than a 404
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			writeJSON(w, http.StatusOK, usageResponse{})
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toUsageResponse(ent))
}
