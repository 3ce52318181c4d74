// Package domain contains core business types and interfaces.
//
// This file defines the retainer entitlement record and the quota evaluator
// that decides whether a subscriber may book another advisory session.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Retainer allowance limits. A retainer covers up to 8 sessions per billing
// period, at most 2 per ISO week, each capped at 60 minutes.
const (
	MonthlySessionLimit       = 8
	WeeklySessionLimit        = 2
	MaxRetainerSessionMinutes = 60
)

// Entitlement is the per-subscriber record of retainer status and usage.
//
// The weekly counter is never reset by a scheduled job. Instead
// LastSessionWeekKey records which ISO week SessionsUsedInWeek belongs to,
// and every read recomputes the effective weekly usage: if the stored key is
// not the current week, the effective usage is zero regardless of the stored
// counter. Trusting the raw counter without checking the key is a bug.
type Entitlement struct {
	UserID               uuid.UUID
	StripeCustomerID     string
	RetainerActive       bool
	PeriodStart          time.Time
	PeriodEnd            time.Time
	SessionsUsedInPeriod int
	SessionsUsedInWeek   int
	LastSessionWeekKey   string // "" means no session recorded yet this period
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// WeekKey returns the ISO year-week identifier for t, e.g. "2026-W35".
// The week number is not zero-padded.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%d", year, week)
}

// EffectiveWeeklyUsage returns the number of sessions counted against the
// ISO week containing now. A stale week key means the stored counter belongs
// to a previous week and the effective usage is zero.
func (e *Entitlement) EffectiveWeeklyUsage(now time.Time) int {
	if e.LastSessionWeekKey != WeekKey(now) {
		return 0
	}
	return e.SessionsUsedInWeek
}

// Evaluate decides whether one more session may be booked at time now.
//
// On admit it returns a copy of the entitlement with both counters advanced
// and the week key stamped; the caller must persist that state and the
// booking record in the same transaction. On reject it returns a domain
// error whose code identifies the reason (ENORETAINER, EPERIODEXPIRED,
// EMONTHLYLIMIT, EWEEKLYLIMIT). Evaluate never mutates the receiver.
func (e *Entitlement) Evaluate(now time.Time) (*Entitlement, error) {
	const op = "entitlement.evaluate"

	if !e.RetainerActive {
		return nil, Errorf(ENORETAINER, op, "No active retainer subscription")
	}
	if e.PeriodEnd.IsZero() || now.After(e.PeriodEnd) {
		return nil, Errorf(EPERIODEXPIRED, op, "Retainer period has expired")
	}
	if e.SessionsUsedInPeriod >= MonthlySessionLimit {
		return nil, Errorf(EMONTHLYLIMIT, op, "Monthly session limit reached (%d sessions max)", MonthlySessionLimit)
	}

	weekKey := WeekKey(now)
	weeklyUsed := e.EffectiveWeeklyUsage(now)
	if weeklyUsed >= WeeklySessionLimit {
		return nil, Errorf(EWEEKLYLIMIT, op, "Weekly session limit reached (%d sessions max per week)", WeeklySessionLimit)
	}

	next := *e
	next.SessionsUsedInPeriod++
	next.SessionsUsedInWeek = weeklyUsed + 1
	next.LastSessionWeekKey = weekKey
	return &next, nil
}

// Renew applies a billing-cycle renewal: the allowance starts fresh
// regardless of prior usage.
func (e *Entitlement) Renew(periodStart, periodEnd time.Time) {
	e.RetainerActive = true
	e.PeriodStart = periodStart
	e.PeriodEnd = periodEnd
	e.SessionsUsedInPeriod = 0
	e.SessionsUsedInWeek = 0
	e.LastSessionWeekKey = ""
}

// Cancel marks the retainer inactive. Counters and period bounds are kept
// as informational state; booking is gated on RetainerActive alone.
func (e *Entitlement) Cancel() {
	e.RetainerActive = false
}

// Usage summarizes quota consumption for API responses.
type Usage struct {
	SessionsUsed      int `json:"sessionsUsed"`
	SessionsRemaining int `json:"sessionsRemaining"`
	SessionsThisWeek  int `json:"sessionsThisWeek"`
}

// UsageAt reports quota consumption as of now, applying the lazy weekly
// rollover so a stale week counter reads as zero.
func (e *Entitlement) UsageAt(now time.Time) Usage {
	return Usage{
		SessionsUsed:      e.SessionsUsedInPeriod,
		SessionsRemaining: MonthlySessionLimit - e.SessionsUsedInPeriod,
		SessionsThisWeek:  e.EffectiveWeeklyUsage(now),
	}
}
