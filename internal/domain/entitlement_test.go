package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixed reference times: a Wednesday, and the Monday of the following ISO week
var (
	midWeek  = time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC) // 2026-W11
	nextWeek = time.Date(2026, time.March, 16, 10, 0, 0, 0, time.UTC) // 2026-W12
)

func activeEntitlement(now time.Time) *Entitlement {
	return &Entitlement{
		RetainerActive: true,
		PeriodStart:    now.AddDate(0, 0, -7),
		PeriodEnd:      now.AddDate(0, 0, 23),
	}
}

func TestWeekKey(t *testing.T) {
	// Jan 1 2027 is a Friday belonging to ISO week 2026-W53
	assert.Equal(t, "2026-W53", WeekKey(time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-W11", WeekKey(midWeek))
	assert.Equal(t, "2026-W12", WeekKey(nextWeek))
	// Week numbers are not zero-padded
	assert.Equal(t, "2026-W1", WeekKey(time.Date(2025, time.December, 29, 0, 0, 0, 0, time.UTC)))
}

func TestEvaluate_RejectReasons(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(e *Entitlement)
		wantCode string
	}{
		{
			name:     "no active retainer",
			mutate:   func(e *Entitlement) { e.RetainerActive = false },
			wantCode: ENORETAINER,
		},
		{
			name:     "period expired",
			mutate:   func(e *Entitlement) { e.PeriodEnd = midWeek.AddDate(0, 0, -1) },
			wantCode: EPERIODEXPIRED,
		},
		{
			name:     "missing period end",
			mutate:   func(e *Entitlement) { e.PeriodEnd = time.Time{} },
			wantCode: EPERIODEXPIRED,
		},
		{
			name:     "monthly limit",
			mutate:   func(e *Entitlement) { e.SessionsUsedInPeriod = MonthlySessionLimit },
			wantCode: EMONTHLYLIMIT,
		},
		{
			name: "weekly limit in current week",
			mutate: func(e *Entitlement) {
				e.SessionsUsedInPeriod = 4
				e.SessionsUsedInWeek = WeeklySessionLimit
				e.LastSessionWeekKey = WeekKey(midWeek)
			},
			wantCode: EWEEKLYLIMIT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := activeEntitlement(midWeek)
			tt.mutate(e)

			next, err := e.Evaluate(midWeek)
			assert.Nil(t, next)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ErrorCode(err))
		})
	}
}

func TestEvaluate_MonthlyLimitWinsOverWeekly(t *testing.T) {
	// At the monthly cap the weekly counters are irrelevant, stale or not.
	e := activeEntitlement(midWeek)
	e.SessionsUsedInPeriod = MonthlySessionLimit
	e.SessionsUsedInWeek = 0
	e.LastSessionWeekKey = ""

	_, err := e.Evaluate(midWeek)
	assert.Equal(t, EMONTHLYLIMIT, ErrorCode(err))
}

func TestEvaluate_StaleWeekKeyResetsWeeklyUsage(t *testing.T) {
	// Counter says 2 sessions, but they belong to last week.
	e := activeEntitlement(nextWeek)
	e.SessionsUsedInPeriod = 2
	e.SessionsUsedInWeek = 2
	e.LastSessionWeekKey = WeekKey(midWeek)

	assert.Equal(t, 0, e.EffectiveWeeklyUsage(nextWeek))

	next, err := e.Evaluate(nextWeek)
	require.NoError(t, err)
	assert.Equal(t, 3, next.SessionsUsedInPeriod)
	assert.Equal(t, 1, next.SessionsUsedInWeek)
	assert.Equal(t, WeekKey(nextWeek), next.LastSessionWeekKey)
}

func TestEvaluate_DoesNotMutateReceiver(t *testing.T) {
	e := activeEntitlement(midWeek)
	before := *e

	_, err := e.Evaluate(midWeek)
	require.NoError(t, err)
	assert.Equal(t, before, *e)
}

func TestEvaluate_SequentialAdmits(t *testing.T) {
	// 2 admits in the first week, then weekly rejects; 2 more across the week
	// boundary; the monthly cap ends it at 8 total over four weeks.
	e := activeEntitlement(midWeek)
	e.PeriodEnd = midWeek.AddDate(0, 1, 0)

	weeks := []time.Time{
		midWeek,
		nextWeek,
		nextWeek.AddDate(0, 0, 7),
		nextWeek.AddDate(0, 0, 14),
	}

	total := 0
	for _, wk := range weeks {
		for i := 0; i < WeeklySessionLimit; i++ {
			next, err := e.Evaluate(wk)
			require.NoError(t, err, "admit %d in week %s", i+1, WeekKey(wk))
			e = next
			total++
		}
		// Third attempt in the same week is always a weekly reject
		_, err := e.Evaluate(wk)
		assert.Equal(t, EWEEKLYLIMIT, ErrorCode(err))
	}

	assert.Equal(t, MonthlySessionLimit, total)
	assert.Equal(t, MonthlySessionLimit, e.SessionsUsedInPeriod)

	// A fifth week hits the monthly cap, not the weekly one
	_, err := e.Evaluate(nextWeek.AddDate(0, 0, 21))
	assert.Equal(t, EMONTHLYLIMIT, ErrorCode(err))
}

func TestRenew_ResetsAllowanceUnconditionally(t *testing.T) {
	e := activeEntitlement(midWeek)
	e.SessionsUsedInPeriod = 7
	e.SessionsUsedInWeek = 2
	e.LastSessionWeekKey = WeekKey(midWeek)
	e.RetainerActive = false

	start := midWeek.AddDate(0, 1, 0)
	end := midWeek.AddDate(0, 2, 0)
	e.Renew(start, end)

	assert.True(t, e.RetainerActive)
	assert.Equal(t, start, e.PeriodStart)
	assert.Equal(t, end, e.PeriodEnd)
	assert.Equal(t, 0, e.SessionsUsedInPeriod)
	assert.Equal(t, 0, e.SessionsUsedInWeek)
	assert.Equal(t, "", e.LastSessionWeekKey)
}

func TestCancel_LeavesCountersUntouched(t *testing.T) {
	e := activeEntitlement(midWeek)
	e.SessionsUsedInPeriod = 5
	e.SessionsUsedInWeek = 1
	e.LastSessionWeekKey = WeekKey(midWeek)

	e.Cancel()

	assert.False(t, e.RetainerActive)
	assert.Equal(t, 5, e.SessionsUsedInPeriod)
	assert.Equal(t, 1, e.SessionsUsedInWeek)
	assert.Equal(t, WeekKey(midWeek), e.LastSessionWeekKey)
}

func TestUsageAt_AppliesLazyWeekRollover(t *testing.T) {
	e := activeEntitlement(nextWeek)
	e.SessionsUsedInPeriod = 3
	e.SessionsUsedInWeek = 2
	e.LastSessionWeekKey = WeekKey(midWeek)

	usage := e.UsageAt(nextWeek)
	assert.Equal(t, 3, usage.SessionsUsed)
	assert.Equal(t, 5, usage.SessionsRemaining)
	assert.Equal(t, 0, usage.SessionsThisWeek)

	usage = e.UsageAt(midWeek)
	assert.Equal(t, 2, usage.SessionsThisWeek)
}
