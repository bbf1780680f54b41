package utils

import (
	"fmt"
	"strings"
	"time"

	"market-gateway/src/models"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers trading-day and session-hours questions for one
// exchange. Holidays come from scmhub/calendar; session hours come from config
// because the upstream session can differ from the exchange's official hours.
type TradingCalendar struct {
	Calendar     *calendar.Calendar
	Fallback     bool
	Timezone     *time.Location
	SessionStart time.Duration // offset from local midnight
	SessionEnd   time.Duration

	now func() time.Time
}

// -----------------------------------------------------------------------------

// NewTradingCalendar loads the holiday calendar for mic. An empty or unknown
// MIC falls back to a Monday to Friday week.
func NewTradingCalendar(mic, timezone string, sessionStart, sessionEnd time.Duration) (*TradingCalendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone '%s': %w", timezone, err)
	}
	if sessionEnd <= sessionStart {
		return nil, fmt.Errorf("session end %s must be after session start %s", sessionEnd, sessionStart)
	}

	tc := &TradingCalendar{
		Timezone:     loc,
		SessionStart: sessionStart,
		SessionEnd:   sessionEnd,
		now:          time.Now,
	}

	tc.Fallback = true
	if mic != "" {
		if cal := calendar.GetCalendar(strings.ToLower(mic)); cal != nil {
			tc.Calendar = cal
			tc.Fallback = false
		}
	}
	return tc, nil
}

// -----------------------------------------------------------------------------

// WithClock replaces the time source. Used by tests and the simulator.
func (tc *TradingCalendar) WithClock(now func() time.Time) *TradingCalendar {
	tc.now = now
	return tc
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) Now() time.Time {
	return tc.now().In(tc.Timezone)
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	date = date.In(tc.Timezone)

	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// Session returns the open and close instants of the trading session on the
// local date of t.
func (tc *TradingCalendar) Session(t time.Time) (open, close time.Time) {
	t = t.In(tc.Timezone)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tc.Timezone)
	return midnight.Add(tc.SessionStart), midnight.Add(tc.SessionEnd)
}

// -----------------------------------------------------------------------------

// IsTradingHours reports whether t falls inside the session of a trading day.
func (tc *TradingCalendar) IsTradingHours(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	open, close := tc.Session(t)
	return !t.Before(open) && !t.After(close)
}

// -----------------------------------------------------------------------------

// HistoryRange returns the window to backfill for date: session open up to
// min(now, session close). ok is false when the window is empty.
func (tc *TradingCalendar) HistoryRange(date time.Time) (from, to time.Time, ok bool) {
	from, to = tc.Session(date)
	if now := tc.Now(); now.Before(to) {
		to = now
	}
	return from, to, to.After(from)
}

// -----------------------------------------------------------------------------

// LastTradingDay returns t if it is a trading day, otherwise the closest
// earlier one (at most two weeks back).
func (tc *TradingCalendar) LastTradingDay(t time.Time) time.Time {
	t = t.In(tc.Timezone)
	for i := 0; i < 14; i++ {
		if tc.IsTradingDay(t) {
			return t
		}
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// -----------------------------------------------------------------------------

// Status builds the trading status payload for downstream clients.
func (tc *TradingCalendar) Status(authStatus bool) models.MTradingStatus {
	now := tc.Now()
	return models.MTradingStatus{
		TradingActive: tc.IsTradingHours(now),
		IsMarketDay:   tc.IsTradingDay(now),
		TradingStart:  formatClock(tc.SessionStart),
		TradingEnd:    formatClock(tc.SessionEnd),
		Timezone:      tc.Timezone.String(),
		AuthStatus:    authStatus,
		CurrentTime:   now.Format(time.RFC3339),
	}
}

// -----------------------------------------------------------------------------

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
