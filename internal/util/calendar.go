package util

import (
	"time"
)

// TradingCalendar provides regular-session awareness for US equities
// (NYSE 09:30-16:00 America/New_York, Monday to Friday). Exchange holidays
// are not modelled.
type TradingCalendar struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
}

// NewTradingCalendar creates a TradingCalendar for the NYSE regular session.
// It falls back to a fixed UTC-5 zone if tzdata is unavailable.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{
		loc:   loc,
		open:  9*time.Hour + 30*time.Minute,
		close: 16 * time.Hour,
	}
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (tc *TradingCalendar) sessionBounds(t time.Time) (time.Time, time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tc.loc)
	return day.Add(tc.open), day.Add(tc.close)
}

// IsMarketOpen returns whether the regular session is in progress at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !isWeekday(local) {
		return false
	}
	open, close := tc.sessionBounds(local)
	return !local.Before(open) && local.Before(close)
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !isWeekday(day) {
			continue
		}
		open, _ := tc.sessionBounds(day)
		if !open.Before(local) {
			return open
		}
	}
	return time.Time{}
}
