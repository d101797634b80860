package util

import "time"

// TradingCalendar provides market-hours awareness for US equities.
// Exchange holidays are not tracked; a holiday shows up downstream as a
// weekday with no bars, which callers already tolerate.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a calendar pinned to the US market timezone.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*3600)
	}
	return &TradingCalendar{loc: loc}
}

// IsTradingDay reports whether t falls on a weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	wd := t.In(tc.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketOpen reports whether the regular session (9:30-16:00 ET) is open
// at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	et := t.In(tc.loc)
	if !tc.IsTradingDay(et) {
		return false
	}
	mins := et.Hour()*60 + et.Minute()
	return mins >= 9*60+30 && mins < 16*60
}

// LatestCompleteTradingDay returns the most recent weekday, at or before t,
// whose regular session has already closed.
func (tc *TradingCalendar) LatestCompleteTradingDay(t time.Time) time.Time {
	et := t.In(tc.loc)
	day := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, tc.loc)
	if et.Hour() < 16 || !tc.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
