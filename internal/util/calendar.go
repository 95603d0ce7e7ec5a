package util

import "time"

// Calendar helpers for the US equity-options market. Weekends are the only
// closures modeled; exchange holidays are ignored, which at daily snapshot
// granularity shifts an exit date by at most one session.

// IsTradingDay reports whether t falls on a weekday.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextTradingDay returns t if it is a trading day, otherwise the next
// weekday at the same clock time.
func NextTradingDay(t time.Time) time.Time {
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// AddTradingDays returns the date n trading days after t. n must be >= 0.
func AddTradingDays(t time.Time, n int) time.Time {
	t = NextTradingDay(t)
	for i := 0; i < n; i++ {
		t = NextTradingDay(t.AddDate(0, 0, 1))
	}
	return t
}

// TradingDays returns every trading day in [start, end], inclusive.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
