package ledger

import "time"

// Dates in this package are calendar dates: midnight UTC carrying the
// year/month/day of the local calendar day they represent.

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b. Both sides are reduced to
// calendar dates first, so time of day and zone offsets never shift the count.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)) / (24 * time.Hour))
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AnchorDay is the day-of-month of the move-in date.
func AnchorDay(moveIn time.Time) int {
	return moveIn.Day()
}

// BillingDate returns the billing date for anchor in the given month. Anchors
// past the end of a short month clamp to its last day.
func BillingDate(anchor, year int, month time.Month) time.Time {
	// normalise month overflow before clamping
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	year, month = first.Year(), first.Month()
	day := anchor
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// LastBillingDate returns the most recent billing date on or before today.
func LastBillingDate(moveIn, today time.Time) time.Time {
	anchor := AnchorDay(moveIn)
	today = DateOf(today)
	candidate := BillingDate(anchor, today.Year(), today.Month())
	if candidate.After(today) {
		candidate = BillingDate(anchor, today.Year(), today.Month()-1)
	}
	return candidate
}

// NextBillingDate returns the first billing date on or after today.
func NextBillingDate(moveIn, today time.Time) time.Time {
	anchor := AnchorDay(moveIn)
	today = DateOf(today)
	candidate := BillingDate(anchor, today.Year(), today.Month())
	if candidate.Before(today) {
		candidate = BillingDate(anchor, today.Year(), today.Month()+1)
	}
	return candidate
}

// BillingDateInMonthOf returns the billing date for moveIn's anchor in the
// month containing day.
func BillingDateInMonthOf(moveIn, day time.Time) time.Time {
	return BillingDate(AnchorDay(moveIn), day.Year(), day.Month())
}

// FirstPeriodEnd is the first billing date after move-in, i.e. the day the
// first rental period has fully elapsed.
func FirstPeriodEnd(moveIn time.Time) time.Time {
	return BillingDate(AnchorDay(moveIn), moveIn.Year(), moveIn.Month()+1)
}
