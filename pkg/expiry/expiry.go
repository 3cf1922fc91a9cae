// Package expiry holds the date arithmetic for point-expiry extensions.
// All comparisons are made at day granularity; time-of-day is normalized so
// wall-clock jitter can never shift a result across a day boundary.
package expiry

import "time"

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Compute returns the new expiry date after granting extensionDays.
//
// The extension is applied to the later of the current expiry and today, so
// an already-future expiry is never shortened. The result is capped at
// today + capDays to bound runaway accumulation from repeated bonuses.
// A nil current expiry means the customer has none yet and extends from today.
func Compute(current *time.Time, today time.Time, extensionDays, capDays int) time.Time {
	today = StartOfDay(today)

	base := today
	if current != nil {
		if c := StartOfDay(*current); c.After(base) {
			base = c
		}
	}

	proposed := base.AddDate(0, 0, extensionDays)
	limit := today.AddDate(0, 0, capDays)

	if proposed.After(limit) {
		return limit
	}
	return proposed
}
