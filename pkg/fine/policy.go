package fine

import "time"

// DefaultRatePerDay is the library's flat overdue charge in whole currency
// units per day.
const DefaultRatePerDay int64 = 10

// Policy computes the fine owed on a loan. It is the single source of truth
// for fine amounts: the return path, the overdue sweep, and read-time display
// all call the same Amount.
type Policy struct {
	RatePerDay int64
}

// NewPolicy returns a policy with the given per-day rate, falling back to the
// default when rate is not positive.
func NewPolicy(rate int64) Policy {
	if rate <= 0 {
		rate = DefaultRatePerDay
	}
	return Policy{RatePerDay: rate}
}

// Amount returns the fine owed as of asOf for a loan due at due. Returns 0
// when the loan is not yet overdue. Partial days count as full days: one hour
// into the third overdue day owes for three days.
func (p Policy) Amount(due, asOf time.Time) int64 {
	if !asOf.After(due) {
		return 0
	}
	overdue := asOf.Sub(due)
	days := int64(overdue / (24 * time.Hour))
	if overdue%(24*time.Hour) != 0 {
		days++
	}
	return days * p.RatePerDay
}
