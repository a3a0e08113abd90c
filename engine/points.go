/*
points.go - Tiered points accrual calculator

PURPOSE:
  Pure, side-effect-free functions converting cumulative daily voice
  minutes into points. All stateful callers (session lifecycle, daily
  aggregate recompute) funnel through these so that the tier/round/cap
  policy has exactly one definition.

THE POLICY:
  Tier rule:       the first cumulative hour of a day earns 5 pts/hour,
                   every hour after that earns 2 pts/hour, and nothing
                   accrues past 15 cumulative hours. TierPoints integrates
                   this rate from zero.
  55-minute rule:  the cumulative daily total (never a single session) is
                   rounded to whole hours before tier evaluation; a
                   fractional remainder of 55+ minutes rounds up.
  Daily cap:       points stop at 15 cumulative hours. A session straddling
                   the cap earns the tier delta scaled by the fraction of
                   the session that fell under the remaining allowance.
                   Hours keep accumulating past the cap; only points stop.

ORDER INDEPENDENCE:
  Points for a session increment are tier(new rounded total) minus
  tier(old rounded total) - never a per-session multiplication - so the
  final daily total does not depend on how the day's time was split
  across sessions.

SEE ALSO:
  - session.go: drives these on every interval close
  - types.go:   DailyAggregate stores PointsForDay(Minutes)
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY CONSTANTS
// =============================================================================

const (
	// FirstHourRate is the points-per-hour rate for the first cumulative hour.
	FirstHourRate = 5

	// BaseRate is the points-per-hour rate for cumulative hours 1..15.
	BaseRate = 2

	// DailyCapHours is the cumulative-hours threshold beyond which no
	// further points accrue for a calendar day.
	DailyCapHours = 15

	// CapMinutes is the daily cap expressed in minutes.
	CapMinutes = DailyCapHours * 60

	// RoundUpMinutes is the 55-minute rule threshold: a fractional
	// remainder of at least this many minutes rounds the daily total up.
	RoundUpMinutes = 55

	// MinQualifyingMinutes is the minimum session length that counts
	// toward a member's consecutive-day streak.
	MinQualifyingMinutes = 15
)

var (
	sixty      = decimal.NewFromInt(60)
	capMinutes = decimal.NewFromInt(CapMinutes)
	capHours   = decimal.NewFromInt(DailyCapHours)
	one        = decimal.NewFromInt(1)
)

// =============================================================================
// ROUNDING
// =============================================================================

// RoundHours applies the 55-minute rule to a cumulative minute total:
// whole hours, plus one if the fractional remainder is >= 55 minutes.
func RoundHours(minutes decimal.Decimal) int64 {
	if minutes.Sign() <= 0 {
		return 0
	}
	whole := minutes.Div(sixty).IntPart()
	remainder := minutes.Sub(decimal.NewFromInt(whole).Mul(sixty))
	if remainder.GreaterThanOrEqual(decimal.NewFromInt(RoundUpMinutes)) {
		whole++
	}
	return whole
}

// =============================================================================
// TIER FUNCTION
// =============================================================================

// TierPoints integrates the tiered rate from zero up to the given
// cumulative hour total: 5 pts/h below one hour, 2 pts/h from one hour up
// to the daily cap, zero beyond. Accepts fractional hours; the midnight
// split evaluates it unrounded.
func TierPoints(hours decimal.Decimal) decimal.Decimal {
	if hours.Sign() <= 0 {
		return decimal.Zero
	}
	if hours.GreaterThan(capHours) {
		hours = capHours
	}
	if hours.LessThanOrEqual(one) {
		return hours.Mul(decimal.NewFromInt(FirstHourRate))
	}
	first := decimal.NewFromInt(FirstHourRate)
	rest := hours.Sub(one).Mul(decimal.NewFromInt(BaseRate))
	return first.Add(rest)
}

// MaxDailyPoints is the value of TierPoints at the daily cap.
func MaxDailyPoints() decimal.Decimal {
	return TierPoints(capHours)
}

// =============================================================================
// DAILY RECOMPUTATION
// =============================================================================

// PointsForDay is the deterministic function from a day's cumulative
// minutes to that day's points. Daily aggregates always store this value;
// they never accumulate per-session awards, so recomputing from the total
// yields the same result no matter how sessions arrived.
func PointsForDay(minutes decimal.Decimal) decimal.Decimal {
	if minutes.GreaterThan(capMinutes) {
		minutes = capMinutes
	}
	return TierPoints(decimal.NewFromInt(RoundHours(minutes)))
}

// =============================================================================
// SESSION INCREMENTS
// =============================================================================

// PointsForIncrement returns the points owed for raising the day's
// cumulative minutes from oldMinutes to newMinutes, with the 55-minute
// rule applied to both totals. A session entirely past the cap earns
// nothing; one straddling the cap earns the tier delta scaled by the
// in-cap fraction of its duration.
func PointsForIncrement(oldMinutes, newMinutes decimal.Decimal) decimal.Decimal {
	return pointsForIncrement(oldMinutes, newMinutes, true)
}

// PointsForIncrementExact is PointsForIncrement without the 55-minute
// rounding: the tier function is evaluated at the exact fractional hour
// totals. Used for the artificial boundary created by a midnight split,
// which is not a natural session end.
func PointsForIncrementExact(oldMinutes, newMinutes decimal.Decimal) decimal.Decimal {
	return pointsForIncrement(oldMinutes, newMinutes, false)
}

func pointsForIncrement(oldMinutes, newMinutes decimal.Decimal, rounded bool) decimal.Decimal {
	if newMinutes.LessThanOrEqual(oldMinutes) {
		return decimal.Zero
	}
	if oldMinutes.GreaterThanOrEqual(capMinutes) {
		return decimal.Zero
	}

	var oldHours, newHours decimal.Decimal
	if rounded {
		oldHours = decimal.NewFromInt(RoundHours(oldMinutes))
		newHours = decimal.NewFromInt(RoundHours(newMinutes))
	} else {
		oldHours = oldMinutes.Div(sixty)
		newHours = newMinutes.Div(sixty)
	}

	delta := TierPoints(newHours).Sub(TierPoints(oldHours))
	if delta.Sign() <= 0 {
		return decimal.Zero
	}

	// Straddling the cap: only the in-cap fraction of the session earns.
	if newMinutes.GreaterThan(capMinutes) {
		allowance := capMinutes.Sub(oldMinutes)
		span := newMinutes.Sub(oldMinutes)
		delta = delta.Mul(allowance).Div(span)
	}
	return delta
}

// =============================================================================
// DAILY LIMIT INFO
// =============================================================================

// DailyLimitInfo describes how much of the daily allowance a member has
// used, for the presentation layer.
type DailyLimitInfo struct {
	DailyHours     decimal.Decimal
	RemainingHours decimal.Decimal
	LimitReached   bool
	CanEarnPoints  bool
}

// DailyLimit summarizes the cap state for a day's cumulative minutes.
func DailyLimit(minutes decimal.Decimal) DailyLimitInfo {
	hours := minutes.Div(sixty)
	remaining := capHours.Sub(hours)
	reached := remaining.Sign() <= 0
	if reached {
		remaining = decimal.Zero
	}
	return DailyLimitInfo{
		DailyHours:     hours,
		RemainingHours: remaining,
		LimitReached:   reached,
		CanEarnPoints:  !reached,
	}
}
