package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
)

func mins(n float64) decimal.Decimal {
	return decimal.NewFromFloat(n)
}

// =============================================================================
// 55-MINUTE ROUNDING
// =============================================================================

func TestRoundHours_FiftyFiveMinuteRule(t *testing.T) {
	// GIVEN: cumulative daily minute totals around hour boundaries
	// WHEN: applying the 55-minute rounding rule
	// THEN: remainders of 55+ round up, smaller remainders round down

	cases := []struct {
		minutes float64
		want    int64
	}{
		{0, 0},
		{54, 0},
		{55, 1},   // exactly at the threshold
		{60, 1},
		{70, 1},   // 1h10m, remainder 10 < 55
		{114, 1},  // 1h54m
		{115, 2},  // 1h55m rounds up
		{120, 2},
		{870, 14}, // 14h30m
		{900, 15},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, engine.RoundHours(mins(c.minutes)),
			"minutes=%v", c.minutes)
	}
}

func TestRoundHours_NegativeIsZero(t *testing.T) {
	assert.Equal(t, int64(0), engine.RoundHours(mins(-30)))
}

// =============================================================================
// TIER FUNCTION
// =============================================================================

func TestTierPoints_TieredRates(t *testing.T) {
	// GIVEN: the tier policy (5 pts/h first hour, 2 pts/h after, cap at 15h)
	// WHEN: evaluating cumulative hour totals
	// THEN: the integral of the rate matches

	cases := []struct {
		hours float64
		want  float64
	}{
		{0, 0},
		{0.5, 2.5}, // fractional first hour
		{1, 5},
		{2, 7},
		{3, 9},
		{15, 33}, // 5 + 14*2
		{20, 33}, // saturated at the cap
	}
	for _, c := range cases {
		got := engine.TierPoints(decimal.NewFromFloat(c.hours))
		assert.True(t, got.Equal(decimal.NewFromFloat(c.want)),
			"hours=%v: want %v, got %v", c.hours, c.want, got)
	}
}

func TestMaxDailyPoints(t *testing.T) {
	assert.True(t, engine.MaxDailyPoints().Equal(decimal.NewFromInt(33)))
}

func TestTierPoints_Monotonic(t *testing.T) {
	// GIVEN: increasing cumulative hour totals in 6-minute steps
	// WHEN: evaluating the tier function
	// THEN: it never decreases

	prev := decimal.Zero
	for tenth := 1; tenth <= 200; tenth++ {
		h := decimal.NewFromInt(int64(tenth)).Div(decimal.NewFromInt(10))
		got := engine.TierPoints(h)
		require.True(t, got.GreaterThanOrEqual(prev),
			"TierPoints decreased at %v hours", h)
		prev = got
	}
}

// =============================================================================
// DAILY RECOMPUTATION
// =============================================================================

func TestPointsForDay_RecomputesFromTotal(t *testing.T) {
	cases := []struct {
		minutes float64
		want    float64
	}{
		{0, 0},
		{54, 0},    // rounds to 0 hours
		{70, 5},    // rounds to 1 hour
		{140, 7},   // rounds to 2 hours
		{900, 33},  // exactly the cap
		{1200, 33}, // hours keep counting, points stop
	}
	for _, c := range cases {
		got := engine.PointsForDay(mins(c.minutes))
		assert.True(t, got.Equal(decimal.NewFromFloat(c.want)),
			"minutes=%v: want %v, got %v", c.minutes, c.want, got)
	}
}

func TestPointsForDay_OrderIndependent(t *testing.T) {
	// GIVEN: a day's total of 350 minutes arriving as differently-sized sessions
	// WHEN: recomputing the day's points from the running total after each one
	// THEN: the final value equals the single-shot computation

	splits := [][]float64{
		{350},
		{70, 70, 70, 70, 70},
		{5, 345},
		{200, 150},
	}
	want := engine.PointsForDay(mins(350))
	for _, sessions := range splits {
		total := decimal.Zero
		for _, s := range sessions {
			total = total.Add(mins(s))
		}
		require.True(t, engine.PointsForDay(total).Equal(want),
			"split %v diverged", sessions)
	}
}

// =============================================================================
// SESSION INCREMENTS
// =============================================================================

func TestPointsForIncrement_FirstSession(t *testing.T) {
	// GIVEN: a member with no prior activity today
	// WHEN: a 70-minute session ends (1.1667h rounds to 1)
	// THEN: the increment is tier(1) = 5

	got := engine.PointsForIncrement(mins(0), mins(70))
	assert.True(t, got.Equal(decimal.NewFromInt(5)), "got %v", got)
}

func TestPointsForIncrement_SecondSession(t *testing.T) {
	// GIVEN: 70 minutes already accrued today
	// WHEN: another 70-minute session ends (cumulative 140 rounds to 2)
	// THEN: the increment is tier(2) - tier(1) = 7 - 5 = 2

	got := engine.PointsForIncrement(mins(70), mins(140))
	assert.True(t, got.Equal(decimal.NewFromInt(2)), "got %v", got)
}

func TestPointsForIncrement_ShortSessionNoRounding(t *testing.T) {
	// A 30-minute session rounds to the same hour total; no points yet.
	got := engine.PointsForIncrement(mins(0), mins(30))
	assert.True(t, got.IsZero(), "got %v", got)
}

func TestPointsForIncrement_PastCapEarnsNothing(t *testing.T) {
	got := engine.PointsForIncrement(mins(900), mins(960))
	assert.True(t, got.IsZero(), "got %v", got)

	got = engine.PointsForIncrement(mins(950), mins(1000))
	assert.True(t, got.IsZero(), "got %v", got)
}

func TestPointsForIncrement_CapStraddleProportional(t *testing.T) {
	// GIVEN: 14.5 cumulative hours today
	// WHEN: a 60-minute session pushes the total to 15.5h
	// THEN: only the half hour under the cap earns - 50% of the 2-point delta

	got := engine.PointsForIncrement(mins(870), mins(930))
	assert.True(t, got.Equal(decimal.NewFromInt(1)), "got %v", got)
}

func TestPointsForIncrement_NonPositiveDelta(t *testing.T) {
	assert.True(t, engine.PointsForIncrement(mins(100), mins(100)).IsZero())
	assert.True(t, engine.PointsForIncrement(mins(100), mins(90)).IsZero())
}

func TestPointsForIncrementExact_FractionalHours(t *testing.T) {
	// GIVEN: a midnight split boundary 30 minutes into a fresh day
	// WHEN: settling with exact (unrounded) hour totals
	// THEN: the first-hour rate applies fractionally: 0.5h * 5 = 2.5

	got := engine.PointsForIncrementExact(mins(0), mins(30))
	assert.True(t, got.Equal(decimal.NewFromFloat(2.5)), "got %v", got)
}

func TestPointsForIncrementExact_SecondHourRate(t *testing.T) {
	// 1h -> 1.5h at the base rate: 0.5 * 2 = 1
	got := engine.PointsForIncrementExact(mins(60), mins(90))
	assert.True(t, got.Equal(decimal.NewFromInt(1)), "got %v", got)
}

// =============================================================================
// DAILY LIMIT
// =============================================================================

func TestDailyLimit(t *testing.T) {
	// Under the cap
	info := engine.DailyLimit(mins(600))
	assert.False(t, info.LimitReached)
	assert.True(t, info.CanEarnPoints)
	assert.True(t, info.RemainingHours.Equal(decimal.NewFromInt(5)))

	// Exactly at the cap
	info = engine.DailyLimit(mins(900))
	assert.True(t, info.LimitReached)
	assert.False(t, info.CanEarnPoints)
	assert.True(t, info.RemainingHours.IsZero())

	// Past the cap: remaining clamps to zero
	info = engine.DailyLimit(mins(1000))
	assert.True(t, info.LimitReached)
	assert.True(t, info.RemainingHours.IsZero())
}
