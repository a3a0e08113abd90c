/*
Package engine provides the core activity accrual engine.

PURPOSE:
  This package contains the domain types and algorithms for converting
  voice-channel presence time into tiered points, tracking consecutive-day
  streaks across timezone boundaries, and exposing the per-member counters
  that the reset scheduler sweeps.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member: per-member counters, streak state, and reset cursors
  - Team: shared "house" aggregate, mutated only under an advisory lock
  - PresenceInterval: one open-or-closed voice presence span
  - DailyAggregate: per (member, local date) cumulative activity
  - LocalDate: a calendar date as seen in a member's timezone

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for points and minutes, no float drift
  2. Recomputation: daily points are always derived from cumulative
     minutes, never incremented independently
  3. Fixed attribution: an interval's local date is set at creation and
     changed only by the midnight split

SEE ALSO:
  - points.go:   Tiered accrual calculator (pure functions)
  - session.go:  Presence interval lifecycle
  - streak.go:   Consecutive-day streak state machine
  - timezone.go: Member timezone resolution
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type TeamID string
type ChannelID string

// =============================================================================
// LOCAL DATE - Calendar date in a member's timezone
// =============================================================================

// LocalDate is a timezone-interpreted calendar day. Two instants that map
// to the same LocalDate in a member's zone belong to the same activity day.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) LocalDate {
	lt := t.In(loc)
	return LocalDate{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}
}

func (d LocalDate) IsZero() bool { return d.Year == 0 }

func (d LocalDate) Equal(other LocalDate) bool { return d == other }

func (d LocalDate) Before(other LocalDate) bool {
	return d.asUTC().Before(other.asUTC())
}

func (d LocalDate) After(other LocalDate) bool {
	return d.asUTC().After(other.asUTC())
}

func (d LocalDate) AddDays(n int) LocalDate {
	t := d.asUTC().AddDate(0, 0, n)
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DaysBetween returns to - from in whole calendar days.
func DaysBetween(from, to LocalDate) int {
	return int(to.asUTC().Sub(from.asUTC()).Hours() / 24)
}

// SameMonth reports whether both dates fall in the same calendar month.
func (d LocalDate) SameMonth(other LocalDate) bool {
	return d.Year == other.Year && d.Month == other.Month
}

func (d LocalDate) asUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d LocalDate) String() string {
	return d.asUTC().Format("2006-01-02")
}

// ParseLocalDate parses a YYYY-MM-DD string.
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return LocalDate{}, err
	}
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// =============================================================================
// MEMBER - Per-member counters and reset cursors
// =============================================================================

// Member holds everything the accrual engine and the reset scheduler need:
// streak state, monthly/lifetime totals, and the last-reset cursors that
// double as idempotency guards for scheduled resets.
type Member struct {
	ID       MemberID
	Timezone string // IANA zone; empty means ReferenceZone
	TeamID   TeamID // optional house affiliation

	// PreviousTimezone is set when the member changes zones and cleared
	// after the next qualifying streak evaluation, which considers both
	// zones and keeps the friendlier outcome.
	PreviousTimezone string

	CurrentStreak     int
	LongestStreak     int
	LastQualifyingDay LocalDate // zero value = no qualifying day yet

	MonthlyMinutes  decimal.Decimal
	MonthlyPoints   decimal.Decimal
	LifetimeMinutes decimal.Decimal
	LifetimePoints  decimal.Decimal

	LastDailyReset   time.Time // zero = never reset
	LastMonthlyReset time.Time

	CreatedAt time.Time
}

// Zone returns the member's timezone, defaulting to the reference zone.
func (m *Member) Zone() string {
	if m.Timezone == "" {
		return ReferenceZone
	}
	return m.Timezone
}

// =============================================================================
// TEAM - Shared house aggregate
// =============================================================================

// Team totals are written by many members concurrently; all mutation goes
// through a serialized read-modify-write guarded by a named advisory lock.
type Team struct {
	ID             TeamID
	Name           string
	MonthlyPoints  decimal.Decimal
	LifetimePoints decimal.Decimal

	LastMonthlyReset time.Time

	CreatedAt time.Time
}

// TeamLockKey is the advisory lock name serializing writes to one team row.
func TeamLockKey(id TeamID) string { return "team:" + string(id) }

// =============================================================================
// PRESENCE INTERVAL - One voice presence span
// =============================================================================

// PresenceInterval is one open-or-closed span per (member, channel).
// Date is the local calendar day the interval is attributed to, fixed at
// creation; only the midnight split supersedes it (by closing the interval
// and opening a successor dated to the new day).
type PresenceInterval struct {
	ID        string
	MemberID  MemberID
	ChannelID ChannelID
	StartedAt time.Time
	EndedAt   *time.Time // nil while open
	Date      LocalDate
}

func (p *PresenceInterval) IsOpen() bool { return p.EndedAt == nil }

// Duration returns the closed span length, or elapsed time until now for
// an open interval.
func (p *PresenceInterval) Duration(now time.Time) time.Duration {
	end := now
	if p.EndedAt != nil {
		end = *p.EndedAt
	}
	return end.Sub(p.StartedAt)
}

// =============================================================================
// DAILY AGGREGATE - Per (member, local date) activity
// =============================================================================

// DailyAggregate accumulates one member's activity for one local day.
// Points are always recomputed from Minutes via PointsForDay, never
// incremented independently, so the tier/round/cap policy stays internally
// consistent no matter how many intervals contributed.
type DailyAggregate struct {
	MemberID     MemberID
	Date         LocalDate
	Minutes      decimal.Decimal
	SessionCount int
	Points       decimal.Decimal
	Archived     bool
}

// NewDailyAggregate returns an empty aggregate for the given member and day.
func NewDailyAggregate(memberID MemberID, date LocalDate) *DailyAggregate {
	return &DailyAggregate{
		MemberID: memberID,
		Date:     date,
		Minutes:  decimal.Zero,
		Points:   decimal.Zero,
	}
}
