/*
streak.go - Consecutive-day streak state machine

PURPOSE:
  Maintains each member's count of consecutive local calendar days with at
  least one qualifying (>= 15 minute) session. State is a single stored
  last-qualifying-day plus two counters; transitions depend only on the
  whole-day delta between the event's local date and the stored date.

TRANSITIONS (delta = event day - last qualifying day, in whole days):
  no prior day -> counter = 1
  delta = 0    -> no-op (idempotent: same-day sessions never double count)
  delta = 1    -> counter + 1
  delta > 1    -> counter = 1
  Longest streak = max(longest, counter) whenever the counter changes.

TIMEZONE CHANGES:
  The evaluation accepts explicit zones distinct from the member's stored
  zone. When a member changed timezone mid-streak, the event is evaluated
  in both the new and the previous zone and the friendlier outcome wins:
  a no-op beats an increment beats a reset. The event day is recorded in
  the primary (first listed) zone.

SEE ALSO:
  - session.go: calls UpdateStreak when a closed interval qualifies
*/
package engine

import "time"

// StreakOutcome describes what a qualifying event did to the counter.
type StreakOutcome int

const (
	StreakUnchanged StreakOutcome = iota // same local day, no write
	StreakStarted                        // first qualifying day ever
	StreakExtended                       // consecutive day, counter incremented
	StreakReset                          // gap of 2+ days, counter back to 1
)

func (o StreakOutcome) String() string {
	switch o {
	case StreakStarted:
		return "started"
	case StreakExtended:
		return "extended"
	case StreakReset:
		return "reset"
	default:
		return "unchanged"
	}
}

// Changed reports whether the outcome mutated streak state.
func (o StreakOutcome) Changed() bool { return o != StreakUnchanged }

// UpdateStreak applies one qualifying event at eventTime to the member's
// streak state. The first zone is primary (normally the member's current
// zone); additional zones, if given, are consulted so a timezone change
// cannot unfairly break or double-advance a streak. Mutates m only when
// the outcome is a change, so same-day repeats stay write-free.
func UpdateStreak(m *Member, eventTime time.Time, zones ...string) StreakOutcome {
	if len(zones) == 0 {
		zones = []string{m.Zone()}
	}
	primaryDay := DateIn(eventTime, zones[0])

	if m.LastQualifyingDay.IsZero() {
		m.CurrentStreak = 1
		m.LastQualifyingDay = primaryDay
		if m.LongestStreak < 1 {
			m.LongestStreak = 1
		}
		return StreakStarted
	}

	// Best delta across zones: 0 (no-op) beats 1 (extend) beats anything else.
	best := DaysBetween(m.LastQualifyingDay, primaryDay)
	for _, zone := range zones[1:] {
		d := DaysBetween(m.LastQualifyingDay, DateIn(eventTime, zone))
		if preferDelta(d, best) {
			best = d
		}
	}

	switch {
	case best <= 0:
		return StreakUnchanged
	case best == 1:
		m.CurrentStreak++
	default:
		m.CurrentStreak = 1
	}

	m.LastQualifyingDay = primaryDay
	if m.CurrentStreak > m.LongestStreak {
		m.LongestStreak = m.CurrentStreak
	}
	if best == 1 {
		return StreakExtended
	}
	return StreakReset
}

func preferDelta(candidate, current int) bool {
	rank := func(d int) int {
		switch {
		case d <= 0:
			return 0
		case d == 1:
			return 1
		default:
			return 2
		}
	}
	return rank(candidate) < rank(current)
}
