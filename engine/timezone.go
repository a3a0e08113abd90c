/*
timezone.go - Member timezone resolution and local-calendar arithmetic

PURPOSE:
  Maps a member to an IANA timezone (with a bounded, TTL-expiring cache)
  and answers the calendar questions the rest of the engine asks: what is
  "today" for this member, when is their next midnight, and is a given
  date a DST transition day.

VALIDATION vs LOOKUP:
  Setting a timezone validates strictly (ValidateZone) and rejects bad
  input with ErrInvalidTimezone. Looking one up never fails: a missing
  member or unset zone resolves to the reference zone. The two paths are
  deliberately asymmetric per the error-handling design.

DST HANDLING:
  If a member's local midnight falls in an hour that a DST transition
  skipped or duplicated, the scheduled instant is nudged forward to a
  fixed safe hour (03:00 local) so exactly one reset fires that day.

CACHING:
  The zone cache is an explicit collaborator on the Resolver, bounded in
  size and expiring by TTL - never a package-level singleton - so tests
  can construct and discard it freely.

SEE ALSO:
  - session.go:  dates intervals with DateIn
  - scheduler:   uses NextMidnight/LocalMidnight eligibility checks
*/
package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ReferenceZone is the universal default applied when a member has not
// chosen a timezone.
const ReferenceZone = "UTC"

// SafeResetHour is the local hour a scheduled midnight is nudged to when
// a DST transition makes midnight nonexistent or ambiguous.
const SafeResetHour = 3

// =============================================================================
// ZONE VALIDATION
// =============================================================================

// ValidateZone checks a timezone string at the point a member sets it.
// Accepts "UTC" and Region/City IANA names; rejects everything else.
func ValidateZone(zone string) error {
	if zone == "" {
		return &TimezoneError{Zone: zone, Reason: "empty"}
	}
	if zone == "UTC" {
		return nil
	}
	if !strings.Contains(zone, "/") {
		return &TimezoneError{Zone: zone, Reason: "must be an IANA Region/City name"}
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return &TimezoneError{Zone: zone, Reason: "unknown zone"}
	}
	return nil
}

// loadZone resolves a zone string to a Location, falling back to the
// reference zone for anything unloadable. Only used on the lookup path;
// the setting path has already validated.
func loadZone(zone string) *time.Location {
	if zone == "" || zone == ReferenceZone {
		return time.UTC
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// =============================================================================
// LOCAL CALENDAR ARITHMETIC
// =============================================================================

// NowIn returns the current instant viewed in the given zone.
func NowIn(zone string) time.Time {
	return time.Now().In(loadZone(zone))
}

// TodayIn returns the current calendar date in the given zone.
func TodayIn(zone string) LocalDate {
	return DateOf(time.Now(), loadZone(zone))
}

// DateIn returns the calendar date of t in the given zone.
func DateIn(t time.Time, zone string) LocalDate {
	return DateOf(t, loadZone(zone))
}

// LocalMidnight returns the instant the given date begins in the given
// zone. If a DST transition skipped or duplicated that wall-clock hour,
// the instant is nudged forward to SafeResetHour so it is unambiguous.
func LocalMidnight(zone string, date LocalDate) time.Time {
	loc := loadZone(zone)
	t := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	if t.Hour() != 0 || t.Day() != date.Day {
		// Midnight does not exist on this day (spring-forward at 00:00).
		return time.Date(date.Year, date.Month, date.Day, SafeResetHour, 0, 0, 0, loc)
	}
	if ambiguousAround(t) {
		return time.Date(date.Year, date.Month, date.Day, SafeResetHour, 0, 0, 0, loc)
	}
	return t
}

// NextMidnight returns the instant the next calendar day begins in the
// given zone, relative to after.
func NextMidnight(zone string, after time.Time) time.Time {
	next := DateOf(after, loadZone(zone)).AddDays(1)
	return LocalMidnight(zone, next)
}

// IsDSTTransitionDay reports whether the UTC offset changes at any point
// during the given local date.
func IsDSTTransitionDay(zone string, date LocalDate) bool {
	loc := loadZone(zone)
	start := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	end := start.Add(27 * time.Hour) // past any possible day length
	_, startOffset := start.Zone()
	_, endOffset := end.Zone()
	return startOffset != endOffset
}

// ambiguousAround reports whether a backward DST transition occurred in
// the two hours leading up to t, which makes t's wall-clock reading occur
// twice.
func ambiguousAround(t time.Time) bool {
	_, before := t.Add(-2 * time.Hour).Zone()
	_, at := t.Zone()
	return before != at
}

// =============================================================================
// RESOLVER - Member -> zone with bounded TTL cache
// =============================================================================

// ZoneSource is the narrow store surface the Resolver reads from.
type ZoneSource interface {
	GetMember(ctx context.Context, id MemberID) (*Member, error)
}

type zoneEntry struct {
	zone    string
	expires time.Time
}

// Resolver resolves member timezones with a bounded in-memory cache.
type Resolver struct {
	Source     ZoneSource
	TTL        time.Duration
	MaxEntries int

	mu    sync.Mutex
	cache map[MemberID]zoneEntry
}

// NewResolver creates a Resolver with sensible cache bounds.
func NewResolver(source ZoneSource) *Resolver {
	return &Resolver{
		Source:     source,
		TTL:        10 * time.Minute,
		MaxEntries: 10000,
		cache:      make(map[MemberID]zoneEntry),
	}
}

// Resolve returns the member's timezone, defaulting to the reference zone
// for unknown members, unset zones, or store failures. Never fails.
func (r *Resolver) Resolve(ctx context.Context, id MemberID) string {
	now := time.Now()

	r.mu.Lock()
	if e, ok := r.cache[id]; ok && now.Before(e.expires) {
		r.mu.Unlock()
		return e.zone
	}
	r.mu.Unlock()

	zone := ReferenceZone
	if m, err := r.Source.GetMember(ctx, id); err == nil {
		zone = m.Zone()
	}

	r.mu.Lock()
	if len(r.cache) >= r.MaxEntries {
		r.evictExpiredLocked(now)
	}
	if len(r.cache) < r.MaxEntries {
		r.cache[id] = zoneEntry{zone: zone, expires: now.Add(r.TTL)}
	}
	r.mu.Unlock()

	return zone
}

// Invalidate drops a member's cached zone, e.g. after a timezone change.
func (r *Resolver) Invalidate(id MemberID) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// Reset clears the whole cache (between test runs).
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[MemberID]zoneEntry)
	r.mu.Unlock()
}

func (r *Resolver) evictExpiredLocked(now time.Time) {
	for id, e := range r.cache {
		if now.After(e.expires) {
			delete(r.cache, id)
		}
	}
}
