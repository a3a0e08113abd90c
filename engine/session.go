/*
session.go - Presence interval lifecycle

PURPOSE:
  Owns the start/end lifecycle of one voice presence interval per
  (member, channel), splits intervals that cross the member's local
  midnight, and drives the accrual calculator and streak tracker as side
  effects of closing an interval.

STATE MACHINE:
  no interval -> open -> closed
  Start on an already-open pair is a no-op returning the existing
  interval. End closes the most recent open interval; if its attributed
  date has fallen behind the member's current local date, it is first
  split at each crossed midnight.

MIDNIGHT SPLIT:
  The stale portion is closed at the computed local-midnight instant and
  settled with full End side effects, except that accrual uses the exact
  (unrounded) hour totals - the boundary is artificial, not a natural
  session end. A successor interval opens immediately for the remainder.

ATOMICITY:
  Member counters mutate inside Store.UpdateMember (single-row
  read-modify-write). Team totals additionally serialize on the team's
  advisory lock, released on success and failure paths. Notifications are
  dispatched last; their failure never rolls back state.

SEE ALSO:
  - points.go: PointsForIncrement / PointsForIncrementExact / PointsForDay
  - streak.go: UpdateStreak
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Manager drives the presence interval lifecycle.
type Manager struct {
	Store    Store
	Locker   Locker
	Zones    *Resolver
	Notifier Notifier
	Cache    Invalidator

	// Clock is swappable for tests.
	Clock func() time.Time
}

// NewManager wires a Manager with default collaborators.
func NewManager(store Store, locker Locker, zones *Resolver) *Manager {
	return &Manager{
		Store:    store,
		Locker:   locker,
		Zones:    zones,
		Notifier: LogNotifier{},
		Cache:    NopInvalidator{},
		Clock:    time.Now,
	}
}

// SessionResult reports the outcome of settling one closed interval.
type SessionResult struct {
	Interval     *PresenceInterval
	Minutes      decimal.Decimal
	Points       decimal.Decimal
	DailyMinutes decimal.Decimal
	DailyPoints  decimal.Decimal
	LimitReached bool
	Streak       StreakOutcome
}

// SplitResult reports one midnight split: the settled stale portion and
// the successor interval opened for the remainder.
type SplitResult struct {
	Closed   *SessionResult
	Reopened *PresenceInterval
}

// =============================================================================
// START
// =============================================================================

// Start opens a presence interval for (member, channel), dated to "today"
// in the member's zone. A second start while one is already open is a
// no-op on the existing interval.
func (mgr *Manager) Start(ctx context.Context, memberID MemberID, channelID ChannelID) (*PresenceInterval, error) {
	m, err := mgr.Store.EnsureMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	existing, err := mgr.Store.GetOpenInterval(ctx, memberID, channelID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNoOpenInterval) {
		return nil, err
	}

	now := mgr.Clock()
	iv := &PresenceInterval{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		ChannelID: channelID,
		StartedAt: now,
		Date:      DateIn(now, m.Zone()),
	}
	if err := mgr.Store.OpenInterval(ctx, iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// =============================================================================
// END
// =============================================================================

// End closes the open interval for (member, channel), splitting first at
// any local midnights the interval crossed, then settles accrual, streak,
// and team side effects for the final portion.
func (mgr *Manager) End(ctx context.Context, memberID MemberID, channelID ChannelID) (*SessionResult, error) {
	m, err := mgr.Store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	iv, err := mgr.Store.GetOpenInterval(ctx, memberID, channelID)
	if err != nil {
		return nil, err
	}

	zone := m.Zone()
	now := mgr.Clock()
	today := DateIn(now, zone)

	// Catch up on any midnights crossed while the interval was open.
	for iv.Date.Before(today) {
		split, err := mgr.splitOnce(ctx, m, iv)
		if err != nil {
			return nil, err
		}
		iv = split.Reopened
	}

	// A westward timezone change can leave the attributed date ahead of
	// the member's calendar. The session belongs to the current day.
	if iv.Date.After(today) {
		iv.Date = today
	}

	return mgr.settle(ctx, m, iv, now, false)
}

// =============================================================================
// MIDNIGHT SPLIT
// =============================================================================

// SplitAtMidnight splits the open interval for (member, channel) if its
// attributed date has fallen behind today in the member's zone. Returns
// nil when no split is needed. An interval dated ahead of today (westward
// timezone change) is never split; End re-attributes it to the current day.
func (mgr *Manager) SplitAtMidnight(ctx context.Context, memberID MemberID, channelID ChannelID) (*SplitResult, error) {
	m, err := mgr.Store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	iv, err := mgr.Store.GetOpenInterval(ctx, memberID, channelID)
	if err != nil {
		return nil, err
	}
	if !iv.Date.Before(DateIn(mgr.Clock(), m.Zone())) {
		return nil, nil
	}
	return mgr.splitOnce(ctx, m, iv)
}

// SweepStaleIntervals splits every open interval whose attributed date
// has fallen behind its member's local day. Invoked on scheduler ticks.
// One interval's failure does not stop the sweep.
func (mgr *Manager) SweepStaleIntervals(ctx context.Context) (int, error) {
	open, err := mgr.Store.ListOpenIntervals(ctx)
	if err != nil {
		return 0, err
	}

	split := 0
	var firstErr error
	for _, iv := range open {
		zone := mgr.Zones.Resolve(ctx, iv.MemberID)
		if !iv.Date.Before(DateIn(mgr.Clock(), zone)) {
			continue
		}
		if _, err := mgr.SplitAtMidnight(ctx, iv.MemberID, iv.ChannelID); err != nil {
			log.Printf("[Session] midnight split failed for member=%s channel=%s: %v",
				iv.MemberID, iv.ChannelID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		split++
	}
	return split, firstErr
}

// splitOnce closes iv at the local midnight ending its attributed day,
// settles the stale portion with exact (unrounded) accrual, and opens a
// successor interval at that instant.
func (mgr *Manager) splitOnce(ctx context.Context, m *Member, iv *PresenceInterval) (*SplitResult, error) {
	zone := m.Zone()
	boundary := LocalMidnight(zone, iv.Date.AddDays(1))
	if boundary.Before(iv.StartedAt) {
		boundary = iv.StartedAt
	}

	result, err := mgr.settle(ctx, m, iv, boundary, true)
	if err != nil {
		return nil, err
	}

	successor := &PresenceInterval{
		ID:        uuid.NewString(),
		MemberID:  iv.MemberID,
		ChannelID: iv.ChannelID,
		StartedAt: boundary,
		Date:      DateIn(boundary, zone),
	}
	if err := mgr.Store.OpenInterval(ctx, successor); err != nil {
		return nil, err
	}

	mgr.notify(ctx, Notification{
		Type:       NotificationMidnightSplit,
		MemberID:   iv.MemberID,
		ChannelID:  iv.ChannelID,
		At:         boundary,
		DailyHours: result.DailyMinutes.Div(decimal.NewFromInt(60)),
		Message:    fmt.Sprintf("session split at local midnight (%s)", successor.Date),
	})

	return &SplitResult{Closed: result, Reopened: successor}, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// settle closes the interval at endedAt and applies all side effects:
// daily aggregate recompute, member counter updates, streak evaluation,
// team increment, cache invalidation, and the cap-reached notification.
func (mgr *Manager) settle(ctx context.Context, m *Member, iv *PresenceInterval, endedAt time.Time, exact bool) (*SessionResult, error) {
	if err := mgr.Store.CloseInterval(ctx, iv.ID, endedAt); err != nil {
		return nil, err
	}
	closed := *iv
	closed.EndedAt = &endedAt

	duration := endedAt.Sub(iv.StartedAt)
	minutes := decimal.NewFromFloat(duration.Minutes())

	agg, err := mgr.Store.GetDailyAggregate(ctx, iv.MemberID, iv.Date)
	if err != nil {
		return nil, err
	}
	oldMinutes := agg.Minutes
	newMinutes := oldMinutes.Add(minutes)

	var points decimal.Decimal
	if exact {
		points = PointsForIncrementExact(oldMinutes, newMinutes)
	} else {
		points = PointsForIncrement(oldMinutes, newMinutes)
	}

	// The aggregate is wholly recomputed from the new cumulative minutes;
	// it never accumulates the per-session award.
	agg.Minutes = newMinutes
	agg.SessionCount++
	agg.Points = PointsForDay(newMinutes)
	if err := mgr.Store.SaveDailyAggregate(ctx, agg); err != nil {
		return nil, err
	}

	qualifies := duration >= MinQualifyingMinutes*time.Minute
	var outcome StreakOutcome
	err = mgr.Store.UpdateMember(ctx, iv.MemberID, func(row *Member) error {
		row.LifetimeMinutes = row.LifetimeMinutes.Add(minutes)
		row.MonthlyMinutes = row.MonthlyMinutes.Add(minutes)
		row.LifetimePoints = row.LifetimePoints.Add(points)
		row.MonthlyPoints = row.MonthlyPoints.Add(points)
		if qualifies {
			zones := []string{m.Zone()}
			if prev := row.PreviousTimezone; prev != "" && prev != m.Zone() {
				zones = append(zones, prev)
			}
			outcome = UpdateStreak(row, iv.StartedAt, zones...)
			row.PreviousTimezone = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.TeamID != "" && points.IsPositive() {
		if err := mgr.incrementTeam(ctx, m.TeamID, points); err != nil {
			return nil, err
		}
	}

	mgr.invalidate(m)

	oldLimit := DailyLimit(oldMinutes)
	newLimit := DailyLimit(newMinutes)
	if newLimit.LimitReached && !oldLimit.LimitReached {
		mgr.notify(ctx, Notification{
			Type:       NotificationCapReached,
			MemberID:   iv.MemberID,
			ChannelID:  iv.ChannelID,
			At:         endedAt,
			DailyHours: newLimit.DailyHours,
			Message:    "daily point limit reached; hours still count, points resume tomorrow",
		})
	}

	return &SessionResult{
		Interval:     &closed,
		Minutes:      minutes,
		Points:       points,
		DailyMinutes: newMinutes,
		DailyPoints:  agg.Points,
		LimitReached: newLimit.LimitReached,
		Streak:       outcome,
	}, nil
}

// incrementTeam applies a serialized read-modify-write to the team row
// under its advisory lock.
func (mgr *Manager) incrementTeam(ctx context.Context, teamID TeamID, points decimal.Decimal) error {
	release, err := mgr.Locker.Acquire(ctx, TeamLockKey(teamID))
	if err != nil {
		return err
	}
	defer release()

	return mgr.Store.UpdateTeam(ctx, teamID, func(t *Team) error {
		t.MonthlyPoints = t.MonthlyPoints.Add(points)
		t.LifetimePoints = t.LifetimePoints.Add(points)
		return nil
	})
}

func (mgr *Manager) invalidate(m *Member) {
	mgr.Cache.InvalidatePattern(CacheKeyMemberPrefix + string(m.ID))
	mgr.Cache.InvalidatePattern(CacheKeyLeaderboardPrefix)
	if m.TeamID != "" {
		mgr.Cache.InvalidatePattern(CacheKeyTeamPrefix + string(m.TeamID))
	}
}

func (mgr *Manager) notify(ctx context.Context, n Notification) {
	if mgr.Notifier == nil {
		return
	}
	if err := mgr.Notifier.Notify(ctx, n); err != nil {
		log.Printf("[Session] notification %s for member %s not delivered: %v", n.Type, n.MemberID, err)
	}
}
