package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(year int, month time.Month, day int) engine.LocalDate {
	return engine.LocalDate{Year: year, Month: month, Day: day}
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestMember_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetMember(ctx, "m1")
	assert.ErrorIs(t, err, engine.ErrUnknownMember)

	created, err := store.EnsureMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, engine.MemberID("m1"), created.ID)
	assert.True(t, created.MonthlyPoints.IsZero())

	lastReset := time.Date(2025, time.June, 1, 3, 0, 0, 0, time.UTC)
	err = store.UpdateMember(ctx, "m1", func(m *engine.Member) error {
		m.Timezone = "Asia/Tokyo"
		m.PreviousTimezone = "Pacific/Honolulu"
		m.TeamID = "ravenclaw"
		m.CurrentStreak = 4
		m.LongestStreak = 9
		m.LastQualifyingDay = date(2025, time.June, 1)
		m.MonthlyMinutes = decimal.NewFromFloat(123.45)
		m.MonthlyPoints = decimal.NewFromFloat(7.5)
		m.LifetimeMinutes = decimal.NewFromInt(9999)
		m.LifetimePoints = decimal.NewFromInt(420)
		m.LastDailyReset = lastReset
		m.LastMonthlyReset = lastReset
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
	assert.Equal(t, "Pacific/Honolulu", got.PreviousTimezone)
	assert.Equal(t, engine.TeamID("ravenclaw"), got.TeamID)
	assert.Equal(t, 4, got.CurrentStreak)
	assert.Equal(t, 9, got.LongestStreak)
	assert.Equal(t, date(2025, time.June, 1), got.LastQualifyingDay)
	assert.True(t, got.MonthlyMinutes.Equal(decimal.NewFromFloat(123.45)), "no decimal drift")
	assert.True(t, got.MonthlyPoints.Equal(decimal.NewFromFloat(7.5)))
	assert.True(t, got.LastDailyReset.Equal(lastReset))
}

func TestEnsureMember_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureMember(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateMember(ctx, "m1", func(m *engine.Member) error {
		m.CurrentStreak = 7
		return nil
	}))

	// A second ensure must not clobber existing state.
	again, err := store.EnsureMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 7, again.CurrentStreak)
}

func TestUpdateMember_Unknown(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateMember(context.Background(), "ghost", func(*engine.Member) error { return nil })
	assert.ErrorIs(t, err, engine.ErrUnknownMember)
}

func TestListResetCandidates(t *testing.T) {
	// GIVEN: members with empty, stale, and fresh daily reset cursors
	// WHEN: listing daily candidates older than 25 hours ago
	// THEN: the empty and stale cursors match, the fresh one does not

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for id, cursor := range map[engine.MemberID]time.Time{
		"never": {},
		"stale": now.Add(-48 * time.Hour),
		"fresh": now.Add(-1 * time.Hour),
	} {
		_, err := store.EnsureMember(ctx, id)
		require.NoError(t, err)
		cursor := cursor
		require.NoError(t, store.UpdateMember(ctx, id, func(m *engine.Member) error {
			m.LastDailyReset = cursor
			return nil
		}))
	}

	candidates, err := store.ListDailyResetCandidates(ctx, now.Add(-25*time.Hour))
	require.NoError(t, err)

	ids := make([]engine.MemberID, 0, len(candidates))
	for _, m := range candidates {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []engine.MemberID{"never", "stale"}, ids)
}

func TestListTopMembers_NumericOrdering(t *testing.T) {
	// TEXT decimal columns would rank "9" above "10" lexically; the ranking
	// must compare numerically.

	store := newTestStore(t)
	ctx := context.Background()

	for id, pts := range map[engine.MemberID]int64{"nine": 9, "ten": 10, "two": 2} {
		_, err := store.EnsureMember(ctx, id)
		require.NoError(t, err)
		pts := pts
		require.NoError(t, store.UpdateMember(ctx, id, func(m *engine.Member) error {
			m.MonthlyPoints = decimal.NewFromInt(pts)
			return nil
		}))
	}

	top, err := store.ListTopMembers(ctx, engine.ScopeMonthly, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, engine.MemberID("ten"), top[0].ID)
	assert.Equal(t, engine.MemberID("nine"), top[1].ID)
}

// =============================================================================
// INTERVALS
// =============================================================================

func openInterval(t *testing.T, store *sqlite.Store, member engine.MemberID, channel engine.ChannelID, startedAt time.Time) *engine.PresenceInterval {
	t.Helper()
	iv := &engine.PresenceInterval{
		ID:        uuid.NewString(),
		MemberID:  member,
		ChannelID: channel,
		StartedAt: startedAt,
		Date:      engine.DateIn(startedAt, "UTC"),
	}
	require.NoError(t, store.OpenInterval(context.Background(), iv))
	return iv
}

func TestInterval_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	_, err := store.GetOpenInterval(ctx, "m1", "voice-1")
	assert.ErrorIs(t, err, engine.ErrNoOpenInterval)

	iv := openInterval(t, store, "m1", "voice-1", start)

	got, err := store.GetOpenInterval(ctx, "m1", "voice-1")
	require.NoError(t, err)
	assert.Equal(t, iv.ID, got.ID)
	assert.True(t, got.IsOpen())
	assert.Equal(t, date(2025, time.June, 1), got.Date)

	require.NoError(t, store.CloseInterval(ctx, iv.ID, start.Add(time.Hour)))

	_, err = store.GetOpenInterval(ctx, "m1", "voice-1")
	assert.ErrorIs(t, err, engine.ErrNoOpenInterval)

	// Closing an already-closed interval is an error, not a silent rewrite.
	err = store.CloseInterval(ctx, iv.ID, start.Add(2*time.Hour))
	assert.ErrorIs(t, err, engine.ErrIntervalClosed)
}

func TestInterval_OneOpenPerMemberChannel(t *testing.T) {
	// GIVEN: an open interval for (member, channel)
	// WHEN: opening a second one for the same pair
	// THEN: the partial unique index rejects it

	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	openInterval(t, store, "m1", "voice-1", start)

	dup := &engine.PresenceInterval{
		ID:        uuid.NewString(),
		MemberID:  "m1",
		ChannelID: "voice-1",
		StartedAt: start.Add(time.Minute),
		Date:      date(2025, time.June, 1),
	}
	err := store.OpenInterval(ctx, dup)
	assert.ErrorIs(t, err, engine.ErrDuplicateOpenInterval)

	// A different channel is fine.
	openInterval(t, store, "m1", "voice-2", start)

	open, err := store.ListOpenIntervals(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

// =============================================================================
// DAILY AGGREGATES
// =============================================================================

func TestDailyAggregate_UpsertAndArchive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	today := date(2025, time.June, 3)

	// Missing rows read back as an empty aggregate, not an error.
	empty, err := store.GetDailyAggregate(ctx, "m1", today)
	require.NoError(t, err)
	assert.True(t, empty.Minutes.IsZero())
	assert.Equal(t, 0, empty.SessionCount)

	for _, d := range []engine.LocalDate{today.AddDays(-2), today.AddDays(-1), today} {
		agg := engine.NewDailyAggregate("m1", d)
		agg.Minutes = decimal.NewFromInt(90)
		agg.SessionCount = 2
		agg.Points = engine.PointsForDay(agg.Minutes)
		require.NoError(t, store.SaveDailyAggregate(ctx, agg))
	}

	// Upsert overwrites in place.
	updated := engine.NewDailyAggregate("m1", today)
	updated.Minutes = decimal.NewFromInt(150)
	updated.SessionCount = 3
	updated.Points = engine.PointsForDay(updated.Minutes)
	require.NoError(t, store.SaveDailyAggregate(ctx, updated))

	got, err := store.GetDailyAggregate(ctx, "m1", today)
	require.NoError(t, err)
	assert.True(t, got.Minutes.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 3, got.SessionCount)

	// Archiving marks only the finished days, preserving their data.
	archived, err := store.ArchiveDailyAggregates(ctx, "m1", today)
	require.NoError(t, err)
	assert.Equal(t, 2, archived)

	old, err := store.GetDailyAggregate(ctx, "m1", today.AddDays(-1))
	require.NoError(t, err)
	assert.True(t, old.Archived)
	assert.True(t, old.Minutes.Equal(decimal.NewFromInt(90)))

	current, err := store.GetDailyAggregate(ctx, "m1", today)
	require.NoError(t, err)
	assert.False(t, current.Archived)

	// Re-archiving is a no-op.
	archived, err = store.ArchiveDailyAggregates(ctx, "m1", today)
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
}

// =============================================================================
// TEAMS
// =============================================================================

func TestTeam_RoundTripAndRanking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetTeam(ctx, "gryffindor")
	assert.ErrorIs(t, err, engine.ErrUnknownTeam)

	_, err = store.EnsureTeam(ctx, "gryffindor", "Gryffindor")
	require.NoError(t, err)
	_, err = store.EnsureTeam(ctx, "slytherin", "Slytherin")
	require.NoError(t, err)

	require.NoError(t, store.UpdateTeam(ctx, "slytherin", func(team *engine.Team) error {
		team.MonthlyPoints = decimal.NewFromInt(120)
		team.LifetimePoints = decimal.NewFromInt(120)
		return nil
	}))
	require.NoError(t, store.UpdateTeam(ctx, "gryffindor", func(team *engine.Team) error {
		team.MonthlyPoints = decimal.NewFromInt(80)
		team.LifetimePoints = decimal.NewFromInt(80)
		return nil
	}))

	teams, err := store.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, engine.TeamID("slytherin"), teams[0].ID)
	assert.Equal(t, engine.TeamID("gryffindor"), teams[1].ID)
}

// =============================================================================
// ADVISORY LOCKS
// =============================================================================

func TestAcquire_SerializesHolders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := engine.TeamLockKey("gryffindor")

	release, err := store.Acquire(ctx, key)
	require.NoError(t, err)

	// A second acquire with a short deadline cannot get in.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(shortCtx, key)
	assert.ErrorIs(t, err, engine.ErrLockContention)

	release()

	// After release the lock is available again.
	release2, err := store.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestAcquire_IndependentKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r1, err := store.Acquire(ctx, engine.TeamLockKey("a"))
	require.NoError(t, err)
	defer r1()

	r2, err := store.Acquire(ctx, engine.TeamLockKey("b"))
	require.NoError(t, err)
	r2()
}
