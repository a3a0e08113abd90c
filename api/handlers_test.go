package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/api"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/cache"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/scheduler"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	router http.Handler
	store  *memory.Store
	clock  *time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	zones := engine.NewResolver(store)
	readCache := cache.New(100, time.Minute)

	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	clock := &now

	sessions := engine.NewManager(store, store, zones)
	sessions.Clock = func() time.Time { return *clock }
	sessions.Cache = readCache
	sessions.Notifier = engine.NopNotifier{}

	sched := scheduler.New(store, sessions, zones)
	sched.Cache = readCache
	sched.BatchPause = 0

	h := api.NewHandler(store, sessions, sched, zones, readCache)
	h.Clock = func() time.Time { return *clock }
	return &testAPI{router: api.NewRouter(h), store: store, clock: clock}
}

func (a *testAPI) advance(d time.Duration) {
	*a.clock = a.clock.Add(d)
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

// =============================================================================
// GATEWAY BOUNDARY
// =============================================================================

func TestAPI_JoinLeaveFlow(t *testing.T) {
	// GIVEN: a fresh member joining a voice channel
	// WHEN: they leave after 70 minutes
	// THEN: the leave response reports the settled session

	a := newTestAPI(t)
	event := map[string]string{"member_id": "m1", "channel_id": "voice-1"}

	rec := a.do(t, http.MethodPost, "/api/events/join", event)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	a.advance(70 * time.Minute)
	rec = a.do(t, http.MethodPost, "/api/events/leave", event)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[map[string]any](t, rec)
	assert.Equal(t, "70.00", result["minutes"])
	assert.Equal(t, "5.00", result["points"])
	assert.Equal(t, "started", result["streak"])
}

func TestAPI_JoinValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/events/join", map[string]string{"member_id": "m1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_LeaveWithoutJoin(t *testing.T) {
	a := newTestAPI(t)

	// Unknown member -> 404
	rec := a.do(t, http.MethodPost, "/api/events/leave",
		map[string]string{"member_id": "ghost", "channel_id": "voice-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Known member, no open interval -> 409
	_, err := a.store.EnsureMember(context.Background(), "m1")
	require.NoError(t, err)
	rec = a.do(t, http.MethodPost, "/api/events/leave",
		map[string]string{"member_id": "m1", "channel_id": "voice-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// MEMBER ENDPOINTS
// =============================================================================

func TestAPI_Timezone(t *testing.T) {
	a := newTestAPI(t)

	// Lookup never fails, even for unknown members.
	rec := a.do(t, http.MethodGet, "/api/members/m1/timezone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]string](t, rec)
	assert.Equal(t, "UTC", got["timezone"])

	// Invalid zones are rejected at set time.
	rec = a.do(t, http.MethodPut, "/api/members/m1/timezone", map[string]string{"timezone": "EST"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/members/m1/timezone", map[string]string{"timezone": "Asia/Tokyo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/members/m1/timezone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[map[string]string](t, rec)
	assert.Equal(t, "Asia/Tokyo", got["timezone"])

	// A zone change remembers the zone moved away from, so the next
	// qualifying session can evaluate the streak in both calendars.
	rec = a.do(t, http.MethodPut, "/api/members/m1/timezone", map[string]string{"timezone": "Europe/Paris"})
	require.Equal(t, http.StatusOK, rec.Code)
	m, err := a.store.GetMember(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", m.Timezone)
	assert.Equal(t, "Asia/Tokyo", m.PreviousTimezone)
}

func TestAPI_StatsUnknownMember(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/members/ghost/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_StatsAfterSession(t *testing.T) {
	a := newTestAPI(t)
	event := map[string]string{"member_id": "m1", "channel_id": "voice-1"}

	a.do(t, http.MethodPost, "/api/events/join", event)
	a.advance(70 * time.Minute)
	a.do(t, http.MethodPost, "/api/events/leave", event)

	rec := a.do(t, http.MethodGet, "/api/members/m1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stats := decode[map[string]any](t, rec)
	assert.Equal(t, "70.00", stats["today_minutes"])
	assert.Equal(t, "5.00", stats["today_points"])
	assert.Equal(t, float64(1), stats["current_streak"])
}

func TestAPI_DailyLimit(t *testing.T) {
	a := newTestAPI(t)
	event := map[string]string{"member_id": "m1", "channel_id": "voice-1"}

	a.do(t, http.MethodPost, "/api/events/join", event)
	a.advance(3 * time.Hour)
	a.do(t, http.MethodPost, "/api/events/leave", event)

	rec := a.do(t, http.MethodGet, "/api/members/m1/limit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	limit := decode[map[string]any](t, rec)
	assert.Equal(t, "3.00", limit["daily_hours"])
	assert.Equal(t, "12.00", limit["remaining_hours"])
	assert.Equal(t, false, limit["limit_reached"])
}

// =============================================================================
// TEAMS & LEADERBOARDS
// =============================================================================

func TestAPI_AssignTeamAndStandings(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/members/m1/team",
		map[string]string{"team_id": "gryffindor", "name": "Gryffindor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	event := map[string]string{"member_id": "m1", "channel_id": "voice-1"}
	a.do(t, http.MethodPost, "/api/events/join", event)
	a.advance(70 * time.Minute)
	a.do(t, http.MethodPost, "/api/events/leave", event)

	rec = a.do(t, http.MethodGet, "/api/teams/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	standings := decode[[]map[string]any](t, rec)
	require.Len(t, standings, 1)
	assert.Equal(t, "gryffindor", standings[0]["team_id"])
	assert.Equal(t, "5.00", standings[0]["monthly_points"])
}

func TestAPI_Leaderboard(t *testing.T) {
	a := newTestAPI(t)

	for i, id := range []string{"low", "high"} {
		event := map[string]string{"member_id": id, "channel_id": "voice-1"}
		a.do(t, http.MethodPost, "/api/events/join", event)
		a.advance(time.Duration(70*(i+1)) * time.Minute)
		rec := a.do(t, http.MethodPost, "/api/events/leave", event)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := a.do(t, http.MethodGet, "/api/leaderboard?scope=monthly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]map[string]any](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "high", entries[0]["member_id"])
	assert.Equal(t, float64(1), entries[0]["rank"])

	rec = a.do(t, http.MethodGet, "/api/leaderboard?scope=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ADMIN & SCHEDULER
// =============================================================================

func TestAPI_AdminResetAndStatus(t *testing.T) {
	a := newTestAPI(t)

	ctx := context.Background()
	_, err := a.store.EnsureMember(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, a.store.UpdateMember(ctx, "m1", func(m *engine.Member) error {
		m.LastDailyReset = time.Now().Add(-48 * time.Hour)
		return nil
	}))

	rec := a.do(t, http.MethodPost, "/api/admin/reset/daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), result["processed"])

	rec = a.do(t, http.MethodGet, "/api/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), status["success_count"])
}

func TestAPI_Recovery(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/admin/recovery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]map[string]any](t, rec)
	assert.Contains(t, result, "daily")
	assert.Contains(t, result, "monthly")
}
