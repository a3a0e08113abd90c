/*
handlers.go - HTTP API handlers for the activity accrual engine

PURPOSE:
  Exposes the accrual engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Gateway boundary (the platform event source posts here):
    POST   /api/events/join             Member joined a voice channel
    POST   /api/events/leave            Member left a voice channel

  Members:
    GET    /api/members/{id}/stats      Member stats (cache-or-recompute)
    GET    /api/members/{id}/limit      Daily limit info
    GET    /api/members/{id}/timezone   Get timezone (defaults, never fails)
    PUT    /api/members/{id}/timezone   Set timezone (validates, may 400)
    POST   /api/members/{id}/team       Assign house

  Leaderboards:
    GET    /api/leaderboard             ?scope=monthly|lifetime
    GET    /api/teams/leaderboard       Team standings

  Admin:
    POST   /api/admin/reset/daily       Force daily pass (idempotent)
    POST   /api/admin/reset/monthly     Force monthly pass (idempotent)
    POST   /api/admin/recovery          Extended-lookback recovery pass
    GET    /api/scheduler/status        Scheduler observability

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors (bad timezone, malformed body)
  - 404: Unknown member/team
  - 409: No open interval to close
  - 500: Internal errors

READ CACHING:
  Stats and leaderboard reads consult the bounded TTL cache first and
  fall back to the canonical computation; every write path invalidates
  the affected prefixes. The computation is the single source of truth.

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/cache"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/scheduler"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     engine.Store
	Sessions  *engine.Manager
	Scheduler *scheduler.Scheduler
	Zones     *engine.Resolver
	Cache     *cache.Cache

	// Clock is swappable for tests.
	Clock func() time.Time
}

// NewHandler creates a new handler with the given collaborators.
func NewHandler(store engine.Store, sessions *engine.Manager, sched *scheduler.Scheduler, zones *engine.Resolver, c *cache.Cache) *Handler {
	return &Handler{
		Store:     store,
		Sessions:  sessions,
		Scheduler: sched,
		Zones:     zones,
		Cache:     c,
		Clock:     time.Now,
	}
}

// =============================================================================
// GATEWAY BOUNDARY
// =============================================================================

// JoinEvent handles onMemberJoinedChannel.
// POST /api/events/join
func (h *Handler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	var req PresenceEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MemberID == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "member_id and channel_id are required", nil)
		return
	}

	iv, err := h.Sessions.Start(r.Context(), engine.MemberID(req.MemberID), engine.ChannelID(req.ChannelID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to open session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"interval_id": iv.ID,
		"date":        iv.Date.String(),
	})
}

// LeaveEvent handles onMemberLeftChannel.
// POST /api/events/leave
func (h *Handler) LeaveEvent(w http.ResponseWriter, r *http.Request) {
	var req PresenceEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.Sessions.End(r.Context(), engine.MemberID(req.MemberID), engine.ChannelID(req.ChannelID))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case engine.IsClientError(err):
			status = http.StatusConflict
		case engine.IsNotFound(err):
			status = http.StatusNotFound
		}
		writeError(w, status, "Failed to close session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResultDTO(result))
}

// =============================================================================
// MEMBER ENDPOINTS
// =============================================================================

// GetMemberStats returns a member's stats, cache-or-recompute.
// GET /api/members/{id}/stats
func (h *Handler) GetMemberStats(w http.ResponseWriter, r *http.Request) {
	id := engine.MemberID(chi.URLParam(r, "id"))
	cacheKey := engine.CacheKeyMemberPrefix + string(id) + ":stats"

	if cached, ok := h.Cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	m, err := h.Store.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Member not found", err)
		return
	}

	today := engine.DateIn(h.Clock(), m.Zone())
	agg, err := h.Store.GetDailyAggregate(r.Context(), id, today)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load daily aggregate", err)
		return
	}

	sixty := decimal.NewFromInt(60)
	dto := MemberStatsDTO{
		ID:             string(m.ID),
		Timezone:       m.Zone(),
		TeamID:         string(m.TeamID),
		CurrentStreak:  m.CurrentStreak,
		LongestStreak:  m.LongestStreak,
		MonthlyHours:   m.MonthlyMinutes.DivRound(sixty, 2).String(),
		MonthlyPoints:  m.MonthlyPoints.StringFixed(2),
		LifetimeHours:  m.LifetimeMinutes.DivRound(sixty, 2).String(),
		LifetimePoints: m.LifetimePoints.StringFixed(2),
		TodayMinutes:   agg.Minutes.StringFixed(2),
		TodayPoints:    agg.Points.StringFixed(2),
		TodaySessions:  agg.SessionCount,
	}

	h.Cache.Set(cacheKey, dto)
	writeJSON(w, http.StatusOK, dto)
}

// GetDailyLimit returns the daily cap state for a member.
// GET /api/members/{id}/limit
func (h *Handler) GetDailyLimit(w http.ResponseWriter, r *http.Request) {
	id := engine.MemberID(chi.URLParam(r, "id"))

	m, err := h.Store.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Member not found", err)
		return
	}

	agg, err := h.Store.GetDailyAggregate(r.Context(), id, engine.DateIn(h.Clock(), m.Zone()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load daily aggregate", err)
		return
	}

	info := engine.DailyLimit(agg.Minutes)
	writeJSON(w, http.StatusOK, DailyLimitDTO{
		DailyHours:     info.DailyHours.StringFixed(2),
		RemainingHours: info.RemainingHours.StringFixed(2),
		LimitReached:   info.LimitReached,
		CanEarnPoints:  info.CanEarnPoints,
	})
}

// GetTimezone returns a member's timezone; lookup defaults, never fails.
// GET /api/members/{id}/timezone
func (h *Handler) GetTimezone(w http.ResponseWriter, r *http.Request) {
	id := engine.MemberID(chi.URLParam(r, "id"))
	zone := h.Zones.Resolve(r.Context(), id)
	writeJSON(w, http.StatusOK, TimezoneDTO{MemberID: string(id), Timezone: zone})
}

// SetTimezone sets a member's timezone; invalid zones are rejected here,
// at set time, never silently coerced later.
// PUT /api/members/{id}/timezone
func (h *Handler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	id := engine.MemberID(chi.URLParam(r, "id"))
	var req SetTimezoneRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := engine.ValidateZone(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timezone", err)
		return
	}

	if _, err := h.Store.EnsureMember(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load member", err)
		return
	}
	err := h.Store.UpdateMember(r.Context(), id, func(m *engine.Member) error {
		// Remember the zone the member moved away from so the next
		// qualifying streak evaluation can consider both calendars.
		if m.Zone() != req.Timezone {
			m.PreviousTimezone = m.Zone()
		}
		m.Timezone = req.Timezone
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set timezone", err)
		return
	}

	h.Zones.Invalidate(id)
	h.Cache.InvalidatePattern(engine.CacheKeyMemberPrefix + string(id))
	writeJSON(w, http.StatusOK, TimezoneDTO{MemberID: string(id), Timezone: req.Timezone})
}

// AssignTeam puts a member in a house, creating the team lazily.
// POST /api/members/{id}/team
func (h *Handler) AssignTeam(w http.ResponseWriter, r *http.Request) {
	id := engine.MemberID(chi.URLParam(r, "id"))
	var req AssignTeamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TeamID == "" {
		writeError(w, http.StatusBadRequest, "team_id is required", nil)
		return
	}

	name := req.Name
	if name == "" {
		name = req.TeamID
	}
	if _, err := h.Store.EnsureTeam(r.Context(), engine.TeamID(req.TeamID), name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create team", err)
		return
	}
	if _, err := h.Store.EnsureMember(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load member", err)
		return
	}
	err := h.Store.UpdateMember(r.Context(), id, func(m *engine.Member) error {
		m.TeamID = engine.TeamID(req.TeamID)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to assign team", err)
		return
	}

	h.Cache.InvalidatePattern(engine.CacheKeyMemberPrefix + string(id))
	writeJSON(w, http.StatusOK, map[string]string{"member_id": string(id), "team_id": req.TeamID})
}

// =============================================================================
// LEADERBOARDS
// =============================================================================

// GetLeaderboard returns the ranked member leaderboard.
// GET /api/leaderboard?scope=monthly|lifetime
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	scope := engine.LeaderboardScope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = engine.ScopeMonthly
	}
	if scope != engine.ScopeMonthly && scope != engine.ScopeLifetime {
		writeError(w, http.StatusBadRequest, "scope must be monthly or lifetime", nil)
		return
	}

	cacheKey := engine.CacheKeyLeaderboardPrefix + string(scope)
	if cached, ok := h.Cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	members, err := h.Store.ListTopMembers(r.Context(), scope, 25)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load leaderboard", err)
		return
	}

	entries := make([]LeaderboardEntryDTO, 0, len(members))
	for i, m := range members {
		points, minutes := m.MonthlyPoints, m.MonthlyMinutes
		if scope == engine.ScopeLifetime {
			points, minutes = m.LifetimePoints, m.LifetimeMinutes
		}
		entries = append(entries, LeaderboardEntryDTO{
			Rank:     i + 1,
			MemberID: string(m.ID),
			Points:   points.StringFixed(2),
			Hours:    minutes.DivRound(decimal.NewFromInt(60), 2).String(),
			Streak:   m.CurrentStreak,
		})
	}

	h.Cache.Set(cacheKey, entries)
	writeJSON(w, http.StatusOK, entries)
}

// GetTeamLeaderboard returns the ranked team standings.
// GET /api/teams/leaderboard
func (h *Handler) GetTeamLeaderboard(w http.ResponseWriter, r *http.Request) {
	cacheKey := engine.CacheKeyTeamPrefix + "standings"
	if cached, ok := h.Cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	teams, err := h.Store.ListTeams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load teams", err)
		return
	}

	standings := make([]TeamStandingDTO, 0, len(teams))
	for i, t := range teams {
		standings = append(standings, TeamStandingDTO{
			Rank:           i + 1,
			TeamID:         string(t.ID),
			Name:           t.Name,
			MonthlyPoints:  t.MonthlyPoints.StringFixed(2),
			LifetimePoints: t.LifetimePoints.StringFixed(2),
		})
	}

	h.Cache.Set(cacheKey, standings)
	writeJSON(w, http.StatusOK, standings)
}

// =============================================================================
// ADMIN & SCHEDULER
// =============================================================================

// ForceDailyReset triggers the daily pass immediately.
// POST /api/admin/reset/daily
func (h *Handler) ForceDailyReset(w http.ResponseWriter, r *http.Request) {
	result := h.Scheduler.ForceDailyReset(r.Context())
	writeJSON(w, http.StatusOK, toPassResultDTO(result))
}

// ForceMonthlyReset triggers the monthly pass immediately.
// POST /api/admin/reset/monthly
func (h *Handler) ForceMonthlyReset(w http.ResponseWriter, r *http.Request) {
	result := h.Scheduler.ForceMonthlyReset(r.Context())
	writeJSON(w, http.StatusOK, toPassResultDTO(result))
}

// RunRecovery triggers the extended-lookback recovery pass.
// POST /api/admin/recovery
func (h *Handler) RunRecovery(w http.ResponseWriter, r *http.Request) {
	daily, monthly := h.Scheduler.RunRecovery(r.Context())
	writeJSON(w, http.StatusOK, map[string]PassResultDTO{
		"daily":   toPassResultDTO(daily),
		"monthly": toPassResultDTO(monthly),
	})
}

// GetSchedulerStatus exposes the scheduler's observable state.
// GET /api/scheduler/status
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSchedulerStatusDTO(h.Scheduler.GetStatus()))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), nil)
		return false
	}
	return true
}
