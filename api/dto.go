/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/scheduler"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PresenceEventRequest is the payload of the platform gateway's
// member-joined/member-left events.
type PresenceEventRequest struct {
	MemberID  string `json:"member_id"`
	ChannelID string `json:"channel_id"`
}

// SessionResultDTO reports the outcome of a settled session.
type SessionResultDTO struct {
	IntervalID   string `json:"interval_id"`
	Date         string `json:"date"`
	Minutes      string `json:"minutes"`
	Points       string `json:"points"`
	DailyMinutes string `json:"daily_minutes"`
	DailyPoints  string `json:"daily_points"`
	LimitReached bool   `json:"limit_reached"`
	Streak       string `json:"streak,omitempty"`
}

// DailyLimitDTO is the command-surface view of the daily cap state.
type DailyLimitDTO struct {
	DailyHours     string `json:"daily_hours"`
	RemainingHours string `json:"remaining_hours"`
	LimitReached   bool   `json:"limit_reached"`
	CanEarnPoints  bool   `json:"can_earn_points"`
}

// MemberStatsDTO summarizes one member for stats displays.
type MemberStatsDTO struct {
	ID              string `json:"id"`
	Timezone        string `json:"timezone"`
	TeamID          string `json:"team_id,omitempty"`
	CurrentStreak   int    `json:"current_streak"`
	LongestStreak   int    `json:"longest_streak"`
	MonthlyHours    string `json:"monthly_hours"`
	MonthlyPoints   string `json:"monthly_points"`
	LifetimeHours   string `json:"lifetime_hours"`
	LifetimePoints  string `json:"lifetime_points"`
	TodayMinutes    string `json:"today_minutes"`
	TodayPoints     string `json:"today_points"`
	TodaySessions   int    `json:"today_sessions"`
}

// LeaderboardEntryDTO is one ranked row of a member leaderboard.
type LeaderboardEntryDTO struct {
	Rank     int    `json:"rank"`
	MemberID string `json:"member_id"`
	Points   string `json:"points"`
	Hours    string `json:"hours"`
	Streak   int    `json:"streak"`
}

// TeamStandingDTO is one ranked row of the team leaderboard.
type TeamStandingDTO struct {
	Rank           int    `json:"rank"`
	TeamID         string `json:"team_id"`
	Name           string `json:"name"`
	MonthlyPoints  string `json:"monthly_points"`
	LifetimePoints string `json:"lifetime_points"`
}

// TimezoneDTO carries a member's timezone setting.
type TimezoneDTO struct {
	MemberID string `json:"member_id"`
	Timezone string `json:"timezone"`
}

// SetTimezoneRequest sets a member's timezone.
type SetTimezoneRequest struct {
	Timezone string `json:"timezone"`
}

// AssignTeamRequest assigns a member to a house.
type AssignTeamRequest struct {
	TeamID string `json:"team_id"`
	Name   string `json:"name,omitempty"`
}

// PassResultDTO reports an administrative reset pass.
type PassResultDTO struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Failures  []string `json:"failures,omitempty"`
}

// SchedulerStatusDTO is the observable scheduler state.
type SchedulerStatusDTO struct {
	IsRunning      bool   `json:"is_running"`
	LastDailyRun   string `json:"last_daily_run,omitempty"`
	LastMonthlyRun string `json:"last_monthly_run,omitempty"`
	LastGlobalRun  string `json:"last_global_run,omitempty"`
	SuccessCount   int64  `json:"success_count"`
	FailureCount   int64  `json:"failure_count"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toSessionResultDTO(r *engine.SessionResult) SessionResultDTO {
	dto := SessionResultDTO{
		IntervalID:   r.Interval.ID,
		Date:         r.Interval.Date.String(),
		Minutes:      r.Minutes.StringFixed(2),
		Points:       r.Points.StringFixed(2),
		DailyMinutes: r.DailyMinutes.StringFixed(2),
		DailyPoints:  r.DailyPoints.StringFixed(2),
		LimitReached: r.LimitReached,
	}
	if r.Streak.Changed() {
		dto.Streak = r.Streak.String()
	}
	return dto
}

func toPassResultDTO(r scheduler.PassResult) PassResultDTO {
	dto := PassResultDTO{
		Processed: r.Processed,
		Skipped:   r.Skipped,
		Failed:    len(r.Failures),
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, f.Error())
	}
	return dto
}

func toSchedulerStatusDTO(st scheduler.Status) SchedulerStatusDTO {
	format := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	return SchedulerStatusDTO{
		IsRunning:      st.IsRunning,
		LastDailyRun:   format(st.LastDailyRun),
		LastMonthlyRun: format(st.LastMonthlyRun),
		LastGlobalRun:  format(st.LastGlobalRun),
		SuccessCount:   st.SuccessCount,
		FailureCount:   st.FailureCount,
	}
}
