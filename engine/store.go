/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the row-level storage surface the engine and scheduler depend
  on. Implementations live in store/memory (tests/dev) and store/sqlite
  (production). The engine never touches SQL directly.

ATOMICITY CONTRACT:
  UpdateMember and UpdateTeam are single-row read-modify-write operations
  executed under the store's native transactional guarantee: the mutate
  callback sees a fresh row and its changes are applied atomically with
  respect to concurrent mutation of the same row. No cross-member locking
  is implied.

ADVISORY LOCKS:
  Team aggregates are high-contention (many members write one team row),
  so writers additionally serialize on a named advisory lock via Locker.
  The release function must be called on success and failure paths.

SEE ALSO:
  - store/memory/memory.go: in-memory implementation
  - store/sqlite/sqlite.go: SQLite implementation
*/
package engine

import (
	"context"
	"time"
)

// Store is the full persistence surface the engine and scheduler use.
type Store interface {
	MemberStore
	IntervalStore
	AggregateStore
	TeamStore
}

// =============================================================================
// MEMBER STORE
// =============================================================================

// LeaderboardScope selects which member counter a ranking is built from.
type LeaderboardScope string

const (
	ScopeMonthly  LeaderboardScope = "monthly"
	ScopeLifetime LeaderboardScope = "lifetime"
)

type MemberStore interface {
	// GetMember returns ErrUnknownMember when the member does not exist.
	GetMember(ctx context.Context, id MemberID) (*Member, error)

	// EnsureMember returns the member, creating the record lazily on
	// first activity.
	EnsureMember(ctx context.Context, id MemberID) (*Member, error)

	// UpdateMember atomically applies mutate to the member's row.
	// Returns ErrUnknownMember if the member does not exist; an error
	// from mutate aborts the update.
	UpdateMember(ctx context.Context, id MemberID, mutate func(*Member) error) error

	// ListDailyResetCandidates returns members whose last daily reset is
	// older than the bound (or never set). A coarse filter; the caller
	// verifies the local-day condition per member.
	ListDailyResetCandidates(ctx context.Context, olderThan time.Time) ([]*Member, error)

	// ListMonthlyResetCandidates is the monthly analogue.
	ListMonthlyResetCandidates(ctx context.Context, olderThan time.Time) ([]*Member, error)

	// ListTopMembers returns members ranked by the given scope's points.
	ListTopMembers(ctx context.Context, scope LeaderboardScope, limit int) ([]*Member, error)
}

// =============================================================================
// INTERVAL STORE
// =============================================================================

type IntervalStore interface {
	// OpenInterval persists a new open interval. At most one open
	// interval may exist per (member, channel); violating that is a
	// store-level error.
	OpenInterval(ctx context.Context, iv *PresenceInterval) error

	// GetOpenInterval returns ErrNoOpenInterval when none is open.
	GetOpenInterval(ctx context.Context, member MemberID, channel ChannelID) (*PresenceInterval, error)

	// ListOpenIntervals returns every open interval (the midnight sweep).
	ListOpenIntervals(ctx context.Context) ([]*PresenceInterval, error)

	// CloseInterval stamps the end time. ErrIntervalClosed if already closed.
	CloseInterval(ctx context.Context, id string, endedAt time.Time) error
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

type AggregateStore interface {
	// GetDailyAggregate returns the aggregate for (member, date), or an
	// empty one if no activity has been recorded yet.
	GetDailyAggregate(ctx context.Context, member MemberID, date LocalDate) (*DailyAggregate, error)

	// SaveDailyAggregate upserts the aggregate row.
	SaveDailyAggregate(ctx context.Context, agg *DailyAggregate) error

	// ArchiveDailyAggregates marks all of a member's unarchived
	// aggregates dated before the given day as archived, preserving them
	// as historical summary rows. Returns how many were archived.
	ArchiveDailyAggregates(ctx context.Context, member MemberID, before LocalDate) (int, error)
}

// =============================================================================
// TEAM STORE
// =============================================================================

type TeamStore interface {
	// GetTeam returns ErrUnknownTeam when the team does not exist.
	GetTeam(ctx context.Context, id TeamID) (*Team, error)

	// EnsureTeam returns the team, creating the record lazily.
	EnsureTeam(ctx context.Context, id TeamID, name string) (*Team, error)

	// UpdateTeam atomically applies mutate to the team's row. Callers
	// must hold the team's advisory lock.
	UpdateTeam(ctx context.Context, id TeamID, mutate func(*Team) error) error

	// ListTeams returns all teams ranked by monthly points.
	ListTeams(ctx context.Context) ([]*Team, error)
}

// =============================================================================
// ADVISORY LOCKS
// =============================================================================

// Locker is a named mutual-exclusion primitive keyed by arbitrary string,
// the shape of a database advisory lock. Acquire blocks until the lock is
// held or ctx is done (ErrLockContention). The returned release function
// must run on every exit path.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// =============================================================================
// CACHE INVALIDATION
// =============================================================================

// Invalidator is the read-cache collaborator notified after any mutation
// that changes stats a reader might have cached.
type Invalidator interface {
	InvalidatePattern(prefix string)
}

// Cache key patterns shared by writers and readers.
const (
	CacheKeyMemberPrefix      = "member:"
	CacheKeyLeaderboardPrefix = "leaderboard:"
	CacheKeyTeamPrefix        = "team:"
)

// NopInvalidator satisfies Invalidator when no cache is wired.
type NopInvalidator struct{}

func (NopInvalidator) InvalidatePattern(string) {}
