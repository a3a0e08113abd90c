/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store and engine.Locker using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences, and pg_advisory_lock in place of the in-process Locker.

KEY TABLES:
  members:            per-member counters, streak state, reset cursors
  teams:              house aggregates (monthly/lifetime points)
  presence_intervals: open/closed voice spans, local-date attribution
  daily_aggregates:   per (member, local date) cumulative activity;
                      archived rows double as the historical summary
                      preserved by daily resets

INVARIANT ENFORCEMENT:
  - idx_intervals_one_open: partial unique index guaranteeing at most
    one open interval per (member, channel)
  - daily_aggregates unique on (member_id, date)
  - counter columns stored as TEXT decimals, parsed with
    shopspring/decimal - no float drift

CONCURRENCY:
  Opened in WAL mode (multiple readers, single writer). UpdateMember and
  UpdateTeam run SELECT + UPDATE inside one transaction, giving the
  single-row read-modify-write guarantee the engine requires. Advisory
  locks are in-process named mutexes keyed by string.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go:        interface definitions
  - store/memory/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
)

// Store implements engine.Store and engine.Locker using SQLite.
type Store struct {
	db *sql.DB

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection keeps single-row RMW serial under the mattn driver.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, locks: make(map[string]*sync.Mutex)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT '',
		previous_timezone TEXT NOT NULL DEFAULT '',
		team_id TEXT NOT NULL DEFAULT '',
		current_streak INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		last_qualifying_day TEXT NOT NULL DEFAULT '',
		monthly_minutes TEXT NOT NULL DEFAULT '0',
		monthly_points TEXT NOT NULL DEFAULT '0',
		lifetime_minutes TEXT NOT NULL DEFAULT '0',
		lifetime_points TEXT NOT NULL DEFAULT '0',
		last_daily_reset TEXT NOT NULL DEFAULT '',
		last_monthly_reset TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Reset eligibility sweeps (coarse staleness filter, runs hourly)
	CREATE INDEX IF NOT EXISTS idx_members_last_daily_reset
		ON members(last_daily_reset);
	CREATE INDEX IF NOT EXISTS idx_members_last_monthly_reset
		ON members(last_monthly_reset);
	CREATE INDEX IF NOT EXISTS idx_members_team
		ON members(team_id) WHERE team_id != '';

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		monthly_points TEXT NOT NULL DEFAULT '0',
		lifetime_points TEXT NOT NULL DEFAULT '0',
		last_monthly_reset TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS presence_intervals (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		date TEXT NOT NULL
	);

	-- CRITICAL: at most one open interval per (member, channel)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_intervals_one_open
		ON presence_intervals(member_id, channel_id)
		WHERE ended_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_intervals_open
		ON presence_intervals(ended_at) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_intervals_member_date
		ON presence_intervals(member_id, date);

	CREATE TABLE IF NOT EXISTS daily_aggregates (
		member_id TEXT NOT NULL,
		date TEXT NOT NULL,
		minutes TEXT NOT NULL DEFAULT '0',
		session_count INTEGER NOT NULL DEFAULT 0,
		points TEXT NOT NULL DEFAULT '0',
		archived INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (member_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_aggregates_member_live
		ON daily_aggregates(member_id, archived);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TIME / DECIMAL ENCODING
// =============================================================================

const timeFormat = time.RFC3339Nano

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func encodeDate(d engine.LocalDate) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func decodeDate(s string) engine.LocalDate {
	if s == "" {
		return engine.LocalDate{}
	}
	d, err := engine.ParseLocalDate(s)
	if err != nil {
		return engine.LocalDate{}
	}
	return d
}

// =============================================================================
// MEMBER STORE
// =============================================================================

const memberColumns = `id, timezone, previous_timezone, team_id, current_streak, longest_streak,
	last_qualifying_day, monthly_minutes, monthly_points, lifetime_minutes,
	lifetime_points, last_daily_reset, last_monthly_reset, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*engine.Member, error) {
	var m engine.Member
	var qualDay, monthlyMin, monthlyPts, lifeMin, lifePts string
	var lastDaily, lastMonthly, createdAt string
	err := row.Scan(&m.ID, &m.Timezone, &m.PreviousTimezone, &m.TeamID, &m.CurrentStreak, &m.LongestStreak,
		&qualDay, &monthlyMin, &monthlyPts, &lifeMin, &lifePts,
		&lastDaily, &lastMonthly, &createdAt)
	if err != nil {
		return nil, err
	}
	m.LastQualifyingDay = decodeDate(qualDay)
	m.MonthlyMinutes = decodeDecimal(monthlyMin)
	m.MonthlyPoints = decodeDecimal(monthlyPts)
	m.LifetimeMinutes = decodeDecimal(lifeMin)
	m.LifetimePoints = decodeDecimal(lifePts)
	m.LastDailyReset = decodeTime(lastDaily)
	m.LastMonthlyReset = decodeTime(lastMonthly)
	m.CreatedAt = decodeTime(createdAt)
	return &m, nil
}

func (s *Store) GetMember(ctx context.Context, id engine.MemberID) (*engine.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, string(id))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrUnknownMember
	}
	return m, err
}

func (s *Store) EnsureMember(ctx context.Context, id engine.MemberID) (*engine.Member, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		string(id), encodeTime(time.Now()))
	if err != nil {
		return nil, err
	}
	return s.GetMember(ctx, id)
}

func (s *Store) UpdateMember(ctx context.Context, id engine.MemberID, mutate func(*engine.Member) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, string(id))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrUnknownMember
	}
	if err != nil {
		return err
	}

	if err := mutate(m); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE members SET
			timezone = ?, previous_timezone = ?, team_id = ?, current_streak = ?, longest_streak = ?,
			last_qualifying_day = ?, monthly_minutes = ?, monthly_points = ?,
			lifetime_minutes = ?, lifetime_points = ?,
			last_daily_reset = ?, last_monthly_reset = ?
		WHERE id = ?`,
		m.Timezone, m.PreviousTimezone, string(m.TeamID), m.CurrentStreak, m.LongestStreak,
		encodeDate(m.LastQualifyingDay), m.MonthlyMinutes.String(), m.MonthlyPoints.String(),
		m.LifetimeMinutes.String(), m.LifetimePoints.String(),
		encodeTime(m.LastDailyReset), encodeTime(m.LastMonthlyReset),
		string(id))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListDailyResetCandidates(ctx context.Context, olderThan time.Time) ([]*engine.Member, error) {
	return s.listCandidates(ctx, "last_daily_reset", olderThan)
}

func (s *Store) ListMonthlyResetCandidates(ctx context.Context, olderThan time.Time) ([]*engine.Member, error) {
	return s.listCandidates(ctx, "last_monthly_reset", olderThan)
}

func (s *Store) listCandidates(ctx context.Context, column string, olderThan time.Time) ([]*engine.Member, error) {
	// Never-reset members have an empty cursor and are always candidates.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE `+column+` = '' OR `+column+` < ?
		 ORDER BY id`, encodeTime(olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMembers(rows)
}

func (s *Store) ListTopMembers(ctx context.Context, scope engine.LeaderboardScope, limit int) ([]*engine.Member, error) {
	column := "monthly_points"
	if scope == engine.ScopeLifetime {
		column = "lifetime_points"
	}
	if limit <= 0 {
		limit = 100
	}
	// TEXT decimals sort lexically; rank numerically via CAST.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 ORDER BY CAST(`+column+` AS REAL) DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMembers(rows)
}

func collectMembers(rows *sql.Rows) ([]*engine.Member, error) {
	var out []*engine.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// INTERVAL STORE
// =============================================================================

func (s *Store) OpenInterval(ctx context.Context, iv *engine.PresenceInterval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence_intervals (id, member_id, channel_id, started_at, ended_at, date)
		VALUES (?, ?, ?, ?, NULL, ?)`,
		iv.ID, string(iv.MemberID), string(iv.ChannelID),
		encodeTime(iv.StartedAt), encodeDate(iv.Date))
	if err != nil && isUniqueViolation(err) {
		return engine.ErrDuplicateOpenInterval
	}
	return err
}

func (s *Store) GetOpenInterval(ctx context.Context, member engine.MemberID, channel engine.ChannelID) (*engine.PresenceInterval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, channel_id, started_at, ended_at, date
		FROM presence_intervals
		WHERE member_id = ? AND channel_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`,
		string(member), string(channel))
	iv, err := scanInterval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNoOpenInterval
	}
	return iv, err
}

func (s *Store) ListOpenIntervals(ctx context.Context) ([]*engine.PresenceInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, channel_id, started_at, ended_at, date
		FROM presence_intervals WHERE ended_at IS NULL ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*engine.PresenceInterval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *Store) CloseInterval(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE presence_intervals SET ended_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		encodeTime(endedAt), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrIntervalClosed
	}
	return nil
}

func scanInterval(row rowScanner) (*engine.PresenceInterval, error) {
	var iv engine.PresenceInterval
	var startedAt, date string
	var endedAt sql.NullString
	if err := row.Scan(&iv.ID, &iv.MemberID, &iv.ChannelID, &startedAt, &endedAt, &date); err != nil {
		return nil, err
	}
	iv.StartedAt = decodeTime(startedAt)
	iv.Date = decodeDate(date)
	if endedAt.Valid {
		t := decodeTime(endedAt.String)
		iv.EndedAt = &t
	}
	return &iv, nil
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (s *Store) GetDailyAggregate(ctx context.Context, member engine.MemberID, date engine.LocalDate) (*engine.DailyAggregate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT member_id, date, minutes, session_count, points, archived
		FROM daily_aggregates WHERE member_id = ? AND date = ?`,
		string(member), encodeDate(date))

	var agg engine.DailyAggregate
	var dateStr, minutes, points string
	var archived int
	err := row.Scan(&agg.MemberID, &dateStr, &minutes, &agg.SessionCount, &points, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.NewDailyAggregate(member, date), nil
	}
	if err != nil {
		return nil, err
	}
	agg.Date = decodeDate(dateStr)
	agg.Minutes = decodeDecimal(minutes)
	agg.Points = decodeDecimal(points)
	agg.Archived = archived != 0
	return &agg, nil
}

func (s *Store) SaveDailyAggregate(ctx context.Context, agg *engine.DailyAggregate) error {
	archived := 0
	if agg.Archived {
		archived = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates (member_id, date, minutes, session_count, points, archived)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id, date) DO UPDATE SET
			minutes = excluded.minutes,
			session_count = excluded.session_count,
			points = excluded.points,
			archived = excluded.archived`,
		string(agg.MemberID), encodeDate(agg.Date), agg.Minutes.String(),
		agg.SessionCount, agg.Points.String(), archived)
	return err
}

func (s *Store) ArchiveDailyAggregates(ctx context.Context, member engine.MemberID, before engine.LocalDate) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_aggregates SET archived = 1
		WHERE member_id = ? AND date < ? AND archived = 0`,
		string(member), encodeDate(before))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// =============================================================================
// TEAM STORE
// =============================================================================

func (s *Store) GetTeam(ctx context.Context, id engine.TeamID) (*engine.Team, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, monthly_points, lifetime_points, last_monthly_reset, created_at
		FROM teams WHERE id = ?`, string(id))
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrUnknownTeam
	}
	return t, err
}

func (s *Store) EnsureTeam(ctx context.Context, id engine.TeamID, name string) (*engine.Team, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		string(id), name, encodeTime(time.Now()))
	if err != nil {
		return nil, err
	}
	return s.GetTeam(ctx, id)
}

func (s *Store) UpdateTeam(ctx context.Context, id engine.TeamID, mutate func(*engine.Team) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, monthly_points, lifetime_points, last_monthly_reset, created_at
		FROM teams WHERE id = ?`, string(id))
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrUnknownTeam
	}
	if err != nil {
		return err
	}

	if err := mutate(t); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE teams SET name = ?, monthly_points = ?, lifetime_points = ?, last_monthly_reset = ?
		WHERE id = ?`,
		t.Name, t.MonthlyPoints.String(), t.LifetimePoints.String(),
		encodeTime(t.LastMonthlyReset), string(id))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListTeams(ctx context.Context) ([]*engine.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, monthly_points, lifetime_points, last_monthly_reset, created_at
		FROM teams ORDER BY CAST(monthly_points AS REAL) DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*engine.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTeam(row rowScanner) (*engine.Team, error) {
	var t engine.Team
	var monthly, lifetime, lastReset, createdAt string
	if err := row.Scan(&t.ID, &t.Name, &monthly, &lifetime, &lastReset, &createdAt); err != nil {
		return nil, err
	}
	t.MonthlyPoints = decodeDecimal(monthly)
	t.LifetimePoints = decodeDecimal(lifetime)
	t.LastMonthlyReset = decodeTime(lastReset)
	t.CreatedAt = decodeTime(createdAt)
	return &t, nil
}

// =============================================================================
// ADVISORY LOCKS
// =============================================================================

// Acquire implements engine.Locker with per-key in-process mutexes, the
// same contract a PostgreSQL advisory lock provides across processes.
func (s *Store) Acquire(ctx context.Context, key string) (func(), error) {
	s.lockMu.Lock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	s.lockMu.Unlock()

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return mu.Unlock, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return nil, engine.ErrLockContention
	}
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint violations in the error text;
	// matching on it avoids importing the driver's error types here.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
