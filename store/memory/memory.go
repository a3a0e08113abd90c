/*
Package memory provides an in-memory Store implementation (tests/dev).

PURPOSE:
  Implements every engine storage interface plus the advisory Locker with
  plain maps and mutexes. Semantics mirror store/sqlite: same sentinel
  errors, same one-open-interval invariant, same lazy creation.

SEE ALSO:
  - engine/store.go:        interface definitions
  - store/sqlite/sqlite.go: production implementation
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
)

// Store is an in-memory implementation of engine.Store and engine.Locker.
type Store struct {
	mu         sync.RWMutex
	members    map[engine.MemberID]*engine.Member
	teams      map[engine.TeamID]*engine.Team
	intervals  map[string]*engine.PresenceInterval
	aggregates map[aggKey]*engine.DailyAggregate

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

type aggKey struct {
	Member engine.MemberID
	Date   engine.LocalDate
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		members:    make(map[engine.MemberID]*engine.Member),
		teams:      make(map[engine.TeamID]*engine.Team),
		intervals:  make(map[string]*engine.PresenceInterval),
		aggregates: make(map[aggKey]*engine.DailyAggregate),
		locks:      make(map[string]*sync.Mutex),
	}
}

// =============================================================================
// MEMBER STORE
// =============================================================================

func (s *Store) GetMember(_ context.Context, id engine.MemberID) (*engine.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, engine.ErrUnknownMember
	}
	cp := *m
	return &cp, nil
}

func (s *Store) EnsureMember(_ context.Context, id engine.MemberID) (*engine.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[id]; ok {
		cp := *m
		return &cp, nil
	}
	m := &engine.Member{
		ID:              id,
		MonthlyMinutes:  decimal.Zero,
		MonthlyPoints:   decimal.Zero,
		LifetimeMinutes: decimal.Zero,
		LifetimePoints:  decimal.Zero,
		CreatedAt:       time.Now(),
	}
	s.members[id] = m
	cp := *m
	return &cp, nil
}

func (s *Store) UpdateMember(_ context.Context, id engine.MemberID, mutate func(*engine.Member) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return engine.ErrUnknownMember
	}
	cp := *m
	if err := mutate(&cp); err != nil {
		return err
	}
	s.members[id] = &cp
	return nil
}

func (s *Store) ListDailyResetCandidates(_ context.Context, olderThan time.Time) ([]*engine.Member, error) {
	return s.listByCursor(olderThan, func(m *engine.Member) time.Time { return m.LastDailyReset })
}

func (s *Store) ListMonthlyResetCandidates(_ context.Context, olderThan time.Time) ([]*engine.Member, error) {
	return s.listByCursor(olderThan, func(m *engine.Member) time.Time { return m.LastMonthlyReset })
}

func (s *Store) listByCursor(olderThan time.Time, cursor func(*engine.Member) time.Time) ([]*engine.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.Member
	for _, m := range s.members {
		at := cursor(m)
		if at.IsZero() || at.Before(olderThan) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTopMembers(_ context.Context, scope engine.LeaderboardScope, limit int) ([]*engine.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Member, 0, len(s.members))
	for _, m := range s.members {
		cp := *m
		out = append(out, &cp)
	}
	points := func(m *engine.Member) decimal.Decimal {
		if scope == engine.ScopeLifetime {
			return m.LifetimePoints
		}
		return m.MonthlyPoints
	}
	sort.Slice(out, func(i, j int) bool {
		if !points(out[i]).Equal(points(out[j])) {
			return points(out[i]).GreaterThan(points(out[j]))
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// INTERVAL STORE
// =============================================================================

func (s *Store) OpenInterval(_ context.Context, iv *engine.PresenceInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.intervals {
		if existing.MemberID == iv.MemberID && existing.ChannelID == iv.ChannelID && existing.IsOpen() {
			return engine.ErrDuplicateOpenInterval
		}
	}
	cp := *iv
	s.intervals[iv.ID] = &cp
	return nil
}

func (s *Store) GetOpenInterval(_ context.Context, member engine.MemberID, channel engine.ChannelID) (*engine.PresenceInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *engine.PresenceInterval
	for _, iv := range s.intervals {
		if iv.MemberID == member && iv.ChannelID == channel && iv.IsOpen() {
			if latest == nil || iv.StartedAt.After(latest.StartedAt) {
				latest = iv
			}
		}
	}
	if latest == nil {
		return nil, engine.ErrNoOpenInterval
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) ListOpenIntervals(_ context.Context) ([]*engine.PresenceInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.PresenceInterval
	for _, iv := range s.intervals {
		if iv.IsOpen() {
			cp := *iv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) CloseInterval(_ context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.intervals[id]
	if !ok {
		return engine.ErrNoOpenInterval
	}
	if !iv.IsOpen() {
		return engine.ErrIntervalClosed
	}
	end := endedAt
	iv.EndedAt = &end
	return nil
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (s *Store) GetDailyAggregate(_ context.Context, member engine.MemberID, date engine.LocalDate) (*engine.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if agg, ok := s.aggregates[aggKey{member, date}]; ok {
		cp := *agg
		return &cp, nil
	}
	return engine.NewDailyAggregate(member, date), nil
}

func (s *Store) SaveDailyAggregate(_ context.Context, agg *engine.DailyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agg
	s.aggregates[aggKey{agg.MemberID, agg.Date}] = &cp
	return nil
}

func (s *Store) ArchiveDailyAggregates(_ context.Context, member engine.MemberID, before engine.LocalDate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	archived := 0
	for key, agg := range s.aggregates {
		if key.Member == member && key.Date.Before(before) && !agg.Archived {
			agg.Archived = true
			archived++
		}
	}
	return archived, nil
}

// =============================================================================
// TEAM STORE
// =============================================================================

func (s *Store) GetTeam(_ context.Context, id engine.TeamID) (*engine.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, engine.ErrUnknownTeam
	}
	cp := *t
	return &cp, nil
}

func (s *Store) EnsureTeam(_ context.Context, id engine.TeamID, name string) (*engine.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.teams[id]; ok {
		cp := *t
		return &cp, nil
	}
	t := &engine.Team{
		ID:             id,
		Name:           name,
		MonthlyPoints:  decimal.Zero,
		LifetimePoints: decimal.Zero,
		CreatedAt:      time.Now(),
	}
	s.teams[id] = t
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateTeam(_ context.Context, id engine.TeamID, mutate func(*engine.Team) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return engine.ErrUnknownTeam
	}
	cp := *t
	if err := mutate(&cp); err != nil {
		return err
	}
	s.teams[id] = &cp
	return nil
}

func (s *Store) ListTeams(_ context.Context) ([]*engine.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Team, 0, len(s.teams))
	for _, t := range s.teams {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MonthlyPoints.Equal(out[j].MonthlyPoints) {
			return out[i].MonthlyPoints.GreaterThan(out[j].MonthlyPoints)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// ADVISORY LOCKS
// =============================================================================

// Acquire implements engine.Locker with per-key in-process mutexes.
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
		// The goroutine will eventually take the lock; hand it straight back.
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return nil, engine.ErrLockContention
	}
}
