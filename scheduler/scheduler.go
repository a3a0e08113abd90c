/*
Package scheduler runs the recurring per-member and global counter resets.

PURPOSE:
  An hourly tick catches every timezone's midnight within tolerance:
  (1) split any open presence intervals that crossed their member's
      local midnight,
  (2) daily pass: find members whose local calendar day has advanced
      past their last daily reset and archive/zero their daily state,
  (3) monthly pass: same candidate-then-verify pattern against local
      month identity,
  (4) global pass: zero team monthly totals once per server-timezone
      month, at a single predictable instant for everyone.

CANDIDATE-THEN-VERIFY:
  Each pass first applies a coarse staleness filter at the store (older
  than 25 hours / 32 days) to keep the candidate set small, then verifies
  the actual local-day or local-month condition per member. The verify
  step repeats inside the row update, which is what makes every reset
  idempotent: a member already reset for the current local day/month is
  a no-op, never a double reset.

FAILURE ISOLATION:
  Candidates are processed in fixed-size batches with a short inter-batch
  pause and bounded in-batch concurrency (errgroup.SetLimit). Each
  member's reset is attempted independently; failures are collected with
  member id, zone and operation for manual replay, and never abort the
  batch or crash the process.

RECOVERY:
  RunRecovery widens the candidate window to every member and re-runs
  both passes. Safe after downtime because eligibility re-checks the
  calendar condition rather than trusting an "attempted" flag.

SEE ALSO:
  - engine/session.go:  SweepStaleIntervals (midnight splits)
  - engine/timezone.go: local-calendar arithmetic
*/
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/engine"
)

// Backend is the storage surface the scheduler needs: the full Store plus
// the advisory Locker guarding team rows.
type Backend interface {
	engine.Store
	engine.Locker
}

// Scheduler drives the recurring reset passes.
type Scheduler struct {
	Store    Backend
	Sessions *engine.Manager
	Zones    *engine.Resolver
	Cache    engine.Invalidator

	// ServerZone anchors the global leaderboard reset cadence.
	ServerZone string

	CheckInterval    time.Duration
	DailyStaleness   time.Duration
	MonthlyStaleness time.Duration
	BatchSize        int
	BatchPause       time.Duration
	BatchConcurrency int
	Enabled          bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	inTick  atomic.Bool
	started bool

	statusMu sync.Mutex
	status   Status
}

// Status is the observable scheduler state for the command surface.
type Status struct {
	IsRunning      bool                 `json:"isRunning"`
	LastDailyRun   time.Time            `json:"lastDailyRun"`
	LastMonthlyRun time.Time            `json:"lastMonthlyRun"`
	LastGlobalRun  time.Time            `json:"lastGlobalRun"`
	SuccessCount   int64                `json:"successCount"`
	FailureCount   int64                `json:"failureCount"`
	LastFailures   []*engine.ResetError `json:"-"`
}

// PassResult reports one pass: how many members were reset, skipped after
// verification, and which attempts failed.
type PassResult struct {
	Processed int
	Skipped   int
	Failures  []*engine.ResetError
}

// New creates a Scheduler with the cadences and batch bounds from the
// design: hourly checks, 25h/32d staleness filters, batches of 50.
func New(store Backend, sessions *engine.Manager, zones *engine.Resolver) *Scheduler {
	return &Scheduler{
		Store:            store,
		Sessions:         sessions,
		Zones:            zones,
		Cache:            engine.NopInvalidator{},
		ServerZone:       engine.ReferenceZone,
		CheckInterval:    1 * time.Hour,
		DailyStaleness:   25 * time.Hour,
		MonthlyStaleness: 32 * 24 * time.Hour,
		BatchSize:        50,
		BatchPause:       250 * time.Millisecond,
		BatchConcurrency: 8,
		Enabled:          true,
		stop:             make(chan struct{}),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start begins the recurring tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if s.started {
		return
	}

	// Fresh channel each start; Stop closed the previous one.
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.started = true
	s.setRunning(true)
	s.wg.Add(1)
	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop lets the current tick finish, then stops scheduling new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.started = false
	s.setRunning(false)
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start to recover anything missed while down.
	s.tick()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

// tick runs one full check. Guarded against re-entrancy: a tick still
// running when the next fires causes the new one to be skipped.
func (s *Scheduler) tick() {
	if !s.inTick.CompareAndSwap(false, true) {
		log.Println("[Scheduler] Previous tick still running, skipping")
		return
	}
	defer s.inTick.Store(false)

	ctx := context.Background()

	if s.Sessions != nil {
		if n, err := s.Sessions.SweepStaleIntervals(ctx); err != nil {
			log.Printf("[Scheduler] Midnight sweep error: %v", err)
		} else if n > 0 {
			log.Printf("[Scheduler] Midnight sweep split %d intervals", n)
		}
	}

	s.recordPass(s.RunDailyPass(ctx, s.DailyStaleness))
	s.recordPass(s.RunMonthlyPass(ctx, s.MonthlyStaleness))
	s.recordPass(s.RunGlobalPass(ctx))
}

// =============================================================================
// DAILY PASS
// =============================================================================

// RunDailyPass resets daily counters for every member whose local day has
// advanced past their last daily reset. staleness is the coarse candidate
// filter; pass 0 for the recovery-wide window.
func (s *Scheduler) RunDailyPass(ctx context.Context, staleness time.Duration) PassResult {
	now := time.Now()
	candidates, err := s.Store.ListDailyResetCandidates(ctx, now.Add(-staleness))
	if err != nil {
		log.Printf("[Scheduler] Error listing daily candidates: %v", err)
		return PassResult{}
	}

	var retained []*engine.Member
	skipped := 0
	for _, m := range candidates {
		if s.dailyResetDue(m, now) {
			retained = append(retained, m)
		} else {
			skipped++
		}
	}

	result := s.processBatches(ctx, retained, "daily", s.resetMemberDaily)
	result.Skipped += skipped

	if result.Processed > 0 || len(result.Failures) > 0 {
		log.Printf("[Scheduler] Daily pass: %d reset, %d skipped, %d failed",
			result.Processed, result.Skipped, len(result.Failures))
	}
	s.markRun("daily", now)
	return result
}

// dailyResetDue verifies the member's local calendar day actually advanced
// since the zone-localized last daily reset.
func (s *Scheduler) dailyResetDue(m *engine.Member, now time.Time) bool {
	zone := m.Zone()
	if m.LastDailyReset.IsZero() {
		// Never reset: due once they have any activity day behind them.
		return true
	}
	today := engine.DateIn(now, zone)
	lastDay := engine.DateIn(m.LastDailyReset, zone)
	return today.After(lastDay)
}

// resetMemberDaily archives the member's finished daily aggregates and
// stamps the reset cursor. The due-condition re-check inside the row
// update makes a second invocation a no-op.
func (s *Scheduler) resetMemberDaily(ctx context.Context, m *engine.Member) error {
	now := time.Now()
	zone := m.Zone()
	today := engine.DateIn(now, zone)

	if _, err := s.Store.ArchiveDailyAggregates(ctx, m.ID, today); err != nil {
		return err
	}

	return s.Store.UpdateMember(ctx, m.ID, func(row *engine.Member) error {
		if !s.dailyResetDue(row, now) {
			return nil // already reset for this local day
		}
		row.LastDailyReset = now
		return nil
	})
}

// =============================================================================
// MONTHLY PASS
// =============================================================================

// RunMonthlyPass zeroes monthly counters for members whose local calendar
// month has advanced past their last monthly reset.
func (s *Scheduler) RunMonthlyPass(ctx context.Context, staleness time.Duration) PassResult {
	now := time.Now()
	candidates, err := s.Store.ListMonthlyResetCandidates(ctx, now.Add(-staleness))
	if err != nil {
		log.Printf("[Scheduler] Error listing monthly candidates: %v", err)
		return PassResult{}
	}

	var retained []*engine.Member
	skipped := 0
	for _, m := range candidates {
		if s.monthlyResetDue(m, now) {
			retained = append(retained, m)
		} else {
			skipped++
		}
	}

	result := s.processBatches(ctx, retained, "monthly", s.resetMemberMonthly)
	result.Skipped += skipped

	if result.Processed > 0 || len(result.Failures) > 0 {
		log.Printf("[Scheduler] Monthly pass: %d reset, %d skipped, %d failed",
			result.Processed, result.Skipped, len(result.Failures))
	}
	s.markRun("monthly", now)
	return result
}

func (s *Scheduler) monthlyResetDue(m *engine.Member, now time.Time) bool {
	zone := m.Zone()
	if m.LastMonthlyReset.IsZero() {
		return !m.MonthlyPoints.IsZero() || !m.MonthlyMinutes.IsZero()
	}
	current := engine.DateIn(now, zone)
	last := engine.DateIn(m.LastMonthlyReset, zone)
	return !current.SameMonth(last)
}

func (s *Scheduler) resetMemberMonthly(ctx context.Context, m *engine.Member) error {
	now := time.Now()
	return s.Store.UpdateMember(ctx, m.ID, func(row *engine.Member) error {
		if !s.monthlyResetDue(row, now) {
			return nil
		}
		row.MonthlyMinutes = row.MonthlyMinutes.Sub(row.MonthlyMinutes)
		row.MonthlyPoints = row.MonthlyPoints.Sub(row.MonthlyPoints)
		row.LastMonthlyReset = now
		return nil
	})
}

// =============================================================================
// GLOBAL PASS
// =============================================================================

// RunGlobalPass zeroes team monthly totals once per server-timezone
// month. Deliberately decoupled from per-member resets: every team rolls
// over at the same predictable instant.
func (s *Scheduler) RunGlobalPass(ctx context.Context) PassResult {
	now := time.Now()
	current := engine.DateIn(now, s.ServerZone)

	teams, err := s.Store.ListTeams(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing teams: %v", err)
		return PassResult{}
	}

	var result PassResult
	for _, t := range teams {
		if !t.LastMonthlyReset.IsZero() &&
			engine.DateIn(t.LastMonthlyReset, s.ServerZone).SameMonth(current) {
			result.Skipped++
			continue
		}
		if err := s.resetTeam(ctx, t.ID, now); err != nil {
			result.Failures = append(result.Failures, &engine.ResetError{
				MemberID:  engine.MemberID(t.ID),
				Zone:      s.ServerZone,
				Operation: "global",
				At:        now,
				Err:       err,
			})
			continue
		}
		result.Processed++
	}

	if result.Processed > 0 {
		log.Printf("[Scheduler] Global pass: %d teams rolled over", result.Processed)
		if s.Cache != nil {
			s.Cache.InvalidatePattern(engine.CacheKeyTeamPrefix)
			s.Cache.InvalidatePattern(engine.CacheKeyLeaderboardPrefix)
		}
	}
	s.markRun("global", now)
	return result
}

func (s *Scheduler) resetTeam(ctx context.Context, id engine.TeamID, now time.Time) error {
	release, err := s.Store.Acquire(ctx, engine.TeamLockKey(id))
	if err != nil {
		return err
	}
	defer release()

	current := engine.DateIn(now, s.ServerZone)
	return s.Store.UpdateTeam(ctx, id, func(t *engine.Team) error {
		if !t.LastMonthlyReset.IsZero() &&
			engine.DateIn(t.LastMonthlyReset, s.ServerZone).SameMonth(current) {
			return nil
		}
		t.MonthlyPoints = t.MonthlyPoints.Sub(t.MonthlyPoints)
		t.LastMonthlyReset = now
		return nil
	})
}

// =============================================================================
// BATCH PROCESSING
// =============================================================================

// processBatches applies op to members in fixed-size batches with bounded
// in-batch concurrency and a brief pause between batches. One member's
// failure never aborts the batch.
func (s *Scheduler) processBatches(ctx context.Context, members []*engine.Member, op string, apply func(context.Context, *engine.Member) error) PassResult {
	var result PassResult
	var failMu sync.Mutex

	for start := 0; start < len(members); start += s.BatchSize {
		end := start + s.BatchSize
		if end > len(members) {
			end = len(members)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.BatchConcurrency)
		for _, m := range members[start:end] {
			m := m
			g.Go(func() error {
				if err := apply(gctx, m); err != nil {
					re := &engine.ResetError{
						MemberID:  m.ID,
						Zone:      m.Zone(),
						Operation: op,
						At:        time.Now(),
						Err:       err,
					}
					log.Printf("[Scheduler] %v", re)
					failMu.Lock()
					result.Failures = append(result.Failures, re)
					failMu.Unlock()
					return nil // isolate: keep the batch going
				}
				failMu.Lock()
				result.Processed++
				failMu.Unlock()
				if s.Cache != nil {
					s.Cache.InvalidatePattern(engine.CacheKeyMemberPrefix + string(m.ID))
				}
				return nil
			})
		}
		g.Wait()

		if end < len(members) && s.BatchPause > 0 {
			time.Sleep(s.BatchPause)
		}
	}

	if result.Processed > 0 && s.Cache != nil {
		s.Cache.InvalidatePattern(engine.CacheKeyLeaderboardPrefix)
	}
	return result
}

// =============================================================================
// RECOVERY & ADMIN
// =============================================================================

// RunRecovery re-runs both passes with the widest candidate window,
// catching members whose reset was missed during downtime. Idempotent:
// eligibility re-checks the local-day/month condition per member.
func (s *Scheduler) RunRecovery(ctx context.Context) (daily, monthly PassResult) {
	log.Println("[Scheduler] Recovery pass starting")
	daily = s.RunDailyPass(ctx, 0)
	monthly = s.RunMonthlyPass(ctx, 0)
	s.recordPass(daily)
	s.recordPass(monthly)
	return daily, monthly
}

// ForceDailyReset runs the daily pass immediately (administrative).
func (s *Scheduler) ForceDailyReset(ctx context.Context) PassResult {
	r := s.RunDailyPass(ctx, 0)
	s.recordPass(r)
	return r
}

// ForceMonthlyReset runs the monthly pass immediately (administrative).
func (s *Scheduler) ForceMonthlyReset(ctx context.Context) PassResult {
	r := s.RunMonthlyPass(ctx, 0)
	s.recordPass(r)
	return r
}

// =============================================================================
// STATUS
// =============================================================================

// GetStatus returns a snapshot of the scheduler's observable state.
func (s *Scheduler) GetStatus() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status
	st.LastFailures = append([]*engine.ResetError(nil), s.status.LastFailures...)
	return st
}

func (s *Scheduler) setRunning(running bool) {
	s.statusMu.Lock()
	s.status.IsRunning = running
	s.statusMu.Unlock()
}

func (s *Scheduler) markRun(op string, at time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	switch op {
	case "daily":
		s.status.LastDailyRun = at
	case "monthly":
		s.status.LastMonthlyRun = at
	case "global":
		s.status.LastGlobalRun = at
	}
}

func (s *Scheduler) recordPass(r PassResult) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.SuccessCount += int64(r.Processed)
	s.status.FailureCount += int64(len(r.Failures))
	s.status.LastFailures = append(s.status.LastFailures, r.Failures...)
	if n := len(s.status.LastFailures); n > 100 {
		s.status.LastFailures = s.status.LastFailures[n-100:]
	}
}
