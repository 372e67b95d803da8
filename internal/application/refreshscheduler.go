package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// SchedulerState is the refresh scheduler's position in its cycle.
type SchedulerState string

const (
	SchedulerIdle        SchedulerState = "idle"
	SchedulerScanning    SchedulerState = "scanning"
	SchedulerRefreshing  SchedulerState = "refreshing"
	SchedulerRescheduled SchedulerState = "rescheduled"
)

const (
	refreshTaskName = "quickbooks-token-refresh"
	// scanRetryDelay is used when the credential scan itself fails.
	scanRetryDelay = 5 * time.Minute
)

// CycleStats counts what one scheduler cycle did.
type CycleStats struct {
	Due       int `json:"due"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	// AlreadyRunning is set when the call found another cycle in progress
	// and returned without scanning.
	AlreadyRunning bool `json:"already_running,omitempty"`
}

// SchedulerSnapshot is a point-in-time view of the scheduler.
type SchedulerSnapshot struct {
	State        SchedulerState
	RefreshingID int64 // credential being refreshed while State is SchedulerRefreshing
	NextWakeAt   time.Time
	LastCycleAt  time.Time
	LastCycle    CycleStats
}

// credentialRefresher is the part of TokenService the scheduler needs.
type credentialRefresher interface {
	Refresh(ctx context.Context, id int64) (RefreshResult, error)
}

// RefreshScheduler keeps stored credentials fresh without a fixed polling
// interval. Each cycle refreshes the credentials that are due, then schedules
// exactly one successor at the next computed check time. Overlapping wake-ups
// are harmless: a wake-up that finds a cycle running returns at once, and a
// cycle with nothing due only reschedules.
type RefreshScheduler struct {
	store     driven.CredentialStore
	refresher credentialRefresher
	runner    driven.TaskRunner
	observer  driven.RefreshObserver
	now       func() time.Time
	logger    *slog.Logger

	cycleMu sync.Mutex

	mu   sync.Mutex
	snap SchedulerSnapshot
}

// NewRefreshScheduler creates a scheduler in the Idle state. observer may be nil.
func NewRefreshScheduler(
	store driven.CredentialStore,
	refresher credentialRefresher,
	runner driven.TaskRunner,
	observer driven.RefreshObserver,
) *RefreshScheduler {
	if observer == nil {
		observer = noopObserver{}
	}
	return &RefreshScheduler{
		store:     store,
		refresher: refresher,
		runner:    runner,
		observer:  observer,
		now:       time.Now,
		logger:    slog.Default(),
		snap:      SchedulerSnapshot{State: SchedulerIdle},
	}
}

// Bootstrap starts the cycle at process start from persisted state. With no
// stored credential the scheduler stays dormant until Kick is called.
func (s *RefreshScheduler) Bootstrap(ctx context.Context) error {
	creds, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		s.logger.Info("no quickbooks credentials stored, token refresh scheduler dormant")
		return nil
	}

	s.scheduleNext(creds)
	return nil
}

// Kick schedules a cycle at the next check time derived from the current
// store contents. The authorization callback calls it after storing tokens.
// Earlier pending wake-ups are left in place.
func (s *RefreshScheduler) Kick(ctx context.Context) error {
	creds, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	s.scheduleNext(creds)
	return nil
}

// RunCycle performs one scan-refresh-reschedule cycle and returns its counts.
// Individual refresh failures are counted and never stop the cycle or the
// rescheduling of the next one. A call made while another cycle is running
// returns immediately; the running cycle schedules the successor.
func (s *RefreshScheduler) RunCycle(ctx context.Context) CycleStats {
	if !s.cycleMu.TryLock() {
		s.logger.Debug("token refresh cycle already running, skipping")
		return CycleStats{AlreadyRunning: true}
	}
	defer s.cycleMu.Unlock()

	s.setState(SchedulerScanning, 0)
	s.logger.Info("starting quickbooks token refresh cycle")

	creds, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("scan credentials failed", "error", err)
		s.schedule(scanRetryDelay, s.now().Add(scanRetryDelay))
		s.observer.ObserveCycle(scanRetryDelay)
		return CycleStats{}
	}

	var stats CycleStats
	now := s.now()
	for _, cred := range creds {
		if !cred.HasAccessToken() || !RefreshTokenValid(cred, now) {
			stats.Skipped++
			s.observer.ObserveRefresh(driven.RefreshSkipped)
			s.logger.Debug("skipping terminal credential", "credential_id", cred.ID)
			continue
		}
		if !NeedsRefresh(cred, now) {
			continue
		}

		stats.Due++
		s.setState(SchedulerRefreshing, cred.ID)

		result, err := s.refresher.Refresh(ctx, cred.ID)
		if err != nil {
			stats.Failed++
			s.logger.Error("failed to refresh credential", "credential_id", cred.ID, "error", err)
			continue
		}
		if result.Refreshed {
			stats.Refreshed++
		}
	}

	if stats.Due == 0 {
		s.logger.Info("no quickbooks tokens need refreshing")
	} else {
		s.logger.Info("token refresh cycle completed",
			"due", stats.Due, "refreshed", stats.Refreshed, "failed", stats.Failed, "skipped", stats.Skipped)
	}

	s.mu.Lock()
	s.snap.LastCycle = stats
	s.snap.LastCycleAt = s.now()
	s.mu.Unlock()

	updated, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("rescan credentials failed", "error", err)
		updated = creds
	}
	if len(updated) == 0 {
		s.setState(SchedulerIdle, 0)
		s.logger.Info("no quickbooks credentials remain, token refresh scheduler dormant")
		return stats
	}
	s.observer.ObserveCycle(s.scheduleNext(updated))

	return stats
}

// Snapshot returns the current scheduler state.
func (s *RefreshScheduler) Snapshot() SchedulerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *RefreshScheduler) scheduleNext(creds []model.Credential) time.Duration {
	now := s.now()
	next := NextCheckAt(creds, now)
	delay := ClampDelay(next.Sub(now))
	s.schedule(delay, now.Add(delay))
	return delay
}

func (s *RefreshScheduler) schedule(delay time.Duration, at time.Time) {
	s.runner.ScheduleAfter(delay, refreshTaskName, func(ctx context.Context) error {
		s.RunCycle(ctx)
		return nil
	})

	s.mu.Lock()
	s.snap.State = SchedulerRescheduled
	s.snap.RefreshingID = 0
	s.snap.NextWakeAt = at
	s.mu.Unlock()

	s.logger.Info("next quickbooks token refresh scheduled",
		"at", at.UTC().Format(time.DateTime), "in", delay.Round(time.Second).String())
}

func (s *RefreshScheduler) setState(state SchedulerState, credentialID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = state
	s.snap.RefreshingID = credentialID
	if state == SchedulerIdle {
		s.snap.NextWakeAt = time.Time{}
	}
}
