// Package jobs implements the TaskRunner port with in-process timers and
// goroutines.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TaskRunner = (*Runner)(nil)

// Runner runs tasks on background goroutines. All tasks share the runner's
// context, which is cancelled by Shutdown. Scheduled runs that have not fired
// by then are dropped; persisted state lets the next boot re-derive them.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a Runner whose tasks run under a context derived from parent.
func NewRunner(parent context.Context, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

// ScheduleAfter runs task once after delay. Earlier pending runs are left in place.
func (r *Runner) ScheduleAfter(delay time.Duration, name string, task driven.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		r.logger.Warn("runner stopped, dropping scheduled task", "task", name)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		delete(r.timers, timer)
		r.startLocked(name, func(ctx context.Context) error {
			return task(ctx)
		})
	})
	r.timers[timer] = struct{}{}

	r.logger.Debug("task scheduled", "task", name, "delay", delay.String(), "at", time.Now().Add(delay).UTC())
}

// Enqueue runs task now, retrying failures with a constant delay until the
// policy's attempts are exhausted or the runner shuts down.
func (r *Runner) Enqueue(name string, policy driven.RetryPolicy, task driven.Task) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		r.logger.Warn("runner stopped, dropping task", "task", name)
		return
	}

	r.startLocked(name, func(ctx context.Context) error {
		attempt := 0
		operation := func() error {
			attempt++
			return task(ctx)
		}
		notify := func(err error, wait time.Duration) {
			r.logger.Warn("task attempt failed, retrying",
				"task", name, "attempt", attempt, "max_attempts", attempts, "retry_in", wait.String(), "error", err)
		}

		b := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(attempts-1)),
			ctx,
		)
		if err := backoff.RetryNotify(operation, b, notify); err != nil {
			return fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}
		return nil
	})
}

// startLocked launches fn on a tracked goroutine. r.mu must be held so that
// the WaitGroup is never grown after Shutdown started waiting.
func (r *Runner) startLocked(name string, fn func(ctx context.Context) error) {
	if r.ctx.Err() != nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("task panicked", "task", name, "panic", p)
			}
		}()

		start := time.Now()
		if err := fn(r.ctx); err != nil {
			r.logger.Error("task failed", "task", name, "duration", time.Since(start).String(), "error", err)
			return
		}
		r.logger.Debug("task completed", "task", name, "duration", time.Since(start).String())
	}()
}

// Shutdown stops pending timers, cancels running tasks and waits for them to
// return or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.cancel()
	for timer := range r.timers {
		timer.Stop()
		delete(r.timers, timer)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for tasks: %w", ctx.Err())
	}
}

// Pending returns the number of scheduled runs that have not fired yet.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
