package driven

import (
	"context"
	"time"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// RetryPolicy bounds how often a failing task is attempted.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// TaskRunner defines the driven port for running background work. It is the
// only scheduling primitive the application depends on.
type TaskRunner interface {
	// ScheduleAfter runs task once after delay. Pending runs are never
	// cancelled by later calls.
	ScheduleAfter(delay time.Duration, name string, task Task)

	// Enqueue runs task as soon as possible, retrying failures according to
	// policy.
	Enqueue(name string, policy RetryPolicy, task Task)
}
