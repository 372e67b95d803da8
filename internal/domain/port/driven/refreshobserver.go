package driven

import "time"

// RefreshOutcome classifies the result of one credential refresh attempt.
type RefreshOutcome string

const (
	RefreshSucceeded RefreshOutcome = "succeeded"
	RefreshFailed    RefreshOutcome = "failed"
	RefreshSkipped   RefreshOutcome = "skipped"
)

// RefreshObserver receives token refresh telemetry.
type RefreshObserver interface {
	ObserveRefresh(outcome RefreshOutcome)
	ObserveCycle(nextDelay time.Duration)
}
