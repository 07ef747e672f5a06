package fixture

import (
	"context"
	"time"
)

// BackoffManager spaces out connection attempts, doubling the wait after every failure.
type BackoffManager struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	currentInterval time.Duration
}

// NewBackoffManager initializes a new BackoffManager with the given intervals.
func NewBackoffManager(initialInterval, maxInterval time.Duration) *BackoffManager {
	return &BackoffManager{
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		currentInterval: initialInterval,
	}
}

// GetInterval returns the wait before the next attempt.
func (b *BackoffManager) GetInterval() time.Duration {
	return b.currentInterval
}

// IncreaseInterval doubles the interval up to maxInterval.
func (b *BackoffManager) IncreaseInterval() {
	b.currentInterval *= 2
	if b.currentInterval > b.maxInterval {
		b.currentInterval = b.maxInterval
	}
}

// ResetInterval resets the interval to the initial value after a successful attempt.
func (b *BackoffManager) ResetInterval() {
	b.currentInterval = b.initialInterval
}

// Wait sleeps for the current interval, then backs off further.
// It returns early with the context's error if ctx is done first.
func (b *BackoffManager) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	b.IncreaseInterval()
	return nil
}
