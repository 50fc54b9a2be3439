package core

import (
	"fmt"
	"sync"
)

// Step budget bounds for the agent loop.
const (
	DefaultMaxSteps = 30
	MaxStepsCap     = 100
)

// StepLimiter enforces the maximum number of agent loop steps per run.
type StepLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepLimiter creates a new limiter. A non-positive max selects
// DefaultMaxSteps; values above MaxStepsCap are capped.
func NewStepLimiter(max int) *StepLimiter {
	switch {
	case max <= 0:
		max = DefaultMaxSteps
	case max > MaxStepsCap:
		max = MaxStepsCap
	}
	return &StepLimiter{max: max}
}

// Increment increases the step counter and returns an error if the limit is exceeded.
func (sl *StepLimiter) Increment() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.count++
	if sl.count > sl.max {
		return fmt.Errorf("exceeded max steps: %d", sl.max)
	}

	return nil
}

// Count returns the number of steps taken.
func (sl *StepLimiter) Count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.count
}

// Max returns the effective step budget.
func (sl *StepLimiter) Max() int { return sl.max }

// Remaining returns how many steps are left before hitting the limit.
func (sl *StepLimiter) Remaining() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.count >= sl.max {
		return 0
	}

	return sl.max - sl.count
}
