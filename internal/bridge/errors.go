package bridge

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the bridge scheduler.
var (
	// ErrPublish wraps the failures of a partially published cycle.
	ErrPublish = errors.New("bridge: publish failed")

	// ErrBrokerDown marks topics skipped because the broker connection was
	// lost mid-cycle.
	ErrBrokerDown = errors.New("bridge: broker disconnected")

	// ErrStartupAuth marks an authentication failure before any credential
	// was accepted in this process.
	ErrStartupAuth = errors.New("bridge: startup authentication failed")
)

// FatalError stops the scheduler loop. The process should exit non-zero.
type FatalError struct {
	// CycleID is the cycle that hit the condition.
	CycleID string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (cycle %s): %v", e.CycleID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// PublishError reports a cycle in which some or all topics were not
// published.
type PublishError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%v: %d of %d topics: %v", ErrPublish, e.Failed, e.Total, e.Err)
}

func (e *PublishError) Unwrap() []error { return []error{ErrPublish, e.Err} }
