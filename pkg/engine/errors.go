package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrPoolClosed is returned by pool operations after Close.
var ErrPoolClosed = errors.New("session pool is closed")

// ErrNoRuleBase is returned when an evaluation is attempted before any
// rule base has been published.
var ErrNoRuleBase = errors.New("no active rule base")

// PoolExhaustedError reports that no session became available within the
// acquire timeout. The condition is transient; callers may retry.
type PoolExhaustedError struct {
	// Operation is the operation that needed a session.
	Operation string

	// Timeout is how long the acquire waited.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("session pool exhausted: no session available within %s for %s", e.Timeout, e.Operation)
}

// RuleExecutionTimeoutError reports that one evaluation exceeded its
// budget. The session it ran on is disposed, not recycled.
type RuleExecutionTimeoutError struct {
	// Operation is the timed-out operation.
	Operation string

	// Timeout is the exceeded budget.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *RuleExecutionTimeoutError) Error() string {
	return fmt.Sprintf("rule execution exceeded %s budget for %s", e.Timeout, e.Operation)
}

// RuleExecutionRuntimeError reports an unexpected failure during fact
// insertion or rule firing. The session it ran on is disposed, not
// recycled.
type RuleExecutionRuntimeError struct {
	// Operation is the failed operation.
	Operation string

	// Cause is the underlying failure, carrying rule context where the
	// evaluator provides it.
	Cause error
}

// Error implements the error interface.
func (e *RuleExecutionRuntimeError) Error() string {
	return fmt.Sprintf("rule execution failed for %s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *RuleExecutionRuntimeError) Unwrap() error { return e.Cause }

// PublishRejectedError reports that a candidate rule base failed the
// registry's sanity check and was not published. The previously active
// version keeps serving.
type PublishRejectedError struct {
	// Reason describes why the candidate was rejected.
	Reason string
}

// Error implements the error interface.
func (e *PublishRejectedError) Error() string {
	return fmt.Sprintf("rule base rejected: %s", e.Reason)
}
