package portal

import (
	"errors"
	"fmt"
)

// Sentinel errors for portal failure modes.
var (
	// ErrLoginFailed means the portal rejected the credentials or never
	// showed a logged-in page.
	ErrLoginFailed = errors.New("portal login failed")
	// ErrElementNotFound means no locator strategy matched within its wait.
	ErrElementNotFound = errors.New("element not found")
	// ErrSessionExpired means the portal logged the session out mid-operation.
	ErrSessionExpired = errors.New("portal session expired")
	// ErrCircuitOpen means the circuit breaker is refusing portal calls.
	ErrCircuitOpen = errors.New("portal circuit open")
)

// OperationError is a typed failure from a portal operation. Submission-phase
// operation errors move a claim to ERROR; status-check-phase ones are logged
// and retried on the next sweep.
type OperationError struct {
	// Op is the top-level operation: login, submit, check_status
	Op string
	// Step is the step that failed within the operation
	Step string
	Err  error
}

func (e *OperationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("portal %s failed at %s: %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("portal %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func operationErr(op, step string, err error) *OperationError {
	return &OperationError{Op: op, Step: step, Err: err}
}

// IsRetryable reports whether an error is worth retrying within the same
// operation. Expired sessions and missing elements are transient against a
// flaky portal; a hard login rejection or an open circuit is not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrLoginFailed) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return true
}
