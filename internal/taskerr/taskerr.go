// Package taskerr defines the error taxonomy shared by the broker, control
// plane, and services. Callers distinguish categories with errors.Is/As
// rather than string matching.
package taskerr

import (
	"errors"
	"fmt"
)

// Sentinel categories. Wrap with fmt.Errorf("...: %w", Sentinel) at the
// call site to add context.
var (
	// TransientNetwork marks a failure the caller should retry with backoff.
	TransientNetwork = errors.New("transient network error")

	// ConsumerHandlerFailure marks a delivery the broker should requeue.
	ConsumerHandlerFailure = errors.New("consumer handler failure")

	// OrchestratorUndecided marks a decision point the orchestrator could
	// not resolve (no eligible services, empty LLM output).
	OrchestratorUndecided = errors.New("orchestrator could not decide")

	// UnknownTaskID marks a reference to a task_id the control plane has
	// never seen. Per spec this is logged and dropped, never surfaced as
	// an API error on the completion path.
	UnknownTaskID = errors.New("unknown task id")

	// DuplicateRegistration marks a consumer or service registration that
	// collides with an existing one.
	DuplicateRegistration = errors.New("duplicate registration")

	// Timeout marks a bounded wait that expired.
	Timeout = errors.New("operation timed out")

	// NoEligibleServices marks an empty candidate list reaching the
	// orchestrator. It is a flavor of OrchestratorUndecided.
	NoEligibleServices = fmt.Errorf("%w: no eligible services", OrchestratorUndecided)
)

// Fatal wraps an error that should crash the owning process; launchers
// surface it as a nonzero exit code.
type Fatal struct {
	Err error
}

func (f *Fatal) Error() string { return fmt.Sprintf("fatal: %s", f.Err) }

func (f *Fatal) Unwrap() error { return f.Err }

// NewFatal wraps err as a Fatal error.
func NewFatal(err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Err: err}
}
