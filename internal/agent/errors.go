// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// ErrorCode is a string type used for structured error reporting from the
// turn loop. It ends up in logs and in the turn archive.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"
	ErrCodeCancelled         ErrorCode = "CANCELLED"

	// -- Surface Errors --
	ErrCodeConnectionFailure ErrorCode = "CONNECTION_FAILURE"
	ErrCodeCaptureFailure    ErrorCode = "CAPTURE_FAILURE"
	ErrCodeInjectionFailure  ErrorCode = "INJECTION_FAILURE"

	// -- Collaborator Errors --
	ErrCodePlannerFailure  ErrorCode = "PLANNER_FAILURE"
	ErrCodeFrontendFailure ErrorCode = "FRONTEND_FAILURE"
)

// ErrTurnLimitReached is returned by Run when agent.max_turns is exhausted
// before the planner declared the task finished.
var ErrTurnLimitReached = errors.New("turn limit reached")

// ErrNoInstructions is returned when the human supplies empty instructions.
var ErrNoInstructions = errors.New("no instructions provided")

// UnsupportedActionError reports an action name outside the vocabulary. The
// name is kept verbatim so the transcript shows exactly what was planned.
type UnsupportedActionError struct {
	Name string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action %q", e.Name)
}

// InvalidParameterError reports a missing or malformed action parameter.
type InvalidParameterError struct {
	Action string
	Param  string
	Reason string
	Err    error
}

func (e *InvalidParameterError) Error() string {
	msg := fmt.Sprintf("action %s: invalid parameter %q: %s", e.Action, e.Param, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidParameterError) Unwrap() error { return e.Err }

// PlannerError wraps a failure of the planning service so the loop can tell
// it apart from surface failures.
type PlannerError struct {
	Err error
}

func (e *PlannerError) Error() string { return fmt.Sprintf("planner failed: %v", e.Err) }

func (e *PlannerError) Unwrap() error { return e.Err }

// ClassifyError maps an error from a turn onto an ErrorCode.
func ClassifyError(err error) ErrorCode {
	var (
		unsupported *UnsupportedActionError
		invalid     *InvalidParameterError
		connErr     *surface.ConnectionError
		captureErr  *surface.CaptureError
		injectErr   *surface.InjectionError
		plannerErr  *PlannerError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError
	case errors.As(err, &unsupported):
		return ErrCodeUnknownAction
	case errors.As(err, &invalid):
		return ErrCodeInvalidParameters
	case errors.As(err, &connErr):
		return ErrCodeConnectionFailure
	case errors.As(err, &captureErr):
		return ErrCodeCaptureFailure
	case errors.As(err, &injectErr):
		return ErrCodeInjectionFailure
	case errors.As(err, &plannerErr):
		return ErrCodePlannerFailure
	default:
		return ErrCodeExecutionFailure
	}
}
