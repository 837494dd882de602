package remote

import (
	"context"
	"fmt"
)

// Transport opens sessions to a remote machine.
type Transport interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is an established command and file channel to a remote machine.
type Session interface {
	// Execute runs a shell command line and returns its combined output.
	// A command that ran but exited non-zero is reported as *ExitError.
	Execute(ctx context.Context, command string) ([]byte, error)
	FetchFile(ctx context.Context, path string) ([]byte, error)
	RemoveFile(ctx context.Context, path string) error
	Close() error
}

// ExitError reports a remote command that completed with a non-zero status.
type ExitError struct {
	Status int
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Status)
}

func (e *ExitError) Unwrap() error { return e.Err }
