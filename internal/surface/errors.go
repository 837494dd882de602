package surface

import (
	"fmt"
	"strings"
)

// ConnectionError reports that the physical channel to a target could not be
// established or was lost. The contract never retries on its own.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CaptureError reports that a frame could not be retrieved or decoded.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("screenshot capture failed: %v", e.Err) }

func (e *CaptureError) Unwrap() error { return e.Err }

// InjectionError reports that an input command reached the target but failed
// there, for example a non-zero exit status from xdotool.
type InjectionError struct {
	Command string
	Output  string
	Err     error
}

func (e *InjectionError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("input command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("input command %q failed: %v: %s", e.Command, e.Err, out)
}

func (e *InjectionError) Unwrap() error { return e.Err }
