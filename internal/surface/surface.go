// Package surface defines the contract every controllable screen target
// implements, together with the pieces shared by the concrete backends:
// the error taxonomy, the lazy connection state machine, key alias
// translation, the xdotool command builder and the scaling decorator.
package surface

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultWaitMillis is the wait a planner gets when it omits the duration.
const DefaultWaitMillis = 1000

// DefaultDragStepDelay separates the intermediate moves of a drag so the
// target registers a continuous motion.
const DefaultDragStepDelay = 50 * time.Millisecond

// Surface is a remotely or locally controllable screen. Coordinates are in the
// surface's own frame (see Resolution). Every call may block on I/O and honors
// ctx cancellation.
type Surface interface {
	// Snapshot returns the current visible frame as a base64 encoded image.
	Snapshot(ctx context.Context) (string, error)
	// Resolution returns the native frame size. Cached after the first call.
	Resolution(ctx context.Context) (Resolution, error)
	Click(ctx context.Context, x, y int, button Button) error
	DoubleClick(ctx context.Context, x, y int) error
	Move(ctx context.Context, x, y int) error
	// Scroll scrolls dx/dy discrete steps at (x, y). Positive dy scrolls up.
	Scroll(ctx context.Context, x, y, dx, dy int) error
	Type(ctx context.Context, text string) error
	// Wait suspends for ms milliseconds. A non-positive ms returns at once.
	Wait(ctx context.Context, ms int) error
	Keypress(ctx context.Context, keys []string) error
	// Drag presses the primary button at path[0], moves through the rest of
	// the path and releases. An empty path is a no-op.
	Drag(ctx context.Context, path []Point) error
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// Valid reports whether both dimensions are positive.
func (r Resolution) Valid() bool { return r.Width > 0 && r.Height > 0 }

// Point is one coordinate pair of a drag path.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Button is a mouse button name.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonMiddle Button = "middle"
	ButtonRight  Button = "right"
)

// ParseButton normalizes a planner supplied button name. Anything that is not
// middle or right (including "wheel", "back" and the empty string) is left.
func ParseButton(name string) Button {
	switch Button(strings.ToLower(strings.TrimSpace(name))) {
	case ButtonMiddle:
		return ButtonMiddle
	case ButtonRight:
		return ButtonRight
	default:
		return ButtonLeft
	}
}

// X11 returns the X server button number for the button.
func (b Button) X11() int {
	switch b {
	case ButtonMiddle:
		return 2
	case ButtonRight:
		return 3
	default:
		return 1
	}
}

// WaitDuration converts a Wait argument into a duration. Negative values
// clamp to zero.
func WaitDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
