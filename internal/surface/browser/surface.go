// Package browser implements a controllable surface backed by a Chrome tab
// driven over the DevTools protocol. The viewport is the screen.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

const defaultScrollStep = 100

// launchTimeout bounds starting Chrome and loading the start URL.
const launchTimeout = time.Minute

// Surface dispatches synthetic input events into a browser tab.
type Surface struct {
	cfg       config.BrowserConfig
	dragDelay time.Duration
	conn      *surface.Connector[Session]
	logger    *zap.Logger
}

var _ surface.Surface = (*Surface)(nil)

// New creates a browser surface. The browser is launched on first use.
func New(cfg config.BrowserConfig, dragDelay time.Duration, launch Launcher, logger *zap.Logger) *Surface {
	if cfg.ScrollStepPixels <= 0 {
		cfg.ScrollStepPixels = defaultScrollStep
	}
	if dragDelay <= 0 {
		dragDelay = surface.DefaultDragStepDelay
	}
	return &Surface{
		cfg:       cfg,
		dragDelay: dragDelay,
		conn:      surface.NewConnector("chrome", surface.DialFunc[Session](launch), surface.WithDialTimeout(launchTimeout)),
		logger:    logger.Named("browser_surface"),
	}
}

// State exposes whether the browser has been launched.
func (s *Surface) State() surface.ConnState { return s.conn.State() }

// Close shuts the browser down if it was launched.
func (s *Surface) Close() error {
	sess, ok := s.conn.Reset()
	if !ok {
		return nil
	}
	return sess.Close()
}

// do runs actions under the per action timeout. name labels failures.
func (s *Surface) do(ctx context.Context, name string, actions ...chromedp.Action) error {
	sess, err := s.conn.Get(ctx)
	if err != nil {
		return err
	}
	if s.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
	}
	if err := sess.Run(ctx, actions...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return &surface.InjectionError{Command: name, Err: err}
	}
	return nil
}

func (s *Surface) Snapshot(ctx context.Context) (string, error) {
	sess, err := s.conn.Get(ctx)
	if err != nil {
		return "", err
	}
	if s.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
	}
	var buf []byte
	if err := sess.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", &surface.CaptureError{Err: err}
	}
	if len(buf) == 0 {
		return "", &surface.CaptureError{Err: errors.New("browser returned an empty screenshot")}
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Resolution is the emulated viewport; it needs no browser.
func (s *Surface) Resolution(ctx context.Context) (surface.Resolution, error) {
	return surface.Resolution{Width: s.cfg.ViewportWidth, Height: s.cfg.ViewportHeight}, nil
}

func (s *Surface) Click(ctx context.Context, x, y int, button surface.Button) error {
	return s.do(ctx, "click", clickEvents(x, y, button, 1)...)
}

func (s *Surface) DoubleClick(ctx context.Context, x, y int) error {
	actions := clickEvents(x, y, surface.ButtonLeft, 1)
	actions = append(actions, clickEvents(x, y, surface.ButtonLeft, 2)[1:]...)
	return s.do(ctx, "double_click", actions...)
}

func (s *Surface) Move(ctx context.Context, x, y int) error {
	return s.do(ctx, "move", mouse(input.MouseMoved, x, y))
}

func (s *Surface) Scroll(ctx context.Context, x, y, dx, dy int) error {
	return s.do(ctx, "scroll", mouse(input.MouseMoved, x, y), wheelEvent(x, y, dx, dy, s.cfg.ScrollStepPixels))
}

func (s *Surface) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return s.do(ctx, "type", input.InsertText(text))
}

func (s *Surface) Wait(ctx context.Context, ms int) error {
	return surface.Sleep(ctx, surface.WaitDuration(ms))
}

func (s *Surface) Keypress(ctx context.Context, keys []string) error {
	events := keyEvents(keys)
	if len(events) == 0 {
		return nil
	}
	actions := make([]chromedp.Action, len(events))
	for i, e := range events {
		actions[i] = e
	}
	return s.do(ctx, "keypress", actions...)
}

func (s *Surface) Drag(ctx context.Context, path []surface.Point) error {
	if len(path) == 0 {
		return nil
	}
	start := path[0]
	if err := s.do(ctx, "drag",
		mouse(input.MouseMoved, start.X, start.Y),
		mouse(input.MousePressed, start.X, start.Y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
	); err != nil {
		return err
	}
	last := start
	for _, p := range path[1:] {
		if err := surface.Sleep(ctx, s.dragDelay); err != nil {
			s.release(last)
			return err
		}
		if err := s.do(ctx, "drag", mouse(input.MouseMoved, p.X, p.Y).WithButton(input.Left).WithButtons(1)); err != nil {
			s.release(last)
			return err
		}
		last = p
	}
	return s.do(ctx, "drag", mouse(input.MouseReleased, last.X, last.Y).WithButton(input.Left).WithClickCount(1))
}

func (s *Surface) release(at surface.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.do(ctx, "drag", mouse(input.MouseReleased, at.X, at.Y).WithButton(input.Left).WithClickCount(1)); err != nil {
		s.logger.Warn("Failed to release mouse button after interrupted drag", zap.Error(err))
	}
}

func mouse(t input.MouseType, x, y int) *input.DispatchMouseEventParams {
	return input.DispatchMouseEvent(t, float64(x), float64(y))
}

func cdpButton(b surface.Button) (input.MouseButton, int64) {
	switch b {
	case surface.ButtonMiddle:
		return input.Middle, 4
	case surface.ButtonRight:
		return input.Right, 2
	default:
		return input.Left, 1
	}
}

// clickEvents moves to (x, y) and presses and releases button once with the
// given click count.
func clickEvents(x, y int, b surface.Button, count int64) []chromedp.Action {
	btn, mask := cdpButton(b)
	return []chromedp.Action{
		mouse(input.MouseMoved, x, y),
		mouse(input.MousePressed, x, y).WithButton(btn).WithButtons(mask).WithClickCount(count),
		mouse(input.MouseReleased, x, y).WithButton(btn).WithClickCount(count),
	}
}

// wheelEvent converts discrete wheel steps into pixel deltas. Positive dy
// scrolls up and positive dx scrolls left, mirroring X11 buttons 4 and 6.
func wheelEvent(x, y, dx, dy, step int) *input.DispatchMouseEventParams {
	return mouse(input.MouseWheel, x, y).
		WithDeltaX(float64(-dx * step)).
		WithDeltaY(float64(-dy * step))
}
