// Package local implements a controllable surface for the X11 desktop of the
// machine the agent itself runs on.
package local

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// Surface drives the local display with xdotool and a screenshot tool. The
// "connection" is a one time probe of the X server, which also yields the
// display resolution.
type Surface struct {
	cfg       config.LocalConfig
	xdo       surface.XDoTool
	runner    Runner
	dragDelay time.Duration
	probe     *surface.Connector[surface.Resolution]
	logger    *zap.Logger
}

var _ surface.Surface = (*Surface)(nil)

// New creates a local surface. A nil runner means OSRunner.
func New(cfg config.LocalConfig, dragDelay time.Duration, runner Runner, logger *zap.Logger) *Surface {
	if runner == nil {
		runner = OSRunner{}
	}
	if dragDelay <= 0 {
		dragDelay = surface.DefaultDragStepDelay
	}
	s := &Surface{
		cfg:       cfg,
		xdo:       surface.XDoTool{Display: cfg.Display, XAuthority: cfg.XAuthority, TypeDelay: cfg.TypeDelay},
		runner:    runner,
		dragDelay: dragDelay,
		logger:    logger.Named("local_surface"),
	}
	s.probe = surface.NewConnector[surface.Resolution](s.xdo.Env()[0], s.geometry, surface.WithDialTimeout(cfg.CommandTimeout))
	return s
}

// State exposes whether the display has been probed successfully.
func (s *Surface) State() surface.ConnState { return s.probe.State() }

func (s *Surface) geometry(ctx context.Context) (surface.Resolution, error) {
	out, err := s.exec(ctx, s.xdo.DisplayGeometry())
	if err != nil {
		return surface.Resolution{}, err
	}
	res, err := surface.ParseDisplayGeometry(out)
	if err != nil {
		return surface.Resolution{}, err
	}
	s.logger.Info("Probed local display", zap.String("display", s.cfg.Display), zap.Stringer("resolution", res))
	return res, nil
}

// exec runs one command under the command timeout.
func (s *Surface) exec(ctx context.Context, cmd surface.Command) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}
	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}
	out, err := s.runner.Run(ctx, s.xdo.Env(), cmd[0], cmd[1:]...)
	if err != nil {
		return out, s.classify(cmd, out, err)
	}
	return out, nil
}

func (s *Surface) classify(cmd surface.Command, out []byte, err error) error {
	line := strings.Join(cmd, " ")
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return &surface.InjectionError{Command: line, Output: string(out), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		// Typically exec.ErrNotFound: the tool is not installed.
		return &surface.ConnectionError{Target: s.xdo.Env()[0], Err: fmt.Errorf("%s: %w", cmd[0], err)}
	}
}

// run ensures the display was probed, then executes an input command.
func (s *Surface) run(ctx context.Context, cmd surface.Command) error {
	if _, err := s.probe.Get(ctx); err != nil {
		return err
	}
	_, err := s.exec(ctx, cmd)
	if err == nil {
		s.logger.Debug("Executed input command", zap.Strings("argv", cmd))
	}
	return err
}

// Snapshot writes a screenshot to a temporary file and returns it as base64.
func (s *Surface) Snapshot(ctx context.Context) (string, error) {
	if _, err := s.probe.Get(ctx); err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "deskpilot-*.png")
	if err != nil {
		return "", &surface.CaptureError{Err: err}
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if _, err := s.exec(ctx, surface.ExpandCommandTemplate(s.cfg.ScreenshotCommand, path)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &surface.CaptureError{Err: err}
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", &surface.CaptureError{Err: err}
	}
	if len(data) == 0 {
		return "", &surface.CaptureError{Err: fmt.Errorf("screenshot %s is empty", path)}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Resolution is the geometry reported by the X server at probe time.
func (s *Surface) Resolution(ctx context.Context) (surface.Resolution, error) {
	return s.probe.Get(ctx)
}

func (s *Surface) Click(ctx context.Context, x, y int, button surface.Button) error {
	return s.run(ctx, s.xdo.Click(x, y, button))
}

func (s *Surface) DoubleClick(ctx context.Context, x, y int) error {
	return s.run(ctx, s.xdo.DoubleClick(x, y))
}

func (s *Surface) Move(ctx context.Context, x, y int) error {
	return s.run(ctx, s.xdo.Move(x, y))
}

func (s *Surface) Scroll(ctx context.Context, x, y, dx, dy int) error {
	return s.run(ctx, s.xdo.Scroll(x, y, dx, dy))
}

func (s *Surface) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return s.run(ctx, s.xdo.Type(text))
}

func (s *Surface) Wait(ctx context.Context, ms int) error {
	return surface.Sleep(ctx, surface.WaitDuration(ms))
}

func (s *Surface) Keypress(ctx context.Context, keys []string) error {
	if len(surface.TranslateKeys(keys)) == 0 {
		return nil
	}
	return s.run(ctx, s.xdo.Key(keys))
}

func (s *Surface) Drag(ctx context.Context, path []surface.Point) error {
	if len(path) == 0 {
		return nil
	}
	if err := s.run(ctx, s.xdo.Move(path[0].X, path[0].Y)); err != nil {
		return err
	}
	if err := s.run(ctx, s.xdo.MouseDown()); err != nil {
		return err
	}
	for _, p := range path[1:] {
		if err := surface.Sleep(ctx, s.dragDelay); err != nil {
			s.release()
			return err
		}
		if err := s.run(ctx, s.xdo.Move(p.X, p.Y)); err != nil {
			s.release()
			return err
		}
	}
	return s.run(ctx, s.xdo.MouseUp())
}

func (s *Surface) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.exec(ctx, s.xdo.MouseUp()); err != nil {
		s.logger.Warn("Failed to release mouse button after interrupted drag", zap.Error(err))
	}
}
