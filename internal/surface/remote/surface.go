// Package remote implements a controllable surface for a desktop reached
// through a command and file transport, normally SSH with SFTP.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	// Decoders for the screenshot formats image.DecodeConfig may encounter.
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// Surface drives an X11 desktop by running xdotool and a screenshot tool on
// the remote machine, one command per primitive.
type Surface struct {
	cfg       config.RemoteConfig
	xdo       surface.XDoTool
	dragDelay time.Duration
	conn      *surface.Connector[Session]
	logger    *zap.Logger

	resMu sync.Mutex
	res   *surface.Resolution
}

var _ surface.Surface = (*Surface)(nil)

// New creates a remote surface. No connection is made until the first call
// that needs one.
func New(cfg config.RemoteConfig, dragDelay time.Duration, transport Transport, logger *zap.Logger) *Surface {
	xauth := cfg.XAuthority
	if xauth == "" && cfg.User != "" {
		xauth = "/home/" + cfg.User + "/.Xauthority"
	}
	if dragDelay <= 0 {
		dragDelay = surface.DefaultDragStepDelay
	}
	target := cfg.Host
	if cfg.User != "" {
		target = cfg.User + "@" + cfg.Host
	}
	return &Surface{
		cfg:       cfg,
		xdo:       surface.XDoTool{Display: cfg.Display, XAuthority: xauth, TypeDelay: cfg.TypeDelay},
		dragDelay: dragDelay,
		conn:      surface.NewConnector[Session](target, transport.Connect, surface.WithDialTimeout(cfg.ConnectTimeout)),
		logger:    logger.Named("remote_surface"),
	}
}

// State exposes the connection state.
func (s *Surface) State() surface.ConnState { return s.conn.State() }

// Close tears down the connection if one was established.
func (s *Surface) Close() error {
	sess, ok := s.conn.Reset()
	if !ok {
		return nil
	}
	return sess.Close()
}

// run executes one xdotool command on the remote display.
func (s *Surface) run(ctx context.Context, cmd surface.Command) error {
	sess, err := s.conn.Get(ctx)
	if err != nil {
		return err
	}
	line := s.xdo.ShellLine(cmd)
	out, err := sess.Execute(ctx, line)
	if err != nil {
		return s.classify(line, out, err)
	}
	s.logger.Debug("Executed input command", zap.Strings("argv", cmd))
	return nil
}

// classify maps transport errors onto the surface taxonomy.
func (s *Surface) classify(line string, out []byte, err error) error {
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return &surface.InjectionError{Command: line, Output: string(out), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &surface.ConnectionError{Target: s.cfg.Host, Err: err}
	}
}

// capture triggers the screenshot tool, waits for the file to settle, fetches
// it and removes it from the remote machine.
func (s *Surface) capture(ctx context.Context) ([]byte, error) {
	sess, err := s.conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	path := s.cfg.ScreenshotPath
	line := s.xdo.ShellLine(surface.ExpandCommandTemplate(s.cfg.ScreenshotCommand, path))
	if out, err := sess.Execute(ctx, line); err != nil {
		return nil, &surface.CaptureError{Err: fmt.Errorf("running %q: %w: %s", line, err, bytes.TrimSpace(out))}
	}

	if err := surface.Sleep(ctx, s.cfg.ScreenshotSettle); err != nil {
		return nil, err
	}

	data, err := sess.FetchFile(ctx, path)
	if err != nil {
		return nil, &surface.CaptureError{Err: fmt.Errorf("fetching %s: %w", path, err)}
	}
	if len(data) == 0 {
		return nil, &surface.CaptureError{Err: fmt.Errorf("screenshot %s is empty", path)}
	}

	if err := sess.RemoveFile(ctx, path); err != nil {
		s.logger.Warn("Failed to remove remote screenshot", zap.String("path", path), zap.Error(err))
	}
	return data, nil
}

// Snapshot returns the remote frame as base64.
func (s *Surface) Snapshot(ctx context.Context) (string, error) {
	data, err := s.capture(ctx)
	if err != nil {
		return "", err
	}
	s.rememberResolution(data)
	return base64.StdEncoding.EncodeToString(data), nil
}

// Resolution measures one captured frame; the result is cached.
func (s *Surface) Resolution(ctx context.Context) (surface.Resolution, error) {
	s.resMu.Lock()
	if s.res != nil {
		res := *s.res
		s.resMu.Unlock()
		return res, nil
	}
	s.resMu.Unlock()

	data, err := s.capture(ctx)
	if err != nil {
		return surface.Resolution{}, err
	}
	res, err := measure(data)
	if err != nil {
		return surface.Resolution{}, err
	}

	s.resMu.Lock()
	defer s.resMu.Unlock()
	if s.res == nil {
		s.res = &res
		s.logger.Info("Measured remote resolution", zap.Stringer("resolution", res))
	}
	return *s.res, nil
}

func (s *Surface) rememberResolution(data []byte) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if s.res != nil {
		return
	}
	if res, err := measure(data); err == nil {
		s.res = &res
	}
}

func measure(data []byte) (surface.Resolution, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return surface.Resolution{}, &surface.CaptureError{Err: fmt.Errorf("decoding screenshot header: %w", err)}
	}
	return surface.Resolution{Width: cfg.Width, Height: cfg.Height}, nil
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

// Wait needs no connection.
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

// release lifts the primary button after an interrupted drag.
func (s *Surface) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.run(ctx, s.xdo.MouseUp()); err != nil {
		s.logger.Warn("Failed to release mouse button after interrupted drag", zap.Error(err))
	}
}
