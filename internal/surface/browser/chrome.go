package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Session runs CDP actions against one browser tab.
type Session interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
	Close() error
}

// Launcher starts a browser and returns a session on its first tab.
type Launcher func(ctx context.Context) (Session, error)

// chromedpRun is chromedp.Run, replaceable in tests.
var chromedpRun = chromedp.Run

// chromeSession owns the allocator and tab contexts of a Chrome process.
type chromeSession struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// ChromeLauncher starts Chrome with the configured flags, opens the start URL
// and applies the viewport.
func ChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) Launcher {
	return func(ctx context.Context) (Session, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}

		// The browser outlives the call that launched it, so its contexts
		// are rooted in Background and torn down by Close.
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
		tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
		s := &chromeSession{tabCtx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

		if err := s.start(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("launching chrome: %w", err)
		}

		startURL := cfg.StartURL
		if startURL == "" {
			startURL = "about:blank"
		}
		err := s.Run(ctx,
			chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
			chromedp.Navigate(startURL),
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("launching chrome: %w", err)
		}
		logger.Info("Browser session started", zap.String("url", startURL), zap.Bool("headless", cfg.Headless))
		return s, nil
	}
}

// start allocates the browser. The first run on a chromedp context ties the
// Chrome process to that context, so it must be the tab context itself and
// never one derived per call.
func (s *chromeSession) start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedpRun(s.tabCtx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.cancelTab()
		<-done
		return ctx.Err()
	}
}

// Run executes actions on the tab, giving up when either ctx or the session
// ends.
func (s *chromeSession) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedpRun(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromeSession) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}
