package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

type runCall struct {
	ctx     context.Context
	actions int
}

// recordRuns replaces chromedpRun so the launcher can be exercised without a
// Chrome binary. handle decides the outcome of each call.
func recordRuns(t *testing.T, handle func(call runCall) error) func() []runCall {
	t.Helper()
	orig := chromedpRun
	t.Cleanup(func() { chromedpRun = orig })

	var mu sync.Mutex
	var calls []runCall
	chromedpRun = func(ctx context.Context, actions ...chromedp.Action) error {
		call := runCall{ctx: ctx, actions: len(actions)}
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		return handle(call)
	}
	return func() []runCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]runCall(nil), calls...)
	}
}

func launcherConfig() config.BrowserConfig {
	return config.BrowserConfig{Headless: true, ViewportWidth: 800, ViewportHeight: 600, StartURL: "https://example.com"}
}

func TestChromeLauncher_BrowserOutlivesLaunch(t *testing.T) {
	calls := recordRuns(t, func(runCall) error { return nil })

	sess, err := ChromeLauncher(launcherConfig(), zap.NewNop())(context.Background())
	require.NoError(t, err)

	got := calls()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].actions, "the browser is allocated by an empty run")
	assert.Equal(t, 2, got[1].actions, "viewport and navigation")

	// The allocating context is the tab itself and stays alive after launch.
	assert.NoError(t, got[0].ctx.Err())
	assert.Same(t, chromedp.FromContext(got[0].ctx), chromedp.FromContext(got[1].ctx))
	// Per call contexts end with their call.
	assert.Error(t, got[1].ctx.Err())

	require.NoError(t, sess.Run(context.Background(), chromedp.Sleep(0)))
	assert.NoError(t, got[0].ctx.Err(), "later runs must not tear the browser down")

	require.NoError(t, sess.Close())
	assert.Error(t, got[0].ctx.Err())
}

func TestChromeLauncher_StartFailure(t *testing.T) {
	calls := recordRuns(t, func(call runCall) error {
		if call.actions == 0 {
			return errors.New(`exec: "google-chrome": executable file not found in $PATH`)
		}
		return nil
	})

	_, err := ChromeLauncher(launcherConfig(), zap.NewNop())(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launching chrome")
	assert.Contains(t, err.Error(), "executable file not found")

	got := calls()
	require.Len(t, got, 1, "navigation is not attempted")
	assert.Error(t, got[0].ctx.Err(), "contexts are released")
}

func TestChromeLauncher_CancelledDuringStart(t *testing.T) {
	started := make(chan struct{})
	recordRuns(t, func(call runCall) error {
		close(started)
		<-call.ctx.Done()
		return call.ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := ChromeLauncher(launcherConfig(), zap.NewNop())(ctx)
		errc <- err
	}()

	<-started
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("launcher did not return after cancellation")
	}
}

func TestChromeSession_RunHonorsCallerContext(t *testing.T) {
	recordRuns(t, func(call runCall) error {
		<-call.ctx.Done()
		return errors.New("target closed")
	})

	tabCtx, cancelTab := context.WithCancel(context.Background())
	s := &chromeSession{tabCtx: tabCtx, cancelTab: cancelTab, cancelAlloc: func() {}}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Run(ctx, chromedp.Sleep(0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, tabCtx.Err(), "a cancelled call leaves the tab open")
}
