package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu      sync.Mutex
	batches [][]chromedp.Action
	err     error
	closed  bool
}

func (f *fakeSession) Run(ctx context.Context, actions ...chromedp.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, actions)
	return f.err
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) mouseEvents() []*input.DispatchMouseEventParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*input.DispatchMouseEventParams
	for _, b := range f.batches {
		for _, a := range b {
			if m, ok := a.(*input.DispatchMouseEventParams); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func newTestSurface(sess *fakeSession, launches *atomic.Int32) *Surface {
	cfg := config.BrowserConfig{ViewportWidth: 1280, ViewportHeight: 800, ScrollStepPixels: 120, ActionTimeout: time.Second}
	launch := func(ctx context.Context) (Session, error) {
		if launches != nil {
			launches.Add(1)
		}
		return sess, nil
	}
	return New(cfg, time.Millisecond, launch, zap.NewNop())
}

func TestSurface_LaunchesOnce(t *testing.T) {
	var launches atomic.Int32
	sess := &fakeSession{}
	s := newTestSurface(sess, &launches)

	res, err := s.Resolution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, surface.Resolution{Width: 1280, Height: 800}, res)
	assert.Equal(t, int32(0), launches.Load(), "resolution is known without a browser")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Move(context.Background(), 1, 1))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), launches.Load())
	assert.Equal(t, surface.Connected, s.State())

	require.NoError(t, s.Close())
	assert.True(t, sess.closed)
}

func TestSurface_LaunchFailure(t *testing.T) {
	launch := func(ctx context.Context) (Session, error) { return nil, errors.New("chrome not found") }
	s := New(config.BrowserConfig{ViewportWidth: 10, ViewportHeight: 10}, 0, launch, zap.NewNop())

	_, err := s.Snapshot(context.Background())
	var connErr *surface.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestSurface_Click(t *testing.T) {
	sess := &fakeSession{}
	s := newTestSurface(sess, nil)

	require.NoError(t, s.Click(context.Background(), 30, 40, surface.ButtonRight))

	events := sess.mouseEvents()
	require.Len(t, events, 3)
	assert.Equal(t, input.MouseMoved, events[0].Type)
	assert.Equal(t, input.MousePressed, events[1].Type)
	assert.Equal(t, input.Right, events[1].Button)
	assert.Equal(t, int64(1), events[1].ClickCount)
	assert.Equal(t, input.MouseReleased, events[2].Type)
	assert.Equal(t, 30.0, events[2].X)
	assert.Equal(t, 40.0, events[2].Y)
}

func TestSurface_DoubleClick(t *testing.T) {
	sess := &fakeSession{}
	s := newTestSurface(sess, nil)

	require.NoError(t, s.DoubleClick(context.Background(), 5, 5))

	events := sess.mouseEvents()
	require.Len(t, events, 5)
	var counts []int64
	for _, e := range events[1:] {
		counts = append(counts, e.ClickCount)
	}
	assert.Equal(t, []int64{1, 1, 2, 2}, counts)
}

func TestWheelEvent(t *testing.T) {
	tests := []struct {
		name           string
		dx, dy         int
		wantDX, wantDY float64
	}{
		{"scroll up", 0, 3, 0, -300},
		{"scroll down", 0, -2, 0, 200},
		{"scroll left", 1, 0, -100, 0},
		{"scroll right", -4, 0, 400, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := wheelEvent(10, 20, tt.dx, tt.dy, 100)
			assert.Equal(t, input.MouseWheel, e.Type)
			assert.Equal(t, tt.wantDX, e.DeltaX)
			assert.Equal(t, tt.wantDY, e.DeltaY)
		})
	}
}

func TestKeyEvents(t *testing.T) {
	t.Run("chord with modifier", func(t *testing.T) {
		events := keyEvents([]string{"CTRL", "c"})
		require.Len(t, events, 4)

		assert.Equal(t, input.KeyRawDown, events[0].Type)
		assert.Equal(t, "Control", events[0].Key)
		assert.Equal(t, input.ModifierCtrl, events[0].Modifiers)

		assert.Equal(t, input.KeyDown, events[1].Type)
		assert.Equal(t, "c", events[1].Key)
		assert.Equal(t, input.ModifierCtrl, events[1].Modifiers)
		assert.Empty(t, events[1].Text, "ctrl chords produce no text")

		assert.Equal(t, input.KeyUp, events[2].Type)
		assert.Equal(t, input.KeyUp, events[3].Type)
		assert.Equal(t, "Control", events[3].Key)
		assert.Equal(t, input.Modifier(0), events[3].Modifiers)
	})

	t.Run("plain character produces text", func(t *testing.T) {
		events := keyEvents([]string{"a"})
		require.Len(t, events, 2)
		assert.Equal(t, "a", events[0].Text)
	})

	t.Run("named key", func(t *testing.T) {
		events := keyEvents([]string{"enter"})
		require.Len(t, events, 2)
		assert.Equal(t, "Enter", events[0].Key)
	})

	t.Run("unknown name passes through", func(t *testing.T) {
		events := keyEvents([]string{"MediaPlayPause"})
		require.Len(t, events, 2)
		assert.Equal(t, "MediaPlayPause", events[0].Key)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, keyEvents([]string{" "}))
	})
}

func TestSurface_Drag(t *testing.T) {
	sess := &fakeSession{}
	s := newTestSurface(sess, nil)

	require.NoError(t, s.Drag(context.Background(), nil))
	assert.Empty(t, sess.mouseEvents())

	require.NoError(t, s.Drag(context.Background(), []surface.Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}))
	events := sess.mouseEvents()
	var types []input.MouseType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []input.MouseType{input.MouseMoved, input.MousePressed, input.MouseMoved, input.MouseMoved, input.MouseReleased}, types)
	assert.Equal(t, 3.0, events[4].X)
}

func TestSurface_SnapshotAndErrors(t *testing.T) {
	t.Run("empty screenshot", func(t *testing.T) {
		s := newTestSurface(&fakeSession{}, nil)
		_, err := s.Snapshot(context.Background())
		var capErr *surface.CaptureError
		assert.ErrorAs(t, err, &capErr)
	})

	t.Run("protocol error is an injection error", func(t *testing.T) {
		sess := &fakeSession{err: errors.New("target closed")}
		s := newTestSurface(sess, nil)
		err := s.Type(context.Background(), "hi")
		var injErr *surface.InjectionError
		require.ErrorAs(t, err, &injErr)
		assert.Equal(t, "type", injErr.Command)
	})

	t.Run("no-ops", func(t *testing.T) {
		sess := &fakeSession{}
		s := newTestSurface(sess, nil)
		require.NoError(t, s.Type(context.Background(), ""))
		require.NoError(t, s.Keypress(context.Background(), nil))
		require.NoError(t, s.Wait(context.Background(), 1))
		assert.Empty(t, sess.batches)
	})
}

