package frontend

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// syncBuffer lets the test read what the console writes from another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPromise(t *testing.T) {
	t.Run("first resolution wins", func(t *testing.T) {
		p := NewPromise[string]()
		assert.False(t, p.Resolved())
		assert.True(t, p.Resolve("first"))
		assert.False(t, p.Resolve("second"))

		v, err := p.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "first", v)
		assert.True(t, p.Resolved())
	})

	t.Run("concurrent resolvers", func(t *testing.T) {
		p := NewPromise[int]()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if p.Resolve(i) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("await honours context", func(t *testing.T) {
		p := NewPromise[string]()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := p.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRequests(t *testing.T) {
	var r requests
	_, ok := r.submit("stray")
	assert.False(t, ok)

	p, err := r.open(UserInputRequest)
	require.NoError(t, err)
	_, err = r.open(InstructionsRequest)
	assert.ErrorIs(t, err, ErrRequestPending)
	assert.Equal(t, UserInputRequest, r.current())

	kind, ok := r.submit("yes")
	assert.True(t, ok)
	assert.Equal(t, UserInputRequest, kind)
	assert.Equal(t, NoRequest, r.current())

	v, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yes", v)

	// Closing a stale promise must not clear a newer request.
	p2, err := r.open(AcknowledgmentRequest)
	require.NoError(t, err)
	r.close(p)
	assert.Equal(t, AcknowledgmentRequest, r.current())
	r.close(p2)
	assert.Equal(t, NoRequest, r.current())
}

func TestConsole(t *testing.T) {
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	c := NewConsole(inR, out, zap.NewNop())
	c.Start()

	type result struct {
		text string
		err  error
	}
	waitFor := func(kind RequestKind) {
		require.Eventually(t, func() bool { return c.Pending() == kind }, time.Second, time.Millisecond)
	}

	// A line with nothing pending is reported and dropped.
	_, err := io.WriteString(inW, "too early\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("System: "+IgnoredInputNotice))
	}, time.Second, time.Millisecond)

	got := make(chan result, 1)
	go func() {
		text, err := c.RequestInitialInstructions(context.Background())
		got <- result{text, err}
	}()
	waitFor(InstructionsRequest)
	_, err = io.WriteString(inW, "open the browser\r\n")
	require.NoError(t, err)
	res := <-got
	require.NoError(t, res.err)
	assert.Equal(t, "open the browser", res.text)

	ack := make(chan error, 1)
	go func() { ack <- c.RequestAcknowledgment(context.Background(), "Press Enter to continue") }()
	waitFor(AcknowledgmentRequest)
	_, err = io.WriteString(inW, "\n")
	require.NoError(t, err)
	require.NoError(t, <-ack)

	c.AppendTranscript(schemas.TranscriptEntry{Role: schemas.RoleAssistant, Text: "Clicking the icon"})
	c.AppendTranscript(schemas.TranscriptEntry{Role: schemas.RoleAction, Text: "  click {x: 1}"})

	// EOF fails the pending request and stops the reader.
	go func() {
		text, err := c.RequestUserInput(context.Background())
		got <- result{text, err}
	}()
	waitFor(UserInputRequest)
	require.NoError(t, inW.Close())
	res = <-got
	assert.ErrorIs(t, res.err, io.EOF)
	<-c.Closed()

	printed := out.String()
	assert.Contains(t, printed, "Enter instructions: ")
	assert.Contains(t, printed, "System: "+InstructionsSubmittedNotice)
	assert.Contains(t, printed, "System: Press Enter to continue\n")
	assert.Contains(t, printed, "System: "+AcknowledgedNotice)
	assert.Contains(t, printed, "Agent: Clicking the icon\n")
	assert.Contains(t, printed, "\n  click {x: 1}\n")
}

func TestConsole_RequestCancelled(t *testing.T) {
	inR, inW := io.Pipe()
	c := NewConsole(inR, io.Discard, zap.NewNop())
	c.Start()
	defer func() {
		_ = inW.Close()
		<-c.Closed()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RequestUserInput(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, NoRequest, c.Pending())
}

func TestFormatEntry(t *testing.T) {
	assert.Equal(t, "User: hi", FormatEntry(schemas.TranscriptEntry{Role: schemas.RoleUser, Text: "hi"}))
	assert.Equal(t, "System: oops", FormatEntry(schemas.TranscriptEntry{Role: schemas.RoleSystem, Text: "oops"}))
	assert.Equal(t, "  wait", FormatEntry(schemas.TranscriptEntry{Role: schemas.RoleAction, Text: "  wait"}))
}

func TestModel(t *testing.T) {
	var r requests
	m := NewModel(r.submit)

	update := func(msg tea.Msg) {
		t.Helper()
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	update(tea.WindowSizeMsg{Width: 80, Height: 24})
	update(transcriptMsg{entry: schemas.TranscriptEntry{Role: schemas.RoleAssistant, Text: "hello"}})
	require.Len(t, m.Lines(), 1)
	assert.Contains(t, m.Lines()[0], "hello")

	// Enter with nothing pending is reported.
	update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, m.Lines(), 2)
	assert.Contains(t, m.Lines()[1], IgnoredInputNotice)

	p, err := r.open(InstructionsRequest)
	require.NoError(t, err)
	update(requestMsg{kind: InstructionsRequest, prompt: "Enter instructions:"})
	assert.Equal(t, InstructionsRequest, m.Pending())
	assert.Contains(t, m.View(), "Enter instructions:")

	update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("open mail")})
	update(tea.KeyMsg{Type: tea.KeyEnter})
	v, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open mail", v)
	assert.Equal(t, NoRequest, m.Pending())
	assert.Contains(t, m.Lines()[len(m.Lines())-1], InstructionsSubmittedNotice)

	_, err = r.open(AcknowledgmentRequest)
	require.NoError(t, err)
	update(requestMsg{kind: AcknowledgmentRequest, prompt: "Safety checks: sends email"})
	assert.Contains(t, m.Lines()[len(m.Lines())-1], "Safety checks: sends email")
	update(requestDoneMsg{})
	assert.Equal(t, NoRequest, m.Pending())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTUI_RequestsAfterExit(t *testing.T) {
	tui := NewTUI(zap.NewNop(), tea.WithInput(&bytes.Buffer{}), tea.WithOutput(io.Discard))
	// Simulate a finished Run without starting the terminal program.
	tui.doneOnce.Do(func() { close(tui.done) })

	_, err := tui.RequestUserInput(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	err = tui.RequestAcknowledgment(context.Background(), "continue?")
	assert.ErrorIs(t, err, ErrClosed)
	tui.AppendTranscript(schemas.TranscriptEntry{Role: schemas.RoleSystem, Text: "dropped"})
}
