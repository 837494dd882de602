package frontend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// ErrClosed is returned by requests made after the TUI has exited.
var ErrClosed = errors.New("frontend closed")

type transcriptMsg struct{ entry schemas.TranscriptEntry }

type requestMsg struct {
	kind   RequestKind
	prompt string
}

// requestDoneMsg clears a request that ended without input (cancelled).
type requestDoneMsg struct{}

type theme struct {
	user    lipgloss.Style
	agent   lipgloss.Style
	system  lipgloss.Style
	status  lipgloss.Style
	prompt  lipgloss.Style
	divider lipgloss.Style
}

func newTheme() theme {
	return theme{
		user:    lipgloss.NewStyle().Foreground(lipgloss.Color("#2980b9")).Bold(true),
		agent:   lipgloss.NewStyle().Foreground(lipgloss.Color("#27ae60")).Bold(true),
		system:  lipgloss.NewStyle().Foreground(lipgloss.Color("#c0392b")).Italic(true),
		status:  lipgloss.NewStyle().Foreground(lipgloss.Color("#7f8c8d")),
		prompt:  lipgloss.NewStyle().Foreground(lipgloss.Color("#f39c12")).Bold(true),
		divider: lipgloss.NewStyle().Foreground(lipgloss.Color("#34495e")),
	}
}

// Model is the bubbletea model behind the TUI. It only renders; input is
// routed through submit so the request bookkeeping stays with the TUI.
type Model struct {
	transcript viewport.Model
	input      textinput.Model
	theme      theme

	lines   []string
	pending RequestKind
	prompt  string
	width   int
	height  int

	submit func(string) (RequestKind, bool)
}

// NewModel builds a model whose Enter key hands the input line to submit.
func NewModel(submit func(string) (RequestKind, bool)) Model {
	input := textinput.New()
	input.Placeholder = "Waiting for the agent..."
	input.CharLimit = 4096
	input.Focus()

	return Model{
		transcript: viewport.New(0, 0),
		input:      input,
		theme:      newTheme(),
		submit:     submit,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case transcriptMsg:
		m.appendLine(m.renderEntry(msg.entry))
	case requestMsg:
		m.pending = msg.kind
		m.prompt = msg.prompt
		m.input.Placeholder = placeholderFor(msg.kind)
		if msg.kind == AcknowledgmentRequest && msg.prompt != "" {
			m.appendLine(m.renderEntry(schemas.TranscriptEntry{Role: schemas.RoleSystem, Text: msg.prompt}))
		}
	case requestDoneMsg:
		m.clearRequest()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			kind, ok := m.submit(text)
			if !ok {
				m.appendLine(m.renderEntry(schemas.TranscriptEntry{Role: schemas.RoleSystem, Text: IgnoredInputNotice}))
				break
			}
			if notice := noticeFor(kind); notice != "" {
				m.appendLine(m.renderEntry(schemas.TranscriptEntry{Role: schemas.RoleSystem, Text: notice}))
			}
			m.clearRequest()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			cmds = append(cmds, cmd)
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	status := "Agent running"
	if m.pending != NoRequest {
		status = "Waiting for " + m.pending.String()
	}
	rule := m.theme.divider.Render(strings.Repeat("─", maxInt(10, m.width)))
	var prompt string
	if m.pending != NoRequest && m.pending != AcknowledgmentRequest && m.prompt != "" {
		prompt = m.theme.prompt.Render(m.prompt) + "\n"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.transcript.View(),
		rule,
		prompt+m.input.View(),
		m.theme.status.Render(status+" · enter to submit · esc to quit"),
	)
}

// Lines returns the rendered transcript lines.
func (m Model) Lines() []string { return m.lines }

// Pending reports the request the model is currently showing.
func (m Model) Pending() RequestKind { return m.pending }

func (m *Model) clearRequest() {
	m.pending = NoRequest
	m.prompt = ""
	m.input.Placeholder = placeholderFor(NoRequest)
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *Model) resize() {
	m.transcript.Width = maxInt(20, m.width)
	m.transcript.Height = maxInt(3, m.height-4)
	m.input.Width = maxInt(10, m.width-4)
	m.refresh()
}

func (m *Model) refresh() {
	content := strings.Join(m.lines, "\n")
	if m.transcript.Width > 0 {
		content = lipgloss.NewStyle().Width(m.transcript.Width).Render(content)
	}
	m.transcript.SetContent(content)
	m.transcript.GotoBottom()
}

func (m Model) renderEntry(entry schemas.TranscriptEntry) string {
	label := entry.Role.Label()
	if label == "" {
		return entry.Text
	}
	var style lipgloss.Style
	switch entry.Role {
	case schemas.RoleUser:
		style = m.theme.user
	case schemas.RoleAssistant:
		style = m.theme.agent
	default:
		style = m.theme.system
	}
	return style.Render(label+":") + " " + entry.Text
}

func placeholderFor(kind RequestKind) string {
	switch kind {
	case InstructionsRequest:
		return "Describe the task for the agent"
	case UserInputRequest:
		return "Answer the agent"
	case AcknowledgmentRequest:
		return "Press Enter to acknowledge"
	default:
		return "Waiting for the agent..."
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// TUI is a full-screen terminal frontend. Run owns the terminal; requests
// from the orchestrator goroutine are forwarded to the program as messages.
type TUI struct {
	program *tea.Program
	reqs    requests
	logger  *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewTUI creates the frontend. Extra program options (input/output
// overrides in tests) are appended after the alt-screen default.
func NewTUI(logger *zap.Logger, opts ...tea.ProgramOption) *TUI {
	t := &TUI{logger: logger.Named("tui"), done: make(chan struct{})}
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	t.program = tea.NewProgram(NewModel(t.reqs.submit), opts...)
	return t
}

// Run drives the terminal until the user quits or ctx is cancelled.
func (t *TUI) Run(ctx context.Context) error {
	defer t.doneOnce.Do(func() { close(t.done) })

	stop := context.AfterFunc(ctx, t.program.Quit)
	defer stop()

	if _, err := t.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	t.logger.Debug("TUI exited")
	return nil
}

// Done is closed once Run has returned.
func (t *TUI) Done() <-chan struct{} { return t.done }

func (t *TUI) RequestInitialInstructions(ctx context.Context) (string, error) {
	return t.request(ctx, InstructionsRequest, "Enter instructions:")
}

func (t *TUI) RequestUserInput(ctx context.Context) (string, error) {
	return t.request(ctx, UserInputRequest, "The agent is waiting for your reply:")
}

func (t *TUI) RequestAcknowledgment(ctx context.Context, prompt string) error {
	_, err := t.request(ctx, AcknowledgmentRequest, prompt)
	return err
}

func (t *TUI) AppendTranscript(entry schemas.TranscriptEntry) {
	t.send(transcriptMsg{entry: entry})
}

func (t *TUI) request(ctx context.Context, kind RequestKind, prompt string) (string, error) {
	p, err := t.reqs.open(kind)
	if err != nil {
		return "", err
	}
	defer t.reqs.close(p)

	t.send(requestMsg{kind: kind, prompt: prompt})
	select {
	case <-p.Done():
		return p.Await(ctx)
	case <-t.done:
		return "", ErrClosed
	case <-ctx.Done():
		t.send(requestDoneMsg{})
		return "", ctx.Err()
	}
}

// send delivers msg unless the program has already exited.
func (t *TUI) send(msg tea.Msg) {
	select {
	case <-t.done:
	default:
		t.program.Send(msg)
	}
}
