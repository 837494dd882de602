package frontend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Console is a line oriented frontend: the transcript is printed to out and
// every line read from in answers the outstanding request.
type Console struct {
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	reqs   requests
	logger *zap.Logger

	startOnce sync.Once
	eof       chan struct{}
}

// NewConsole creates a console frontend. Call Start before issuing requests.
func NewConsole(in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{in: in, out: out, logger: logger.Named("console"), eof: make(chan struct{})}
}

// Start launches the input reader. It returns immediately; the reader stops
// when in reaches EOF.
func (c *Console) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// Pending reports the request currently waiting for a line.
func (c *Console) Pending() RequestKind { return c.reqs.current() }

// Closed is closed once the input stream has ended.
func (c *Console) Closed() <-chan struct{} { return c.eof }

func (c *Console) readLoop() {
	defer close(c.eof)
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.Submit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("Console input failed", zap.Error(err))
	}
}

// Submit answers the outstanding request with line.
func (c *Console) Submit(line string) {
	line = strings.TrimRight(line, "\r")
	kind, ok := c.reqs.submit(line)
	if !ok {
		c.println(schemas.RoleSystem.Label() + ": " + IgnoredInputNotice)
		return
	}
	if notice := noticeFor(kind); notice != "" {
		c.println(schemas.RoleSystem.Label() + ": " + notice)
	}
}

func (c *Console) RequestInitialInstructions(ctx context.Context) (string, error) {
	return c.request(ctx, InstructionsRequest, "Enter instructions: ")
}

func (c *Console) RequestUserInput(ctx context.Context) (string, error) {
	return c.request(ctx, UserInputRequest, "User input: ")
}

func (c *Console) RequestAcknowledgment(ctx context.Context, prompt string) error {
	c.println(schemas.RoleSystem.Label() + ": " + prompt)
	_, err := c.request(ctx, AcknowledgmentRequest, "")
	return err
}

func (c *Console) request(ctx context.Context, kind RequestKind, prompt string) (string, error) {
	p, err := c.reqs.open(kind)
	if err != nil {
		return "", err
	}
	defer c.reqs.close(p)

	if prompt != "" {
		c.print(prompt)
	}
	select {
	case <-p.Done():
		return p.Await(ctx)
	case <-c.eof:
		return "", fmt.Errorf("waiting for %s: %w", kind, io.EOF)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AppendTranscript prints one entry, prefixed with its role label.
func (c *Console) AppendTranscript(entry schemas.TranscriptEntry) {
	c.println(FormatEntry(entry))
}

// FormatEntry renders an entry as "Label: text", or the bare text for
// entries without a label.
func FormatEntry(entry schemas.TranscriptEntry) string {
	label := entry.Role.Label()
	if label == "" {
		return entry.Text
	}
	return label + ": " + entry.Text
}

func (c *Console) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := io.WriteString(c.out, s); err != nil {
		c.logger.Debug("Console write failed", zap.Error(err))
	}
}

func (c *Console) println(s string) { c.print(s + "\n") }
