package surface

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTypeDelay is the per-keystroke delay xdotool uses when typing.
const DefaultTypeDelay = 50 * time.Millisecond

// Command is one argv vector. Commands are executed directly by the local
// surface and rendered through ShellLine by the remote one.
type Command []string

// XDoTool builds xdotool invocations against one X display. The remote and
// local surfaces share it so both speak exactly the same input vocabulary.
type XDoTool struct {
	// Display is the X display, ":0" when empty.
	Display string
	// XAuthority is the cookie file, omitted from the environment when empty.
	XAuthority string
	// TypeDelay is the delay between typed keystrokes.
	TypeDelay time.Duration
}

func (x XDoTool) display() string {
	if x.Display == "" {
		return ":0"
	}
	return x.Display
}

// Env returns the environment assignments every command needs.
func (x XDoTool) Env() []string {
	env := []string{"DISPLAY=" + x.display()}
	if x.XAuthority != "" {
		env = append(env, "XAUTHORITY="+x.XAuthority)
	}
	return env
}

// ShellLine renders cmd as a single POSIX shell command line, prefixed with
// the display environment. Every argument is quoted as needed so that text is
// reproduced literally by the remote shell.
func (x XDoTool) ShellLine(cmd Command) string {
	parts := make([]string, 0, len(cmd)+2)
	for _, kv := range x.Env() {
		name, value, _ := strings.Cut(kv, "=")
		parts = append(parts, name+"="+ShellQuote(value))
	}
	for _, arg := range cmd {
		parts = append(parts, ShellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// Move positions the pointer.
func (x XDoTool) Move(px, py int) Command {
	return Command{"xdotool", "mousemove", itoa(px), itoa(py)}
}

// Click moves and clicks once.
func (x XDoTool) Click(px, py int, button Button) Command {
	return Command{"xdotool", "mousemove", itoa(px), itoa(py), "click", itoa(button.X11())}
}

// DoubleClick moves and clicks the left button twice.
func (x XDoTool) DoubleClick(px, py int) Command {
	return Command{"xdotool", "mousemove", itoa(px), itoa(py), "click", "--repeat", "2", "1"}
}

// Scroll moves to (px, py) and clicks the wheel buttons. Positive dy uses
// button 4 (up), negative button 5. Positive dx uses button 6, negative 7.
func (x XDoTool) Scroll(px, py, dx, dy int) Command {
	cmd := Command{"xdotool", "mousemove", itoa(px), itoa(py)}
	if dy != 0 {
		button := 4
		if dy < 0 {
			button = 5
		}
		cmd = append(cmd, "click", "--repeat", itoa(abs(dy)), itoa(button))
	}
	if dx != 0 {
		button := 6
		if dx < 0 {
			button = 7
		}
		cmd = append(cmd, "click", "--repeat", itoa(abs(dx)), itoa(button))
	}
	return cmd
}

// Type injects text as keystrokes. The "--" terminator keeps text that starts
// with a dash from being parsed as an option.
func (x XDoTool) Type(text string) Command {
	delay := x.TypeDelay
	if delay <= 0 {
		delay = DefaultTypeDelay
	}
	return Command{"xdotool", "type", "--delay", itoa(int(delay / time.Millisecond)), "--", text}
}

// Key presses the keys as one chord. Aliases are translated first.
func (x XDoTool) Key(keys []string) Command {
	return Command{"xdotool", "key", strings.Join(TranslateKeys(keys), "+")}
}

// MouseDown presses the primary button.
func (x XDoTool) MouseDown() Command {
	return Command{"xdotool", "mousedown", "1"}
}

// MouseUp releases the primary button.
func (x XDoTool) MouseUp() Command {
	return Command{"xdotool", "mouseup", "1"}
}

// DisplayGeometry asks the X server for the screen size.
func (x XDoTool) DisplayGeometry() Command {
	return Command{"xdotool", "getdisplaygeometry"}
}

// ParseDisplayGeometry parses the "WIDTH HEIGHT" output of getdisplaygeometry.
func ParseDisplayGeometry(out []byte) (Resolution, error) {
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return Resolution{}, &CaptureError{Err: errUnexpectedGeometry(string(out))}
	}
	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return Resolution{}, &CaptureError{Err: errUnexpectedGeometry(string(out))}
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return Resolution{}, &CaptureError{Err: errUnexpectedGeometry(string(out))}
	}
	return Resolution{Width: w, Height: h}, nil
}

type errUnexpectedGeometry string

func (e errUnexpectedGeometry) Error() string {
	return "unexpected display geometry output: " + strconv.Quote(strings.TrimSpace(string(e)))
}

// ExpandCommandTemplate splits a configured command line on whitespace and
// substitutes {path} in every field.
func ExpandCommandTemplate(template, path string) Command {
	fields := strings.Fields(template)
	cmd := make(Command, len(fields))
	for i, f := range fields {
		cmd[i] = strings.ReplaceAll(f, "{path}", path)
	}
	return cmd
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote quotes s for a POSIX shell. Safe words are returned unchanged;
// everything else is wrapped in single quotes with embedded quotes escaped.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func itoa(v int) string { return strconv.Itoa(v) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
