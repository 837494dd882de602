package planner

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// actionDocs describes the parameters of every vocabulary entry.
var actionDocs = map[schemas.ActionType]string{
	schemas.ActionClick:       `{"type": "click", "x": int, "y": int, "button": "left"|"middle"|"right"}`,
	schemas.ActionDoubleClick: `{"type": "double_click", "x": int, "y": int}`,
	schemas.ActionScroll:      `{"type": "scroll", "x": int, "y": int, "scroll_x": int, "scroll_y": int} (wheel steps; positive scroll_y scrolls up)`,
	schemas.ActionTypeText:    `{"type": "type", "text": string}`,
	schemas.ActionWait:        `{"type": "wait", "ms": int} (defaults to 1000)`,
	schemas.ActionMove:        `{"type": "move", "x": int, "y": int}`,
	schemas.ActionKeypress:    `{"type": "keypress", "keys": [string]} (pressed together, e.g. ["CTRL", "L"])`,
	schemas.ActionDrag:        `{"type": "drag", "path": [{"x": int, "y": int}, ...]}`,
}

const replyShape = `{
  "reasoning": "short summary of what you see and why you act",
  "message": "optional text for the user",
  "actions": [ ...zero or more actions, executed in order... ],
  "needs_user_input": false,
  "requires_confirmation": false,
  "safety_checks": [{"id": "...", "code": "...", "message": "..."}]
}`

// SystemPrompt renders the standing instructions for a screen of the given
// size and action vocabulary.
func SystemPrompt(width, height int, vocabulary []schemas.ActionType) string {
	var b strings.Builder
	b.WriteString("You operate a computer on behalf of the user by looking at screenshots and emitting input actions.\n")
	fmt.Fprintf(&b, "The screen is %dx%d pixels; coordinates are pixels from the top-left corner.\n\n", width, height)
	b.WriteString("Available actions:\n")
	for _, a := range vocabulary {
		doc, ok := actionDocs[a]
		if !ok {
			doc = fmt.Sprintf(`{"type": %q}`, a)
		}
		fmt.Fprintf(&b, "- %s\n", doc)
	}
	b.WriteString("\nReply with a single JSON object of this shape and nothing else:\n")
	b.WriteString(replyShape)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Return an empty actions list and needs_user_input=false when the task is complete.\n")
	b.WriteString("- Set needs_user_input=true when you need an answer or more instructions from the user.\n")
	b.WriteString("- Set requires_confirmation=true, or add a safety check, before purchases, deletions, sending messages or anything irreversible.\n")
	b.WriteString("- Use only the actions listed above.\n")
	return b.String()
}

// observationText is the text accompanying the screenshot of a turn.
func observationText(req schemas.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d. Current screen (%dx%d) attached.", req.Turn, req.Width, req.Height)
	if len(req.AcknowledgedSafetyChecks) > 0 {
		b.WriteString("\nThe user acknowledged these safety checks; you may proceed:")
		for _, c := range req.AcknowledgedSafetyChecks {
			fmt.Fprintf(&b, "\n- %s", describeCheck(c))
		}
	}
	return b.String()
}

func describeCheck(c schemas.SafetyCheck) string {
	switch {
	case c.Code != "" && c.ID != "":
		return fmt.Sprintf("[%s %s] %s", c.ID, c.Code, c.Message)
	case c.Code != "":
		return fmt.Sprintf("[%s] %s", c.Code, c.Message)
	default:
		return c.Message
	}
}
