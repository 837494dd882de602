package schemas

import (
	"fmt"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
)

// ActionType names one primitive in the surface action vocabulary.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionDoubleClick ActionType = "double_click"
	ActionScroll      ActionType = "scroll"
	ActionTypeText    ActionType = "type"
	ActionWait        ActionType = "wait"
	ActionMove        ActionType = "move"
	ActionKeypress    ActionType = "keypress"
	ActionDrag        ActionType = "drag"
)

// Vocabulary is the complete, closed set of action names a planner may emit.
var Vocabulary = []ActionType{
	ActionClick,
	ActionDoubleClick,
	ActionScroll,
	ActionTypeText,
	ActionWait,
	ActionMove,
	ActionKeypress,
	ActionDrag,
}

// IsKnown reports whether the action name belongs to the vocabulary.
func (t ActionType) IsKnown() bool {
	for _, known := range Vocabulary {
		if t == known {
			return true
		}
	}
	return false
}

// Action is one planned primitive operation plus its parameters, exactly as the
// planning service produced it. Parameter values keep their decoded JSON types
// (float64, string, bool, []interface{}, map[string]interface{}).
type Action struct {
	Type   ActionType             `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
	// RequiresConfirmation is set by the planner for actions it considers
	// sensitive (purchases, deletions, sending messages).
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}

// String renders the action the way it is echoed into the transcript:
// the name followed by its parameters in a stable key order.
func (a Action) String() string {
	if len(a.Params) == 0 {
		return string(a.Type)
	}
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := a.Params[k]
		var rendered string
		switch tv := v.(type) {
		case string:
			rendered = fmt.Sprintf("%q", tv)
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				rendered = fmt.Sprintf("%v", tv)
			} else {
				rendered = string(b)
			}
		}
		parts = append(parts, k+": "+rendered)
	}
	return fmt.Sprintf("%s {%s}", a.Type, strings.Join(parts, ", "))
}
