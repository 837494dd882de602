package planner

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/llmutil"
)

// reply is the JSON object the model is instructed to produce.
type reply struct {
	Reasoning            string                   `json:"reasoning"`
	Message              string                   `json:"message"`
	Messages             []string                 `json:"messages"`
	Actions              []map[string]interface{} `json:"actions"`
	NeedsUserInput       bool                     `json:"needs_user_input"`
	RequiresConfirmation bool                     `json:"requires_confirmation"`
	SafetyChecks         []schemas.SafetyCheck    `json:"safety_checks"`
}

// ParseError reports a model reply that could not be turned into a plan.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable planner reply: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParsePlan converts a model reply into a plan. Action names are kept
// verbatim; rejecting names outside the vocabulary is the executor's job.
func ParsePlan(text string) (*schemas.Plan, error) {
	r, err := llmutil.ParseJSONObject[reply](text)
	if err != nil {
		return nil, &ParseError{Raw: llmutil.Truncate(text, 2000), Err: err}
	}

	plan := &schemas.Plan{
		Reasoning:       strings.TrimSpace(r.Reasoning),
		NeedsUserInput:  r.NeedsUserInput,
		RequiresConsent: r.RequiresConfirmation,
		SafetyChecks:    r.SafetyChecks,
	}
	if m := strings.TrimSpace(r.Message); m != "" {
		plan.Messages = append(plan.Messages, m)
	}
	for _, m := range r.Messages {
		if m = strings.TrimSpace(m); m != "" {
			plan.Messages = append(plan.Messages, m)
		}
	}

	for i, raw := range r.Actions {
		action, err := toAction(raw)
		if err != nil {
			return nil, &ParseError{Raw: llmutil.Truncate(text, 2000), Err: fmt.Errorf("action %d: %w", i, err)}
		}
		plan.Actions = append(plan.Actions, action)
	}
	return plan, nil
}

// toAction lifts "type" and "requires_confirmation" out of the object; the
// remaining keys are the parameters. A nested "params" object is flattened.
func toAction(raw map[string]interface{}) (schemas.Action, error) {
	name, ok := raw["type"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return schemas.Action{}, fmt.Errorf("missing action type")
	}

	action := schemas.Action{
		Type:   schemas.ActionType(strings.TrimSpace(name)),
		Params: make(map[string]interface{}, len(raw)),
	}
	for k, v := range raw {
		switch k {
		case "type":
		case "requires_confirmation":
			action.RequiresConfirmation, _ = v.(bool)
		case "params":
			if nested, ok := v.(map[string]interface{}); ok {
				for nk, nv := range nested {
					action.Params[nk] = nv
				}
				continue
			}
			action.Params[k] = v
		default:
			action.Params[k] = v
		}
	}
	return action, nil
}
