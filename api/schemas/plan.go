package schemas

import "time"

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"

	// RoleAction marks agent activity (reasoning summaries and executed
	// actions) that frontends print without a label.
	RoleAction Role = "action"
)

// Label is the prefix a frontend shows in front of entries of this role.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Agent"
	case RoleAction:
		return ""
	default:
		return "System"
	}
}

// TranscriptEntry is one line of the running conversation between the human,
// the agent and the orchestrator itself.
type TranscriptEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// SafetyCheck is a planner-raised concern that needs human acknowledgment
// before any action of the same plan may run.
type SafetyCheck struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Plan is one planning-service reply: the ordered actions for this turn plus
// commentary and the human-in-the-loop signals.
type Plan struct {
	Actions        []Action `json:"actions"`
	Messages       []string `json:"messages,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	NeedsUserInput bool     `json:"needs_user_input,omitempty"`

	// RequiresConsent is true when the planner flagged the batch as a whole
	// for human confirmation.
	RequiresConsent bool          `json:"requires_consent,omitempty"`
	SafetyChecks    []SafetyCheck `json:"safety_checks,omitempty"`
}

// Finished reports whether the planner considers the task done: nothing left
// to execute and no further input requested.
func (p *Plan) Finished() bool {
	return len(p.Actions) == 0 && !p.NeedsUserInput
}

// NeedsConsent reports whether the plan must pass the consent gate when
// auto-approval is disabled.
func (p *Plan) NeedsConsent() bool {
	if p.RequiresConsent || len(p.SafetyChecks) > 0 {
		return true
	}
	for _, a := range p.Actions {
		if a.RequiresConfirmation {
			return true
		}
	}
	return false
}

// PlanRequest is everything handed to the planning service for one turn.
type PlanRequest struct {
	TaskID     string            `json:"task_id"`
	Turn       int               `json:"turn"`
	Transcript []TranscriptEntry `json:"transcript"`
	// Observation is the latest snapshot as a base64 encoded PNG in logical resolution.
	Observation string       `json:"observation"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Vocabulary  []ActionType `json:"vocabulary"`
	// AcknowledgedSafetyChecks carries the checks the human accepted during the
	// previous turn so the planner can proceed past them.
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`
}
