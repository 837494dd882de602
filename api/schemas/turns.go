package schemas

import "time"

// TurnOutcome summarizes how a turn ended.
type TurnOutcome string

const (
	OutcomeExecuted     TurnOutcome = "executed"
	OutcomeFailed       TurnOutcome = "failed"
	OutcomeCompleted    TurnOutcome = "completed"
	OutcomeAwaitingUser TurnOutcome = "awaiting_user"
)

// TurnRecord is the archived form of one turn.
type TurnRecord struct {
	TaskID      string      `json:"task_id"`
	Turn        int         `json:"turn"`
	Reasoning   string      `json:"reasoning,omitempty"`
	Messages    []string    `json:"messages,omitempty"`
	Actions     []Action    `json:"actions"`
	Executed    int         `json:"executed"`
	Outcome     TurnOutcome `json:"outcome"`
	ErrorCode   string      `json:"error_code,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}
