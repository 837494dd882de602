// internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Planner turns the transcript and the latest observation into the next
// batch of actions.
type Planner interface {
	Plan(ctx context.Context, req schemas.PlanRequest) (*schemas.Plan, error)
}

// Frontend is the human side of the loop. Request methods block until the
// human answers or ctx ends; AppendTranscript never blocks on the human.
type Frontend interface {
	RequestInitialInstructions(ctx context.Context) (string, error)
	RequestUserInput(ctx context.Context) (string, error)
	RequestAcknowledgment(ctx context.Context, prompt string) error
	AppendTranscript(entry schemas.TranscriptEntry)
}

// TurnRecorder archives finished turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, record schemas.TurnRecord) error
}
