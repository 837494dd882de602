// internal/agent/orchestrator.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// Prompts shown when the loop needs the human to approve a plan.
const (
	ConsentPrompt      = "Press Enter to run computer tool..."
	safetyPromptFormat = "Safety checks: %s\nPress Enter to acknowledge and continue..."
	pausePrompt        = "The agent is paused. Enter guidance to continue."
)

// TaskState is the coarse position of the orchestrator in the task lifecycle.
type TaskState int

const (
	StateAwaitingInstructions TaskState = iota
	StateRunning
	StateAwaitingUserInput
	StateAwaitingConsent
	StateCompleted
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StateAwaitingInstructions:
		return "awaiting_instructions"
	case StateRunning:
		return "running"
	case StateAwaitingUserInput:
		return "awaiting_user_input"
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// TurnState is the per-task conversation state. Pending fields live for
// exactly one turn.
type TurnState struct {
	Transcript          []schemas.TranscriptEntry
	PendingActions      []schemas.Action
	AwaitingInput       bool
	PendingSafetyChecks []schemas.SafetyCheck
	Reasoning           string
}

// Orchestrator drives the observe, plan, approve, act cycle for one task.
// It is single threaded: every collaborator call blocks the loop.
type Orchestrator struct {
	cfg      config.AgentConfig
	surface  surface.Surface
	planner  Planner
	frontend Frontend
	recorder TurnRecorder
	executor *Executor
	logger   *zap.Logger

	taskID       string
	state        TaskState
	turn         TurnState
	userQueued   bool
	acknowledged []schemas.SafetyCheck

	now func() time.Time
}

// New wires an orchestrator. s must already present logical coordinates
// (normally a *surface.Scaler). recorder may be nil.
func New(cfg config.AgentConfig, s surface.Surface, planner Planner, frontend Frontend, recorder TurnRecorder, logger *zap.Logger) *Orchestrator {
	logger = logger.Named("orchestrator")
	return &Orchestrator{
		cfg:      cfg,
		surface:  s,
		planner:  planner,
		frontend: frontend,
		recorder: recorder,
		executor: NewExecutor(s, logger),
		logger:   logger,
		state:    StateAwaitingInstructions,
		now:      time.Now,
	}
}

// State returns the current task state.
func (o *Orchestrator) State() TaskState { return o.state }

// TaskID returns the id assigned by Run.
func (o *Orchestrator) TaskID() string { return o.taskID }

// Transcript returns a copy of the conversation so far.
func (o *Orchestrator) Transcript() []schemas.TranscriptEntry {
	return append([]schemas.TranscriptEntry(nil), o.turn.Transcript...)
}

// Run executes the task until the planner declares it finished, the failure
// policy halts it, or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.taskID = uuid.NewString()
	o.logger = o.logger.With(zap.String("task_id", o.taskID))
	o.setState(StateAwaitingInstructions)

	instructions := strings.TrimSpace(o.cfg.Instructions)
	if instructions == "" {
		text, err := o.frontend.RequestInitialInstructions(ctx)
		if err != nil {
			err = fmt.Errorf("requesting instructions: %w", err)
			o.notify(schemas.RoleSystem, fmt.Sprintf("Could not read instructions: %v", err))
			return o.fail(err)
		}
		instructions = strings.TrimSpace(text)
	}
	if instructions == "" {
		o.notify(schemas.RoleSystem, "No instructions provided; task not started.")
		return o.fail(ErrNoInstructions)
	}
	o.logger.Info("Task started", zap.String("instructions", instructions))
	o.queueUser(instructions)
	// The id is what the turn archive is queried by.
	o.notify(schemas.RoleSystem, fmt.Sprintf("Task %s started.", o.taskID))

	for turn := 1; ; turn++ {
		if o.cfg.MaxTurns > 0 && turn > o.cfg.MaxTurns {
			o.appendEntry(schemas.RoleSystem, fmt.Sprintf("Stopped after %d turns without finishing.", o.cfg.MaxTurns))
			return o.fail(ErrTurnLimitReached)
		}

		if o.turn.AwaitingInput && !o.userQueued {
			o.setState(StateAwaitingUserInput)
			text, err := o.frontend.RequestUserInput(ctx)
			if err != nil {
				return o.fail(fmt.Errorf("requesting user input: %w", err))
			}
			o.queueUser(text)
		}

		o.setState(StateRunning)
		plan, err := o.runTurn(ctx, turn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				o.appendEntry(schemas.RoleSystem, fmt.Sprintf("Task cancelled during turn %d.", turn))
				return o.fail(ctxErr)
			}
			if herr := o.handleFailure(ctx, turn, err); herr != nil {
				return herr
			}
		} else if plan.Finished() {
			o.setState(StateCompleted)
			o.logger.Info("Task completed", zap.Int("turns", turn))
			return nil
		}

		if err := o.pause(ctx); err != nil {
			return o.fail(err)
		}
	}
}

// runTurn performs one observe, plan, approve, act cycle.
func (o *Orchestrator) runTurn(ctx context.Context, turn int) (*schemas.Plan, error) {
	logger := o.logger.With(zap.Int("turn", turn))
	record := schemas.TurnRecord{TaskID: o.taskID, Turn: turn, StartedAt: o.now()}
	defer func() { o.record(ctx, record) }()

	fail := func(err error) (*schemas.Plan, error) {
		record.Outcome = schemas.OutcomeFailed
		record.ErrorCode = string(ClassifyError(err))
		record.Error = err.Error()
		record.CompletedAt = o.now()
		o.clearPending()
		return nil, err
	}

	res, err := o.surface.Resolution(ctx)
	if err != nil {
		return fail(err)
	}
	observation, err := o.surface.Snapshot(ctx)
	if err != nil {
		return fail(err)
	}

	req := schemas.PlanRequest{
		TaskID:                   o.taskID,
		Turn:                     turn,
		Transcript:               o.Transcript(),
		Observation:              observation,
		Width:                    res.Width,
		Height:                   res.Height,
		Vocabulary:               schemas.Vocabulary,
		AcknowledgedSafetyChecks: o.acknowledged,
	}
	plan, err := o.planner.Plan(ctx, req)
	if err != nil {
		return fail(&PlannerError{Err: err})
	}
	o.userQueued = false
	o.acknowledged = nil

	o.turn.PendingActions = plan.Actions
	o.turn.PendingSafetyChecks = plan.SafetyChecks
	o.turn.Reasoning = plan.Reasoning
	o.turn.AwaitingInput = plan.NeedsUserInput
	record.Reasoning = plan.Reasoning
	record.Messages = plan.Messages
	record.Actions = plan.Actions
	logger.Info("Plan received",
		zap.Int("actions", len(plan.Actions)),
		zap.Bool("needs_user_input", plan.NeedsUserInput),
		zap.Int("safety_checks", len(plan.SafetyChecks)))

	if plan.Reasoning != "" {
		o.appendEntry(schemas.RoleAction, "Reasoning: "+plan.Reasoning)
	}
	if len(plan.Messages) > 0 {
		o.appendEntry(schemas.RoleAssistant, strings.Join(plan.Messages, "\n"))
	}

	if err := o.gate(ctx, plan); err != nil {
		return fail(err)
	}

	for i, action := range o.turn.PendingActions {
		if err := o.executor.Execute(ctx, action); err != nil {
			logger.Warn("Action failed",
				zap.Int("index", i),
				zap.String("action", string(action.Type)),
				zap.String("error_code", string(ClassifyError(err))),
				zap.Error(err))
			record.Executed = i
			return fail(fmt.Errorf("action %d (%s): %w", i+1, action.Type, err))
		}
		o.appendEntry(schemas.RoleAction, "  "+action.String())
	}
	record.Executed = len(o.turn.PendingActions)
	o.clearPending()

	switch {
	case plan.Finished():
		record.Outcome = schemas.OutcomeCompleted
	case plan.NeedsUserInput:
		record.Outcome = schemas.OutcomeAwaitingUser
	default:
		record.Outcome = schemas.OutcomeExecuted
	}
	record.CompletedAt = o.now()
	return plan, nil
}

// gate blocks until the human approves the plan. Nothing has been executed
// yet when it runs. Autoplay approves without asking.
func (o *Orchestrator) gate(ctx context.Context, plan *schemas.Plan) error {
	if !plan.NeedsConsent() {
		return nil
	}
	if o.cfg.Autoplay {
		o.acknowledged = plan.SafetyChecks
		return nil
	}

	o.setState(StateAwaitingConsent)
	if consentRequested(plan) {
		if err := o.frontend.RequestAcknowledgment(ctx, ConsentPrompt); err != nil {
			return fmt.Errorf("awaiting consent: %w", err)
		}
	}
	if len(plan.SafetyChecks) > 0 {
		if err := o.frontend.RequestAcknowledgment(ctx, SafetyPrompt(plan.SafetyChecks)); err != nil {
			return fmt.Errorf("awaiting safety acknowledgment: %w", err)
		}
		o.acknowledged = plan.SafetyChecks
	}
	o.setState(StateRunning)
	return nil
}

func consentRequested(plan *schemas.Plan) bool {
	if plan.RequiresConsent {
		return true
	}
	for _, a := range plan.Actions {
		if a.RequiresConfirmation {
			return true
		}
	}
	return false
}

// SafetyPrompt renders the acknowledgment prompt for a set of safety checks.
func SafetyPrompt(checks []schemas.SafetyCheck) string {
	parts := make([]string, 0, len(checks))
	for _, c := range checks {
		if c.Code != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", c.Message, c.Code))
		} else {
			parts = append(parts, c.Message)
		}
	}
	return fmt.Sprintf(safetyPromptFormat, strings.Join(parts, "; "))
}

// handleFailure reports err to the human and applies the failure policy. A
// nil return means the loop continues with the next turn.
func (o *Orchestrator) handleFailure(ctx context.Context, turn int, err error) error {
	o.appendEntry(schemas.RoleSystem, fmt.Sprintf("Turn %d failed: %v", turn, err))
	o.logger.Error("Turn failed",
		zap.Int("turn", turn),
		zap.String("error_code", string(ClassifyError(err))),
		zap.Error(err))

	if o.cfg.OnFailure != config.OnFailurePause {
		return o.fail(err)
	}

	o.setState(StateAwaitingUserInput)
	o.appendEntry(schemas.RoleSystem, pausePrompt)
	text, rerr := o.frontend.RequestUserInput(ctx)
	if rerr != nil {
		return o.fail(errors.Join(err, fmt.Errorf("requesting guidance: %w", rerr)))
	}
	o.queueUser(text)
	return nil
}

// pause waits agent.turn_delay between turns.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.cfg.TurnDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.cfg.TurnDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) queueUser(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.appendEntry(schemas.RoleUser, text)
	o.userQueued = true
}

// notify shows an entry to the human without adding it to the planner's
// transcript.
func (o *Orchestrator) notify(role schemas.Role, text string) {
	o.frontend.AppendTranscript(schemas.TranscriptEntry{Role: role, Text: text, Time: o.now()})
}

func (o *Orchestrator) appendEntry(role schemas.Role, text string) {
	entry := schemas.TranscriptEntry{Role: role, Text: text, Time: o.now()}
	o.turn.Transcript = append(o.turn.Transcript, entry)
	o.frontend.AppendTranscript(entry)
}

func (o *Orchestrator) clearPending() {
	o.turn.PendingActions = nil
	o.turn.PendingSafetyChecks = nil
	o.turn.Reasoning = ""
}

func (o *Orchestrator) record(ctx context.Context, record schemas.TurnRecord) {
	if o.recorder == nil {
		return
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = o.now()
	}
	// The archive write must not be lost to the cancellation that ended the turn.
	if err := o.recorder.RecordTurn(context.WithoutCancel(ctx), record); err != nil {
		o.logger.Warn("Failed to record turn", zap.Int("turn", record.Turn), zap.Error(err))
	}
}

func (o *Orchestrator) fail(err error) error {
	o.setState(StateFailed)
	o.logger.Error("Task failed", zap.Error(err))
	return err
}

func (o *Orchestrator) setState(s TaskState) {
	if o.state != s {
		o.logger.Debug("State transition", zap.Stringer("from", o.state), zap.Stringer("to", s))
		o.state = s
	}
}
