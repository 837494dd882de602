// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// -- Surface Mock --

// MockSurface mocks surface.Surface.
type MockSurface struct {
	mock.Mock
}

var _ surface.Surface = (*MockSurface)(nil)

func (m *MockSurface) Snapshot(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSurface) Resolution(ctx context.Context) (surface.Resolution, error) {
	args := m.Called(ctx)
	return args.Get(0).(surface.Resolution), args.Error(1)
}

func (m *MockSurface) Click(ctx context.Context, x, y int, button surface.Button) error {
	return m.Called(ctx, x, y, button).Error(0)
}

func (m *MockSurface) DoubleClick(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockSurface) Move(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockSurface) Scroll(ctx context.Context, x, y, dx, dy int) error {
	return m.Called(ctx, x, y, dx, dy).Error(0)
}

func (m *MockSurface) Type(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockSurface) Wait(ctx context.Context, ms int) error {
	return m.Called(ctx, ms).Error(0)
}

func (m *MockSurface) Keypress(ctx context.Context, keys []string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *MockSurface) Drag(ctx context.Context, path []surface.Point) error {
	return m.Called(ctx, path).Error(0)
}

// MethodSequence returns the names of the recorded calls in order, skipping
// the ones listed in ignore.
func (m *MockSurface) MethodSequence(ignore ...string) []string {
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}
	var seq []string
	for _, call := range m.Calls {
		if !skip[call.Method] {
			seq = append(seq, call.Method)
		}
	}
	return seq
}

// -- Planner Mock --

// MockPlanner mocks the orchestrator's planning service boundary.
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, req schemas.PlanRequest) (*schemas.Plan, error) {
	args := m.Called(ctx, req)
	var plan *schemas.Plan
	if p := args.Get(0); p != nil {
		plan = p.(*schemas.Plan)
	}
	return plan, args.Error(1)
}

// -- Frontend Mock --

// MockFrontend mocks the interaction frontend. Transcript entries are
// collected in Entries rather than going through mock expectations.
type MockFrontend struct {
	mock.Mock

	mu      sync.Mutex
	Entries []schemas.TranscriptEntry
}

func (m *MockFrontend) RequestInitialInstructions(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockFrontend) RequestUserInput(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockFrontend) RequestAcknowledgment(ctx context.Context, prompt string) error {
	return m.Called(ctx, prompt).Error(0)
}

func (m *MockFrontend) AppendTranscript(entry schemas.TranscriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
}

// Texts returns the transcript texts for the given role in order.
func (m *MockFrontend) Texts(role schemas.Role) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.Entries {
		if e.Role == role {
			out = append(out, e.Text)
		}
	}
	return out
}

// -- Turn Recorder Mock --

// MockTurnRecorder mocks the turn archive.
type MockTurnRecorder struct {
	mock.Mock
}

func (m *MockTurnRecorder) RecordTurn(ctx context.Context, record schemas.TurnRecord) error {
	return m.Called(ctx, record).Error(0)
}
