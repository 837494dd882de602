// internal/agent/executor_test.go
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/mocks"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

func TestExecutor_Dispatch(t *testing.T) {
	tests := []struct {
		name   string
		action schemas.Action
		expect func(s *mocks.MockSurface)
	}{
		{
			name:   "click with unknown button falls back to left",
			action: act(schemas.ActionClick, map[string]interface{}{"x": 1.4, "y": 2.6, "button": "wheel"}),
			expect: func(s *mocks.MockSurface) { s.On("Click", mock.Anything, 1, 3, surface.ButtonLeft).Return(nil) },
		},
		{
			name:   "right click",
			action: act(schemas.ActionClick, map[string]interface{}{"x": 5, "y": "6", "button": "right"}),
			expect: func(s *mocks.MockSurface) { s.On("Click", mock.Anything, 5, 6, surface.ButtonRight).Return(nil) },
		},
		{
			name:   "double click",
			action: act(schemas.ActionDoubleClick, map[string]interface{}{"x": json.Number("7"), "y": int64(8)}),
			expect: func(s *mocks.MockSurface) { s.On("DoubleClick", mock.Anything, 7, 8).Return(nil) },
		},
		{
			name:   "scroll defaults missing deltas to zero",
			action: act(schemas.ActionScroll, map[string]interface{}{"x": 100.0, "y": 200.0, "scroll_y": -3.0}),
			expect: func(s *mocks.MockSurface) { s.On("Scroll", mock.Anything, 100, 200, 0, -3).Return(nil) },
		},
		{
			name:   "move",
			action: act(schemas.ActionMove, map[string]interface{}{"x": 0.0, "y": 0.0}),
			expect: func(s *mocks.MockSurface) { s.On("Move", mock.Anything, 0, 0).Return(nil) },
		},
		{
			name:   "wait",
			action: act(schemas.ActionWait, map[string]interface{}{"ms": 250.0}),
			expect: func(s *mocks.MockSurface) { s.On("Wait", mock.Anything, 250).Return(nil) },
		},
		{
			name:   "wait without ms uses the default",
			action: act(schemas.ActionWait, nil),
			expect: func(s *mocks.MockSurface) { s.On("Wait", mock.Anything, surface.DefaultWaitMillis).Return(nil) },
		},
		{
			name:   "explicit zero wait is passed through",
			action: act(schemas.ActionWait, map[string]interface{}{"ms": 0.0}),
			expect: func(s *mocks.MockSurface) { s.On("Wait", mock.Anything, 0).Return(nil) },
		},
		{
			name:   "keypress chord string",
			action: act(schemas.ActionKeypress, map[string]interface{}{"keys": "CTRL + L"}),
			expect: func(s *mocks.MockSurface) { s.On("Keypress", mock.Anything, []string{"CTRL", "L"}).Return(nil) },
		},
		{
			name:   "drag accepts pairs and objects",
			action: act(schemas.ActionDrag, map[string]interface{}{"path": []interface{}{[]interface{}{1.0, 2.0}, map[string]interface{}{"x": 3.0, "y": 4.0}}}),
			expect: func(s *mocks.MockSurface) {
				s.On("Drag", mock.Anything, []surface.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}).Return(nil)
			},
		},
		{
			name:   "drag without path is an empty drag",
			action: act(schemas.ActionDrag, nil),
			expect: func(s *mocks.MockSurface) { s.On("Drag", mock.Anything, []surface.Point(nil)).Return(nil) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(mocks.MockSurface)
			tt.expect(s)
			require.NoError(t, NewExecutor(s, zap.NewNop()).Execute(context.Background(), tt.action))
			s.AssertExpectations(t)
		})
	}
}

func TestExecutor_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		action schemas.Action
		param  string
	}{
		{"missing x", act(schemas.ActionClick, map[string]interface{}{"y": 1.0}), "x"},
		{"non numeric y", act(schemas.ActionMove, map[string]interface{}{"x": 1.0, "y": "top"}), "y"},
		{"bool coordinate", act(schemas.ActionDoubleClick, map[string]interface{}{"x": true, "y": 1.0}), "x"},
		{"missing text", act(schemas.ActionTypeText, nil), "text"},
		{"non string text", act(schemas.ActionTypeText, map[string]interface{}{"text": 5.0}), "text"},
		{"missing keys", act(schemas.ActionKeypress, nil), "keys"},
		{"non string key", act(schemas.ActionKeypress, map[string]interface{}{"keys": []interface{}{"a", 1.0}}), "keys"},
		{"path not a list", act(schemas.ActionDrag, map[string]interface{}{"path": "left"}), "path"},
		{"short path point", act(schemas.ActionDrag, map[string]interface{}{"path": []interface{}{[]interface{}{1.0}}}), "path"},
		{"bad wait", act(schemas.ActionWait, map[string]interface{}{"ms": "soon"}), "ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(mocks.MockSurface)
			err := NewExecutor(s, zap.NewNop()).Execute(context.Background(), tt.action)

			var invalid *InvalidParameterError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.param, invalid.Param)
			assert.Equal(t, ErrCodeInvalidParameters, ClassifyError(err))
			assert.Empty(t, s.Calls, "surface must not be touched")
		})
	}
}

func TestExecutor_UnknownAction(t *testing.T) {
	s := new(mocks.MockSurface)
	err := NewExecutor(s, zap.NewNop()).Execute(context.Background(), act("Click", nil))

	var unsupported *UnsupportedActionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "Click", unsupported.Name)
	assert.Equal(t, `unsupported action "Click"`, err.Error())
}

func TestExecutor_SurfaceErrorsPropagate(t *testing.T) {
	s := new(mocks.MockSurface)
	connErr := &surface.ConnectionError{Target: "vm", Err: errors.New("refused")}
	s.On("Type", mock.Anything, "hi").Return(connErr)

	err := NewExecutor(s, zap.NewNop()).Execute(context.Background(), act(schemas.ActionTypeText, map[string]interface{}{"text": "hi"}))
	assert.ErrorIs(t, err, connErr)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{context.Canceled, ErrCodeCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrCodeTimeoutError},
		{&UnsupportedActionError{Name: "x"}, ErrCodeUnknownAction},
		{&InvalidParameterError{Param: "x"}, ErrCodeInvalidParameters},
		{&surface.ConnectionError{Err: errors.New("x")}, ErrCodeConnectionFailure},
		{&surface.CaptureError{Err: errors.New("x")}, ErrCodeCaptureFailure},
		{&surface.InjectionError{Err: errors.New("x")}, ErrCodeInjectionFailure},
		{&PlannerError{Err: errors.New("x")}, ErrCodePlannerFailure},
		{errors.New("other"), ErrCodeExecutionFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}
}
