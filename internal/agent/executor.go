// internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// ActionHandler runs one action against the surface.
type ActionHandler func(ctx context.Context, action schemas.Action) error

// Executor dispatches planned actions onto a surface. Only the vocabulary is
// registered; anything else is an UnsupportedActionError.
type Executor struct {
	surface  surface.Surface
	handlers map[schemas.ActionType]ActionHandler
	logger   *zap.Logger
}

// NewExecutor creates an executor bound to s.
func NewExecutor(s surface.Surface, logger *zap.Logger) *Executor {
	e := &Executor{
		surface:  s,
		handlers: make(map[schemas.ActionType]ActionHandler),
		logger:   logger.Named("executor"),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionClick] = e.handleClick
	e.handlers[schemas.ActionDoubleClick] = e.handleDoubleClick
	e.handlers[schemas.ActionScroll] = e.handleScroll
	e.handlers[schemas.ActionTypeText] = e.handleType
	e.handlers[schemas.ActionWait] = e.handleWait
	e.handlers[schemas.ActionMove] = e.handleMove
	e.handlers[schemas.ActionKeypress] = e.handleKeypress
	e.handlers[schemas.ActionDrag] = e.handleDrag
}

// Execute runs a single action.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) error {
	handler, ok := e.handlers[action.Type]
	if !ok {
		return &UnsupportedActionError{Name: string(action.Type)}
	}
	e.logger.Debug("Executing action", zap.String("action", action.String()))
	return handler(ctx, action)
}

// -- Action Handlers --

func (e *Executor) handleClick(ctx context.Context, action schemas.Action) error {
	x, y, err := point(action)
	if err != nil {
		return err
	}
	button, _ := action.Params["button"].(string)
	return e.surface.Click(ctx, x, y, surface.ParseButton(button))
}

func (e *Executor) handleDoubleClick(ctx context.Context, action schemas.Action) error {
	x, y, err := point(action)
	if err != nil {
		return err
	}
	return e.surface.DoubleClick(ctx, x, y)
}

func (e *Executor) handleMove(ctx context.Context, action schemas.Action) error {
	x, y, err := point(action)
	if err != nil {
		return err
	}
	return e.surface.Move(ctx, x, y)
}

func (e *Executor) handleScroll(ctx context.Context, action schemas.Action) error {
	x, y, err := point(action)
	if err != nil {
		return err
	}
	dx, err := optionalInt(action, "scroll_x", 0)
	if err != nil {
		return err
	}
	dy, err := optionalInt(action, "scroll_y", 0)
	if err != nil {
		return err
	}
	return e.surface.Scroll(ctx, x, y, dx, dy)
}

func (e *Executor) handleType(ctx context.Context, action schemas.Action) error {
	raw, ok := action.Params["text"]
	if !ok {
		return &InvalidParameterError{Action: string(action.Type), Param: "text", Reason: "missing"}
	}
	text, ok := raw.(string)
	if !ok {
		return &InvalidParameterError{Action: string(action.Type), Param: "text", Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return e.surface.Type(ctx, text)
}

func (e *Executor) handleWait(ctx context.Context, action schemas.Action) error {
	ms, err := optionalInt(action, "ms", surface.DefaultWaitMillis)
	if err != nil {
		return err
	}
	return e.surface.Wait(ctx, ms)
}

func (e *Executor) handleKeypress(ctx context.Context, action schemas.Action) error {
	keys, err := keysParam(action)
	if err != nil {
		return err
	}
	return e.surface.Keypress(ctx, keys)
}

func (e *Executor) handleDrag(ctx context.Context, action schemas.Action) error {
	path, err := pathParam(action)
	if err != nil {
		return err
	}
	return e.surface.Drag(ctx, path)
}

// -- Parameter Helpers --

func point(action schemas.Action) (int, int, error) {
	x, err := requiredInt(action, "x")
	if err != nil {
		return 0, 0, err
	}
	y, err := requiredInt(action, "y")
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func requiredInt(action schemas.Action, name string) (int, error) {
	raw, ok := action.Params[name]
	if !ok || raw == nil {
		return 0, &InvalidParameterError{Action: string(action.Type), Param: name, Reason: "missing"}
	}
	return toInt(action, name, raw)
}

func optionalInt(action schemas.Action, name string, def int) (int, error) {
	raw, ok := action.Params[name]
	if !ok || raw == nil {
		return def, nil
	}
	return toInt(action, name, raw)
}

// toInt handles the numeric shapes JSON decoding can produce. Fractional
// coordinates are rounded to the nearest pixel.
func toInt(action schemas.Action, name string, raw interface{}) (int, error) {
	switch v := raw.(type) {
	case float64:
		return int(math.Round(v)), nil
	case float32:
		return int(math.Round(float64(v))), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		if err != nil {
			return 0, &InvalidParameterError{Action: string(action.Type), Param: name, Reason: "not a number", Err: err}
		}
		return int(math.Round(f)), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &InvalidParameterError{Action: string(action.Type), Param: name, Reason: "not a number", Err: err}
		}
		return int(math.Round(f)), nil
	default:
		return 0, &InvalidParameterError{Action: string(action.Type), Param: name, Reason: fmt.Sprintf("expected number, got %T", raw)}
	}
}

// keysParam accepts a list of key names or a single "ctrl+c" style chord.
func keysParam(action schemas.Action) ([]string, error) {
	raw, ok := action.Params["keys"]
	if !ok {
		return nil, &InvalidParameterError{Action: string(action.Type), Param: "keys", Reason: "missing"}
	}
	switch v := raw.(type) {
	case string:
		return splitChord(v), nil
	case []string:
		return v, nil
	case []interface{}:
		keys := make([]string, 0, len(v))
		for i, k := range v {
			s, ok := k.(string)
			if !ok {
				return nil, &InvalidParameterError{Action: string(action.Type), Param: "keys", Reason: fmt.Sprintf("element %d is %T, not a string", i, k)}
			}
			keys = append(keys, s)
		}
		return keys, nil
	default:
		return nil, &InvalidParameterError{Action: string(action.Type), Param: "keys", Reason: fmt.Sprintf("expected list of strings, got %T", raw)}
	}
}

func splitChord(chord string) []string {
	var keys []string
	for _, k := range strings.Split(chord, "+") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// pathParam accepts [[x, y], ...] or [{"x": .., "y": ..}, ...].
func pathParam(action schemas.Action) ([]surface.Point, error) {
	raw, ok := action.Params["path"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &InvalidParameterError{Action: string(action.Type), Param: "path", Reason: fmt.Sprintf("expected list of points, got %T", raw)}
	}
	path := make([]surface.Point, 0, len(items))
	for i, item := range items {
		elem := schemas.Action{Type: action.Type}
		switch v := item.(type) {
		case map[string]interface{}:
			elem.Params = v
		case []interface{}:
			if len(v) != 2 {
				return nil, &InvalidParameterError{Action: string(action.Type), Param: "path", Reason: fmt.Sprintf("point %d has %d coordinates", i, len(v))}
			}
			elem.Params = map[string]interface{}{"x": v[0], "y": v[1]}
		default:
			return nil, &InvalidParameterError{Action: string(action.Type), Param: "path", Reason: fmt.Sprintf("point %d is %T", i, item)}
		}
		x, y, err := point(elem)
		if err != nil {
			return nil, fmt.Errorf("path point %d: %w", i, err)
		}
		path = append(path, surface.Point{X: x, Y: y})
	}
	return path, nil
}
