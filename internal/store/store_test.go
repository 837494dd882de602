package store

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyTime is a matcher that accepts any value (used for timestamps we can't predict exactly)
var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

// jsonContaining matches an encoded JSON argument holding every fragment.
func jsonContaining(fragments ...string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		b, ok := v.([]byte)
		if !ok {
			return false
		}
		for _, f := range fragments {
			if !bytes.Contains(b, []byte(f)) {
				return false
			}
		}
		return true
	}
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newTestStore(t)
	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))

	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).
		WillReturnError(errors.New("permission denied"))
	err := s.EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordTurn(t *testing.T) {
	taskID := uuid.NewString()
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	t.Run("inserts the turn", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		rec := schemas.TurnRecord{
			TaskID:      taskID,
			Turn:        2,
			Reasoning:   "Search box is focused",
			Messages:    []string{"Typing the query."},
			Actions:     []schemas.Action{{Type: schemas.ActionTypeText, Params: map[string]interface{}{"text": "weather"}}},
			Executed:    1,
			Outcome:     schemas.OutcomeExecuted,
			StartedAt:   started,
			CompletedAt: started.Add(2 * time.Second),
		}

		mockPool.ExpectExec(flexibleSQLMatcher(insertTurnSQL)).
			WithArgs(
				taskID, 2, "Search box is focused",
				jsonContaining(`"Typing the query."`),
				jsonContaining(`"type":"type"`, `"text":"weather"`),
				1, "executed", "", "",
				started.UTC(), anyTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.RecordTurn(context.Background(), rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("empty lists are stored as arrays", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(insertTurnSQL)).
			WithArgs(
				taskID, 1, "",
				[]byte("[]"), []byte("[]"),
				0, "failed", "PLANNER_FAILURE", "planner failed: quota",
				anyTime, anyTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.RecordTurn(context.Background(), schemas.TurnRecord{
			TaskID: taskID, Turn: 1, Outcome: schemas.OutcomeFailed,
			ErrorCode: "PLANNER_FAILURE", Error: "planner failed: quota",
			StartedAt: started, CompletedAt: started,
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("propagates database errors", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(insertTurnSQL)).WillReturnError(dbErr)

		err := s.RecordTurn(context.Background(), schemas.TurnRecord{TaskID: taskID, Turn: 3})
		assert.ErrorIs(t, err, dbErr)
		assert.ErrorContains(t, err, "turn 3 of task "+taskID)
	})
}

func TestTurnsByTask(t *testing.T) {
	s, mockPool := newTestStore(t)
	taskID := uuid.NewString()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"turn", "reasoning", "messages", "actions", "executed", "outcome", "error_code", "error", "started_at", "completed_at"}).
		AddRow(1, "Desktop visible", []byte(`["Opening the browser."]`), []byte(`[{"type":"click","params":{"x":10,"y":20}}]`), 1, "executed", "", "", t0, t0.Add(time.Second)).
		AddRow(2, "", []byte(`[]`), []byte(`[]`), 0, "completed", "", "", t0.Add(2*time.Second), t0.Add(3*time.Second))
	mockPool.ExpectQuery(flexibleSQLMatcher(selectTurnsSQL)).WithArgs(taskID).WillReturnRows(rows)

	turns, err := s.TurnsByTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, taskID, turns[0].TaskID)
	assert.Equal(t, []string{"Opening the browser."}, turns[0].Messages)
	require.Len(t, turns[0].Actions, 1)
	assert.Equal(t, schemas.ActionClick, turns[0].Actions[0].Type)
	assert.Equal(t, 10.0, turns[0].Actions[0].Params["x"])
	assert.Equal(t, schemas.OutcomeCompleted, turns[1].Outcome)
	assert.Empty(t, turns[1].Actions)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestTurnsByTask_QueryError(t *testing.T) {
	s, mockPool := newTestStore(t)
	mockPool.ExpectQuery(flexibleSQLMatcher(selectTurnsSQL)).WithArgs("missing").WillReturnError(errors.New("boom"))

	_, err := s.TurnsByTask(context.Background(), "missing")
	assert.ErrorContains(t, err, "failed to query turns")
}
