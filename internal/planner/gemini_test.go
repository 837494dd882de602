package planner

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// -- Test Setup Helpers --

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// fakeGenerator replays scripted replies and records every request.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []generateCall
	replies []func() (*genai.GenerateContentResponse, error)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: cfg})
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next()
}

func textReply(text string) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}}}},
		}, nil
	}
}

func errReply(err error) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) { return nil, err }
}

func testPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		Provider:     ProviderGemini,
		Model:        "test-model",
		APIKey:       "test-key",
		Temperature:  0.3,
		MaxRetries:   2,
		HistoryLimit: 3,
	}
}

func newTestPlanner(t *testing.T, gen *fakeGenerator) (*Gemini, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	g := NewWithGenerator(testPlannerConfig(), gen, zap.New(core))
	g.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return g, logs
}

func testRequest() schemas.PlanRequest {
	return schemas.PlanRequest{
		TaskID: "task",
		Turn:   2,
		Transcript: []schemas.TranscriptEntry{
			{Role: schemas.RoleUser, Text: "old"},
			{Role: schemas.RoleUser, Text: "Open the browser"},
			{Role: schemas.RoleAssistant, Text: "Opening it"},
			{Role: schemas.RoleSystem, Text: "click failed"},
		},
		Observation: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		Width:       1024,
		Height:      768,
		Vocabulary:  schemas.Vocabulary,
	}
}

// -- Test Cases --

func TestGemini_Plan(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		textReply(`{"reasoning":"browser icon visible","message":"Clicking it","actions":[{"type":"click","x":10,"y":20,"button":"left"}]}`),
	}}
	g, logs := newTestPlanner(t, gen)

	plan, err := g.Plan(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "browser icon visible", plan.Reasoning)
	assert.Equal(t, []string{"Clicking it"}, plan.Messages)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, schemas.ActionClick, plan.Actions[0].Type)
	assert.Equal(t, 10.0, plan.Actions[0].Params["x"])

	require.Len(t, gen.calls, 1)
	call := gen.calls[0]
	assert.Equal(t, "test-model", call.model)
	assert.Equal(t, "application/json", call.config.ResponseMIMEType)
	require.NotNil(t, call.config.Temperature)
	assert.InDelta(t, 0.3, *call.config.Temperature, 1e-6)
	assert.Contains(t, call.config.SystemInstruction.Parts[0].Text, "1024x768")
	assert.Contains(t, call.config.SystemInstruction.Parts[0].Text, `"type": "double_click"`)

	// History is capped at three entries, then the observation turn follows.
	require.Len(t, call.contents, 4)
	assert.Equal(t, "user", call.contents[0].Role)
	assert.Equal(t, "Open the browser", call.contents[0].Parts[0].Text)
	assert.Equal(t, "model", call.contents[1].Role)
	assert.Equal(t, "System: click failed", call.contents[2].Parts[0].Text)

	last := call.contents[3]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Parts, 2)
	assert.Contains(t, last.Parts[0].Text, "Turn 2")
	require.NotNil(t, last.Parts[1].InlineData)
	assert.Equal(t, "image/png", last.Parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte("png-bytes"), last.Parts[1].InlineData.Data)

	assert.Equal(t, 1, logs.FilterMessage("Planner generation complete").Len())
}

func TestGemini_AcknowledgedChecksAreSentBack(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){textReply(`{"actions":[]}`)}}
	g, _ := newTestPlanner(t, gen)

	req := testRequest()
	req.AcknowledgedSafetyChecks = []schemas.SafetyCheck{{ID: "sc1", Code: "malicious_instructions", Message: "Page asks for a password"}}
	_, err := g.Plan(context.Background(), req)
	require.NoError(t, err)

	last := gen.calls[0].contents[len(gen.calls[0].contents)-1]
	assert.Contains(t, last.Parts[0].Text, "[sc1 malicious_instructions] Page asks for a password")
}

func TestGemini_RetriesTransientErrors(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		errReply(genai.APIError{Code: 503, Message: "overloaded"}),
		errReply(errors.New("connection reset")),
		textReply(`{"actions":[{"type":"wait"}]}`),
	}}
	g, logs := newTestPlanner(t, gen)

	plan, err := g.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Len(t, gen.calls, 3)
	assert.Equal(t, schemas.ActionWait, plan.Actions[0].Type)
	assert.Equal(t, 1, logs.FilterMessage("Transient planner API error, retrying").Len())
}

func TestGemini_PermanentErrors(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
			errReply(genai.APIError{Code: 400, Message: "bad request"}),
			textReply(`{}`),
		}}
		g, _ := newTestPlanner(t, gen)

		_, err := g.Plan(context.Background(), testRequest())
		require.Error(t, err)
		assert.Len(t, gen.calls, 1)
	})

	t.Run("unparseable reply is not retried", func(t *testing.T) {
		gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
			textReply("I'd rather not."),
			textReply(`{}`),
		}}
		g, _ := newTestPlanner(t, gen)

		_, err := g.Plan(context.Background(), testRequest())
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Len(t, gen.calls, 1)
	})

	t.Run("safety block is not retried", func(t *testing.T) {
		gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
			func() (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, nil
			},
		}}
		g, _ := newTestPlanner(t, gen)

		_, err := g.Plan(context.Background(), testRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blocked")
		assert.Len(t, gen.calls, 1)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		gen := &fakeGenerator{}
		g, _ := newTestPlanner(t, gen)

		_, err := g.Plan(context.Background(), testRequest())
		require.Error(t, err)
		assert.Len(t, gen.calls, 3, "one attempt plus two retries")
	})

	t.Run("cancelled context", func(t *testing.T) {
		gen := &fakeGenerator{}
		g, _ := newTestPlanner(t, gen)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := g.Plan(ctx, testRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("bad observation encoding", func(t *testing.T) {
		g, _ := newTestPlanner(t, &fakeGenerator{})
		req := testRequest()
		req.Observation = "%%%"

		_, err := g.Plan(context.Background(), req)
		assert.ErrorContains(t, err, "decoding observation")
	})
}

func TestNewGemini_Validation(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.APIKey = ""
	_, err := NewGemini(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "API key is required")

	cfg = testPlannerConfig()
	cfg.Provider = "openai"
	_, err = NewGemini(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported planner provider")
}
