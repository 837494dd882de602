// Package planner implements the planning service client: it turns the
// transcript and the latest screenshot into the next batch of actions.
package planner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// ProviderGemini is the only supported planner provider.
const ProviderGemini = "gemini"

// Generator is the subset of the genai models service the planner uses.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini plans turns with a Gemini model.
type Gemini struct {
	cfg     config.PlannerConfig
	gen     Generator
	limiter *rate.Limiter
	logger  *zap.Logger

	// backoffFactory builds the retry schedule of one Plan call.
	backoffFactory func() backoff.BackOff
}

// NewGemini creates a client against the Gemini API.
func NewGemini(ctx context.Context, cfg config.PlannerConfig, logger *zap.Logger) (*Gemini, error) {
	if cfg.Provider != "" && cfg.Provider != ProviderGemini {
		return nil, fmt.Errorf("unsupported planner provider %q, supported: [%s]", cfg.Provider, ProviderGemini)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required (planner.api_key or GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return NewWithGenerator(cfg, client.Models, logger), nil
}

// NewWithGenerator wires an existing generator, typically a fake in tests.
func NewWithGenerator(cfg config.PlannerConfig, gen Generator, logger *zap.Logger) *Gemini {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	g := &Gemini{
		cfg:     cfg,
		gen:     gen,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("planner.gemini"),
	}
	g.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = cfg.MaxElapsed
		b.MaxInterval = 30 * time.Second
		if cfg.MaxRetries > 0 {
			return backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
		}
		return b
	}
	return g
}

// Plan asks the model for the next batch of actions.
func (g *Gemini) Plan(ctx context.Context, req schemas.PlanRequest) (*schemas.Plan, error) {
	contents, err := g.buildContents(req)
	if err != nil {
		return nil, err
	}
	temperature := g.cfg.Temperature
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemPrompt(req.Width, req.Height, req.Vocabulary)}}},
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
	}

	var plan *schemas.Plan
	attempt := 0
	operation := func() error {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx := ctx
		if g.cfg.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.APITimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := g.gen.GenerateContent(callCtx, g.cfg.Model, contents, genCfg)
		duration := time.Since(start)
		if err != nil {
			return g.classify(ctx, attempt, err)
		}

		text, err := responseText(resp)
		if err != nil {
			return err
		}
		g.logUsage(resp, duration)

		p, err := ParsePlan(text)
		if err != nil {
			g.logger.Warn("Planner reply could not be parsed", zap.Error(err))
			return backoff.Permanent(err)
		}
		plan = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(g.backoffFactory(), ctx)); err != nil {
		return nil, fmt.Errorf("planning turn %d: %w", req.Turn, err)
	}
	g.logger.Debug("Planned turn",
		zap.Int("turn", req.Turn),
		zap.Int("actions", len(plan.Actions)),
		zap.Bool("needs_user_input", plan.NeedsUserInput),
	)
	return plan, nil
}

// buildContents maps the recent transcript onto model turns and appends the
// observation as the final user turn.
func (g *Gemini) buildContents(req schemas.PlanRequest) ([]*genai.Content, error) {
	history := req.Transcript
	if limit := g.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, e := range history {
		role, text := "user", e.Text
		switch e.Role {
		case schemas.RoleAssistant, schemas.RoleAction:
			role = "model"
		case schemas.RoleSystem:
			text = "System: " + text
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}})
	}

	parts := []*genai.Part{{Text: observationText(req)}}
	if req.Observation != "" {
		img, err := base64.StdEncoding.DecodeString(req.Observation)
		if err != nil {
			return nil, fmt.Errorf("decoding observation: %w", err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: img}})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: parts})
	return contents, nil
}

// classify decides whether a generation error is worth another attempt.
func (g *Gemini) classify(ctx context.Context, attempt int, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			g.logger.Warn("Transient planner API error, retrying", zap.Int("attempt", attempt), zap.Int("status", apiErr.Code), zap.Error(err))
			return err
		default:
			g.logger.Error("Planner API rejected the request", zap.Int("status", apiErr.Code), zap.Error(err))
			return backoff.Permanent(err)
		}
	}
	g.logger.Warn("Planner request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	return err
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", backoff.Permanent(errors.New("planner returned no candidates"))
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
			return "", backoff.Permanent(fmt.Errorf("planner blocked the request (reason: %s)", candidate.FinishReason))
		}
		return "", fmt.Errorf("planner returned empty content (reason: %s)", candidate.FinishReason)
	}
	var b strings.Builder
	for _, p := range candidate.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

func (g *Gemini) logUsage(resp *genai.GenerateContentResponse, duration time.Duration) {
	fields := []zap.Field{zap.Duration("duration", duration)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount),
		)
	}
	g.logger.Info("Planner generation complete", fields...)
}
