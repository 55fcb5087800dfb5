// Package analyzer runs the AI review of extracted code with timeout and
// fallback-model handling.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kamilpajak/diffscope/internal/llm"
)

// DefaultTimeout bounds each provider call.
const DefaultTimeout = 60 * time.Second

// Input is everything needed to review one piece of content.
type Input struct {
	Content       string
	Documents     []string
	Requirements  string
	APIKey        string
	Model         string
	FallbackModel string
	Language      string
	IsFileContent bool
}

// Outcome is the result of an AI review. Text is meaningful when Failed is
// false, ErrorMessage when it is true.
type Outcome struct {
	Text         string
	Failed       bool
	ErrorMessage string
	ModelUsed    string
}

// Analyzer performs AI-powered review of diffs and files.
type Analyzer struct {
	client  llm.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates a new Analyzer
func New(client llm.Client, opts ...Option) *Analyzer {
	a := &Analyzer{client: client, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze calls the primary model and, if that fails for any reason other than
// authentication, retries once with a distinct fallback model.
func (a *Analyzer) Analyze(ctx context.Context, in Input) Outcome {
	system := SystemPrompt(EcosystemFor(in.Language))
	prompt := BuildPrompt(in)

	text, err := a.call(ctx, in.APIKey, in.Model, system, prompt)
	if err == nil {
		return Outcome{Text: text, ModelUsed: in.Model}
	}

	kind := llm.Classify(err)
	a.logger.Warn("primary model failed", "provider", a.client.Provider(), "model", in.Model, "kind", kind, "error", err)

	if kind == llm.KindAuth || in.FallbackModel == "" || in.FallbackModel == in.Model || ctx.Err() != nil {
		return Outcome{Failed: true, ErrorMessage: describe(err, in.Model, a.timeout), ModelUsed: in.Model}
	}

	a.logger.Info("retrying with fallback model", "model", in.FallbackModel)
	text, fbErr := a.call(ctx, in.APIKey, in.FallbackModel, system, prompt)
	if fbErr == nil {
		return Outcome{Text: text, ModelUsed: in.FallbackModel}
	}

	a.logger.Warn("fallback model failed", "model", in.FallbackModel, "kind", llm.Classify(fbErr), "error", fbErr)
	return Outcome{
		Failed: true,
		ErrorMessage: fmt.Sprintf("%s; fallback also failed: %s",
			describe(err, in.Model, a.timeout), describe(fbErr, in.FallbackModel, a.timeout)),
		ModelUsed: in.FallbackModel,
	}
}

func (a *Analyzer) call(ctx context.Context, apiKey, model, system, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Complete(callCtx, llm.Request{
		APIKey: apiKey,
		Model:  model,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && llm.Classify(err) != llm.KindAuth {
			return "", &llm.Error{Kind: llm.KindTimeout, Provider: a.client.Provider(), Err: err}
		}
		return "", err
	}
	return resp.Content, nil
}

func describe(err error, model string, timeout time.Duration) string {
	switch llm.Classify(err) {
	case llm.KindTimeout:
		return fmt.Sprintf("AI request to %s timed out after %s", model, timeout)
	case llm.KindAuth:
		return fmt.Sprintf("AI provider rejected the API key for %s: %v", model, err)
	case llm.KindMalformed:
		return fmt.Sprintf("AI provider returned an unexpected response for %s: %v", model, err)
	default:
		return fmt.Sprintf("AI request to %s failed: %v", model, err)
	}
}
