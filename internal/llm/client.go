// Package llm wraps the completion service: an opaque text-in/text-out
// collaborator reached through langchaingo's Gemini client.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/config"
)

// ErrNoAPIKey is the one completion failure that is fatal to the
// request rather than degradable: the service is misconfigured.
var ErrNoAPIKey = errors.New("completion service api key not configured")

// Options tune a single completion call. Zero values fall back to the
// client's configured defaults.
type Options struct {
	MaxOutputTokens int
	Temperature     float64
}

// Client is the completion-service contract. The returned text SHOULD
// be JSON per the prompt's instructions but may be anything; callers
// run it through ParseAnswer.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Gemini calls the generative-language API through langchaingo.
type Gemini struct {
	cfg config.LLMConfig
}

func NewGemini(cfg config.LLMConfig) *Gemini {
	return &Gemini{cfg: cfg}
}

func (g *Gemini) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if g.cfg.APIKey == "" {
		return "", ErrNoAPIKey
	}
	maxTokens := g.cfg.MaxOutputTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	temperature := g.cfg.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	timeout := time.Duration(g.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model, err := googleai.New(ctx,
		googleai.WithAPIKey(g.cfg.APIKey),
		googleai.WithDefaultModel(g.cfg.Model),
	)
	if err != nil {
		return "", fmt.Errorf("initializing completion client: %w", err)
	}

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, model, prompt,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
		llms.WithCandidateCount(1),
	)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	log.Debug().Dur("duration", time.Since(start)).Int("prompt_chars", len(prompt)).Msg("completion returned")
	return out, nil
}

// Mock returns a canned structured answer; used in tests and when the
// config asks for mock mode.
type Mock struct{}

func (Mock) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	payload := map[string]any{
		"answer":  "This is a mocked response for testing.",
		"sources": []any{},
		"action":  "",
		"notes":   "",
	}
	data, _ := json.Marshal(payload)
	return string(data), nil
}
