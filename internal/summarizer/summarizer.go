// Package summarizer condenses article text into exactly three key
// points via the completion service, with a rendered HTML card.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/llm"
)

const (
	maxKeyPoints   = 3
	longTextChars  = 4000
	partChunkChars = 3000
)

const promptTemplate = "Summarize the following article as exactly 3 concise bullet points (no intro/outro).\n" +
	"Return JSON: { \"key_points\": [\"point 1\", \"point 2\", \"point 3\"] }\n" +
	"Article:\n%s"

// Result is a finished summary.
type Result struct {
	KeyPoints []string
	HTML      string
	SummaryID string
}

type Summarizer struct {
	client llm.Client
}

func New(client llm.Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize produces three key points for the text. Long articles are
// summarized in parts and the partial points combined. Malformed
// completion output is coerced into points rather than failed.
func (s *Summarizer) Summarize(ctx context.Context, text string) (Result, error) {
	if len(text) < longTextChars {
		points, err := s.summarizePart(ctx, text)
		if err != nil {
			return Result{}, err
		}
		return s.finish(points), nil
	}

	var combined []string
	for start := 0; start < len(text); start += partChunkChars {
		end := start + partChunkChars
		if end > len(text) {
			end = len(text)
		}
		points, err := s.summarizePart(ctx, text[start:end])
		if err != nil {
			return Result{}, err
		}
		combined = append(combined, points...)
		if len(combined) >= maxKeyPoints {
			break
		}
	}
	if len(combined) > maxKeyPoints {
		combined = combined[:maxKeyPoints]
	}
	return s.finish(combined), nil
}

func (s *Summarizer) finish(points []string) Result {
	return Result{
		KeyPoints: points,
		HTML:      renderCard(points),
		SummaryID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

func (s *Summarizer) summarizePart(ctx context.Context, text string) ([]string, error) {
	raw, err := s.client.Complete(ctx, fmt.Sprintf(promptTemplate, text), llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("summarize completion: %w", err)
	}
	return coercePoints(llm.StripCodeFence(raw), text), nil
}

// coercePoints extracts up to three points from the completion payload,
// falling back through newline and sentence splitting, and finally
// padding from the article's leading words so the contract of exactly
// three points holds even for degenerate output.
func coercePoints(payload, text string) []string {
	var parsed struct {
		KeyPoints []string `json:"key_points"`
		Summary   string   `json:"summary"`
	}
	var points []string
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		log.Debug().Err(err).Msg("summary payload not json; splitting raw text")
		parsed.Summary = payload
	}
	for _, p := range parsed.KeyPoints {
		if strings.TrimSpace(p) != "" {
			points = append(points, p)
		}
		if len(points) == maxKeyPoints {
			break
		}
	}
	if len(points) == 0 {
		source := parsed.Summary
		if source == "" {
			source = text
		}
		points = splitPoints(source)
	}
	if len(points) > maxKeyPoints {
		points = points[:maxKeyPoints]
	}
	if len(points) < maxKeyPoints {
		words := strings.Fields(text)
		if len(words) > 60 {
			words = words[:60]
		}
		pad := strings.Join(words, " ")
		for len(points) < maxKeyPoints {
			points = append(points, pad)
		}
	}
	return points
}

func splitPoints(text string) []string {
	var parts []string
	for _, p := range strings.Split(text, "\n") {
		p = strings.Trim(p, " -•\t")
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) >= maxKeyPoints {
		return parts
	}
	parts = parts[:0]
	for _, p := range strings.Split(text, ".") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// renderCard renders the points as a markdown bullet list and wraps the
// resulting <ul> in the summary card markup the frontend expects.
func renderCard(points []string) string {
	var md strings.Builder
	for _, p := range points {
		md.WriteString("- " + p + "\n")
	}
	var buf bytes.Buffer
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := gm.Convert([]byte(md.String()), &buf); err != nil {
		log.Warn().Err(err).Msg("summary markdown render failed")
	}
	return `<div class="summary-card"><h4>Summary</h4>` + strings.TrimSpace(buf.String()) + `</div>`
}
