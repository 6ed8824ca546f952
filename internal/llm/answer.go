package llm

import (
	"encoding/json"
	"strings"
)

// Source is one cited reference in a structured answer.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Answer is the tagged result of parsing a completion response: either
// a structured answer or a raw-text fallback. Both variants carry the
// same fields so consumers never branch on the parse outcome; FromRaw
// only records which variant this is.
type Answer struct {
	Text    string
	Sources []Source
	Action  string
	Notes   string
	FromRaw bool
}

// ParseAnswer decodes the completion response. A surrounding code fence
// is stripped first; if the remainder is not the expected JSON shape,
// the entire raw text becomes the answer with empty sources.
func ParseAnswer(raw string) Answer {
	clean := StripCodeFence(raw)

	var parsed struct {
		Answer  string          `json:"answer"`
		Sources []Source        `json:"sources"`
		Action  string          `json:"action"`
		Notes   json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return Answer{Text: raw, Sources: []Source{}, FromRaw: true}
	}

	// notes is usually a string but models occasionally emit objects;
	// only a string is usable as a diagram spec.
	var notes string
	if len(parsed.Notes) > 0 {
		_ = json.Unmarshal(parsed.Notes, &notes)
	}
	sources := parsed.Sources
	if sources == nil {
		sources = []Source{}
	}
	return Answer{
		Text:    parsed.Answer,
		Sources: sources,
		Action:  parsed.Action,
		Notes:   notes,
	}
}

// StripCodeFence removes a ``` fence wrapping the payload, including a
// language tag on the opening line.
func StripCodeFence(text string) string {
	clean := strings.TrimSpace(text)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	clean = strings.Trim(clean, "`\n ")
	if i := strings.Index(clean, "\n"); i >= 0 {
		first := clean[:i]
		// Opening line is a language tag, not content.
		if !strings.ContainsAny(first, "{[\"") {
			clean = clean[i+1:]
		}
	}
	return strings.TrimSpace(clean)
}
