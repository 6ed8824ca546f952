// Package prompt assembles the completion-service prompt from the
// question, retrieved context, and conversational memory. Build is a
// pure function: identical inputs produce byte-identical output.
package prompt

import (
	"fmt"
	"strings"
)

const truncationMarker = "…"

const systemPreamble = "You are AskPro, an accurate, concise, and safe knowledge assistant. Always follow these rules:\n" +
	"1) Respect the requested output mode (short, detailed, el5, deep_dive).\n" +
	"2) If provided with `context:` (KB chunks or memory), prioritize and cite them. If you must use external knowledge, indicate \"SOURCE: <title> - <url>\".\n" +
	"3) Where possible, include a small \"SOURCES\" section with URLs. If sources are not available, return honest uncertainty (\"I couldn't find a reliable source for this.\").\n" +
	"4) Output MUST be valid JSON with keys: \"answer\", \"sources\" (list of {title,url,snippet}), \"action\" (optional), \"notes\" (optional).\n"

// Chunk is a retrieved context chunk as the assembler consumes it.
type Chunk struct {
	ID   string
	Text string
}

// Message is a conversational turn as the assembler consumes it,
// expected oldest first.
type Message struct {
	Role string
	Text string
}

// Input carries everything Build needs. ChunkCharCap bounds each
// context chunk and MemoryCharBudget bounds the memory block's text,
// both independently of CharBudget, which caps the whole assembled
// prompt.
type Input struct {
	Question         string
	Mode             string
	Persona          string
	Chunks           []Chunk
	Messages         []Message
	ChunkCharCap     int
	MemoryCharBudget int
	CharBudget       int
}

// Build assembles the prompt. Per-chunk truncation happens first and is
// never re-broken by the global budget, which is applied strictly last.
// Truncation is best-effort at the character count and may cut mid-word.
func Build(in Input) string {
	var b strings.Builder

	if in.Persona != "" && in.Persona != "auto" {
		fmt.Fprintf(&b, "Persona: %s\n", in.Persona)
	}
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "USER QUESTION:\n%s\n\n", in.Question)
	fmt.Fprintf(&b, "MODE: %s\n", in.Mode)
	fmt.Fprintf(&b, "PERSONA: %s\n\n", in.Persona)

	b.WriteString("CONTEXT (if any):\n")
	for i, c := range in.Chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(capRunes(c.Text, in.ChunkCharCap))
	}
	b.WriteString("\n\n")

	msgs := in.Messages
	if in.MemoryCharBudget > 0 {
		msgs = trimMessages(msgs, in.MemoryCharBudget)
	}
	b.WriteString("MEMORY (last N messages):\n")
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %q", m.Role, m.Text)
	}
	b.WriteString("\n\n")

	b.WriteString("INSTRUCTIONS:\n" +
		"1) Answer the USER QUESTION using CONTEXT and MEMORY primarily.\n" +
		"2) Keep the answer length appropriate for MODE.\n" +
		"3) If you reference facts from the CONTEXT, mark them inline with [source:CHUNK_ID] and also include full sources in the \"sources\" array.\n" +
		"4) If the question requires a diagram, set \"action\":\"generate_diagram\" and provide a short diagram spec in \"notes\".\n\n" +
		"Return machine-readable JSON only.")

	out := b.String()
	if in.CharBudget > 0 {
		out = hardTruncate(out, in.CharBudget)
	}
	return out
}

// trimMessages drops the oldest turns until the remaining texts fit the
// budget. The newest turn always survives, capped when it alone
// exceeds the budget.
func trimMessages(msgs []Message, budget int) []Message {
	if len(msgs) == 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n := len([]rune(msgs[i].Text))
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	if start == len(msgs) {
		last := msgs[len(msgs)-1]
		last.Text = capRunes(last.Text, budget)
		return []Message{last}
	}
	return msgs[start:]
}

// capRunes bounds a chunk to n characters plus a visible marker.
func capRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + truncationMarker
}

func hardTruncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
