package kb

import (
	"fmt"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Piece is one chunk of normalized document text with its [Start, End)
// rune offsets into that text.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Normalize collapses every whitespace run to a single space and trims.
// Empty input normalizes to a single space, never the empty string, so
// the chunk stepping below always has at least one character to walk.
func Normalize(text string) string {
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if text == "" {
		return " "
	}
	return text
}

// ChunkText normalizes text and slices it into overlapping chunks of at
// most size characters, advancing by size-overlap each step. Geometry
// counts runes, not bytes: a boundary never splits a multibyte
// character. Overlap is intentional: a fact near a boundary appears
// whole in one of the two neighbouring chunks.
func ChunkText(text string, size, overlap int) ([]Piece, error) {
	step := size - overlap
	if size <= 0 || overlap < 0 || step < 1 {
		return nil, fmt.Errorf("invalid chunk geometry: size=%d overlap=%d", size, overlap)
	}
	runes := []rune(Normalize(text))

	var pieces []Piece
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, Piece{Text: string(runes[start:end]), Start: start, End: end})
	}
	return pieces, nil
}
