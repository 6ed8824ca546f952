package server

import (
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/llm"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/memory"
)

// ErrorResponse carries a short machine-readable error code.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ContextResponse is the body for GET /api/context/:session_id.
type ContextResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []memory.Message `json:"messages"`
}

// UploadResponse is the body for POST /api/upload.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

// SummarizeRequest is the body for POST /api/summarize. Either Text or
// DocumentID must be present.
type SummarizeRequest struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
}

// SummarizeResponse is the body for POST /api/summarize.
type SummarizeResponse struct {
	KeyPoints []string `json:"key_points"`
	SummaryID string   `json:"summary_id"`
	HTML      string   `json:"html"`
}

// ChatRequest is the body for POST /api/chat. UseMemory defaults to
// true when absent.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	Mode      string `json:"mode"`
	Persona   string `json:"persona"`
	UseMemory *bool  `json:"use_memory"`
}

// ChatResponse is the body for POST /api/chat. Diagram is present only
// when a diagram was rendered.
type ChatResponse struct {
	SessionID    string       `json:"session_id"`
	Answer       string       `json:"answer"`
	Sources      []llm.Source `json:"sources"`
	UsedKBChunks []string     `json:"used_kb_chunks"`
	Confidence   string       `json:"confidence"`
	Diagram      string       `json:"diagram,omitempty"`
}
