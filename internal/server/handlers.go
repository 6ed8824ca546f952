package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/db"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/llm"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/memory"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/prompt"
)

const actionGenerateDiagram = "generate_diagram"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *Server) handleContext(c echo.Context) error {
	sessionID := c.Param("session_id")
	msgs, err := s.deps.Memory.Recent(c.Request().Context(), sessionID, s.cfg.Memory.MaxTurns)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("loading context failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "context_failed"})
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	return c.JSON(http.StatusOK, ContextResponse{SessionID: sessionID, Messages: msgs})
}

func (s *Server) handleUpload(c echo.Context) error {
	if !s.deps.Limiter.Allow(clientKey(c)) {
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited"})
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file_missing"})
	}
	filename := secureFilename(fileHeader.Filename)
	if filename == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty_filename"})
	}

	savePath := filepath.Join(s.cfg.Uploads.DocumentsDir, newID()+"_"+filename)
	if err := saveUpload(fileHeader, savePath); err != nil {
		s.logger.Error().Err(err).Str("filename", filename).Msg("saving upload failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "upload_failed"})
	}

	docID, err := s.deps.KB.IngestDocument(c.Request().Context(), savePath)
	if err != nil {
		s.logger.Error().Err(err).Str("path", savePath).Msg("ingestion failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "ingest_failed"})
	}
	return c.JSON(http.StatusOK, UploadResponse{DocumentID: docID, Filename: filename})
}

func (s *Server) handleSummarize(c echo.Context) error {
	if !s.deps.Limiter.Allow(clientKey(c)) {
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited"})
	}
	var req SummarizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no_input"})
	}
	text := req.Text
	if text == "" && req.DocumentID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no_input"})
	}
	if text == "" {
		var err error
		text, err = s.deps.KB.DocumentText(c.Request().Context(), req.DocumentID)
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no_input"})
		}
		if err != nil {
			s.logger.Error().Err(err).Str("document_id", req.DocumentID).Msg("loading document failed")
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "summarize_failed"})
		}
	}

	result, err := s.deps.Summarizer.Summarize(c.Request().Context(), text)
	if err != nil {
		s.logger.Error().Err(err).Msg("summarize failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "summarize_failed"})
	}
	points := result.KeyPoints
	if len(points) > 3 {
		points = points[:3]
	}
	return c.JSON(http.StatusOK, SummarizeResponse{
		KeyPoints: points,
		SummaryID: result.SummaryID,
		HTML:      result.HTML,
	})
}

func (s *Server) handleChat(c echo.Context) error {
	if !s.deps.Limiter.Allow(clientKey(c)) {
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited"})
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty_question"})
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty_question"})
	}
	ctx := c.Request().Context()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newID()
	}
	mode := req.Mode
	if mode == "" {
		mode = "short"
	}
	persona := req.Persona
	if persona == "" || persona == "auto" {
		persona = llm.InferPersona(question)
	}
	useMemory := req.UseMemory == nil || *req.UseMemory

	var recent []memory.Message
	if useMemory {
		limit := s.cfg.Memory.MaxTurns
		if s.cfg.FastMode {
			limit = 3
		}
		var err error
		recent, err = s.deps.Memory.Recent(ctx, sessionID, limit)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("memory fetch degraded to empty")
			recent = nil
		}
	}

	topK := s.cfg.KB.TopK
	if s.cfg.FastMode {
		topK = 2
	}
	chunks := s.deps.KB.Retrieve(ctx, question, topK)

	promptChunks := make([]prompt.Chunk, len(chunks))
	usedChunks := make([]string, len(chunks))
	for i, ch := range chunks {
		promptChunks[i] = prompt.Chunk{ID: ch.ID, Text: ch.Text}
		usedChunks[i] = ch.ID
	}
	promptMessages := make([]prompt.Message, len(recent))
	for i, m := range recent {
		promptMessages[i] = prompt.Message{Role: m.Role, Text: m.Text}
	}

	charBudget := s.cfg.Prompt.MaxChars
	if s.cfg.FastMode && charBudget > 20000 {
		charBudget = 20000
	}
	built := prompt.Build(prompt.Input{
		Question:         question,
		Mode:             mode,
		Persona:          persona,
		Chunks:           promptChunks,
		Messages:         promptMessages,
		ChunkCharCap:     s.cfg.Prompt.ChunkCharCap,
		MemoryCharBudget: s.cfg.Memory.MaxChars,
		CharBudget:       charBudget,
	})

	var opts llm.Options
	if s.cfg.FastMode {
		opts = llm.Options{MaxOutputTokens: 500, Temperature: 0.1}
	}
	raw, err := s.deps.Completion.Complete(ctx, built, opts)
	if err != nil {
		if errors.Is(err, llm.ErrNoAPIKey) {
			return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "completion_unavailable"})
		}
		// Upstream trouble is retryable by the client; the request
		// itself still succeeds with a best-effort answer.
		s.logger.Warn().Err(err).Msg("completion degraded to fallback answer")
		raw = `{"answer": "(error contacting the completion service)", "sources": []}`
	}
	answer := llm.ParseAnswer(raw)

	sources := answer.Sources
	if !s.cfg.FastMode && s.deps.Verifier != nil {
		for _, src := range s.deps.Verifier.Verify(ctx, question) {
			sources = append(sources, llm.Source{Title: src.Title, URL: src.URL, Snippet: src.Snippet})
		}
	}

	if err := s.deps.Memory.AddMessage(ctx, sessionID, memory.RoleUser, question); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("recording user turn failed")
	}
	if err := s.deps.Memory.AddMessage(ctx, sessionID, memory.RoleAssistant, answer.Text); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("recording assistant turn failed")
	}

	resp := ChatResponse{
		SessionID:    sessionID,
		Answer:       answer.Text,
		Sources:      sources,
		UsedKBChunks: usedChunks,
		Confidence:   "medium",
	}
	if answer.Action == actionGenerateDiagram && answer.Notes != "" {
		diagramID, err := s.deps.Visualizer.GenerateFromSpec(answer.Notes)
		if err != nil {
			s.logger.Warn().Err(err).Msg("diagram generation failed; omitting diagram")
		} else {
			resp.Diagram = "/api/diagram/" + diagramID
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDiagram(c echo.Context) error {
	path, err := s.deps.Visualizer.FilePath(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "diagram_not_found"})
	}
	if _, err := os.Stat(path); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "diagram_not_found"})
	}
	return c.File(path)
}

func saveUpload(fileHeader *multipart.FileHeader, dst string) error {
	src, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

// secureFilename strips path components and anything outside a safe
// character set, so a hostile filename cannot escape the upload dir.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return ""
	}
	return name
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
