package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/config"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/db"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/kb"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/llm"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/memory"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/ratelimit"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/summarizer"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/verifier"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/visualizer"
)

// fakeStore backs both the knowledge base and the memory store without
// a database.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]*db.Document
	chunks   []db.Chunk
	sessions map[string]bool
	messages []db.Message
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     map[string]*db.Document{},
		sessions: map[string]bool{},
	}
}

func (f *fakeStore) CreateDocument(_ context.Context, doc *db.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) CreateChunks(_ context.Context, chunks []db.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeStore) DocumentText(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return "", db.ErrNotFound
	}
	return doc.Text, nil
}

func (f *fakeStore) AllChunks(_ context.Context) ([]db.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]db.Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out, nil
}

func (f *fakeStore) EnsureSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = true
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg *db.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]db.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []db.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].Timestamp.Equal(rows[b].Timestamp) {
			return rows[a].ID > rows[b].ID
		}
		return rows[a].Timestamp.After(rows[b].Timestamp)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// recordingClient captures the prompt of every call and replies with a
// scripted response or error.
type recordingClient struct {
	mu       sync.Mutex
	prompts  []string
	response string
	err      error
}

func (r *recordingClient) Complete(_ context.Context, prompt string, _ llm.Options) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return "", r.err
	}
	return r.response, nil
}

func (r *recordingClient) lastPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return ""
	}
	return r.prompts[len(r.prompts)-1]
}

type testEnv struct {
	server *Server
	store  *fakeStore
	client *recordingClient
	mem    *memory.Store
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		KB:      config.KBConfig{ChunkSize: 60, ChunkOverlap: 10, TopK: 2},
		Memory:  config.MemoryConfig{MaxTurns: 5, MaxChars: 2500},
		Prompt:  config.PromptConfig{MaxChars: 30000, ChunkCharCap: 700},
		Uploads: config.UploadsConfig{DocumentsDir: t.TempDir(), DiagramsDir: t.TempDir()},
	}

	store := newFakeStore()
	manager, err := kb.NewManager(store, cfg.KB.ChunkSize, cfg.KB.ChunkOverlap)
	require.NoError(t, err)
	viz, err := visualizer.New(cfg.Uploads.DiagramsDir)
	require.NoError(t, err)

	client := &recordingClient{response: `{"answer": "A scripted answer.", "sources": []}`}
	mem := memory.NewStore(store)
	deps := Deps{
		KB:         manager,
		Memory:     mem,
		Completion: client,
		Summarizer: summarizer.New(client),
		Visualizer: viz,
		Limiter:    ratelimit.New(0),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	return &testEnv{
		server: New(cfg, deps, zerolog.Nop()),
		store:  store,
		client: client,
		mem:    mem,
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) ChatResponse {
	t.Helper()
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestChatEmptyQuestion(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []map[string]any{
		{"question": ""},
		{"question": "   "},
		{},
	} {
		rec := postJSON(t, env.server.Handler(), "/api/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "empty_question")
	}
}

func TestChatReturnsParsedAnswer(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	assert.Equal(t, "A scripted answer.", resp.Answer)
	assert.NotEmpty(t, resp.SessionID, "a session id is assigned when absent")
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Diagram)
}

func TestChatMalformedCompletionStillAnswers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.response = "Cats are mammals, plainly not JSON."

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	assert.Equal(t, "Cats are mammals, plainly not JSON.", resp.Answer)
}

func TestChatCompletionFailureDegrades(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.err = errors.New("upstream timeout")

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	assert.NotEmpty(t, resp.Answer)
	assert.Contains(t, resp.Answer, "error contacting")
}

func TestChatMissingAPIKeyIsBadGateway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.err = llm.ErrNoAPIKey

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "completion_unavailable")
}

func TestChatMemoryAppearsOldestFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.mem.AddMessage(ctx, "sess-1", memory.RoleUser, "What are cats?"))
	require.NoError(t, env.mem.AddMessage(ctx, "sess-1", memory.RoleAssistant, "Cats are mammals."))

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{
		"session_id": "sess-1",
		"question":   "Do they sleep much?",
		"use_memory": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	built := env.client.lastPrompt()
	userLine := `- user: "What are cats?"`
	assistantLine := `- assistant: "Cats are mammals."`
	require.Contains(t, built, userLine)
	require.Contains(t, built, assistantLine)
	assert.Less(t, strings.Index(built, userLine), strings.Index(built, assistantLine),
		"prior turns appear oldest first in the memory block")
}

func TestChatMemoryCharBudgetTrimsOldest(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *Deps) {
		cfg.Memory.MaxChars = 40
	})
	ctx := context.Background()

	require.NoError(t, env.mem.AddMessage(ctx, "sess-1", memory.RoleUser, strings.Repeat("a very long early turn ", 5)))
	require.NoError(t, env.mem.AddMessage(ctx, "sess-1", memory.RoleAssistant, "Cats are mammals."))

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{
		"session_id": "sess-1",
		"question":   "Do they sleep much?",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	built := env.client.lastPrompt()
	assert.Contains(t, built, `- assistant: "Cats are mammals."`)
	assert.NotContains(t, built, "a very long early turn", "turns beyond the memory character budget are dropped oldest first")
}

func TestChatUseMemoryFalseSkipsHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.mem.AddMessage(ctx, "sess-1", memory.RoleUser, "What are cats?"))

	useMemory := false
	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{
		"session_id": "sess-1",
		"question":   "Do they sleep much?",
		"use_memory": useMemory,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, env.client.lastPrompt(), `- user: "What are cats?"`)
}

func TestChatRecordsBothTurns(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeChat(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/api/context/"+resp.SessionID, nil)
	ctxRec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(ctxRec, req)
	require.Equal(t, http.StatusOK, ctxRec.Code)

	var ctxResp ContextResponse
	require.NoError(t, json.Unmarshal(ctxRec.Body.Bytes(), &ctxResp))
	require.Len(t, ctxResp.Messages, 2)
	assert.Equal(t, memory.RoleUser, ctxResp.Messages[0].Role)
	assert.Equal(t, "What are cats?", ctxResp.Messages[0].Text)
	assert.Equal(t, memory.RoleAssistant, ctxResp.Messages[1].Role)
}

func TestChatDiagramAction(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.response = `{"answer": "Here is the flow.", "sources": [], "action": "generate_diagram", "notes": "nodes: A,B; edges: A->B"}`

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "Draw the flow"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	require.True(t, strings.HasPrefix(resp.Diagram, "/api/diagram/"), resp.Diagram)

	imgReq := httptest.NewRequest(http.MethodGet, resp.Diagram, nil)
	imgRec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(imgRec, imgReq)
	require.Equal(t, http.StatusOK, imgRec.Code)
	assert.Equal(t, "\x89PNG", imgRec.Body.String()[:4])
}

func TestChatDiagramFailureOmitsDiagram(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.response = `{"answer": "Here is the flow.", "sources": [], "action": "generate_diagram", "notes": "no graph in here"}`

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "Draw the flow"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	assert.Empty(t, resp.Diagram)
	assert.Equal(t, "Here is the flow.", resp.Answer)
}

func TestChatRateLimited(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Limiter = ratelimit.New(time.Minute)
	})

	first := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	assert.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "rate_limited")
}

func TestChatVerifierSourcesAppended(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Verifier = stubVerifier{}
	})

	rec := postJSON(t, env.server.Handler(), "/api/chat", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChat(t, rec)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Cat", resp.Sources[0].Title)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Cat", resp.Sources[0].URL)
}

func uploadFile(t *testing.T, h http.Handler, field, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set(echoContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadMissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := uploadFile(t, env.server.Handler(), "", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "file_missing")
}

func TestUploadHostileFilename(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := uploadFile(t, env.server.Handler(), "file", "...", "content")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty_filename")
}

func TestUploadThenChatRetrievesChunks(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	rec := uploadFile(t, h, "file", "cats.txt",
		"Cats are small domesticated carnivorous mammals. They like to sleep for most of the day.")
	require.Equal(t, http.StatusOK, rec.Code)

	var up UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.NotEmpty(t, up.DocumentID)
	assert.Equal(t, "cats.txt", up.Filename)

	chatRec := postJSON(t, h, "/api/chat", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, chatRec.Code)

	resp := decodeChat(t, chatRec)
	require.NotEmpty(t, resp.UsedKBChunks)
	assert.True(t, strings.HasPrefix(resp.UsedKBChunks[0], up.DocumentID+"_c"), resp.UsedKBChunks[0])
	assert.Contains(t, env.client.lastPrompt(), "Cats are small domesticated")
}

func TestSummarizeNoInput(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/summarize", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_input")
}

func TestSummarizeUnknownDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.server.Handler(), "/api/summarize", map[string]any{"document_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_input")
}

func TestSummarizeText(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.response = `{"key_points": ["One", "Two", "Three"]}`

	rec := postJSON(t, env.server.Handler(), "/api/summarize", map[string]any{"text": "A short article about cats."})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SummarizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"One", "Two", "Three"}, resp.KeyPoints)
	assert.NotEmpty(t, resp.SummaryID)
	assert.Contains(t, resp.HTML, "summary-card")
}

func TestContextUnknownSessionIsEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/context/ghost", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ContextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ghost", resp.SessionID)
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
}

func TestDiagramNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, id := range []string{"missing.png", "..%2F..%2Fetc%2Fpasswd"} {
		req := httptest.NewRequest(http.MethodGet, "/api/diagram/"+id, nil)
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`..\..\windows\sys.ini`: "sys.ini",
		"my notes (v2).txt":     "my_notes_v2_.txt",
		"...":                   "",
		"":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, secureFilename(in), in)
	}
}

// stubVerifier returns one fixed encyclopedia source.
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, _ string) []verifier.Source {
	return []verifier.Source{{Title: "Cat", URL: "https://en.wikipedia.org/wiki/Cat", Snippet: "The cat is a domestic species."}}
}
