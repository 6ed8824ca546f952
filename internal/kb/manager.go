// Package kb manages the knowledge base: document ingestion
// (extract, chunk, persist, reindex) and top-k chunk retrieval.
package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/db"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/index"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/parser"
)

// ChunkStore is the persistence surface the manager needs. *db.DB
// implements it; tests use an in-memory fake.
type ChunkStore interface {
	CreateDocument(ctx context.Context, doc *db.Document) error
	CreateChunks(ctx context.Context, chunks []db.Chunk) error
	DocumentText(ctx context.Context, id string) (string, error)
	AllChunks(ctx context.Context) ([]db.Chunk, error)
}

// Result is one retrieved chunk annotated with its similarity score.
type Result struct {
	ID    string
	Text  string
	Score float64
}

// snapshot pairs an index with the chunk ids and texts it was built
// over. Replaced wholesale on every reindex; never mutated.
type snapshot struct {
	index *index.Index
	ids   []string
	texts []string
}

type Manager struct {
	store   ChunkStore
	size    int
	overlap int

	snap   atomic.Pointer[snapshot]
	warmMu sync.Mutex
	warmed bool
}

func NewManager(store ChunkStore, chunkSize, chunkOverlap int) (*Manager, error) {
	if chunkSize-chunkOverlap < 1 || chunkSize <= 0 || chunkOverlap < 0 {
		return nil, fmt.Errorf("invalid chunk geometry: size=%d overlap=%d", chunkSize, chunkOverlap)
	}
	return &Manager{store: store, size: chunkSize, overlap: chunkOverlap}, nil
}

// IngestDocument extracts text from the file at path, persists the
// document and its chunks, and rebuilds the retrieval index. A file
// the extractor cannot read produces a document with zero chunks; that
// is a valid, if useless, outcome.
func (m *Manager) IngestDocument(ctx context.Context, path string) (string, error) {
	text := parser.Extract(path)
	docID := newID()

	doc := &db.Document{
		ID:    docID,
		Title: filepath.Base(path),
		Path:  path,
		Text:  text,
	}
	if err := m.store.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("persisting document: %w", err)
	}

	pieces, err := ChunkText(text, m.size, m.overlap)
	if err != nil {
		return "", err
	}
	chunks := make([]db.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = db.Chunk{
			ID:         fmt.Sprintf("%s_c%d", docID, i),
			DocumentID: docID,
			Ordinal:    i,
			Text:       p.Text,
			Start:      p.Start,
			End:        p.End,
		}
	}
	if err := m.store.CreateChunks(ctx, chunks); err != nil {
		return "", fmt.Errorf("persisting chunks: %w", err)
	}

	if err := m.reindex(ctx); err != nil {
		return "", fmt.Errorf("reindexing: %w", err)
	}
	log.Info().Str("document_id", docID).Int("chunks", len(chunks)).Msg("document ingested")
	return docID, nil
}

// Warm loads all persisted chunks and builds the index. Called once at
// startup so the process serves retrieval after a restart without
// re-ingestion; safe to call concurrently.
func (m *Manager) Warm(ctx context.Context) error {
	m.warmMu.Lock()
	defer m.warmMu.Unlock()
	if m.warmed {
		return nil
	}
	// An ingestion may already have produced a snapshot.
	if m.snap.Load() == nil {
		if err := m.reindex(ctx); err != nil {
			return err
		}
	}
	m.warmed = true
	return nil
}

// Retrieve returns the top-k most similar chunks for the query. Fewer
// chunks than topK, or an empty knowledge base, shortens the result.
func (m *Manager) Retrieve(ctx context.Context, query string, topK int) []Result {
	if err := m.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("knowledge base warm-up failed; retrieval degraded to empty")
		return nil
	}
	snap := m.snap.Load()
	if snap == nil {
		return nil
	}

	hits := snap.index.Query(query, topK)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:    snap.ids[h.Chunk],
			Text:  snap.texts[h.Chunk],
			Score: h.Score,
		})
	}
	return results
}

// DocumentText returns the full extracted text of a document.
// db.ErrNotFound propagates for unknown ids.
func (m *Manager) DocumentText(ctx context.Context, id string) (string, error) {
	return m.store.DocumentText(ctx, id)
}

// reindex rebuilds the whole index from the chunk store and swaps the
// snapshot atomically. In-flight queries keep reading the old snapshot
// until the swap; nobody observes a half-built index. Full rebuilds are
// acceptable because ingestion is rare relative to queries.
func (m *Manager) reindex(ctx context.Context) error {
	chunks, err := m.store.AllChunks(ctx)
	if err != nil {
		return err
	}
	snap := &snapshot{
		ids:   make([]string, len(chunks)),
		texts: make([]string, len(chunks)),
	}
	for i, c := range chunks {
		snap.ids[i] = c.ID
		snap.texts[i] = c.Text
	}
	snap.index = index.Build(snap.texts)
	m.snap.Store(snap)
	return nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
