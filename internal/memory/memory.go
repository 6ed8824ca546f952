// Package memory keeps short-term conversational history per session.
// Append is the only mutation; retrieval is bounded and chronological.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/db"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageStore is the persistence surface the memory store needs.
// *db.DB implements it; tests use an in-memory fake.
type MessageStore interface {
	EnsureSession(ctx context.Context, id string) error
	InsertMessage(ctx context.Context, msg *db.Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]db.Message, error)
}

// Message is one conversational turn as callers see it.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Store struct {
	store MessageStore
}

func NewStore(store MessageStore) *Store {
	return &Store{store: store}
}

// AddMessage appends a turn to the session, creating the session record
// lazily on first use.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, text string) error {
	if err := s.store.EnsureSession(ctx, sessionID); err != nil {
		return fmt.Errorf("ensuring session: %w", err)
	}
	msg := &db.Message{
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Recent returns at most limit messages for the session, oldest first.
// The result is sorted here: the store contract promises the most
// recent messages, not any particular ordering.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.store.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Timestamp.Equal(rows[b].Timestamp) {
			return rows[a].ID < rows[b].ID
		}
		return rows[a].Timestamp.Before(rows[b].Timestamp)
	})
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	msgs := make([]Message, len(rows))
	for i, r := range rows {
		msgs[i] = Message{Role: r.Role, Text: r.Text, Timestamp: r.Timestamp}
	}
	return msgs, nil
}
