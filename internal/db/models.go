package db

import (
	"time"

	"github.com/uptrace/bun"
)

type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        string    `bun:"id,pk"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        int64     `bun:"id,pk,autoincrement"`
	SessionID string    `bun:"session_id,notnull"`
	Role      string    `bun:"role,notnull"`
	Text      string    `bun:"text,notnull"`
	Timestamp time.Time `bun:"timestamp,notnull"`
}

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        string    `bun:"id,pk"`
	Title     string    `bun:"title,notnull"`
	Path      string    `bun:"path,notnull"`
	Text      string    `bun:"text,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         string `bun:"id,pk"`
	DocumentID string `bun:"document_id,notnull"`
	Ordinal    int    `bun:"ordinal,notnull"`
	Text       string `bun:"text,notnull"`
	Start      int    `bun:"start,notnull"`
	End        int    `bun:"\"end\",notnull"`
}
