package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/config"
)

// ErrNotFound is returned on lookups of ids that do not exist. It never
// escapes the knowledge-base boundary as a panic.
var ErrNotFound = errors.New("not found")

type DB struct {
	bun *bun.DB
}

func Connect(cfg *config.DatabaseConfig) *DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	bdb := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		bdb.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &DB{bun: bdb}
}

func (d *DB) Close() error {
	return d.bun.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.bun.PingContext(ctx)
}

// Init creates the four tables if they do not exist. Concurrent writer
// serialization is delegated to Postgres; no application-level locking.
func (d *DB) Init(ctx context.Context) error {
	models := []any{
		(*Session)(nil),
		(*Message)(nil),
		(*Document)(nil),
		(*Chunk)(nil),
	}
	for _, m := range models {
		if _, err := d.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := d.bun.NewInsert().Model(doc).Exec(ctx)
	return err
}

func (d *DB) CreateChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := d.bun.NewInsert().Model(&chunks).Exec(ctx)
	return err
}

func (d *DB) DocumentText(ctx context.Context, id string) (string, error) {
	doc := new(Document)
	err := d.bun.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

func (d *DB) AllChunks(ctx context.Context) ([]Chunk, error) {
	var chunks []Chunk
	err := d.bun.NewSelect().
		Model(&chunks).
		OrderExpr("c.document_id ASC, c.ordinal ASC").
		Scan(ctx)
	return chunks, err
}

// DeleteDocument removes a document and cascades to its chunks. No
// endpoint exposes it yet; the storage contract requires it.
func (d *DB) DeleteDocument(ctx context.Context, id string) error {
	if _, err := d.bun.NewDelete().Model((*Chunk)(nil)).Where("document_id = ?", id).Exec(ctx); err != nil {
		return err
	}
	_, err := d.bun.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

func (d *DB) EnsureSession(ctx context.Context, id string) error {
	sess := &Session{ID: id}
	_, err := d.bun.NewInsert().Model(sess).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}

func (d *DB) InsertMessage(ctx context.Context, msg *Message) error {
	_, err := d.bun.NewInsert().Model(msg).Exec(ctx)
	return err
}

// RecentMessages returns up to limit messages for the session, newest
// first. Callers re-sort to chronological order.
func (d *DB) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	var msgs []Message
	err := d.bun.NewSelect().
		Model(&msgs).
		Where("m.session_id = ?", sessionID).
		OrderExpr("m.timestamp DESC, m.id DESC").
		Limit(limit).
		Scan(ctx)
	return msgs, err
}
