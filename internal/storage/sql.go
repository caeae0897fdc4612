package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id VARCHAR(64) PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	document_type VARCHAR(32) NOT NULL,
	status VARCHAR(32) NOT NULL,
	current_version INTEGER NOT NULL DEFAULT 0,
	draft_title TEXT NOT NULL DEFAULT '',
	draft_content TEXT,
	has_unsaved_changes INTEGER NOT NULL DEFAULT 0,
	last_auto_save_at BIGINT,
	created_by TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_versions (
	document_id VARCHAR(64) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version_number INTEGER NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	PRIMARY KEY (document_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
`

const documentColumns = `id, title, content, document_type, status, current_version, draft_title,
	draft_content, has_unsaved_changes, last_auto_save_at, created_by, created_at, updated_at`

// SQLStore implements Store on SQLite or PostgreSQL. Timestamps are stored
// as unix milliseconds and trees as canonical JSON.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQLStore opens the database and creates the schema if needed.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{db: db, driver: driver, now: time.Now}

	if err := store.migrate(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// CreateDocument stores a new document.
func (s *SQLStore) CreateDocument(ctx context.Context, nd NewDocument) (*document.Document, error) {
	doc := newDocument(nd, s.now())

	var out *document.Document

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var one int

		err := tx.QueryRowContext(ctx, s.rebind("SELECT 1 FROM documents WHERE id = ?"), doc.ID).Scan(&one)
		if err == nil {
			return document.ErrDocumentExists
		}

		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		args, err := documentArgs(doc)
		if err != nil {
			return err
		}

		query := "INSERT INTO documents (" + documentColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}

		out = doc

		return nil
	})

	return out, err
}

// GetDocument loads a document.
func (s *SQLStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return s.load(ctx, s.db, id)
}

// SaveDraft replaces the draft of a document.
func (s *SQLStore) SaveDraft(ctx context.Context, id string, draft document.Draft) (*document.Document, error) {
	return s.modify(ctx, id, func(_ *sql.Tx, doc *document.Document) error {
		applyDraft(doc, draft, s.now())

		return nil
	})
}

// PublishDraft promotes the draft and records the version if requested.
func (s *SQLStore) PublishDraft(ctx context.Context, id string, req document.PublishRequest, publishedBy string) (*document.Document, *document.Version, error) {
	var version *document.Version

	doc, err := s.modify(ctx, id, func(tx *sql.Tx, doc *document.Document) error {
		v, err := promote(doc, req, publishedBy, s.now())
		if err != nil || v == nil {
			return err
		}

		data, err := json.Marshal(v.Content)
		if err != nil {
			return err
		}

		query := `INSERT INTO document_versions
			(document_id, version_number, title, content, summary, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`

		if _, err := tx.ExecContext(ctx, s.rebind(query),
			id, v.Number, v.Title, string(data), v.Summary, v.CreatedBy, v.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}

		version = v

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return doc, version, nil
}

// DiscardDraft drops the draft of a document.
func (s *SQLStore) DiscardDraft(ctx context.Context, id string) (*document.Document, error) {
	return s.modify(ctx, id, func(_ *sql.Tx, doc *document.Document) error {
		clearDraft(doc)
		doc.UpdatedAt = s.now()

		return nil
	})
}

// ListVersions returns the recorded versions, oldest first.
func (s *SQLStore) ListVersions(ctx context.Context, id string) ([]document.Version, error) {
	if _, err := s.load(ctx, s.db, id); err != nil {
		return nil, err
	}

	query := `SELECT version_number, title, content, summary, created_by, created_at
		FROM document_versions WHERE document_id = ? ORDER BY version_number`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), id)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []document.Version{}

	for rows.Next() {
		var (
			v         document.Version
			raw       string
			createdAt int64
		)

		if err := rows.Scan(&v.Number, &v.Title, &raw, &v.Summary, &v.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		v.Content = content.Normalize(json.RawMessage(raw))
		v.CreatedAt = time.UnixMilli(createdAt).UTC()
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// DeleteDocument removes a document and its versions.
func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM document_versions WHERE document_id = ?"), id); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM documents WHERE id = ?"), id)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			return document.ErrDocumentNotFound
		}

		return nil
	})
}

// modify loads a document in a transaction, applies fn and writes it back.
func (s *SQLStore) modify(ctx context.Context, id string, fn func(*sql.Tx, *document.Document) error) (*document.Document, error) {
	var out *document.Document

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := fn(tx, doc); err != nil {
			return err
		}

		args, err := documentArgs(doc)
		if err != nil {
			return err
		}

		query := `UPDATE documents SET title = ?, content = ?, document_type = ?, status = ?,
			current_version = ?, draft_title = ?, draft_content = ?, has_unsaved_changes = ?,
			last_auto_save_at = ?, created_by = ?, created_at = ?, updated_at = ? WHERE id = ?`

		// documentArgs starts with the id; the update takes it last.
		args = append(args[1:], doc.ID)

		if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}

		out = doc

		return nil
	})

	return out, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) load(ctx context.Context, q queryer, id string) (*document.Document, error) {
	var (
		doc                  document.Document
		raw                  string
		draft                sql.NullString
		unsaved              int
		autoSaved            sql.NullInt64
		createdAt, updatedAt int64
	)

	query := "SELECT " + documentColumns + " FROM documents WHERE id = ?"

	err := q.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&doc.ID, &doc.Title, &raw, &doc.DocumentType, &doc.Status, &doc.CurrentVersion,
		&doc.DraftTitle, &draft, &unsaved, &autoSaved, &doc.CreatedBy, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, document.ErrDocumentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	doc.Content = content.Normalize(json.RawMessage(raw))
	doc.HasUnsavedChanges = unsaved != 0
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if draft.Valid {
		tree := content.Normalize(json.RawMessage(draft.String))
		doc.DraftContent = &tree
	}

	if autoSaved.Valid {
		at := time.UnixMilli(autoSaved.Int64).UTC()
		doc.LastAutoSaveAt = &at
	}

	return &doc, nil
}

func documentArgs(doc *document.Document) ([]any, error) {
	published, err := json.Marshal(doc.Content)
	if err != nil {
		return nil, err
	}

	var draft sql.NullString

	if doc.DraftContent != nil {
		data, err := json.Marshal(*doc.DraftContent)
		if err != nil {
			return nil, err
		}

		draft = sql.NullString{String: string(data), Valid: true}
	}

	var autoSaved sql.NullInt64
	if doc.LastAutoSaveAt != nil {
		autoSaved = sql.NullInt64{Int64: doc.LastAutoSaveAt.UnixMilli(), Valid: true}
	}

	unsaved := 0
	if doc.HasUnsavedChanges {
		unsaved = 1
	}

	return []any{
		doc.ID, doc.Title, string(published), string(doc.DocumentType), string(doc.Status),
		doc.CurrentVersion, doc.DraftTitle, draft, unsaved, autoSaved, doc.CreatedBy,
		doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli(),
	}, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder

	n := 0

	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)

			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)
