package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists document metadata and version rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertDocument creates or refreshes the metadata row for a document id.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    content = EXCLUDED.content,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = NOW()
	`, doc.ID, doc.Title, doc.Content, doc.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns the metadata row, sql.ErrNoRows wrapped when absent.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, updated_by, created_at, updated_at
		FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// InsertVersion stores the metadata row for a new snapshot and assigns the
// next version number for the document in one statement, so two concurrent
// saves cannot collide on a number.
func (s *PostgresStore) InsertVersion(ctx context.Context, v Version) (Version, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO versions (id, document_id, version_number, content_preview, created_at, created_by, description, blob_key)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM versions WHERE document_id = $2),
			$3, $4, $5, $6, $7)
		RETURNING version_number
	`, v.ID, v.DocumentID, v.ContentPreview, v.CreatedAt, v.CreatedBy, v.Description, v.BlobKey).Scan(&v.VersionNumber)
	if err != nil {
		return Version{}, fmt.Errorf("insert version for %s: %w", v.DocumentID, err)
	}
	return v, nil
}

// ListVersions returns the newest versions first.
func (s *PostgresStore) ListVersions(ctx context.Context, documentID string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_number, content_preview, created_at, created_by, description, blob_key
		FROM versions
		WHERE document_id = $1
		ORDER BY version_number DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.ContentPreview, &v.CreatedAt, &v.CreatedBy, &v.Description, &v.BlobKey); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion fetches one snapshot's metadata by id.
func (s *PostgresStore) GetVersion(ctx context.Context, id string) (Version, error) {
	var v Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_number, content_preview, created_at, created_by, description, blob_key
		FROM versions WHERE id = $1
	`, id).Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.ContentPreview, &v.CreatedAt, &v.CreatedBy, &v.Description, &v.BlobKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, fmt.Errorf("version %s: %w", id, err)
	}
	if err != nil {
		return Version{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return v, nil
}
