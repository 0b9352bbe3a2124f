package store

import "time"

// Document is the metadata row for one replicated document. Content here is
// the flattened text kept for previews and full-text search; the replicated
// op log itself lives in the sync layer and in snapshot blobs.
type Document struct {
	ID        string
	Title     string
	Content   string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Version is one archived snapshot of a document. The full self-contained
// payload is stored as an opaque blob under BlobKey; the row carries only
// metadata plus a short preview.
type Version struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	VersionNumber  int       `json:"version_number"`
	ContentPreview string    `json:"content_preview"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	Description    string    `json:"description,omitempty"`
	BlobKey        string    `json:"-"`
}

// Creator values accepted on Version.CreatedBy.
const (
	CreatedByUser = "user"
	CreatedByAI   = "ai"
	CreatedByAuto = "auto"
)

// ValidCreator reports whether by is one of user|ai|auto.
func ValidCreator(by string) bool {
	switch by {
	case CreatedByUser, CreatedByAI, CreatedByAuto:
		return true
	}
	return false
}
