package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"inkwell/engine/internal/crdt"
	"inkwell/engine/internal/store"
)

const previewRunes = 160

// MetaStore is the slice of the metadata store the archive needs.
type MetaStore interface {
	UpsertDocument(ctx context.Context, doc store.Document) error
	InsertVersion(ctx context.Context, v store.Version) (store.Version, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]store.Version, error)
	GetVersion(ctx context.Context, id string) (store.Version, error)
}

// snapshotPayload is the blob format for one saved version. The operation log
// alone reproduces the document state on any replica, so a snapshot never
// depends on rows or blobs written before it.
type snapshotPayload struct {
	DocumentID string    `json:"document_id"`
	SavedAt    time.Time `json:"saved_at"`
	Ops        []crdt.Op `json:"ops"`
}

// Service saves and restores document versions. Metadata lives in the store,
// the full operation log in the blob store, and optionally a flattened copy in
// a git mirror for human inspection.
type Service struct {
	meta   MetaStore
	blobs  BlobStore
	mirror *GitMirror
}

func NewService(meta MetaStore, blobs BlobStore, mirror *GitMirror) *Service {
	return &Service{meta: meta, blobs: blobs, mirror: mirror}
}

// Save captures the document's current state as a new version. The snapshot
// carries the complete operation log, so restoring it needs nothing but the
// blob itself.
func (s *Service) Save(ctx context.Context, doc crdt.Doc, createdBy, description string) (store.Version, error) {
	if !store.ValidCreator(createdBy) {
		return store.Version{}, fmt.Errorf("save version: unknown creator %q", createdBy)
	}

	content := doc.Serialize()
	payload := snapshotPayload{
		DocumentID: doc.ID(),
		SavedAt:    time.Now().UTC(),
		Ops:        doc.Export(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return store.Version{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%d.json", doc.ID(), payload.SavedAt.UnixNano())
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return store.Version{}, fmt.Errorf("store snapshot blob: %w", err)
	}

	v, err := s.meta.InsertVersion(ctx, store.Version{
		DocumentID:     doc.ID(),
		ContentPreview: preview(content),
		CreatedBy:      createdBy,
		Description:    description,
		BlobKey:        key,
	})
	if err != nil {
		return store.Version{}, err
	}

	if upErr := s.meta.UpsertDocument(ctx, store.Document{
		ID:        doc.ID(),
		Content:   content,
		UpdatedBy: createdBy,
	}); upErr != nil {
		log.Printf("archive: refresh document row for %s: %v", doc.ID(), upErr)
	}

	if s.mirror != nil {
		if _, mErr := s.mirror.Commit(doc.ID(), content, v); mErr != nil {
			log.Printf("archive: mirror commit for %s: %v", doc.ID(), mErr)
		}
	}
	return v, nil
}

// List returns the document's versions, newest first.
func (s *Service) List(ctx context.Context, documentID string, limit int) ([]store.Version, error) {
	return s.meta.ListVersions(ctx, documentID, limit)
}

// Get fetches one version's metadata by id.
func (s *Service) Get(ctx context.Context, versionID string) (store.Version, error) {
	return s.meta.GetVersion(ctx, versionID)
}

// Restore replaces the live document's content with a saved version. The
// snapshot's operation log is materialized into a detached replica first, so
// the flattened text is computed without touching the live document; the live
// document then receives one change that clears everything and inserts the
// restored text. Convergence history is preserved and collaborators see the
// restore as a single remote edit.
func (s *Service) Restore(ctx context.Context, doc crdt.Doc, versionID string) (store.Version, error) {
	v, err := s.meta.GetVersion(ctx, versionID)
	if err != nil {
		return store.Version{}, err
	}
	if v.DocumentID != doc.ID() {
		return store.Version{}, fmt.Errorf("restore version %s: belongs to document %s, not %s", versionID, v.DocumentID, doc.ID())
	}

	data, err := s.blobs.Get(ctx, v.BlobKey)
	if err != nil {
		return store.Version{}, fmt.Errorf("load snapshot blob %s: %w", v.BlobKey, err)
	}
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return store.Version{}, fmt.Errorf("decode snapshot %s: %w", v.BlobKey, err)
	}

	detached := crdt.NewText(v.DocumentID, "")
	detached.Merge(payload.Ops)
	restored := detached.Serialize()

	err = doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		if n := m.Len(); n > 0 {
			m.Delete(0, n)
		}
		if restored != "" {
			m.Insert(0, restored)
		}
		return nil
	})
	if err != nil {
		return store.Version{}, fmt.Errorf("apply restored content: %w", err)
	}
	return v, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes])
}
