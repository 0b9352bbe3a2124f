package app

import (
	"context"
	"fmt"
	"log"

	"inkwell/engine/internal/archive"
	"inkwell/engine/internal/crdt"
	"inkwell/engine/internal/edit"
	"inkwell/engine/internal/proposal"
	"inkwell/engine/internal/store"
	"inkwell/engine/internal/syncer"
	"inkwell/engine/internal/undo"
)

// Session is one editing handle on a live document: the replicated text, its
// undo stacks, and the readiness coordinator, wired together for the duration
// of the document's life on this node.
type Session struct {
	docID   string
	doc     crdt.Doc
	undo    *undo.Manager
	coord   *syncer.Coordinator
	local   *syncer.LocalChannel
	archive *archive.Service

	stopPersist func()
}

func (s *Session) DocumentID() string { return s.docID }

// Content returns the current serialized document text.
func (s *Session) Content() string { return s.doc.Serialize() }

// State reports the document's sync readiness signals.
func (s *Session) State() syncer.State { return s.coord.State() }

// Subscribe registers fn for every committed document change.
func (s *Session) Subscribe(fn func(crdt.Change)) func() { return s.doc.Subscribe(fn) }

// OnState registers fn for readiness transitions and returns a cancel func.
func (s *Session) OnState(fn func(syncer.State)) func() { return s.coord.OnChange(fn) }

// TypeText applies a user keystroke insertion at a rune offset.
func (s *Session) TypeText(pos int, text string) error {
	return s.doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(pos, text)
		return nil
	})
}

// DeleteText removes n runes at a rune offset as a user edit.
func (s *Session) DeleteText(pos, n int) error {
	return s.doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Delete(pos, n)
		return nil
	})
}

// ApplyInstruction executes one machine-generated edit instruction. The
// boolean mirrors the instruction contract: false means the edit did not
// land, whether from a bad instruction or an anchor that no longer matches.
func (s *Session) ApplyInstruction(in edit.Instruction) bool {
	return edit.Apply(s.doc, in)
}

// Undo reverts the most recent grouped local action. Returns false when
// there is nothing to undo.
func (s *Session) Undo() bool { return s.undo.Undo() }

// Redo reapplies the most recently undone action.
func (s *Session) Redo() bool { return s.undo.Redo() }

// UndoDepth reports how many grouped actions the undo stack holds.
func (s *Session) UndoDepth() int { return s.undo.Depth() }

// Proposals lists the unresolved proposal spans in the current content.
func (s *Session) Proposals() []proposal.Span {
	return proposal.Scan(s.doc.Serialize())
}

// ProposalAt returns the proposal span containing the rune offset, or nil.
func (s *Session) ProposalAt(pos int) *proposal.Span {
	return proposal.SpanAt(s.doc.Serialize(), pos)
}

// ResolveProposalAt accepts or rejects the span at the cursor position. The
// resolution is a user edit: it groups and undoes like typing, and it
// propagates to collaborators as an ordinary change.
func (s *Session) ResolveProposalAt(pos int, accept bool) bool {
	resolved := false
	err := s.doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		sp := proposal.SpanAt(m.Content(), pos)
		if sp == nil {
			return nil
		}
		m.Delete(sp.From, sp.To-sp.From)
		if keep := proposal.Resolution(*sp, accept); keep != "" {
			m.Insert(sp.From, keep)
		}
		resolved = true
		return nil
	})
	if err != nil {
		log.Printf("session %s: resolve proposal: %v", s.docID, err)
		return false
	}
	return resolved
}

// ResolveAllProposals accepts or rejects every span in the document as one
// user action. Spans are resolved back to front so earlier offsets stay
// valid while later spans are rewritten.
func (s *Session) ResolveAllProposals(accept bool) int {
	count := 0
	err := s.doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		spans := proposal.Scan(m.Content())
		for i := len(spans) - 1; i >= 0; i-- {
			sp := spans[i]
			m.Delete(sp.From, sp.To-sp.From)
			if keep := proposal.Resolution(sp, accept); keep != "" {
				m.Insert(sp.From, keep)
			}
			count++
		}
		return nil
	})
	if err != nil {
		log.Printf("session %s: resolve all proposals: %v", s.docID, err)
		return 0
	}
	return count
}

// SaveVersion archives the current state as a new snapshot.
func (s *Session) SaveVersion(ctx context.Context, createdBy, description string) (store.Version, error) {
	if s.archive == nil {
		return store.Version{}, fmt.Errorf("version archive not configured")
	}
	return s.archive.Save(ctx, s.doc, createdBy, description)
}

// ListVersions returns the document's saved versions, newest first.
func (s *Session) ListVersions(ctx context.Context, limit int) ([]store.Version, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("version archive not configured")
	}
	return s.archive.List(ctx, s.docID, limit)
}

// RestoreVersion replaces the document's content with a saved snapshot.
func (s *Session) RestoreVersion(ctx context.Context, versionID string) (store.Version, error) {
	if s.archive == nil {
		return store.Version{}, fmt.Errorf("version archive not configured")
	}
	return s.archive.Restore(ctx, s.doc, versionID)
}

// Close detaches the session from the document. The final operation log is
// flushed to the local cache before release.
func (s *Session) Close() {
	if s.stopPersist != nil {
		s.stopPersist()
	}
	s.undo.Close()
	if s.local != nil {
		if err := s.local.Close(); err != nil {
			log.Printf("session %s: close local channel: %v", s.docID, err)
		}
	}
	s.coord.Close()
}
