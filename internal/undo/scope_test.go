package undo

import (
	"testing"
	"time"

	"inkwell/engine/internal/crdt"
)

func newDoc(t *testing.T) *crdt.Text {
	t.Helper()
	return crdt.NewText("doc-1", "alice")
}

func typeText(t *testing.T, doc crdt.Doc, origin crdt.Origin, pos int, s string) {
	t.Helper()
	if err := doc.ApplyTagged(origin, func(m crdt.Mutator) error {
		m.Insert(pos, s)
		return nil
	}); err != nil {
		t.Fatalf("ApplyTagged failed: %v", err)
	}
}

func TestUndoRevertsLastAction(t *testing.T) {
	doc := newDoc(t)
	mgr := New(doc, 0)
	defer mgr.Close()

	typeText(t, doc, crdt.OriginUser, 0, "hello")
	if !mgr.Undo() {
		t.Fatal("expected Undo to succeed")
	}
	if got := doc.Serialize(); got != "" {
		t.Errorf("expected empty document, got %q", got)
	}
	if mgr.Undo() {
		t.Error("expected second Undo to report nothing to do")
	}
}

func TestCaptureWindowGroupsRapidEdits(t *testing.T) {
	doc := newDoc(t)
	mgr := New(doc, 500*time.Millisecond)
	defer mgr.Close()

	clock := time.Unix(1000, 0)
	mgr.now = func() time.Time { return clock }

	typeText(t, doc, crdt.OriginUser, 0, "h")
	clock = clock.Add(100 * time.Millisecond)
	typeText(t, doc, crdt.OriginUser, 1, "i")
	if mgr.Depth() != 1 {
		t.Errorf("expected one grouped step, got %d", mgr.Depth())
	}

	// Past the window: a new group starts.
	clock = clock.Add(2 * time.Second)
	typeText(t, doc, crdt.OriginUser, 2, "!")
	if mgr.Depth() != 2 {
		t.Errorf("expected two steps, got %d", mgr.Depth())
	}

	mgr.Undo()
	if got := doc.Serialize(); got != "hi" {
		t.Errorf("expected %q, got %q", "hi", got)
	}
	mgr.Undo()
	if got := doc.Serialize(); got != "" {
		t.Errorf("expected empty document, got %q", got)
	}
}

func TestOriginChangeStartsNewGroup(t *testing.T) {
	doc := newDoc(t)
	mgr := New(doc, 500*time.Millisecond)
	defer mgr.Close()

	clock := time.Unix(1000, 0)
	mgr.now = func() time.Time { return clock }

	typeText(t, doc, crdt.OriginUser, 0, "draft ")
	clock = clock.Add(10 * time.Millisecond)
	typeText(t, doc, crdt.OriginAI, 6, "suggestion")

	if mgr.Depth() != 2 {
		t.Fatalf("expected a separate step per origin, got %d", mgr.Depth())
	}
	mgr.Undo()
	if got := doc.Serialize(); got != "draft " {
		t.Errorf("expected %q, got %q", "draft ", got)
	}
}

// The load-bearing invariant: undo reverts the local session's own action
// while concurrently merged remote content stays intact.
func TestUndoNeverRevertsRemoteOps(t *testing.T) {
	local := newDoc(t)
	peer := crdt.NewText("doc-1", "bob")
	mgr := New(local, 0)
	defer mgr.Close()

	var peerOps []crdt.Op
	peer.Subscribe(func(ch crdt.Change) {
		if ch.Origin != crdt.OriginRemote {
			peerOps = append(peerOps, ch.Ops...)
		}
	})

	typeText(t, local, crdt.OriginUser, 0, "local")
	peer.Merge(local.Export())

	typeText(t, peer, crdt.OriginUser, 5, " remote")
	local.Merge(peerOps)
	if got := local.Serialize(); got != "local remote" {
		t.Fatalf("merge setup failed: %q", got)
	}

	if !mgr.Undo() {
		t.Fatal("expected Undo to succeed")
	}
	if got := local.Serialize(); got != " remote" {
		t.Errorf("expected only remote content to remain, got %q", got)
	}
}

func TestRedoRestoresUndoneAction(t *testing.T) {
	doc := newDoc(t)
	mgr := New(doc, 0)
	defer mgr.Close()

	typeText(t, doc, crdt.OriginUser, 0, "hello")
	mgr.Undo()
	if !mgr.Redo() {
		t.Fatal("expected Redo to succeed")
	}
	if got := doc.Serialize(); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}

	mgr.Undo()
	if got := doc.Serialize(); got != "" {
		t.Errorf("undo after redo expected empty, got %q", got)
	}
}

func TestNewEditClearsRedo(t *testing.T) {
	doc := newDoc(t)
	mgr := New(doc, 0)
	defer mgr.Close()

	typeText(t, doc, crdt.OriginUser, 0, "one")
	mgr.Undo()
	typeText(t, doc, crdt.OriginUser, 0, "two")
	if mgr.Redo() {
		t.Error("redo should be unavailable after a new edit")
	}
	if got := doc.Serialize(); got != "two" {
		t.Errorf("expected %q, got %q", "two", got)
	}
}
