package syncer

import (
	"path/filepath"
	"testing"
	"time"

	"inkwell/engine/internal/crdt"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	doc := docWithContent(t, "persisted text")
	if err := cache.Store("doc-1", doc.Export()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	ops, err := cache.Load("doc-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	restored := crdt.NewText("doc-1", "bob")
	restored.Merge(ops)
	if got := restored.Serialize(); got != "persisted text" {
		t.Errorf("expected %q, got %q", "persisted text", got)
	}
}

func TestCacheLoadUnknownID(t *testing.T) {
	cache := openTestCache(t)
	ops, err := cache.Load("never-seen")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ops != nil {
		t.Errorf("expected nil op log for unknown id, got %d ops", len(ops))
	}
}

func TestCacheDelete(t *testing.T) {
	cache := openTestCache(t)
	doc := docWithContent(t, "x")
	if err := cache.Store("doc-1", doc.Export()); err != nil {
		t.Fatal(err)
	}
	if err := cache.Delete("doc-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ops, err := cache.Load("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if ops != nil {
		t.Error("expected op log gone after delete")
	}
}

func TestLocalChannelHydratesAndFlushes(t *testing.T) {
	cache := openTestCache(t)

	// A previous session left content behind.
	prev := docWithContent(t, "from last session")
	if err := cache.Store("doc-1", prev.Export()); err != nil {
		t.Fatal(err)
	}

	doc := crdt.NewText("doc-1", "alice")
	coord := NewCoordinator(doc)
	defer coord.Close()
	ch := AttachLocal(doc, cache, coord, 10*time.Millisecond)

	if got := doc.Serialize(); got != "from last session" {
		t.Fatalf("hydration failed: %q", got)
	}
	if st := coord.State(); st.Loading {
		t.Errorf("cached non-empty document should be ready: %+v", st)
	}

	// A new edit dirties the channel, then the flush restores synced.
	if err := doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(0, "edit: ")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ops, err := cache.Load("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	reread := crdt.NewText("doc-1", "bob")
	reread.Merge(ops)
	if got := reread.Serialize(); got != "edit: from last session" {
		t.Errorf("flushed log out of date: %q", got)
	}
}

func TestLocalChannelSyncedSignalTracksFlush(t *testing.T) {
	cache := openTestCache(t)
	doc := docWithContent(t, "seed")
	coord := NewCoordinator(doc)
	defer coord.Close()
	ch := AttachLocal(doc, cache, coord, time.Hour) // debounce never fires in-test
	defer ch.Close()

	if st := coord.State(); st.Loading {
		t.Fatalf("expected synced after attach: %+v", st)
	}

	if err := doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(0, "dirty ")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	// Dirty but non-empty: rule 2 no longer applies until flushed.
	if st := coord.State(); !st.Loading {
		t.Errorf("expected loading while dirty: %+v", st)
	}

	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	if st := coord.State(); st.Loading {
		t.Errorf("expected synced after flush: %+v", st)
	}
}
