package syncer

import (
	"errors"
	"testing"

	"inkwell/engine/internal/crdt"
)

func docWithContent(t *testing.T, content string) *crdt.Text {
	t.Helper()
	doc := crdt.NewText("doc-1", "alice")
	if content != "" {
		if err := doc.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
			m.Insert(0, content)
			return nil
		}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	return doc
}

func TestRemoteSyncWinsOverLocal(t *testing.T) {
	c := NewCoordinator(docWithContent(t, ""))
	defer c.Close()

	c.SetRemoteSynced()
	st := c.State()
	if st.Loading || !st.Synced {
		t.Errorf("remote-synced should be ready regardless of cache: %+v", st)
	}
}

func TestLocalSyncedNonEmptyIsReady(t *testing.T) {
	c := NewCoordinator(docWithContent(t, "cached content"))
	defer c.Close()

	c.SetLocalSynced(true)
	st := c.State()
	if st.Loading || !st.Synced {
		t.Errorf("offline-first path should be ready: %+v", st)
	}
}

func TestLocalSyncedEmptyKeepsWaiting(t *testing.T) {
	c := NewCoordinator(docWithContent(t, ""))
	defer c.Close()

	c.SetLocalSynced(true)
	st := c.State()
	if !st.Loading || st.Synced {
		t.Errorf("empty cached document must wait for remote: %+v", st)
	}
}

func TestConnectionErrorFallsBackToOfflineMode(t *testing.T) {
	c := NewCoordinator(docWithContent(t, ""))
	defer c.Close()

	c.SetLocalSynced(true)
	c.ReportConnectionError(errors.New("dial tcp: refused"))
	st := c.State()
	if st.Loading || !st.Synced {
		t.Errorf("best-effort offline mode should be ready: %+v", st)
	}
	if st.Connected {
		t.Error("connection error must clear Connected")
	}
}

func TestContentArrivalFlipsReadiness(t *testing.T) {
	doc := docWithContent(t, "")
	c := NewCoordinator(doc)
	defer c.Close()

	c.SetLocalSynced(true)
	if st := c.State(); !st.Loading {
		t.Fatalf("expected loading before hydration: %+v", st)
	}

	// Remote hydration makes the document non-empty.
	peer := crdt.NewText("doc-1", "bob")
	if err := peer.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(0, "hydrated")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	doc.Merge(peer.Export())

	if st := c.State(); st.Loading {
		t.Errorf("expected ready after content arrived: %+v", st)
	}
}

func TestOnChangeFiresOnTransitions(t *testing.T) {
	c := NewCoordinator(docWithContent(t, "x"))
	defer c.Close()

	var got []State
	cancel := c.OnChange(func(st State) { got = append(got, st) })
	defer cancel()

	if len(got) != 1 {
		t.Fatalf("expected immediate delivery, got %d", len(got))
	}
	c.SetConnected(true)
	c.SetConnected(true) // no-op, same state
	c.SetRemoteSynced()

	if len(got) != 3 {
		t.Errorf("expected 3 emissions (initial + 2 transitions), got %d", len(got))
	}
	last := got[len(got)-1]
	if !last.Connected || !last.Synced || last.Loading {
		t.Errorf("unexpected final state %+v", last)
	}
}
