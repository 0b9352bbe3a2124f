package crdt

import "testing"

func TestBlockTreeSerialize(t *testing.T) {
	doc := NewBlockTree("doc-1", "alice")
	mustApply(t, doc, OriginUser, func(m Mutator) error {
		m.Insert(0, "first block\nsecond block")
		return nil
	})
	if got := doc.Serialize(); got != "first block\nsecond block" {
		t.Errorf("unexpected serialization %q", got)
	}

	blocks := doc.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Start != 0 || blocks[0].Text() != "first block" {
		t.Errorf("block 0 = start %d text %q", blocks[0].Start, blocks[0].Text())
	}
	if blocks[1].Start != 12 || blocks[1].Text() != "second block" {
		t.Errorf("block 1 = start %d text %q", blocks[1].Start, blocks[1].Text())
	}
}

// An anchor must resolve across concatenated inline runs within one block
// even when no single run contains the full string.
func TestBlockTreeLocateAcrossRuns(t *testing.T) {
	a := NewBlockTree("doc-1", "alice")
	b := NewBlockTree("doc-1", "bob")

	var aOps, bOps []Op
	a.Subscribe(func(ch Change) {
		if ch.Origin != OriginRemote {
			aOps = append(aOps, ch.Ops...)
		}
	})
	b.Subscribe(func(ch Change) {
		if ch.Origin != OriginRemote {
			bOps = append(bOps, ch.Ops...)
		}
	})

	// Alice writes "bet", bob appends "a" after syncing: two runs, one block.
	mustApply(t, a, OriginUser, func(m Mutator) error {
		m.Insert(0, "bet")
		return nil
	})
	b.Merge(aOps)
	mustApply(t, b, OriginUser, func(m Mutator) error {
		m.Insert(3, "a")
		return nil
	})
	a.Merge(bOps)

	blocks := a.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if len(blocks[0].Runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", blocks[0].Runs)
	}

	from, to, ok := a.Locate("beta")
	if !ok || from != 0 || to != 4 {
		t.Errorf("expected (0,4,true), got (%d,%d,%v)", from, to, ok)
	}
}

// Anchors never match across a block boundary.
func TestBlockTreeLocateStopsAtBoundary(t *testing.T) {
	doc := NewBlockTree("doc-1", "alice")
	mustApply(t, doc, OriginUser, func(m Mutator) error {
		m.Insert(0, "alpha be\nta gamma")
		return nil
	})
	if _, _, ok := doc.Locate("beta"); ok {
		t.Error("anchor matched across a block boundary")
	}
	from, to, ok := doc.Locate("gamma")
	if !ok || from != 12 || to != 17 {
		t.Errorf("expected (12,17,true), got (%d,%d,%v)", from, to, ok)
	}
}

func TestBlockTreeLocateSecondBlockOffset(t *testing.T) {
	doc := NewBlockTree("doc-1", "alice")
	mustApply(t, doc, OriginUser, func(m Mutator) error {
		m.Insert(0, "intro\nalpha beta gamma")
		return nil
	})
	from, to, ok := doc.Locate("beta")
	if !ok || from != 12 || to != 16 {
		t.Errorf("expected (12,16,true), got (%d,%d,%v)", from, to, ok)
	}
}
