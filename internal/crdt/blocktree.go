package crdt

import (
	"strings"
	"unicode/utf8"
)

// Block is one node of the tree shape: a sequence of inline runs plus the
// rune offset of its first character in the serialized document. Runs split
// where the authoring peer changes, mirroring how merged content interleaves.
type Block struct {
	Start int
	Runs  []string
}

// Text returns the block's accumulated inline text across all runs.
func (b Block) Text() string {
	return strings.Join(b.Runs, "")
}

// BlockTree is the tree-shaped document: the same replicated buffer, with
// blocks delimited by newline atoms. It satisfies Doc; only anchor scanning
// differs from the flat shape, which searches the whole serialization.
type BlockTree struct {
	*Text
}

func NewBlockTree(docID, peer string) *BlockTree {
	return &BlockTree{Text: NewText(docID, peer)}
}

// Blocks materializes the current tree in document order.
func (bt *BlockTree) Blocks() []Block {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.blocksLocked()
}

func (bt *BlockTree) blocksLocked() []Block {
	var blocks []Block
	cur := Block{Start: 0}
	var run strings.Builder
	runPeer := ""
	offset := 0

	flushRun := func() {
		if run.Len() > 0 {
			cur.Runs = append(cur.Runs, run.String())
			run.Reset()
		}
	}

	for _, a := range bt.atoms {
		if a.Deleted {
			continue
		}
		if a.Rune == '\n' {
			flushRun()
			blocks = append(blocks, cur)
			offset++
			cur = Block{Start: offset}
			runPeer = ""
			continue
		}
		if a.ID.Peer != runPeer {
			flushRun()
			runPeer = a.ID.Peer
		}
		run.WriteRune(a.Rune)
		offset++
	}
	flushRun()
	return append(blocks, cur)
}

// Locate walks blocks in document order, accumulating inline runs per block
// and resetting at every block boundary. An anchor may span runs within one
// block but never crosses into the next; the first match wins. Offsets are
// true document positions: the match index plus the block's start offset.
func (bt *BlockTree) Locate(anchor string) (int, int, bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.locateLocked(anchor)
}

func (bt *BlockTree) locateLocked(anchor string) (int, int, bool) {
	if anchor == "" {
		return 0, 0, false
	}
	for _, b := range bt.blocksLocked() {
		acc := b.Text()
		if i := strings.Index(acc, anchor); i >= 0 {
			from := b.Start + utf8.RuneCountInString(acc[:i])
			return from, from + utf8.RuneCountInString(anchor), true
		}
	}
	return 0, 0, false
}

// ApplyTagged wraps the flat mutator so anchor resolution inside a tagged
// apply uses the tree's block-scoped scan.
func (bt *BlockTree) ApplyTagged(origin Origin, fn func(m Mutator) error) error {
	return bt.Text.ApplyTagged(origin, func(m Mutator) error {
		return fn(&treeMutator{Mutator: m, bt: bt})
	})
}

// treeMutator runs with the document lock already held.
type treeMutator struct {
	Mutator
	bt *BlockTree
}

func (m *treeMutator) Locate(anchor string) (int, int, bool) {
	return m.bt.locateLocked(anchor)
}
