package crdt

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Text is the flat replicated text buffer. Atoms are kept in position order,
// tombstones included. All methods are safe for concurrent use; change
// callbacks run outside the lock, one per mutation unit.
type Text struct {
	mu sync.Mutex

	docID string
	peer  string
	clock uint64

	atoms   []Atom
	visible int
	seen    map[AtomID]struct{}
	// deletes that arrived before their insert; applied on arrival
	pendingDel map[AtomID]struct{}

	subs    map[int]func(Change)
	nextSub int
}

// NewText creates an empty flat document. An empty peer gets a random one.
func NewText(docID, peer string) *Text {
	if peer == "" {
		peer = uuid.NewString()
	}
	return &Text{
		docID:      docID,
		peer:       peer,
		seen:       make(map[AtomID]struct{}),
		pendingDel: make(map[AtomID]struct{}),
		subs:       make(map[int]func(Change)),
	}
}

func (t *Text) ID() string { return t.docID }

// Peer reports the replica identity used for position allocation.
func (t *Text) Peer() string { return t.peer }

func (t *Text) Serialize() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serializeLocked()
}

func (t *Text) serializeLocked() string {
	var b strings.Builder
	b.Grow(t.visible)
	for _, a := range t.atoms {
		if !a.Deleted {
			b.WriteRune(a.Rune)
		}
	}
	return b.String()
}

func (t *Text) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

func (t *Text) Subscribe(fn func(Change)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// emit runs subscribers outside the lock so they may read the document.
func (t *Text) emit(ch Change) {
	if len(ch.Ops) == 0 {
		return
	}
	t.mu.Lock()
	fns := make([]func(Change), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// ApplyTagged implements Doc. The mutator's positional arguments are clamped
// to the current content, so fn cannot corrupt the sequence.
func (t *Text) ApplyTagged(origin Origin, fn func(m Mutator) error) error {
	t.mu.Lock()
	m := &textMutator{t: t}
	err := fn(m)
	ops := m.ops
	t.mu.Unlock()
	t.emit(Change{Origin: origin, Ops: ops})
	return err
}

// Merge implements Doc; ops already applied are skipped.
func (t *Text) Merge(ops []Op) {
	t.mu.Lock()
	applied := make([]Op, 0, len(ops))
	for _, op := range ops {
		if t.applyRemoteLocked(op) {
			applied = append(applied, op)
		}
	}
	t.mu.Unlock()
	t.emit(Change{Origin: OriginRemote, Ops: applied})
}

func (t *Text) applyRemoteLocked(op Op) bool {
	switch op.Action {
	case ActionInsert:
		if _, ok := t.seen[op.Atom.ID]; ok {
			return false
		}
		a := op.Atom
		a.Deleted = false
		if _, ok := t.pendingDel[a.ID]; ok {
			a.Deleted = true
			delete(t.pendingDel, a.ID)
		}
		t.spliceLocked(a)
		t.seen[a.ID] = struct{}{}
		return true
	case ActionDelete:
		if _, ok := t.seen[op.Atom.ID]; !ok {
			if _, dup := t.pendingDel[op.Atom.ID]; dup {
				return false
			}
			t.pendingDel[op.Atom.ID] = struct{}{}
			return true
		}
		i := t.indexByIDLocked(op.Atom.ID)
		if i < 0 || t.atoms[i].Deleted {
			return false
		}
		t.atoms[i].Deleted = true
		t.visible--
		return true
	default:
		return false
	}
}

// Invert applies the inverse of ops, newest first, tagged OriginHistory, and
// returns the ops it actually applied. Inverting an insert tombstones the
// atom; inverting a delete re-inserts equivalent content as fresh atoms, so
// the result is expressible in the same wire vocabulary and converges on
// every replica.
func (t *Text) Invert(ops []Op) []Op {
	t.mu.Lock()
	applied := make([]Op, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Action {
		case ActionInsert:
			j := t.indexByIDLocked(op.Atom.ID)
			if j < 0 || t.atoms[j].Deleted {
				continue
			}
			t.atoms[j].Deleted = true
			t.visible--
			applied = append(applied, Op{Action: ActionDelete, Atom: Atom{ID: op.Atom.ID}})
		case ActionDelete:
			j := t.indexByIDLocked(op.Atom.ID)
			if j < 0 || !t.atoms[j].Deleted {
				continue
			}
			fresh := t.insertAtIndexLocked(j, string(t.atoms[j].Rune))
			applied = append(applied, fresh...)
		}
	}
	t.mu.Unlock()
	t.emit(Change{Origin: OriginHistory, Ops: applied})
	return applied
}

// Export implements Doc: inserts for every atom in document order, then
// deletes for the tombstones. Replaying it on an empty replica reproduces the
// current content without needing any discarded history.
func (t *Text) Export() []Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]Op, 0, len(t.atoms)+len(t.pendingDel))
	for _, a := range t.atoms {
		live := a
		live.Deleted = false
		ops = append(ops, Op{Action: ActionInsert, Atom: live})
	}
	for _, a := range t.atoms {
		if a.Deleted {
			ops = append(ops, Op{Action: ActionDelete, Atom: Atom{ID: a.ID}})
		}
	}
	for id := range t.pendingDel {
		ops = append(ops, Op{Action: ActionDelete, Atom: Atom{ID: id}})
	}
	return ops
}

// Locate implements the flat-shape anchor scan: a direct substring search
// over the serialized content, first occurrence wins. Offsets are in runes.
func (t *Text) Locate(anchor string) (int, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return locateFlat(t.serializeLocked(), anchor)
}

func locateFlat(content, anchor string) (int, int, bool) {
	if anchor == "" {
		return 0, 0, false
	}
	i := strings.Index(content, anchor)
	if i < 0 {
		return 0, 0, false
	}
	from := utf8.RuneCountInString(content[:i])
	return from, from + utf8.RuneCountInString(anchor), true
}

// indexByIDLocked scans for the atom with the given id, -1 if absent.
func (t *Text) indexByIDLocked(id AtomID) int {
	for i := range t.atoms {
		if t.atoms[i].ID == id {
			return i
		}
	}
	return -1
}

// spliceLocked inserts the atom at its ordered index.
func (t *Text) spliceLocked(a Atom) {
	i := sort.Search(len(t.atoms), func(i int) bool {
		return t.atoms[i].order(a) >= 0
	})
	t.atoms = append(t.atoms, Atom{})
	copy(t.atoms[i+1:], t.atoms[i:])
	t.atoms[i] = a
	if !a.Deleted {
		t.visible++
	}
}

// fullIndexLocked maps a visible rune offset to an index into the atom slice:
// the index of the pos-th visible atom, or len(atoms) when pos is at the end.
func (t *Text) fullIndexLocked(pos int) int {
	if pos <= 0 {
		return 0
	}
	n := 0
	for i := range t.atoms {
		if t.atoms[i].Deleted {
			continue
		}
		if n == pos {
			return i
		}
		n++
	}
	return len(t.atoms)
}

// insertAtIndexLocked allocates fresh atoms for s between the neighbors of
// the given full index and splices them in. Returns the insert ops.
func (t *Text) insertAtIndexLocked(idx int, s string) []Op {
	var left, right Position
	if idx > 0 {
		left = t.atoms[idx-1].Pos
	}
	if idx < len(t.atoms) {
		right = t.atoms[idx].Pos
	}
	ops := make([]Op, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		t.clock++
		a := Atom{
			ID:   AtomID{Peer: t.peer, Clock: t.clock},
			Pos:  Between(left, right, t.peer),
			Rune: r,
		}
		t.atoms = append(t.atoms, Atom{})
		copy(t.atoms[idx+1:], t.atoms[idx:])
		t.atoms[idx] = a
		t.visible++
		t.seen[a.ID] = struct{}{}
		ops = append(ops, Op{Action: ActionInsert, Atom: a})
		left = a.Pos
		idx++
	}
	return ops
}

// textMutator performs local mutations with the document lock held.
type textMutator struct {
	t   *Text
	ops []Op
}

func (m *textMutator) Insert(pos int, s string) {
	if s == "" {
		return
	}
	if pos < 0 {
		pos = 0
	}
	if pos > m.t.visible {
		pos = m.t.visible
	}
	idx := m.t.fullIndexLocked(pos)
	m.ops = append(m.ops, m.t.insertAtIndexLocked(idx, s)...)
}

func (m *textMutator) Delete(pos, n int) {
	if pos < 0 {
		pos = 0
	}
	if n <= 0 || pos >= m.t.visible {
		return
	}
	if pos+n > m.t.visible {
		n = m.t.visible - pos
	}
	count := 0
	seen := 0
	for i := range m.t.atoms {
		if m.t.atoms[i].Deleted {
			continue
		}
		if seen >= pos && count < n {
			m.t.atoms[i].Deleted = true
			m.t.visible--
			m.ops = append(m.ops, Op{Action: ActionDelete, Atom: Atom{ID: m.t.atoms[i].ID}})
			count++
			continue
		}
		seen++
		if count == n {
			break
		}
	}
}

func (m *textMutator) Content() string { return m.t.serializeLocked() }

func (m *textMutator) Len() int { return m.t.visible }

func (m *textMutator) Locate(anchor string) (int, int, bool) {
	return locateFlat(m.t.serializeLocked(), anchor)
}
