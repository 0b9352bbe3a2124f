package crdt

// Base is the digit space at each position depth. Midpoint allocation in a
// 16-bit space keeps identifiers short for typical editing patterns.
const Base uint32 = 1 << 16

// Ident is one level of a dense position identifier. Two idents at the same
// depth order by digit first, then by the peer that allocated them.
type Ident struct {
	Digit uint32 `json:"d"`
	Peer  string `json:"p"`
}

// Position locates an atom between its neighbors at insertion time. Positions
// compare lexicographically by ident, with a shared prefix ordering before any
// longer position that extends it.
type Position []Ident

func (p Position) Compare(o Position) int {
	for i := 0; i < len(p) && i < len(o); i++ {
		if p[i].Digit != o[i].Digit {
			if p[i].Digit < o[i].Digit {
				return -1
			}
			return 1
		}
		if p[i].Peer != o[i].Peer {
			if p[i].Peer < o[i].Peer {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p) < len(o):
		return -1
	case len(p) > len(o):
		return 1
	default:
		return 0
	}
}

// Between allocates a fresh position strictly greater than l and strictly less
// than r. Either bound may be nil, meaning the start or end of the document.
// The final ident always carries the allocating peer, so two peers allocating
// in the same gap produce distinct, consistently ordered positions.
func Between(l, r Position, peer string) Position {
	out := make(Position, 0, len(l)+1)
	for depth := 0; ; depth++ {
		li := Ident{Digit: 0}
		if l != nil && depth < len(l) {
			li = l[depth]
		}
		ri := Ident{Digit: Base}
		if r != nil && depth < len(r) {
			ri = r[depth]
		}

		if ri.Digit > li.Digit+1 {
			mid := li.Digit + (ri.Digit-li.Digit)/2
			return append(out, Ident{Digit: mid, Peer: peer})
		}

		// No room at this depth. Follow the left bound down; once the
		// prefix is strictly below the right bound, the right side stops
		// constraining deeper levels.
		out = append(out, li)
		if li != ri {
			r = nil
		}
	}
}

// AtomID identifies one inserted atom for the lifetime of the document.
type AtomID struct {
	Peer  string `json:"peer"`
	Clock uint64 `json:"clock"`
}

func (a AtomID) Compare(b AtomID) int {
	if a.Peer != b.Peer {
		if a.Peer < b.Peer {
			return -1
		}
		return 1
	}
	switch {
	case a.Clock < b.Clock:
		return -1
	case a.Clock > b.Clock:
		return 1
	default:
		return 0
	}
}

// Atom is one replicated character. Deleted atoms stay in the sequence as
// tombstones so concurrent inserts keep their relative order and so the full
// operation log can be exported for the local cache and for snapshots.
type Atom struct {
	ID      AtomID   `json:"id"`
	Pos     Position `json:"pos"`
	Rune    rune     `json:"r"`
	Deleted bool     `json:"del,omitempty"`
}

// order compares atoms by position, falling back to the atom id so the total
// order is unambiguous even for positions allocated identically.
func (a Atom) order(b Atom) int {
	if c := a.Pos.Compare(b.Pos); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}

// Action discriminates replicated operations.
type Action string

const (
	ActionInsert Action = "insert"
	ActionDelete Action = "delete"
)

// Op is the unit of replication: an insert carries the full atom, a delete
// carries only the target id. Ops are idempotent under re-application and
// commute with any concurrent op.
type Op struct {
	Action Action `json:"action"`
	Atom   Atom   `json:"atom"`
}
