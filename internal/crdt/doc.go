package crdt

// Origin labels the actor behind a mutation. It is a required argument on
// every mutation path; the undo layer keys its capture rules off it.
type Origin string

const (
	// OriginUser marks edits typed or confirmed by the local human.
	OriginUser Origin = "user"
	// OriginAI marks machine-generated instruction applications.
	OriginAI Origin = "ai"
	// OriginSystem marks untagged local bookkeeping mutations.
	OriginSystem Origin = "system"
	// OriginRemote marks operations merged in from another replica. The
	// undo layer must never capture these.
	OriginRemote Origin = "remote"
	// OriginHistory marks undo/redo replay so it is not re-captured.
	OriginHistory Origin = "history"
)

// Change describes one committed mutation unit: the origin it was tagged with
// and the replicated ops it produced, in application order.
type Change struct {
	Origin Origin
	Ops    []Op
}

// Mutator is the handle passed to a tagged apply. All positional arguments
// are rune offsets into the serialized content at call time.
type Mutator interface {
	Insert(pos int, s string)
	Delete(pos, n int)
	Content() string
	Len() int
	// Locate finds the first occurrence of anchor under the shape's own
	// scanning rules and returns a half-open rune range.
	Locate(anchor string) (from, to int, ok bool)
}

// Doc is the shape-independent contract over a replicated document. Flat text
// and the block tree both satisfy it; callers never depend on the shape.
type Doc interface {
	ID() string
	Serialize() string
	Len() int

	// ApplyTagged runs fn as a single origin-tagged mutation unit. It is
	// the only way to mutate the document locally; subscribers observe one
	// Change per call. A non-nil error from fn discards nothing that fn
	// already applied but is propagated to the caller.
	ApplyTagged(origin Origin, fn func(m Mutator) error) error

	// Merge applies operations received from another replica. Already-seen
	// operations are skipped; subscribers observe the applied remainder
	// tagged OriginRemote.
	Merge(ops []Op)

	// Invert applies the inverse of ops (newest first), tagged
	// OriginHistory, and returns the ops that effected the inversion.
	// Inverting the result again redoes the original ops; this is the
	// undo layer's only hook.
	Invert(ops []Op) []Op

	// Export emits a self-contained operation log reproducing the current
	// state on an empty replica, independent of how this replica got here.
	Export() []Op

	Subscribe(fn func(Change)) (cancel func())
}
