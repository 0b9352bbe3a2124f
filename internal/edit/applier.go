package edit

import (
	"fmt"
	"log"

	"inkwell/engine/internal/crdt"
)

// Apply executes one instruction as a single mutation tagged OriginAI, so the
// whole instruction is one undo step and downstream rendering can tell it
// apart from locally typed edits. It returns false instead of propagating any
// failure: instruction streams come from an upstream agent that must not be
// crashed by a single bad instruction.
func Apply(doc crdt.Doc, in Instruction) bool {
	if err := in.Validate(); err != nil {
		log.Printf("edit: rejected instruction for %s: %v", doc.ID(), err)
		return false
	}

	// Resolution happens inside the tagged apply, against the same content
	// snapshot the mutation sees, so a concurrent remote merge cannot land
	// between resolve and apply.
	err := doc.ApplyTagged(crdt.OriginAI, func(m crdt.Mutator) error {
		switch in.Position {
		case ModeStart:
			m.Insert(0, in.Content)
		case ModeEnd:
			m.Insert(m.Len(), in.Content)
		case ModeReplaceAll:
			// Unconditional, even when the content is unchanged.
			m.Delete(0, m.Len())
			m.Insert(0, in.Content)
		case ModeBefore, ModeAfter, ModeReplace:
			r, ok := Resolve(m, in.Anchor, in.Position)
			if !ok {
				return fmt.Errorf("anchor %q not found", in.Anchor)
			}
			if r.To > r.From {
				m.Delete(r.From, r.To-r.From)
			}
			m.Insert(r.From, in.Content)
		}
		return nil
	})
	if err != nil {
		log.Printf("edit: instruction failed for %s: %v", doc.ID(), err)
		return false
	}
	return true
}
