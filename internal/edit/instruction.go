// Package edit turns anchor-based edit instructions into origin-tagged
// document mutations.
package edit

import "fmt"

// Mode says where an instruction's content lands relative to the document or
// its anchor.
type Mode string

const (
	ModeStart      Mode = "start"
	ModeEnd        Mode = "end"
	ModeBefore     Mode = "before"
	ModeAfter      Mode = "after"
	ModeReplace    Mode = "replace"
	ModeReplaceAll Mode = "replace_all"
)

// Instruction is a single-use edit command. The anchor is required for the
// anchored modes and ignored for the rest.
type Instruction struct {
	Content  string `json:"content"`
	Position Mode   `json:"position"`
	Anchor   string `json:"anchor,omitempty"`
}

func (in Instruction) needsAnchor() bool {
	switch in.Position {
	case ModeBefore, ModeAfter, ModeReplace:
		return true
	}
	return false
}

// Validate checks the mode/anchor combination without touching a document.
func (in Instruction) Validate() error {
	switch in.Position {
	case ModeStart, ModeEnd, ModeBefore, ModeAfter, ModeReplace, ModeReplaceAll:
	default:
		return fmt.Errorf("unknown position %q", in.Position)
	}
	if in.needsAnchor() && in.Anchor == "" {
		return fmt.Errorf("position %q requires an anchor", in.Position)
	}
	return nil
}
