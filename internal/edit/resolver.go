package edit

// Locator is the shape-specific anchor scan: the flat buffer searches its
// whole serialization, the block tree searches per block. Both report the
// first occurrence only; repeated anchor text is not disambiguated.
type Locator interface {
	Locate(anchor string) (from, to int, ok bool)
}

// Range is a half-open rune range, valid only for the single mutation it was
// resolved for. Zero-width ranges are insertion points.
type Range struct {
	From, To int
}

// Resolve maps an anchor and a position mode to a target range. A miss is
// reported through ok, never an error: instruction application fails softly
// with no mutation performed.
func Resolve(loc Locator, anchor string, mode Mode) (Range, bool) {
	from, to, ok := loc.Locate(anchor)
	if !ok {
		return Range{}, false
	}
	switch mode {
	case ModeBefore:
		return Range{From: from, To: from}, true
	case ModeAfter:
		return Range{From: to, To: to}, true
	case ModeReplace:
		return Range{From: from, To: to}, true
	default:
		return Range{}, false
	}
}
