// Package proposal scans document text for inline provisional-edit markers
// and produces the accept/reject transforms over them.
//
// Grammar: `{++added text++}` proposes an addition, `{--removed text--}`
// proposes a deletion. A backslash immediately before the opening delimiter
// escapes it. Matching is non-greedy and spans may cross line breaks. Markers
// inside triple-backtick code fences stay raw: code is never auto-resolved.
package proposal

import "strings"

type Kind string

const (
	KindAddition Kind = "addition"
	KindDeletion Kind = "deletion"
)

// Span is one provisional edit discovered in the text. From and To are rune
// offsets covering the entire marked region including its delimiters; Content
// is the inner payload without them. Spans are ephemeral: recomputed from the
// raw text on every relevant change, never persisted.
type Span struct {
	Kind    Kind   `json:"kind"`
	From    int    `json:"from"`
	To      int    `json:"to"`
	Content string `json:"content"`
}

// Scan finds all resolvable spans in document order. Unterminated or escaped
// markers simply fail to match and are left as literal text.
func Scan(text string) []Span {
	r := []rune(text)
	fences := fencedRanges(r)
	var spans []Span

	i := 0
	for i+2 < len(r) {
		var kind Kind
		var marker rune
		switch {
		case r[i] == '{' && r[i+1] == '+' && r[i+2] == '+':
			kind, marker = KindAddition, '+'
		case r[i] == '{' && r[i+1] == '-' && r[i+2] == '-':
			kind, marker = KindDeletion, '-'
		default:
			i++
			continue
		}
		if i > 0 && r[i-1] == '\\' {
			i++
			continue
		}
		if inRanges(fences, i) {
			i++
			continue
		}

		end := closeIndex(r, i+3, marker)
		if end < 0 {
			i++
			continue
		}
		spans = append(spans, Span{
			Kind:    kind,
			From:    i,
			To:      end + 3,
			Content: string(r[i+3 : end]),
		})
		i = end + 3
	}
	return spans
}

// closeIndex returns the index of the first `++}` / `--}` at or after start.
func closeIndex(r []rune, start int, marker rune) int {
	for j := start; j+2 < len(r); j++ {
		if r[j] == marker && r[j+1] == marker && r[j+2] == '}' {
			return j
		}
	}
	return -1
}

// fencedRanges finds rune ranges covered by triple-backtick code fences,
// opening fence line through closing fence line inclusive.
func fencedRanges(r []rune) [][2]int {
	var ranges [][2]int
	lineStart := 0
	fenceStart := -1
	flushLine := func(end int) {
		line := strings.TrimLeft(string(r[lineStart:end]), " \t")
		if strings.HasPrefix(line, "```") {
			if fenceStart < 0 {
				fenceStart = lineStart
			} else {
				ranges = append(ranges, [2]int{fenceStart, end})
				fenceStart = -1
			}
		}
	}
	for i := 0; i < len(r); i++ {
		if r[i] == '\n' {
			flushLine(i)
			lineStart = i + 1
		}
	}
	flushLine(len(r))
	if fenceStart >= 0 {
		// Unclosed fence runs to the end of the text.
		ranges = append(ranges, [2]int{fenceStart, len(r)})
	}
	return ranges
}

func inRanges(ranges [][2]int, i int) bool {
	for _, rg := range ranges {
		if i >= rg[0] && i < rg[1] {
			return true
		}
	}
	return false
}

// SpanAt returns the first span whose range contains the given rune offset,
// or nil. Used for keyboard accept/reject at the cursor.
func SpanAt(text string, pos int) *Span {
	for _, s := range Scan(text) {
		if pos >= s.From && pos < s.To {
			sp := s
			return &sp
		}
	}
	return nil
}

// Resolution returns the text a span leaves behind. Accepting an addition
// keeps its content; accepting a deletion removes the whole span. Rejecting
// is the mirror.
func Resolution(s Span, accept bool) string {
	keep := accept == (s.Kind == KindAddition)
	if keep {
		return s.Content
	}
	return ""
}

// ResolveAll applies Resolution to every span in one text-wide pass,
// producing a clean document with no remaining resolvable markers.
func ResolveAll(text string, accept bool) string {
	spans := Scan(text)
	if len(spans) == 0 {
		return text
	}
	r := []rune(text)
	var b strings.Builder
	prev := 0
	for _, s := range spans {
		b.WriteString(string(r[prev:s.From]))
		b.WriteString(Resolution(s, accept))
		prev = s.To
	}
	b.WriteString(string(r[prev:]))
	return b.String()
}

// AcceptAll resolves every span in favor of the proposal.
func AcceptAll(text string) string { return ResolveAll(text, true) }

// RejectAll resolves every span against the proposal.
func RejectAll(text string) string { return ResolveAll(text, false) }
