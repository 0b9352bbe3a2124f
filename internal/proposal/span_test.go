package proposal

import "testing"

func TestScanFindsSpans(t *testing.T) {
	text := "{++new++} and {--old--} text"
	spans := Scan(text)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Kind != KindAddition || spans[0].Content != "new" || spans[0].From != 0 || spans[0].To != 9 {
		t.Errorf("unexpected addition span %+v", spans[0])
	}
	if spans[1].Kind != KindDeletion || spans[1].Content != "old" || spans[1].From != 14 || spans[1].To != 23 {
		t.Errorf("unexpected deletion span %+v", spans[1])
	}
}

func TestAcceptAllRejectAllRoundTrip(t *testing.T) {
	text := "{++new++} and {--old--} text"
	if got := AcceptAll(text); got != "new and  text" {
		t.Errorf("AcceptAll = %q", got)
	}
	if got := RejectAll(text); got != " and old text" {
		t.Errorf("RejectAll = %q", got)
	}
}

func TestEscapedMarkerIsLiteral(t *testing.T) {
	text := `\{++x++}`
	if spans := Scan(text); len(spans) != 0 {
		t.Fatalf("escaped marker matched: %+v", spans)
	}
	if got := AcceptAll(text); got != text {
		t.Errorf("AcceptAll changed escaped text: %q", got)
	}
	if got := RejectAll(text); got != text {
		t.Errorf("RejectAll changed escaped text: %q", got)
	}
}

func TestMultilineSpan(t *testing.T) {
	text := "before {++line one\nline two++} after"
	spans := Scan(text)
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Content != "line one\nline two" {
		t.Errorf("unexpected content %q", spans[0].Content)
	}
}

func TestUnterminatedMarkerLeftAlone(t *testing.T) {
	text := "broken {++never closed"
	if spans := Scan(text); len(spans) != 0 {
		t.Fatalf("unterminated marker matched: %+v", spans)
	}
	if got := AcceptAll(text); got != text {
		t.Errorf("text changed: %q", got)
	}
}

func TestNonGreedyMatching(t *testing.T) {
	text := "{++a++} x {++b++}"
	spans := Scan(text)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Content != "a" || spans[1].Content != "b" {
		t.Errorf("greedy match: %q / %q", spans[0].Content, spans[1].Content)
	}
}

func TestFencedCodeExcluded(t *testing.T) {
	text := "keep {++this++}\n```\ncode {++not this++}\n```\ntail {--gone--}"
	spans := Scan(text)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans outside the fence, got %d", len(spans))
	}
	if spans[0].Content != "this" || spans[1].Content != "gone" {
		t.Errorf("wrong spans: %+v", spans)
	}

	// Raw markers inside the fence survive a bulk resolve.
	got := AcceptAll(text)
	want := "keep this\n```\ncode {++not this++}\n```\ntail "
	if got != want {
		t.Errorf("AcceptAll = %q, want %q", got, want)
	}
}

func TestUnclosedFenceRunsToEnd(t *testing.T) {
	text := "ok {++a++}\n```\n{++b++}"
	spans := Scan(text)
	if len(spans) != 1 || spans[0].Content != "a" {
		t.Fatalf("expected only the span before the fence, got %+v", spans)
	}
}

func TestSpanAt(t *testing.T) {
	text := "ab {++cd++} ef"
	s := SpanAt(text, 5)
	if s == nil || s.Kind != KindAddition || s.Content != "cd" {
		t.Fatalf("expected addition span at cursor, got %+v", s)
	}
	if s := SpanAt(text, 0); s != nil {
		t.Errorf("expected no span at offset 0, got %+v", s)
	}
	if s := SpanAt(text, 12); s != nil {
		t.Errorf("expected no span past the marker, got %+v", s)
	}
}

func TestResolutionSingleSpan(t *testing.T) {
	add := Span{Kind: KindAddition, Content: "x"}
	del := Span{Kind: KindDeletion, Content: "y"}

	if got := Resolution(add, true); got != "x" {
		t.Errorf("accept addition = %q", got)
	}
	if got := Resolution(add, false); got != "" {
		t.Errorf("reject addition = %q", got)
	}
	if got := Resolution(del, true); got != "" {
		t.Errorf("accept deletion = %q", got)
	}
	if got := Resolution(del, false); got != "y" {
		t.Errorf("reject deletion = %q", got)
	}
}
