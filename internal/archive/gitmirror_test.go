package archive

import (
	"strings"
	"testing"
	"time"

	"inkwell/engine/internal/store"
)

func mirrorVersion(n int, desc string) store.Version {
	return store.Version{
		ID:            "ver-mirror",
		DocumentID:    "doc-1",
		VersionNumber: n,
		CreatedBy:     store.CreatedByUser,
		Description:   desc,
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestMirrorCommitAndHistory(t *testing.T) {
	mirror := NewGitMirror(t.TempDir())

	h1, err := mirror.Commit("doc-1", "first", mirrorVersion(1, "initial"))
	if err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	h2, err := mirror.Commit("doc-1", "second", mirrorVersion(2, ""))
	if err != nil {
		t.Fatalf("commit v2: %v", err)
	}
	if h1 == h2 {
		t.Fatal("distinct versions produced the same commit hash")
	}

	entries, err := mirror.History("doc-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(entries))
	}
	if entries[0].Hash != h2 {
		t.Errorf("newest entry hash = %s, want %s", entries[0].Hash, h2)
	}
	if !strings.Contains(entries[1].Message, "initial") {
		t.Errorf("oldest message %q missing description", entries[1].Message)
	}
}

func TestMirrorHistoryLimit(t *testing.T) {
	mirror := NewGitMirror(t.TempDir())
	for i := 1; i <= 3; i++ {
		if _, err := mirror.Commit("doc-1", "rev", mirrorVersion(i, "")); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	entries, err := mirror.History("doc-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("limited history has %d entries, want 2", len(entries))
	}
}

func TestMirrorContentAt(t *testing.T) {
	mirror := NewGitMirror(t.TempDir())
	h1, err := mirror.Commit("doc-1", "old content", mirrorVersion(1, ""))
	if err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	if _, err := mirror.Commit("doc-1", "new content", mirrorVersion(2, "")); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	got, err := mirror.ContentAt("doc-1", h1)
	if err != nil {
		t.Fatalf("content at %s: %v", h1, err)
	}
	if got != "old content" {
		t.Errorf("content at v1 = %q, want %q", got, "old content")
	}
}

func TestMirrorIsolatesDocuments(t *testing.T) {
	mirror := NewGitMirror(t.TempDir())
	if _, err := mirror.Commit("doc-a", "a", mirrorVersion(1, "")); err != nil {
		t.Fatalf("commit doc-a: %v", err)
	}
	if _, err := mirror.History("doc-b", 0); err == nil {
		t.Fatal("history for a never-mirrored document succeeded")
	}
}
