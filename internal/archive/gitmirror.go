package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"inkwell/engine/internal/store"
)

// GitMirror keeps a per-document git repository with one commit per saved
// version: the flattened text in content.txt and the version metadata in
// meta.json. It is a human-inspectable mirror of the archive, never the
// source of truth for restores.
type GitMirror struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// MirrorEntry is one commit in a document's mirror history.
type MirrorEntry struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

func NewGitMirror(baseDir string) *GitMirror {
	return &GitMirror{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (g *GitMirror) repoPath(documentID string) string {
	return filepath.Join(g.baseDir, documentID)
}

func (g *GitMirror) documentLock(documentID string) *sync.Mutex {
	g.lockMu.Lock()
	defer g.lockMu.Unlock()
	lock, ok := g.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[documentID] = lock
	}
	return lock
}

// Commit records one saved version in the document's mirror, initializing the
// repository on first use.
func (g *GitMirror) Commit(documentID, content string, v store.Version) (string, error) {
	lock := g.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := g.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return "", fmt.Errorf("create mirror dir: %w", mkErr)
		}
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return "", fmt.Errorf("open mirror repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	meta, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal version meta: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, "content.txt"), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write content.txt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, "meta.json"), append(meta, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write meta.json: %w", err)
	}
	if _, err := worktree.Add("content.txt"); err != nil {
		return "", fmt.Errorf("git add content: %w", err)
	}
	if _, err := worktree.Add("meta.json"); err != nil {
		return "", fmt.Errorf("git add meta: %w", err)
	}

	message := fmt.Sprintf("Version %d (%s)", v.VersionNumber, v.CreatedBy)
	if v.Description != "" {
		message += ": " + v.Description
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  v.CreatedBy,
			Email: fmt.Sprintf("%s@mirror.inkwell.local", sanitizeAuthor(v.CreatedBy)),
			When:  v.CreatedAt,
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit version: %w", err)
	}
	return hash.String(), nil
}

// History lists the mirror's commits, newest first.
func (g *GitMirror) History(documentID string, limit int) ([]MirrorEntry, error) {
	lock := g.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(g.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var entries []MirrorEntry
	err = iter.ForEach(func(c *object.Commit) error {
		entries = append(entries, MirrorEntry{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		if limit > 0 && len(entries) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}

// ContentAt reads content.txt from a specific mirror commit.
func (g *GitMirror) ContentAt(documentID, hash string) (string, error) {
	lock := g.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(g.repoPath(documentID))
	if err != nil {
		return "", fmt.Errorf("open mirror repo: %w", err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commit.File("content.txt")
	if err != nil {
		return "", fmt.Errorf("load content.txt from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read content bytes: %w", err)
	}
	return string(data), nil
}

func sanitizeAuthor(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", ".")
	if name == "" {
		return "unknown"
	}
	return name
}
