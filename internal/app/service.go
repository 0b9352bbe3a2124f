package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/engine/internal/archive"
	"inkwell/engine/internal/crdt"
	"inkwell/engine/internal/search"
	"inkwell/engine/internal/store"
	"inkwell/engine/internal/syncer"
	"inkwell/engine/internal/undo"
)

// Options carries the tunables and optional backends a Service is built with.
// Nil backends disable their feature rather than failing the whole engine.
type Options struct {
	Store         *store.PostgresStore
	Archive       *archive.Service
	Search        *search.Service
	Cache         *syncer.Cache
	Redis         *redis.Client
	CaptureWindow time.Duration
	FlushInterval time.Duration
}

// Service owns the live documents on this node. Each document gets one hub
// (the authoritative replica peers sync against) and one session (the editing
// handle the HTTP API works through).
type Service struct {
	hub  *syncer.HubServer
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(hub *syncer.HubServer, opts Options) *Service {
	s := &Service{
		hub:      hub,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
	if opts.Cache != nil {
		hub.Seed = func(docID string) []crdt.Op {
			ops, err := opts.Cache.Load(docID)
			if err != nil {
				log.Printf("app: seed %s from cache: %v", docID, err)
				return nil
			}
			return ops
		}
	}
	return s
}

// Ping checks the metadata store connection.
func (s *Service) Ping(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	return s.opts.Store.Ping(ctx)
}

// PingRedis checks the relay connection. Returns (false, nil) when running
// single-node with no redis configured.
func (s *Service) PingRedis(ctx context.Context) (configured bool, err error) {
	if s.opts.Redis == nil {
		return false, nil
	}
	return true, s.opts.Redis.Ping(ctx).Err()
}

// Open returns the editing session for a document id, creating and wiring it
// on first use. The session rides the hub's authoritative replica, so edits
// made through it reach connected peers the same way peer edits do.
func (s *Service) Open(docID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[docID]; ok {
		return sess
	}

	doc := s.hub.Hub(docID).Doc()
	coord := syncer.NewCoordinator(doc)
	sess := &Session{
		docID:   docID,
		doc:     doc,
		undo:    undo.New(doc, s.opts.CaptureWindow),
		coord:   coord,
		archive: s.opts.Archive,
	}
	if s.opts.Cache != nil {
		sess.local = syncer.AttachLocal(doc, s.opts.Cache, coord, s.opts.FlushInterval)
	} else {
		coord.SetLocalSynced(true)
	}
	// The hub replica is the authority on this node; sessions over it are
	// remote-synced from the start.
	coord.SetRemoteSynced()
	coord.SetConnected(true)

	if s.opts.Store != nil || s.opts.Search != nil {
		s.watchForPersistence(sess)
	}

	s.sessions[docID] = sess
	return sess
}

// watchForPersistence keeps the metadata row and the search index trailing
// the live content. Writes are debounced behind the change stream so a burst
// of keystrokes becomes one upsert. The watcher is torn down with the
// session; a pending flush is stopped rather than fired against a closed
// session.
func (s *Service) watchForPersistence(sess *Session) {
	var mu sync.Mutex
	var timer *time.Timer
	delay := s.opts.FlushInterval
	if delay <= 0 {
		delay = 2 * time.Second
	}

	persist := func() {
		content := sess.doc.Serialize()
		if s.opts.Store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.opts.Store.UpsertDocument(ctx, store.Document{
				ID:      sess.docID,
				Content: content,
			})
			cancel()
			if err != nil {
				log.Printf("app: persist %s: %v", sess.docID, err)
			}
		}
		if s.opts.Search != nil {
			s.opts.Search.IndexDocument(search.DocumentRecord{
				ID:      sess.docID,
				Content: content,
			})
		}
	}

	cancel := sess.doc.Subscribe(func(crdt.Change) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, persist)
	})
	sess.stopPersist = func() {
		cancel()
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
}

// CloseSession releases one document's session: the undo stacks, the
// persistence watcher, and the local cache channel go away; the hub replica
// stays for connected peers. A later Open builds a fresh session.
func (s *Service) CloseSession(docID string) {
	s.mu.Lock()
	sess, ok := s.sessions[docID]
	delete(s.sessions, docID)
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// Sessions lists the ids of the documents currently open on this node.
func (s *Service) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Version fetches one saved version's metadata by id.
func (s *Service) Version(ctx context.Context, id string) (store.Version, error) {
	if s.opts.Archive == nil {
		return store.Version{}, domainError(503, "ARCHIVE_DISABLED", "Version archive not configured", nil)
	}
	return s.opts.Archive.Get(ctx, id)
}

// Search runs a full-text query across documents and versions.
func (s *Service) Search(q search.Query) search.Response {
	if s.opts.Search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.opts.Search.Search(q)
}

// Close releases every session, flushing their caches.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}
