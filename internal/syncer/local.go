package syncer

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"inkwell/engine/internal/crdt"
)

var opLogBucket = []byte("oplogs")

// Cache is the durable local store: the full replicated operation log keyed
// by document id, independent of the remote store. It survives restarts and
// may be empty for an id never seen on this device.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) the cache file.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(opLogBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Load returns the stored op log for the id, nil when the id is unseen.
func (c *Cache) Load(docID string) ([]crdt.Op, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(opLogBucket).Get([]byte(docID)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load op log: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var ops []crdt.Op
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("decode op log for %s: %w", docID, err)
	}
	return ops, nil
}

// Store replaces the id's op log.
func (c *Cache) Store(docID string, ops []crdt.Op) error {
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode op log for %s: %w", docID, err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(opLogBucket).Put([]byte(docID), raw)
	})
	if err != nil {
		return fmt.Errorf("store op log: %w", err)
	}
	return nil
}

// Delete drops the id's op log.
func (c *Cache) Delete(docID string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(opLogBucket).Delete([]byte(docID))
	})
	if err != nil {
		return fmt.Errorf("delete op log: %w", err)
	}
	return nil
}

// LocalChannel hydrates a document from the cache on attach and flushes it
// back, debounced, after every change. Its synced signal means "the document
// matches what was last flushed".
type LocalChannel struct {
	cache *Cache
	doc   crdt.Doc
	coord *Coordinator
	delay time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	cancel func()
}

// AttachLocal loads the cached op log into doc, merges it, and starts the
// flush loop. A load failure degrades to an empty cache rather than failing
// the attach: worst case is a slower first sync, never a broken document.
func AttachLocal(doc crdt.Doc, cache *Cache, coord *Coordinator, flushDelay time.Duration) *LocalChannel {
	if flushDelay <= 0 {
		flushDelay = 200 * time.Millisecond
	}
	ch := &LocalChannel{cache: cache, doc: doc, coord: coord, delay: flushDelay}

	ops, err := cache.Load(doc.ID())
	if err != nil {
		log.Printf("sync: %s: cache load failed, starting empty: %v", doc.ID(), err)
	} else if len(ops) > 0 {
		doc.Merge(ops)
	}
	coord.SetLocalSynced(true)

	ch.cancel = doc.Subscribe(func(crdt.Change) { ch.markDirty() })
	return ch
}

func (ch *LocalChannel) markDirty() {
	ch.coord.SetLocalSynced(false)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.timer = time.AfterFunc(ch.delay, func() {
		if err := ch.Flush(); err != nil {
			log.Printf("sync: %s: cache flush failed: %v", ch.doc.ID(), err)
		}
	})
}

// Flush writes the current op log to the cache immediately.
func (ch *LocalChannel) Flush() error {
	if err := ch.cache.Store(ch.doc.ID(), ch.doc.Export()); err != nil {
		return err
	}
	ch.coord.SetLocalSynced(true)
	return nil
}

// Close stops the flush loop after one final synchronous flush.
func (ch *LocalChannel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.mu.Unlock()
	if ch.cancel != nil {
		ch.cancel()
	}
	return ch.Flush()
}
