// Package syncer keeps one replicated document consistent across a durable
// local cache channel and an authoritative remote peer channel, and derives
// the single readiness signal the presentation layer sees.
package syncer

import (
	"log"
	"sync"

	"inkwell/engine/internal/crdt"
)

// State is the only sync state visible outside this package.
type State struct {
	Loading   bool `json:"loading"`
	Synced    bool `json:"synced"`
	Connected bool `json:"connected"`
}

// Coordinator folds the two channels' independent event streams into one
// readiness signal. Readiness follows a precedence order, not a symmetric
// AND of the channels:
//
//  1. The remote channel has completed a sync this session: ready. Remote is
//     authoritative, whatever the cache says.
//  2. The cache is synced and the document has content: ready. Fast
//     offline-first path for a previously-seen document.
//  3. The cache is synced but the document is empty: keep waiting, so a
//     brand-new id is not shown empty before the authoritative copy has had
//     a chance to hydrate it.
//  4. The network reported a connection error and the cache is synced:
//     ready, best effort, even when empty.
type Coordinator struct {
	mu  sync.Mutex
	doc crdt.Doc

	remoteSynced bool
	localSynced  bool
	connected    bool
	connectErr   bool

	listeners map[int]func(State)
	nextID    int
	last      *State

	cancelDoc func()
}

func NewCoordinator(doc crdt.Doc) *Coordinator {
	c := &Coordinator{
		doc:       doc,
		listeners: make(map[int]func(State)),
	}
	// Emptiness feeds rule 2 vs 3, so content arrival can flip readiness.
	c.cancelDoc = doc.Subscribe(func(crdt.Change) { c.publish() })
	return c
}

// Close detaches the coordinator from the document.
func (c *Coordinator) Close() {
	if c.cancelDoc != nil {
		c.cancelDoc()
		c.cancelDoc = nil
	}
}

func (c *Coordinator) readyLocked() bool {
	switch {
	case c.remoteSynced:
		return true
	case c.localSynced && c.doc.Len() > 0:
		return true
	case c.connectErr && c.localSynced:
		return true
	default:
		return false
	}
}

// State reports the current derived signals.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	ready := c.readyLocked()
	return State{Loading: !ready, Synced: ready, Connected: c.connected}
}

// OnChange registers a listener fired whenever any signal flips. The current
// state is delivered immediately.
func (c *Coordinator) OnChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	st := c.stateLocked()
	c.mu.Unlock()
	fn(st)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// publish emits the state to listeners when it changed since the last emit.
func (c *Coordinator) publish() {
	c.mu.Lock()
	st := c.stateLocked()
	if c.last != nil && *c.last == st {
		c.mu.Unlock()
		return
	}
	c.last = &st
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// SetLocalSynced records whether the document matches what was last flushed
// to durable storage.
func (c *Coordinator) SetLocalSynced(ok bool) {
	c.mu.Lock()
	c.localSynced = ok
	c.mu.Unlock()
	c.publish()
}

// SetRemoteSynced latches "received the authoritative state at least once
// this session". It never unlatches; a later disconnect degrades Connected
// only.
func (c *Coordinator) SetRemoteSynced() {
	c.mu.Lock()
	c.remoteSynced = true
	c.connectErr = false
	c.mu.Unlock()
	c.publish()
}

// SetConnected tracks the network channel's link state.
func (c *Coordinator) SetConnected(ok bool) {
	c.mu.Lock()
	c.connected = ok
	if ok {
		c.connectErr = false
	}
	c.mu.Unlock()
	c.publish()
}

// ReportConnectionError degrades to best-effort offline mode. It is never
// propagated as an error to callers; the Connected signal is the only trace.
func (c *Coordinator) ReportConnectionError(err error) {
	log.Printf("sync: %s: connection error: %v", c.doc.ID(), err)
	c.mu.Lock()
	c.connectErr = true
	c.connected = false
	c.mu.Unlock()
	c.publish()
}
