// Package undo groups origin-tagged document mutations into undo steps.
package undo

import (
	"sync"
	"time"

	"inkwell/engine/internal/crdt"
)

// DefaultCaptureWindow is how long a grouped action stays open for
// extension by further mutations from the same origin.
const DefaultCaptureWindow = 500 * time.Millisecond

type group struct {
	origin crdt.Origin
	ops    []crdt.Op
	last   time.Time
}

// Manager observes a document's change stream and maintains undo/redo stacks
// of grouped actions. It tracks only the local session's origins; operations
// merged in from remote replicas are never captured, so undo can never revert
// another writer's change.
type Manager struct {
	mu     sync.Mutex
	doc    crdt.Doc
	window time.Duration

	tracked map[crdt.Origin]bool
	current *group
	undos   []*group
	redos   []*group

	cancel func()
	now    func() time.Time
}

// New attaches a manager to doc. A non-positive window uses the default.
func New(doc crdt.Doc, window time.Duration) *Manager {
	if window <= 0 {
		window = DefaultCaptureWindow
	}
	m := &Manager{
		doc:    doc,
		window: window,
		tracked: map[crdt.Origin]bool{
			crdt.OriginUser:   true,
			crdt.OriginAI:     true,
			crdt.OriginSystem: true,
		},
		now: time.Now,
	}
	m.cancel = doc.Subscribe(m.observe)
	return m
}

// Close detaches the manager from the document's change stream.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Manager) observe(ch crdt.Change) {
	if len(ch.Ops) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tracked[ch.Origin] {
		return
	}

	now := m.now()
	if m.current != nil && m.current.origin == ch.Origin && now.Sub(m.current.last) <= m.window {
		m.current.ops = append(m.current.ops, ch.Ops...)
		m.current.last = now
	} else {
		m.commitLocked()
		m.current = &group{origin: ch.Origin, ops: append([]crdt.Op(nil), ch.Ops...), last: now}
	}
	// Any new tracked mutation invalidates the redo history.
	m.redos = nil
}

func (m *Manager) commitLocked() {
	if m.current != nil {
		m.undos = append(m.undos, m.current)
		m.current = nil
	}
}

// Depth reports the number of undoable steps, the open capture group included.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.undos)
	if m.current != nil {
		n++
	}
	return n
}

// Undo reverts the most recent grouped action. Returns false when there is
// nothing to undo.
func (m *Manager) Undo() bool {
	m.mu.Lock()
	m.commitLocked()
	if len(m.undos) == 0 {
		m.mu.Unlock()
		return false
	}
	g := m.undos[len(m.undos)-1]
	m.undos = m.undos[:len(m.undos)-1]
	m.mu.Unlock()

	// Invert emits OriginHistory, which observe ignores, so the redo stack
	// set below survives.
	inv := m.doc.Invert(g.ops)

	m.mu.Lock()
	m.redos = append(m.redos, &group{origin: g.origin, ops: inv})
	m.mu.Unlock()
	return true
}

// Redo re-applies the most recently undone action.
func (m *Manager) Redo() bool {
	m.mu.Lock()
	if len(m.redos) == 0 {
		m.mu.Unlock()
		return false
	}
	g := m.redos[len(m.redos)-1]
	m.redos = m.redos[:len(m.redos)-1]
	m.mu.Unlock()

	inv := m.doc.Invert(g.ops)

	m.mu.Lock()
	m.undos = append(m.undos, &group{origin: g.origin, ops: inv})
	m.mu.Unlock()
	return true
}
