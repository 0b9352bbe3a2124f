package syncer

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"inkwell/engine/internal/crdt"
)

// wire message types exchanged with the document hub.
const (
	msgSnapshot = "snapshot"
	msgOps      = "ops"
)

type wireMsg struct {
	Type string    `json:"type"`
	Ops  []crdt.Op `json:"ops,omitempty"`
}

// RemoteChannel connects a document to its hub over a websocket. On connect
// the hub sends the authoritative snapshot; the channel merges it, latches
// remote-synced on the coordinator, and pushes the full local log back so
// offline edits reach the hub. Afterwards it relays ops both ways. Lost
// connections are retried with exponential backoff and only ever surface
// through the Connected signal.
type RemoteChannel struct {
	url   string
	doc   crdt.Doc
	coord *Coordinator

	mu      sync.Mutex
	pending []crdt.Op
	conn    *websocket.Conn

	notify chan struct{}
	done   chan struct{}
	cancel func()
}

// AttachRemote starts the channel. url is the hub's websocket endpoint for
// this document id.
func AttachRemote(doc crdt.Doc, coord *Coordinator, url string) *RemoteChannel {
	ch := &RemoteChannel{
		url:    url,
		doc:    doc,
		coord:  coord,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	ch.cancel = doc.Subscribe(func(c crdt.Change) {
		if c.Origin == crdt.OriginRemote {
			return
		}
		ch.enqueue(c.Ops)
	})
	go ch.run()
	return ch
}

// Close tears the channel down; in-flight sends are abandoned.
func (ch *RemoteChannel) Close() {
	ch.cancel()
	close(ch.done)
	ch.mu.Lock()
	if ch.conn != nil {
		_ = ch.conn.Close()
	}
	ch.mu.Unlock()
}

func (ch *RemoteChannel) enqueue(ops []crdt.Op) {
	if len(ops) == 0 {
		return
	}
	ch.mu.Lock()
	ch.pending = append(ch.pending, ops...)
	ch.mu.Unlock()
	select {
	case ch.notify <- struct{}{}:
	default:
	}
}

func (ch *RemoteChannel) takePending() []crdt.Op {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ops := ch.pending
	ch.pending = nil
	return ops
}

func (ch *RemoteChannel) run() {
	for {
		select {
		case <-ch.done:
			return
		default:
		}

		conn, err := ch.dial()
		if err != nil {
			return // only on shutdown
		}
		ch.mu.Lock()
		ch.conn = conn
		ch.mu.Unlock()
		ch.coord.SetConnected(true)

		ch.serve(conn)

		ch.mu.Lock()
		ch.conn = nil
		ch.mu.Unlock()
		ch.coord.SetConnected(false)
	}
}

// dial retries with exponential backoff until connected or shut down. Every
// failed attempt is reported as a connection error so readiness can degrade
// to the offline path while we keep trying.
func (ch *RemoteChannel) dial() (*websocket.Conn, error) {
	var conn *websocket.Conn
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		select {
		case <-ch.done:
			return backoff.Permanent(errShutdown)
		default:
		}
		c, _, err := websocket.DefaultDialer.Dial(ch.url, nil)
		if err != nil {
			ch.coord.ReportConnectionError(err)
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var errShutdown = &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "shutdown"}

// serve runs one connection until it drops.
func (ch *RemoteChannel) serve(conn *websocket.Conn) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wireMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Printf("sync: %s: bad hub message: %v", ch.doc.ID(), err)
				continue
			}
			switch msg.Type {
			case msgSnapshot:
				ch.doc.Merge(msg.Ops)
				ch.coord.SetRemoteSynced()
				// Queue our full log so the hub learns edits made
				// while offline; merge is idempotent there. The
				// write loop owns the connection, so enqueue.
				ch.enqueue(ch.doc.Export())
			case msgOps:
				ch.doc.Merge(msg.Ops)
			}
		}
	}()

	for {
		select {
		case <-ch.done:
			_ = conn.Close()
			<-readDone
			return
		case <-readDone:
			return
		case <-ch.notify:
			if ops := ch.takePending(); len(ops) > 0 {
				if !ch.send(conn, wireMsg{Type: msgOps, Ops: ops}) {
					// Requeue so the next connection delivers them.
					ch.enqueue(ops)
					<-readDone
					return
				}
			}
		}
	}
}

func (ch *RemoteChannel) send(conn *websocket.Conn, msg wireMsg) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("sync: %s: encode message: %v", ch.doc.ID(), err)
		return true
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return false
	}
	return true
}
