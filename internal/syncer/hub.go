package syncer

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"inkwell/engine/internal/crdt"
)

// relayEnvelope is what hubs publish to redis so sibling server nodes can
// rebroadcast; Node filters out our own publications.
type relayEnvelope struct {
	Node string    `json:"node"`
	Ops  []crdt.Op `json:"ops"`
}

func relayChannel(docID string) string { return "inkwell:doc:" + docID }

// hubClient is one connected peer. Writes are funneled through a buffered
// send channel; a slow client is dropped rather than stalling the hub.
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *hubClient) writePump() {
	defer c.conn.Close()
	for raw := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

// Hub holds the authoritative replica for one document id and fans ops out
// to every connected peer, plus sibling nodes via redis pub/sub.
type Hub struct {
	docID  string
	doc    *crdt.Text
	nodeID string
	rdb    *redis.Client

	mu      sync.Mutex
	clients map[*hubClient]struct{}

	cancelSub    context.CancelFunc
	cancelDocSub func()
}

func newHub(ctx context.Context, docID, nodeID string, rdb *redis.Client, seed []crdt.Op) *Hub {
	h := &Hub{
		docID:   docID,
		doc:     crdt.NewText(docID, "hub:"+nodeID),
		nodeID:  nodeID,
		rdb:     rdb,
		clients: make(map[*hubClient]struct{}),
	}
	if len(seed) > 0 {
		h.doc.Merge(seed)
	}
	// Edits applied to the replica on this node (sessions, restores, undo
	// replay) fan out to peers the same way peer ops do. Peer and relay ops
	// arrive through Merge and carry OriginRemote, so this cannot echo.
	h.cancelDocSub = h.doc.Subscribe(func(ch crdt.Change) {
		if ch.Origin == crdt.OriginRemote {
			return
		}
		h.broadcast(ch.Ops, nil)
		h.publish(ctx, ch.Ops)
	})
	if rdb != nil {
		subCtx, cancel := context.WithCancel(ctx)
		h.cancelSub = cancel
		go h.relayLoop(subCtx)
	}
	return h
}

// Doc exposes the authoritative replica, e.g. for archive snapshots.
func (h *Hub) Doc() *crdt.Text { return h.doc }

// relayLoop applies ops published by sibling nodes and rebroadcasts them to
// local peers.
func (h *Hub) relayLoop(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, relayChannel(h.docID))
	defer pubsub.Close()
	for msg := range pubsub.Channel() {
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("hub: %s: bad relay payload: %v", h.docID, err)
			continue
		}
		if env.Node == h.nodeID {
			continue
		}
		h.doc.Merge(env.Ops)
		h.broadcast(env.Ops, nil)
	}
}

// broadcast sends ops to every local client except the source.
func (h *Hub) broadcast(ops []crdt.Op, except *hubClient) {
	if len(ops) == 0 {
		return
	}
	raw, err := json.Marshal(wireMsg{Type: msgOps, Ops: ops})
	if err != nil {
		log.Printf("hub: %s: encode broadcast: %v", h.docID, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c == except {
			continue
		}
		select {
		case c.send <- raw:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// publish forwards ops to sibling nodes over the redis relay.
func (h *Hub) publish(ctx context.Context, ops []crdt.Op) {
	if h.rdb == nil || len(ops) == 0 {
		return
	}
	env, err := json.Marshal(relayEnvelope{Node: h.nodeID, Ops: ops})
	if err != nil {
		log.Printf("hub: %s: encode relay envelope: %v", h.docID, err)
		return
	}
	if err := h.rdb.Publish(ctx, relayChannel(h.docID), env).Err(); err != nil {
		log.Printf("hub: %s: relay publish failed: %v", h.docID, err)
	}
}

func (h *Hub) add(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("hub: %s: peer connected (%d total)", h.docID, n)
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("hub: %s: peer disconnected (%d total)", h.docID, n)
}

// serve runs one peer connection: snapshot first, then relay both ways.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn) {
	client := &hubClient{conn: conn, send: make(chan []byte, 64)}
	h.add(client)
	go client.writePump()

	snap, err := json.Marshal(wireMsg{Type: msgSnapshot, Ops: h.doc.Export()})
	if err == nil {
		client.send <- snap
	}

	defer h.remove(client)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("hub: %s: bad peer message: %v", h.docID, err)
			continue
		}
		if msg.Type != msgOps || len(msg.Ops) == 0 {
			continue
		}
		h.doc.Merge(msg.Ops)
		h.broadcast(msg.Ops, client)
		h.publish(ctx, msg.Ops)
	}
}

func (h *Hub) close() {
	if h.cancelDocSub != nil {
		h.cancelDocSub()
	}
	if h.cancelSub != nil {
		h.cancelSub()
	}
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// HubServer owns one hub per document id, created on first connect.
type HubServer struct {
	nodeID string
	rdb    *redis.Client

	// Seed, when set, provides the initial operation log for a hub that is
	// being created for a document id seen for the first time.
	Seed func(docID string) []crdt.Op

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	hubs map[string]*Hub

	upgrader websocket.Upgrader
}

// NewHubServer creates the server. rdb may be nil for single-node setups.
func NewHubServer(nodeID string, rdb *redis.Client) *HubServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HubServer{
		nodeID: nodeID,
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(map[string]*Hub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Hub returns the hub for the id, creating it when absent. Hub lifetimes are
// tied to the server, not to the request that first touched them.
func (s *HubServer) Hub(docID string) *Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[docID]
	if !ok {
		var seed []crdt.Op
		if s.Seed != nil {
			seed = s.Seed(docID)
		}
		h = newHub(s.ctx, docID, s.nodeID, s.rdb, seed)
		s.hubs[docID] = h
	}
	return h
}

// ServeWS upgrades the request and attaches the peer to the document's hub.
func (s *HubServer) ServeWS(w http.ResponseWriter, r *http.Request, docID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: %s: upgrade failed: %v", docID, err)
		return
	}
	s.Hub(docID).serve(s.ctx, conn)
}

// Close shuts every hub down.
func (s *HubServer) Close() {
	s.cancel()
	s.mu.Lock()
	hubs := s.hubs
	s.hubs = make(map[string]*Hub)
	s.mu.Unlock()
	for _, h := range hubs {
		h.close()
	}
}
