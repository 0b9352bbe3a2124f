package syncer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"inkwell/engine/internal/crdt"
)

func startHubServer(t *testing.T, rdb *redis.Client) (*HubServer, string) {
	t.Helper()
	hs := NewHubServer("node-test", rdb)
	t.Cleanup(hs.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		docID := strings.TrimPrefix(r.URL.Path, "/ws/")
		hs.ServeWS(w, r, docID)
	}))
	t.Cleanup(srv.Close)
	return hs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRemoteChannelSyncsThroughHub(t *testing.T) {
	_, base := startHubServer(t, nil)

	// Peer A edits, peer B receives through the hub.
	docA := crdt.NewText("doc-1", "alice")
	coordA := NewCoordinator(docA)
	defer coordA.Close()
	chA := AttachRemote(docA, coordA, base+"/ws/doc-1")
	defer chA.Close()

	docB := crdt.NewText("doc-1", "bob")
	coordB := NewCoordinator(docB)
	defer coordB.Close()
	chB := AttachRemote(docB, coordB, base+"/ws/doc-1")
	defer chB.Close()

	waitFor(t, "both peers synced", func() bool {
		return coordA.State().Synced && coordB.State().Synced
	})

	if err := docA.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(0, "hello from alice")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "edit to reach peer B", func() bool {
		return docB.Serialize() == "hello from alice"
	})

	// B's edit must arrive at A tagged as a remote merge.
	var sawRemote atomic.Bool
	docA.Subscribe(func(ch crdt.Change) {
		if ch.Origin == crdt.OriginRemote {
			sawRemote.Store(true)
		}
	})
	if err := docB.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(m.Len(), " and bob")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "edit to reach peer A", func() bool {
		return docA.Serialize() == docB.Serialize() && sawRemote.Load()
	})
}

func TestServerEditReachesConnectedPeer(t *testing.T) {
	// Edits applied to the hub's own replica (the path every server-side
	// session takes) must fan out to live peers without a reconnect.
	hs, base := startHubServer(t, nil)

	docA := crdt.NewText("doc-1", "alice")
	coordA := NewCoordinator(docA)
	defer coordA.Close()
	chA := AttachRemote(docA, coordA, base+"/ws/doc-1")
	defer chA.Close()

	waitFor(t, "peer synced", func() bool {
		return coordA.State().Synced
	})

	hubDoc := hs.Hub("doc-1").Doc()
	if err := hubDoc.ApplyTagged(crdt.OriginAI, func(m crdt.Mutator) error {
		m.Insert(0, "server-side edit")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "server edit to reach the peer", func() bool {
		return docA.Serialize() == "server-side edit"
	})
}

func TestServerEditCrossesNodesViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	hsA, _ := startHubServer(t, rdbA)
	hsB, baseB := startHubServer(t, rdbB)
	hsB.nodeID = "node-b"

	docB := crdt.NewText("doc-1", "bob")
	coordB := NewCoordinator(docB)
	defer coordB.Close()
	chB := AttachRemote(docB, coordB, baseB+"/ws/doc-1")
	defer chB.Close()

	waitFor(t, "peer synced", func() bool {
		return coordB.State().Synced
	})

	// A session edit on node A must reach node B's peer through the relay.
	if err := hsA.Hub("doc-1").Doc().ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(0, "from node a")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "server edit to cross nodes", func() bool {
		return docB.Serialize() == "from node a"
	})
}

func TestRemoteChannelReportsConnectionError(t *testing.T) {
	doc := crdt.NewText("doc-1", "alice")
	coord := NewCoordinator(doc)
	defer coord.Close()
	coord.SetLocalSynced(true)

	ch := AttachRemote(doc, coord, "ws://127.0.0.1:1/ws/doc-1")
	defer ch.Close()

	// Failure degrades to offline mode without ever surfacing an error.
	waitFor(t, "offline fallback", func() bool {
		st := coord.State()
		return st.Synced && !st.Connected
	})
}

func TestHubRelaysAcrossNodesViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	hsA, baseA := startHubServer(t, rdbA)
	hsB, baseB := startHubServer(t, rdbB)
	// Distinct node ids matter for relay filtering.
	hsB.nodeID = "node-b"
	_ = hsA

	docA := crdt.NewText("doc-1", "alice")
	coordA := NewCoordinator(docA)
	defer coordA.Close()
	chA := AttachRemote(docA, coordA, baseA+"/ws/doc-1")
	defer chA.Close()

	docB := crdt.NewText("doc-1", "bob")
	coordB := NewCoordinator(docB)
	defer coordB.Close()
	chB := AttachRemote(docB, coordB, baseB+"/ws/doc-1")
	defer chB.Close()

	waitFor(t, "both peers synced", func() bool {
		return coordA.State().Synced && coordB.State().Synced
	})

	if err := docA.ApplyTagged(crdt.OriginUser, func(m crdt.Mutator) error {
		m.Insert(0, "cross-node")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "edit to cross nodes", func() bool {
		return docB.Serialize() == "cross-node"
	})
}
