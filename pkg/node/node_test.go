package node

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssenthilnathan3/dist-space/pkg/config"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/session"
	"github.com/ssenthilnathan3/dist-space/pkg/storage"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/wire"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

// loopback wires two nodes directly: every send is handed to the target
// node on a new goroutine.
type loopback struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func (l *loopback) Send(peerID string, msg any) error {
	l.mu.Lock()
	target := l.nodes[peerID]
	l.mu.Unlock()
	if target == nil {
		return nil
	}
	// The sender's identity is implicit in the mesh: direct forwards come
	// from the op's origin, heartbeats and repair requests name themselves.
	from := ""
	switch m := msg.(type) {
	case *wire.OpCommit:
		from = m.OriginNode
	case *wire.PeerHeartbeat:
		from = m.NodeID
	case *wire.AntiEntropyRequest:
		from = m.NodeID
	}
	go target.HandlePeerMessage(from, msg)
	return nil
}

func newTestNode(t *testing.T, id string, net *loopback, peerIDs ...string) *Node {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = id
	for _, p := range peerIDs {
		cfg.Peers = append(cfg.Peers, config.Peer{NodeID: p, Address: p})
	}

	n, err := New(cfg, storage.NewMemStore(), net)
	require.NoError(t, err)
	n.Start()
	t.Cleanup(func() { _ = n.Stop() })

	net.mu.Lock()
	net.nodes[id] = n
	net.mu.Unlock()
	return n
}

func TestEndToEndTwoNodes(t *testing.T) {
	net := &loopback{nodes: make(map[string]*Node)}
	n1 := newTestNode(t, "node-1", net, "node-2")
	n2 := newTestNode(t, "node-2", net, "node-1")

	// Create the workspace entry on both nodes via replicated fs op
	require.NoError(t, n1.Serializer().SubmitFSOp(types.FileSystemOp{
		Kind: types.FSCreate, Path: "/shared.txt",
	}, false))

	require.Eventually(t, func() bool {
		_, err := n2.Workspace().Resolve("/shared.txt")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// A client on node-1 edits through the full session pipeline
	sessA, err := n1.Sessions().Connect("alice", false)
	require.NoError(t, err)
	require.NoError(t, n1.Sessions().Subscribe(sessA.ID, "/shared.txt", 0))

	rec, err := n1.Sessions().Submit(sessA.ID, "/shared.txt", 0, types.Operation{
		Kind: types.OpInsert, Position: 0, Text: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Seq)

	// The committed op reaches the local subscriber after the subscribe
	// snapshot
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sessA.Outbound():
			if msg.Kind == session.MsgSnapshot {
				continue
			}
			assert.Equal(t, session.MsgCommitted, msg.Kind)
			assert.Equal(t, uint64(1), msg.Seq)
		case <-deadline:
			t.Fatal("local subscriber never saw the commit")
		}
		break
	}

	// And the edit replicates to node-2
	require.Eventually(t, func() bool {
		entry, err := n2.Workspace().Resolve("/shared.txt")
		if err != nil {
			return false
		}
		entry.Mu.Lock()
		defer entry.Mu.Unlock()
		return entry.Doc.Content == "hello"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentEditsAcrossNodesConverge(t *testing.T) {
	net := &loopback{nodes: make(map[string]*Node)}
	n1 := newTestNode(t, "node-1", net, "node-2")
	n2 := newTestNode(t, "node-2", net, "node-1")

	_, err := n1.Workspace().CreateFile("/doc.txt", false, "")
	require.NoError(t, err)
	_, err = n2.Workspace().CreateFile("/doc.txt", false, "")
	require.NoError(t, err)

	sessA, err := n1.Sessions().Connect("alice", false)
	require.NoError(t, err)
	sessB, err := n2.Sessions().Connect("bob", false)
	require.NoError(t, err)

	_, err = n1.Sessions().Submit(sessA.ID, "/doc.txt", 0, types.Operation{
		Kind: types.OpInsert, Position: 0, Text: "AA",
	})
	require.NoError(t, err)
	_, err = n2.Sessions().Submit(sessB.ID, "/doc.txt", 0, types.Operation{
		Kind: types.OpInsert, Position: 0, Text: "BB",
	})
	require.NoError(t, err)

	read := func(n *Node) string {
		entry, err := n.Workspace().Resolve("/doc.txt")
		require.NoError(t, err)
		entry.Mu.Lock()
		defer entry.Mu.Unlock()
		return entry.Doc.Content
	}

	require.Eventually(t, func() bool {
		return read(n1) == "AABB" && read(n2) == "AABB"
	}, 3*time.Second, 10*time.Millisecond, "tie-break orders node-1 before node-2 on both nodes")
}

func TestRestartRestoresDocuments(t *testing.T) {
	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.NodeID = "node-1"

	store, err := storage.NewBoltStore(dataDir)
	require.NoError(t, err)

	n, err := New(cfg, store, nullNet{})
	require.NoError(t, err)
	n.Start()

	_, err = n.Workspace().CreateFile("/kept.txt", false, "")
	require.NoError(t, err)
	for i, text := range []string{"a", "b", "c"} {
		_, err := n.Serializer().Submit("/kept.txt", types.Operation{
			Kind: types.OpInsert, OriginNode: "node-1", OriginSeq: uint64(i + 1),
			BaseVersion: uint64(i), Position: i, Text: text,
		})
		require.NoError(t, err)
	}
	require.NoError(t, n.Stop())

	// A fresh node over the same stores replays back to the same state
	store, err = storage.NewBoltStore(dataDir)
	require.NoError(t, err)
	n2, err := New(cfg, store, nullNet{})
	require.NoError(t, err)
	n2.Start()
	t.Cleanup(func() { _ = n2.Stop() })

	entry, err := n2.Workspace().Resolve("/kept.txt")
	require.NoError(t, err)
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	assert.Equal(t, uint64(3), entry.Doc.Version)
	assert.Equal(t, "abc", entry.Doc.Content)
}

type nullNet struct{}

func (nullNet) Send(string, any) error { return nil }

func TestAgentSessionReadsRecentOps(t *testing.T) {
	net := &loopback{nodes: make(map[string]*Node)}
	n1 := newTestNode(t, "node-1", net)

	_, err := n1.Workspace().CreateFile("/doc.txt", false, "")
	require.NoError(t, err)

	human, err := n1.Sessions().Connect("carol", false)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := n1.Sessions().Submit(human.ID, "/doc.txt", uint64(i), types.Operation{
			Kind: types.OpInsert, Position: 0, Text: "x",
		})
		require.NoError(t, err)
	}

	agent, err := n1.Sessions().Connect("refactor-bot", true)
	require.NoError(t, err)

	ops, err := n1.Sessions().RecentOps(agent.ID, "/doc.txt", 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, uint64(3), ops[0].Seq)
	assert.Equal(t, uint64(4), ops[1].Seq)

	// The agent's patch goes through the same serializer as everyone else
	rec, err := n1.Sessions().Submit(agent.ID, "/doc.txt", 4, types.Operation{
		Kind: types.OpInsert, Position: 4, Text: "!",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Seq)
}
