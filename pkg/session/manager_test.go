package session

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssenthilnathan3/dist-space/pkg/events"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/serializer"
	"github.com/ssenthilnathan3/dist-space/pkg/snapshot"
	"github.com/ssenthilnathan3/dist-space/pkg/storage"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/workspace"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

type fixture struct {
	ws     *workspace.Workspace
	broker *events.Broker
	ser    *serializer.Serializer
	mgr    *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := storage.NewMemStore()
	ws := workspace.New(store, 1000)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	ser := serializer.New("node-1", ws, broker, snapshot.NewManager(store, 100))
	mgr := NewManager("node-1", ws, ser, broker, cfg)
	mgr.Start()
	t.Cleanup(mgr.Stop)
	return &fixture{ws: ws, broker: broker, ser: ser, mgr: mgr}
}

func waitMessage(t *testing.T, sess *Session) Message {
	t.Helper()
	select {
	case msg, ok := <-sess.Outbound():
		require.True(t, ok, "outbound closed while waiting")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return Message{}
	}
}

func TestSubscribeSendsSnapshot(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.ws.CreateFile("/doc.txt", false, "current")
	require.NoError(t, err)

	sess, err := f.mgr.Connect("client-a", false)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Subscribe(sess.ID, "/doc.txt", 0))

	msg := waitMessage(t, sess)
	assert.Equal(t, MsgSnapshot, msg.Kind)
	assert.Equal(t, "current", msg.Content)
}

func TestSubscribeCatchUpFromBaseVersion(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.ws.CreateFile("/doc.txt", false, "")
	require.NoError(t, err)

	writer, err := f.mgr.Connect("writer", false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.mgr.Submit(writer.ID, "/doc.txt", uint64(i), types.Operation{
			Kind: types.OpInsert, Position: 0, Text: "x",
		})
		require.NoError(t, err)
	}

	reader, err := f.mgr.Connect("reader", false)
	require.NoError(t, err)
	require.NoError(t, f.mgr.Subscribe(reader.ID, "/doc.txt", 2))

	// Catch-up is the log suffix (2, 5] as committed ops
	for want := uint64(3); want <= 5; want++ {
		msg := waitMessage(t, reader)
		require.Equal(t, MsgCommitted, msg.Kind)
		assert.Equal(t, want, msg.Seq)
	}
}

func TestBroadcastReachesSubscribersInOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.ws.CreateFile("/doc.txt", false, "")
	require.NoError(t, err)

	a, err := f.mgr.Connect("a", false)
	require.NoError(t, err)
	b, err := f.mgr.Connect("b", false)
	require.NoError(t, err)
	require.NoError(t, f.mgr.Subscribe(a.ID, "/doc.txt", 0))
	require.NoError(t, f.mgr.Subscribe(b.ID, "/doc.txt", 0))

	for i := 0; i < 8; i++ {
		_, err := f.mgr.Submit(a.ID, "/doc.txt", uint64(i), types.Operation{
			Kind: types.OpInsert, Position: 0, Text: "x",
		})
		require.NoError(t, err)
	}

	for _, sess := range []*Session{a, b} {
		var last uint64
		for seq := uint64(1); seq <= 8; seq++ {
			msg := waitMessage(t, sess)
			if msg.Kind == MsgSnapshot {
				// Initial subscribe snapshot precedes the commit stream
				msg = waitMessage(t, sess)
			}
			require.Equal(t, MsgCommitted, msg.Kind)
			assert.Equal(t, last+1, msg.Seq, "gap-free increasing seq per subscriber")
			last = msg.Seq
		}
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutboundQueue = 4
	f := newFixture(t, cfg)
	_, err := f.ws.CreateFile("/doc.txt", false, "")
	require.NoError(t, err)

	slow, err := f.mgr.Connect("slow", false)
	require.NoError(t, err)
	healthy, err := f.mgr.Connect("healthy", false)
	require.NoError(t, err)
	writer, err := f.mgr.Connect("writer", false)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Subscribe(slow.ID, "/doc.txt", 0))
	require.NoError(t, f.mgr.Subscribe(healthy.ID, "/doc.txt", 0))

	// The healthy consumer drains as commits arrive; the slow one never does
	received := make(chan uint64, 64)
	go func() {
		for msg := range healthy.Outbound() {
			if msg.Kind == MsgCommitted {
				received <- msg.Seq
			}
		}
		close(received)
	}()

	total := cfg.MaxOutboundQueue + 3
	for i := 0; i < total; i++ {
		_, err := f.mgr.Submit(writer.ID, "/doc.txt", uint64(i), types.Operation{
			Kind: types.OpInsert, Position: 0, Text: "x",
		})
		require.NoError(t, err)

		select {
		case seq := <-received:
			assert.Equal(t, uint64(i+1), seq, "healthy session keeps receiving commits in order")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for healthy session commit")
		}
	}

	require.Eventually(t, func() bool {
		_, err := f.mgr.Get(slow.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "slow session should be dropped")

	// Subsequent submissions from the dropped session are rejected
	_, err = f.mgr.Submit(slow.ID, "/doc.txt", 0, types.Operation{Kind: types.OpInsert, Text: "y"})
	assert.ErrorIs(t, err, types.ErrSessionClosed)
}

func TestHeartbeatTimeoutReapsSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.SessionTimeout = 60 * time.Millisecond
	f := newFixture(t, cfg)

	sess, err := f.mgr.Connect("quiet", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := f.mgr.Get(sess.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.SessionTimeout = 60 * time.Millisecond
	f := newFixture(t, cfg)

	sess, err := f.mgr.Connect("lively", false)
	require.NoError(t, err)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, f.mgr.Heartbeat(sess.ID))
		time.Sleep(10 * time.Millisecond)
	}

	_, err = f.mgr.Get(sess.ID)
	assert.NoError(t, err)
}

func TestConnectionCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 2
	f := newFixture(t, cfg)

	_, err := f.mgr.Connect("one", false)
	require.NoError(t, err)
	_, err = f.mgr.Connect("two", false)
	require.NoError(t, err)

	_, err = f.mgr.Connect("three", false)
	assert.ErrorIs(t, err, types.ErrBadPrecondition)
}

func TestRecentOpsSuffix(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.ws.CreateFile("/doc.txt", false, "")
	require.NoError(t, err)

	agent, err := f.mgr.Connect("agent-1", true)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := f.mgr.Submit(agent.ID, "/doc.txt", uint64(i), types.Operation{
			Kind: types.OpInsert, Position: 0, Text: "x",
		})
		require.NoError(t, err)
	}

	ops, err := f.mgr.RecentOps(agent.ID, "/doc.txt", 3)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, uint64(4), ops[0].Seq)
	assert.Equal(t, uint64(6), ops[2].Seq)

	ops, err = f.mgr.RecentOps(agent.ID, "/doc.txt", 100)
	require.NoError(t, err)
	assert.Len(t, ops, 6)
}
