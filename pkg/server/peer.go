package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssenthilnathan3/dist-space/pkg/config"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/wire"
)

// PeerTransport is the TCP implementation of replication.Transport: one
// lazily-dialed, persistent outbound connection per peer, re-dialed on the
// next send after a failure. All sends, to any peer, serialize on one
// transport-wide lock, so frames never interleave.
type PeerTransport struct {
	nodeID string
	logger zerolog.Logger

	mu    sync.Mutex
	addrs map[string]string
	conns map[string]net.Conn
}

// NewPeerTransport creates a transport for the configured peers
func NewPeerTransport(nodeID string, peers []config.Peer) *PeerTransport {
	addrs := make(map[string]string, len(peers))
	for _, p := range peers {
		addrs[p.NodeID] = p.Address
	}
	return &PeerTransport{
		nodeID: nodeID,
		logger: log.WithComponent("peer-transport"),
		addrs:  addrs,
		conns:  make(map[string]net.Conn),
	}
}

// Send delivers one replication message to a peer
func (t *PeerTransport) Send(peerID string, msg any) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connLocked(peerID)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		// Drop the broken connection; the next send re-dials
		conn.Close()
		delete(t.conns, peerID)
		return fmt.Errorf("write to peer %s: %w", peerID, err)
	}
	return nil
}

// Close tears down all peer connections
func (t *PeerTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for peerID, conn := range t.conns {
		conn.Close()
		delete(t.conns, peerID)
	}
}

func (t *PeerTransport) connLocked(peerID string) (net.Conn, error) {
	if conn, ok := t.conns[peerID]; ok {
		return conn, nil
	}

	addr, ok := t.addrs[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown peer %s", types.ErrBadPrecondition, peerID)
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s at %s: %w", peerID, addr, err)
	}

	// Identify ourselves before anything else; the receiving side binds
	// the link to this node ID.
	hello, err := wire.Encode(&wire.PeerHeartbeat{NodeID: t.nodeID, Vector: types.CausalVector{}})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer handshake with %s: %w", peerID, err)
	}

	t.conns[peerID] = conn
	t.logger.Info().Str("peer", peerID).Str("address", addr).Msg("Peer link established")
	return conn, nil
}
