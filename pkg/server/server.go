package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/node"
	"github.com/ssenthilnathan3/dist-space/pkg/session"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/wire"
)

// Server is the TCP front end of a node: it accepts client connections on
// the listen address and peer connections on the peer address, translating
// frames into session-manager and replication calls. All protocol logic
// lives behind it.
type Server struct {
	node   *node.Node
	logger zerolog.Logger

	clientLis net.Listener
	peerLis   net.Listener

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewServer creates a server for a node
func NewServer(n *node.Node) *Server {
	return &Server{
		node:   n,
		logger: log.WithComponent("server"),
	}
}

// Start begins accepting on both listeners
func (s *Server) Start(listenAddr, peerAddr string) error {
	clientLis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	peerLis, err := net.Listen("tcp", peerAddr)
	if err != nil {
		clientLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", peerAddr, err)
	}

	s.clientLis = clientLis
	s.peerLis = peerLis

	s.wg.Add(2)
	go s.acceptLoop(clientLis, s.handleClient)
	go s.acceptLoop(peerLis, s.handlePeer)

	s.logger.Info().
		Str("listen_addr", clientLis.Addr().String()).
		Str("peer_addr", peerLis.Addr().String()).
		Msg("Server listening")
	return nil
}

// Stop closes the listeners and waits for connection handlers to drain
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.clientLis != nil {
		s.clientLis.Close()
	}
	if s.peerLis != nil {
		s.peerLis.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(lis net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.Warn().Err(err).Msg("Accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(conn)
		}()
	}
}

// handleClient runs one client connection: Hello/Welcome handshake, then a
// reader loop for requests and a writer goroutine draining the session's
// outbound queue.
func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	// Replies from the request loop and broadcasts from the session queue
	// share the socket; the lock keeps frames from interleaving.
	w := &connWriter{conn: conn}

	msg, err := wire.Decode(conn)
	if err != nil {
		return
	}
	hello, ok := msg.(*wire.Hello)
	if !ok || hello.ProtocolVersion != wire.ProtocolVersion {
		// Anything but a matching Hello is a protocol violation
		return
	}

	sess, err := s.node.Sessions().Connect(hello.ClientID, hello.Agent)
	if err != nil {
		w.send(&wire.Reject{Reason: err.Error()})
		return
	}
	defer s.node.Sessions().Disconnect(sess.ID)

	ws := s.node.Workspace()
	paths := ws.Paths()
	snapshotList := make([]wire.PathVersion, 0, len(paths))
	for _, path := range paths {
		if entry, err := ws.Resolve(path); err == nil {
			entry.Mu.Lock()
			snapshotList = append(snapshotList, wire.PathVersion{Path: path, Version: entry.Doc.Version})
			entry.Mu.Unlock()
		}
	}
	if err := w.send(&wire.Welcome{
		SessionID:     sess.ID,
		NodeID:        s.node.ID(),
		GlobalVersion: ws.GlobalVersion(),
		Workspace:     snapshotList,
	}); err != nil {
		return
	}

	logger := log.WithSessionID(sess.ID)

	// Writer: session outbound queue -> frames. Ends when the session is
	// dropped (channel closed) or the connection dies.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sess.Outbound() {
			if err := w.send(outboundFrame(msg)); err != nil {
				conn.Close()
				return
			}
		}
		// Session dropped server-side; unblock the reader
		conn.Close()
	}()

	s.readLoop(conn, w, sess, logger)
	<-writerDone
}

func (s *Server) readLoop(conn net.Conn, w *connWriter, sess *session.Session, logger zerolog.Logger) {
	sessions := s.node.Sessions()
	for {
		msg, err := wire.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("Client read failed")
			}
			return
		}

		switch m := msg.(type) {
		case *wire.Subscribe:
			if err := sessions.Subscribe(sess.ID, m.Path, m.BaseVersion); err != nil {
				w.send(&wire.Reject{Reason: rejectText(err)})
			}
		case *wire.SubmitOp:
			rec, err := sessions.Submit(sess.ID, m.Path, m.BaseVersion, m.Op)
			switch {
			case err != nil:
				w.send(&wire.Reject{RequestID: m.RequestID, Reason: rejectText(err)})
			case !sess.Subscribed(m.Path):
				// Subscribers see the commit on the broadcast stream; an
				// unsubscribed submitter still gets its acknowledgement.
				w.send(&wire.Committed{Path: m.Path, Seq: rec.Seq, Op: rec.Op})
			}
		case *wire.FileSystemOp:
			if err := sessions.SubmitFSOp(sess.ID, m.Op); err != nil {
				w.send(&wire.Reject{RequestID: m.RequestID, Reason: rejectText(err)})
			}
		case *wire.Heartbeat:
			if err := sessions.Heartbeat(sess.ID); err != nil {
				return
			}
			w.send(&wire.Heartbeat{T: time.Now().UnixMilli()})
		default:
			// Client sent a frame that is not part of the session protocol
			logger.Warn().Msgf("Protocol violation: unexpected %T", msg)
			return
		}
	}
}

// connWriter serializes frame writes onto one connection
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) send(msg any) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.conn.Write(frame)
	return err
}

// handlePeer runs one inbound replication link. The first frame must be a
// PeerHeartbeat naming the peer; afterwards messages are dispatched into
// the replicator.
func (s *Server) handlePeer(conn net.Conn) {
	defer conn.Close()

	first, err := wire.Decode(conn)
	if err != nil {
		return
	}
	hb, ok := first.(*wire.PeerHeartbeat)
	if !ok {
		return
	}
	peerID := hb.NodeID
	s.node.HandlePeerMessage(peerID, hb)

	for {
		msg, err := wire.Decode(conn)
		if err != nil {
			return
		}
		s.node.HandlePeerMessage(peerID, msg)
	}
}

func outboundFrame(msg session.Message) any {
	switch msg.Kind {
	case session.MsgCommitted:
		return &wire.Committed{Path: msg.Path, Seq: msg.Seq, Op: msg.Op}
	case session.MsgSnapshot:
		return &wire.Snapshot{Path: msg.Path, Version: msg.Version, Content: msg.Content}
	default:
		return &wire.FileSystemOp{Op: *msg.FSOp}
	}
}

func rejectText(err error) string {
	switch {
	case errors.Is(err, types.ErrBadPrecondition):
		return "bad precondition"
	case errors.Is(err, types.ErrFileNotFound):
		return "file not found"
	case errors.Is(err, types.ErrFileExists):
		return "file exists"
	case errors.Is(err, types.ErrRetryLater):
		return "retry later"
	case errors.Is(err, types.ErrReadOnly):
		return "read only"
	case errors.Is(err, types.ErrSessionClosed):
		return "session closed"
	default:
		return err.Error()
	}
}
