package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// MessageKind identifies an outbound message to a client
type MessageKind string

const (
	MsgCommitted MessageKind = "committed"
	MsgSnapshot  MessageKind = "snapshot"
	MsgFileEvent MessageKind = "file_event"
)

// Message is one entry on a session's outbound queue. The server layer
// encodes it into the wire framing; keeping the queue typed decouples the
// session manager from the codec.
type Message struct {
	Kind    MessageKind
	Path    string
	Seq     uint64
	Op      types.Operation
	Version uint64
	Content string
	FSOp    *types.FileSystemOp
}

// Session is the per-client state owned by the Manager. The outbound queue
// is bounded; a full queue marks the client a slow consumer and the
// session is dropped rather than blocking the serializer.
type Session struct {
	ID       string
	ClientID string
	NodeID   string
	Agent    bool

	mu            sync.Mutex
	subscribed    map[string]bool
	lastAck       map[string]uint64
	lastHeartbeat time.Time
	connectedAt   time.Time
	closed        bool

	outbound chan Message
}

// newSession creates a session with a bounded outbound queue
func newSession(clientID, nodeID string, agent bool, queueSize int) *Session {
	now := time.Now()
	return &Session{
		ID:            uuid.New().String(),
		ClientID:      clientID,
		NodeID:        nodeID,
		Agent:         agent,
		subscribed:    make(map[string]bool),
		lastAck:       make(map[string]uint64),
		lastHeartbeat: now,
		connectedAt:   now,
		outbound:      make(chan Message, queueSize),
	}
}

// Outbound returns the session's delivery channel. It is closed when the
// session is dropped.
func (s *Session) Outbound() <-chan Message {
	return s.outbound
}

// Info returns a point-in-time description of the session
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.subscribed))
	for p := range s.subscribed {
		paths = append(paths, p)
	}
	return types.SessionInfo{
		SessionID:     s.ID,
		ClientID:      s.ClientID,
		NodeID:        s.NodeID,
		Agent:         s.Agent,
		Subscribed:    paths,
		LastHeartbeat: s.lastHeartbeat,
		ConnectedAt:   s.connectedAt,
	}
}

// Subscribed reports whether the session follows a path
func (s *Session) Subscribed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[path]
}

// enqueue attempts a non-blocking delivery; false means the queue is full
// or the session is already closed.
func (s *Session) enqueue(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.outbound <- msg:
		if msg.Kind == MsgCommitted {
			s.lastAck[msg.Path] = msg.Seq
		}
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}

func (s *Session) heartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// ErrTooManyConnections is returned when the per-node connection cap is hit
var ErrTooManyConnections = fmt.Errorf("%w: connection limit reached", types.ErrBadPrecondition)
