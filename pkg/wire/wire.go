package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Tag is the 1-byte frame type
type Tag byte

// Frame tags. 0x0x frames carry the client session protocol, 0x1x frames
// the node-to-node replication protocol.
const (
	TagHello              Tag = 0x01
	TagWelcome            Tag = 0x02
	TagSubscribe          Tag = 0x03
	TagSnapshot           Tag = 0x04
	TagSubmitOp           Tag = 0x05
	TagCommitted          Tag = 0x06
	TagReject             Tag = 0x07
	TagHeartbeat          Tag = 0x08
	TagOpCommit           Tag = 0x10
	TagPeerHeartbeat      Tag = 0x11
	TagAntiEntropyRequest Tag = 0x12
	TagAntiEntropyResp    Tag = 0x13
	TagFileSystemOp       Tag = 0x20
)

// MaxFrameSize bounds a single frame; larger frames are a protocol
// violation and close the connection.
const MaxFrameSize = 16 << 20

// ProtocolVersion is the client-server protocol revision
const ProtocolVersion = 1

// Hello opens a client connection
type Hello struct {
	ClientID        string `json:"client_id"`
	ProtocolVersion int    `json:"protocol_version"`
	Agent           bool   `json:"agent,omitempty"`
}

// PathVersion is one entry of the workspace snapshot in Welcome
type PathVersion struct {
	Path    string `json:"path"`
	Version uint64 `json:"version"`
}

// Welcome acknowledges a Hello
type Welcome struct {
	SessionID     string        `json:"session_id"`
	NodeID        string        `json:"node_id"`
	GlobalVersion uint64        `json:"global_version"`
	Workspace     []PathVersion `json:"workspace"`
}

// Subscribe attaches the session to a path
type Subscribe struct {
	Path        string `json:"path"`
	BaseVersion uint64 `json:"base_version"`
}

// Snapshot delivers full document content at a version
type Snapshot struct {
	Path    string `json:"path"`
	Version uint64 `json:"version"`
	Content string `json:"content"`
}

// SubmitOp proposes an edit
type SubmitOp struct {
	RequestID   uint64          `json:"request_id"`
	Path        string          `json:"path"`
	BaseVersion uint64          `json:"base_version"`
	Op          types.Operation `json:"op"`
}

// Committed is the canonical broadcast form of an accepted operation
type Committed struct {
	Path string          `json:"path"`
	Seq  uint64          `json:"seq"`
	Op   types.Operation `json:"op"`
}

// Reject reports a failed request
type Reject struct {
	RequestID uint64 `json:"request_id"`
	Reason    string `json:"reason"`
}

// Heartbeat is the client liveness ping
type Heartbeat struct {
	T int64 `json:"t"`
}

// OpCommit replicates a committed operation to a peer node. Vector is the
// origin document's causal vector at commit time; the receiver uses it to
// separate concurrent local commits from ones the origin had integrated.
type OpCommit struct {
	Path       string              `json:"path"`
	OriginNode string              `json:"origin_node"`
	OriginSeq  uint64              `json:"origin_seq"`
	Op         types.Operation     `json:"op"`
	FSOp       *types.FileSystemOp `json:"fs_op,omitempty"`
	Vector     types.CausalVector  `json:"vector,omitempty"`
}

// PeerHeartbeat advertises a node's causal vector
type PeerHeartbeat struct {
	NodeID string             `json:"node_id"`
	Vector types.CausalVector `json:"causal_vector"`
}

// AntiEntropyRequest asks a peer for ops above the given vector
type AntiEntropyRequest struct {
	NodeID string             `json:"node_id"`
	From   types.CausalVector `json:"from_vector"`
}

// AntiEntropyResponse returns missing ops ordered by (origin_node,
// origin_seq)
type AntiEntropyResponse struct {
	Ops []OpCommit `json:"ops"`
}

// FileSystemOp proposes a structural workspace change
type FileSystemOp struct {
	RequestID uint64             `json:"request_id"`
	Op        types.FileSystemOp `json:"op"`
}

// Encode frames a message: 4-byte big-endian length over the tag plus the
// JSON-serialized payload.
func Encode(msg any) ([]byte, error) {
	tag, err := tagOf(msg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode tag 0x%02x: %w", tag, err)
	}
	if len(payload)+1 > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", types.ErrProtocolViolation, len(payload)+1)
	}

	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(1+len(payload)))
	frame[4] = byte(tag)
	copy(frame[5:], payload)
	return frame, nil
}

// Decode reads one frame from r and returns the concrete message. Unknown
// tags and oversized frames are protocol violations; the caller closes the
// connection.
func Decode(r io.Reader) (any, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d", types.ErrProtocolViolation, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	msg, err := newMessage(Tag(body[0]))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body[1:], msg); err != nil {
		return nil, fmt.Errorf("%w: malformed payload for tag 0x%02x: %v", types.ErrProtocolViolation, body[0], err)
	}
	return msg, nil
}

func tagOf(msg any) (Tag, error) {
	switch msg.(type) {
	case *Hello:
		return TagHello, nil
	case *Welcome:
		return TagWelcome, nil
	case *Subscribe:
		return TagSubscribe, nil
	case *Snapshot:
		return TagSnapshot, nil
	case *SubmitOp:
		return TagSubmitOp, nil
	case *Committed:
		return TagCommitted, nil
	case *Reject:
		return TagReject, nil
	case *Heartbeat:
		return TagHeartbeat, nil
	case *OpCommit:
		return TagOpCommit, nil
	case *PeerHeartbeat:
		return TagPeerHeartbeat, nil
	case *AntiEntropyRequest:
		return TagAntiEntropyRequest, nil
	case *AntiEntropyResponse:
		return TagAntiEntropyResp, nil
	case *FileSystemOp:
		return TagFileSystemOp, nil
	default:
		return 0, fmt.Errorf("%w: unknown message type %T", types.ErrProtocolViolation, msg)
	}
}

func newMessage(tag Tag) (any, error) {
	switch tag {
	case TagHello:
		return &Hello{}, nil
	case TagWelcome:
		return &Welcome{}, nil
	case TagSubscribe:
		return &Subscribe{}, nil
	case TagSnapshot:
		return &Snapshot{}, nil
	case TagSubmitOp:
		return &SubmitOp{}, nil
	case TagCommitted:
		return &Committed{}, nil
	case TagReject:
		return &Reject{}, nil
	case TagHeartbeat:
		return &Heartbeat{}, nil
	case TagOpCommit:
		return &OpCommit{}, nil
	case TagPeerHeartbeat:
		return &PeerHeartbeat{}, nil
	case TagAntiEntropyRequest:
		return &AntiEntropyRequest{}, nil
	case TagAntiEntropyResp:
		return &AntiEntropyResponse{}, nil
	case TagFileSystemOp:
		return &FileSystemOp{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", types.ErrProtocolViolation, tag)
	}
}
