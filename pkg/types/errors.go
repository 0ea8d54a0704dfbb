package types

import "errors"

// Error taxonomy. Callers match with errors.Is; boundaries wrap with
// fmt.Errorf("...: %w", err).
var (
	// ErrBadPrecondition covers out-of-range positions, base versions ahead
	// of the server, and malformed requests. Reported to the caller, nothing
	// is logged.
	ErrBadPrecondition = errors.New("bad precondition")

	// ErrFileNotFound is returned when a path does not resolve
	ErrFileNotFound = errors.New("file not found")

	// ErrFileExists is returned when creating or moving onto an existing path
	ErrFileExists = errors.New("file already exists")

	// ErrSlowConsumer is the drop reason for a session whose outbound queue
	// overflowed
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrSessionClosed is returned for submissions on a dropped session
	ErrSessionClosed = errors.New("session closed")

	// ErrStorageUnavailable indicates a failed persistent store operation
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRetryLater tells the client the in-flight op was rolled back and
	// may be resubmitted
	ErrRetryLater = errors.New("retry later")

	// ErrReadOnly is returned while the node is in read-only mode after a
	// persistent storage failure
	ErrReadOnly = errors.New("node is read-only")

	// ErrReplicationGap indicates an out-of-order op from a peer; handled
	// internally via anti-entropy
	ErrReplicationGap = errors.New("replication gap")

	// ErrProtocolViolation covers unknown frame tags and protocol version
	// mismatches; the connection is closed
	ErrProtocolViolation = errors.New("protocol violation")
)
