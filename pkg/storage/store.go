package storage

import (
	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Store defines the interface for the three persistent stores backing a
// node: the append-only op log, the per-path metadata records, and the
// snapshot checkpoints. Implementations must support concurrent readers
// with serialized writers.
type Store interface {
	// Op log
	AppendOp(documentID string, rec types.CommittedOp) error
	OpRange(documentID string, fromSeq, toSeq uint64) ([]types.CommittedOp, error)

	// Metadata
	PutMeta(meta types.DocumentMeta) error
	GetMeta(path string) (*types.DocumentMeta, error)
	DeleteMeta(path string) error
	ListMeta() ([]*types.DocumentMeta, error)

	// Snapshots
	PutSnapshot(snap types.Snapshot) error
	LatestSnapshot(documentID string, maxVersion uint64) (*types.Snapshot, error)

	// Utility
	Close() error
}
