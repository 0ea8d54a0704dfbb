package oplog

import (
	"fmt"

	"github.com/ssenthilnathan3/dist-space/pkg/storage"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Log is the bounded ordered sequence of committed operations for one
// document. The hot window lives in memory; every append also lands in the
// cold store, so any sequence number ever assigned stays reconstructible
// after truncation.
//
// Sequence numbers are gap-free and strictly increasing. The log is owned
// alongside its Document by the serializer and performs no locking.
type Log struct {
	documentID string
	store      storage.Store
	hotWindow  int

	hot      []types.CommittedOp
	firstHot uint64 // seq of hot[0]; 0 when hot is empty
	lastSeq  uint64
}

// New creates an empty log for a document
func New(documentID string, store storage.Store, hotWindow int) *Log {
	return &Log{documentID: documentID, store: store, hotWindow: hotWindow}
}

// Restore creates a log whose persisted suffix is already at lastSeq; the
// hot window starts empty and refills as new operations commit.
func Restore(documentID string, store storage.Store, hotWindow int, lastSeq uint64) *Log {
	return &Log{documentID: documentID, store: store, hotWindow: hotWindow, lastSeq: lastSeq}
}

// LastSeq returns the highest assigned sequence number
func (l *Log) LastSeq() uint64 {
	return l.lastSeq
}

// HotLen returns the number of entries in the hot window
func (l *Log) HotLen() int {
	return len(l.hot)
}

// EarliestRetained returns the first hot sequence number, or lastSeq+1 when
// the hot window is empty.
func (l *Log) EarliestRetained() uint64 {
	if len(l.hot) == 0 {
		return l.lastSeq + 1
	}
	return l.firstHot
}

// Append records a committed operation. The sequence number must be exactly
// LastSeq+1. The cold copy is written first; a storage failure leaves the
// in-memory log untouched so the caller can roll back cleanly.
func (l *Log) Append(rec types.CommittedOp) error {
	if rec.Seq != l.lastSeq+1 {
		return fmt.Errorf("%w: append seq %d, want %d", types.ErrBadPrecondition, rec.Seq, l.lastSeq+1)
	}
	if err := l.store.AppendOp(l.documentID, rec); err != nil {
		return err
	}

	if len(l.hot) == 0 {
		l.firstHot = rec.Seq
	}
	l.hot = append(l.hot, rec)
	l.lastSeq = rec.Seq

	if len(l.hot) > l.hotWindow {
		l.TruncateBefore(l.lastSeq - uint64(l.hotWindow) + 1)
	}
	return nil
}

// Range returns ops with sequence numbers in [fromSeq, toSeq], drawing from
// the hot window when possible and falling back to cold storage for older
// entries.
func (l *Log) Range(fromSeq, toSeq uint64) ([]types.CommittedOp, error) {
	if fromSeq > toSeq || toSeq > l.lastSeq {
		if fromSeq > toSeq {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: range [%d,%d] beyond last seq %d", types.ErrBadPrecondition, fromSeq, toSeq, l.lastSeq)
	}

	if len(l.hot) > 0 && fromSeq >= l.firstHot {
		lo := fromSeq - l.firstHot
		hi := toSeq - l.firstHot + 1
		out := make([]types.CommittedOp, hi-lo)
		copy(out, l.hot[lo:hi])
		return out, nil
	}

	ops, err := l.store.OpRange(l.documentID, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	if len(ops) != int(toSeq-fromSeq+1) {
		return nil, fmt.Errorf("%w: cold log has %d of %d ops in [%d,%d]", types.ErrStorageUnavailable, len(ops), toSeq-fromSeq+1, fromSeq, toSeq)
	}
	return ops, nil
}

// TruncateBefore drops hot entries with seq < seq. The cold copy is
// retained, so truncation never loses history.
func (l *Log) TruncateBefore(seq uint64) {
	if len(l.hot) == 0 || seq <= l.firstHot {
		return
	}
	if seq > l.lastSeq {
		l.hot = nil
		l.firstHot = 0
		return
	}
	drop := seq - l.firstHot
	l.hot = append([]types.CommittedOp(nil), l.hot[drop:]...)
	l.firstHot = seq
}
