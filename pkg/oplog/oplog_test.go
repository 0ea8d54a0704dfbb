package oplog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssenthilnathan3/dist-space/pkg/storage"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

func appendN(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		seq := l.LastSeq() + 1
		rec := types.CommittedOp{
			Seq: seq,
			Op:  types.Operation{Kind: types.OpInsert, Position: 0, Text: fmt.Sprintf("%d", seq)},
		}
		require.NoError(t, l.Append(rec))
	}
}

func TestAppendRejectsGaps(t *testing.T) {
	l := New("doc-1", storage.NewMemStore(), 10)

	require.NoError(t, l.Append(types.CommittedOp{Seq: 1}))
	err := l.Append(types.CommittedOp{Seq: 3})
	assert.ErrorIs(t, err, types.ErrBadPrecondition)
	assert.Equal(t, uint64(1), l.LastSeq())
}

func TestHotWindowBounded(t *testing.T) {
	store := storage.NewMemStore()
	l := New("doc-1", store, 5)

	appendN(t, l, 50)

	assert.LessOrEqual(t, l.HotLen(), 5)
	assert.Equal(t, uint64(50), l.LastSeq())
	assert.Equal(t, uint64(46), l.EarliestRetained())
}

func TestRangeFromHotAndCold(t *testing.T) {
	store := storage.NewMemStore()
	l := New("doc-1", store, 5)
	appendN(t, l, 20)

	// Hot range
	ops, err := l.Range(17, 20)
	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, uint64(17), ops[0].Seq)

	// Cold range, truncated out of the hot window
	ops, err = l.Range(1, 10)
	require.NoError(t, err)
	require.Len(t, ops, 10)
	assert.Equal(t, uint64(1), ops[0].Seq)
	assert.Equal(t, uint64(10), ops[9].Seq)

	// Straddling range is served from cold storage
	ops, err = l.Range(10, 18)
	require.NoError(t, err)
	require.Len(t, ops, 9)
	for i, rec := range ops {
		assert.Equal(t, uint64(10+i), rec.Seq, "range must be gap-free and ordered")
	}
}

func TestRangeBeyondLastSeq(t *testing.T) {
	l := New("doc-1", storage.NewMemStore(), 5)
	appendN(t, l, 3)

	_, err := l.Range(1, 4)
	assert.ErrorIs(t, err, types.ErrBadPrecondition)
}

func TestAppendStorageFailureLeavesLogIntact(t *testing.T) {
	store := storage.NewMemStore()
	l := New("doc-1", store, 5)
	appendN(t, l, 2)

	store.FailWrites = true
	err := l.Append(types.CommittedOp{Seq: 3})
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
	assert.Equal(t, uint64(2), l.LastSeq())
	assert.Equal(t, 2, l.HotLen())

	store.FailWrites = false
	require.NoError(t, l.Append(types.CommittedOp{Seq: 3}))
}

func TestTruncateBeforeKeepsColdCopy(t *testing.T) {
	store := storage.NewMemStore()
	l := New("doc-1", store, 100)
	appendN(t, l, 10)

	l.TruncateBefore(8)
	assert.Equal(t, 3, l.HotLen())
	assert.Equal(t, uint64(8), l.EarliestRetained())

	ops, err := l.Range(1, 7)
	require.NoError(t, err)
	assert.Len(t, ops, 7)
}
