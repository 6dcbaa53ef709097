package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(id, group uint64, t OperationType) Operation {
	return Operation{OperationID: id, GroupID: group, Type: t}
}

func TestPutIdempotent(t *testing.T) {
	s := New()
	assert.False(t, s.Put(op(1, 1, TypeEntry)))
	assert.True(t, s.Put(op(1, 1, TypeEntry))) // already existed: no-op
	assert.Equal(t, 1, s.Len())
}

func TestGroupOperations(t *testing.T) {
	s := New()
	s.Put(op(10, 10, TypeBlockPropose))
	s.Put(op(11, 10, TypeBlockSign))
	s.Put(op(12, 10, TypeBlockSign))
	s.Put(op(13, 13, TypeEntry))

	group := s.GetGroupOperations(10)
	require.Len(t, group, 3)
	assert.Equal(t, []uint64{10, 11, 12}, ids(group))
}

func TestOperationsIterRange(t *testing.T) {
	s := New()
	for i := uint64(1); i <= 10; i++ {
		s.Put(op(i, i, TypeEntry))
	}
	got := s.OperationsIter(Range{From: 3, FromIncluded: true, To: 6, ToIncluded: true})
	assert.Equal(t, []uint64{3, 4, 5, 6}, ids(got))

	open := s.OperationsIter(Range{From: 8, FromIncluded: false, ToOpen: true})
	assert.Equal(t, []uint64{9, 10}, ids(open))
}

func TestSetStatusAndDelete(t *testing.T) {
	s := New()
	s.Put(op(1, 1, TypeEntry))
	assert.True(t, s.SetStatus(1, CommitStatus{Committed: true, Offset: 100, Height: 1}))
	got, ok := s.Get(1)
	require.True(t, ok)
	assert.True(t, got.Status.Committed)

	assert.True(t, s.Delete(1))
	_, ok = s.Get(1)
	assert.False(t, ok)
	assert.Empty(t, s.GetGroupOperations(1))
}

func ids(ops []Operation) []uint64 {
	out := make([]uint64, len(ops))
	for i, o := range ops {
		out[i] = o.OperationID
	}
	return out
}
