package chainstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecell/datacell/frame"
)

func mustSigner(t *testing.T) frame.Signer {
	t.Helper()
	s, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	require.NoError(t, err)
	return s
}

// appendBlock builds and writes a block with n trivial operation frames on
// top of prev, returning the written block.
func appendBlock(t *testing.T, s *Store, prev Block, n int) Block {
	t.Helper()
	var ops []byte
	for i := 0; i < n; i++ {
		f, err := frame.Encode(frame.TypePendingOperation, []byte{byte(i)}, mustSigner(t))
		require.NoError(t, err)
		ops = append(ops, f...)
	}
	sig, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	require.NoError(t, err)
	_, err = sig.Write(ops)
	require.NoError(t, err)
	opsHash, err := sig.Sum()
	require.NoError(t, err)

	b := Block{
		Header: Header{
			Offset:         prev.NextOffset(),
			Height:         prev.Header.Height + 1,
			PreviousOffset: prev.Header.Offset,
			PreviousHash:   lastSigHash(t, prev),
			OperationsHash: opsHash,
		},
		OperationsPayload: ops,
	}
	_, err = s.WriteBlock(b)
	require.NoError(t, err)
	got, err := s.GetBlock(b.Header.Offset)
	require.NoError(t, err)
	return got
}

func lastSigHash(t *testing.T, b Block) []byte {
	t.Helper()
	sig, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	require.NoError(t, err)
	_, err = sig.Write(encodeSignaturesMessage(b.Signatures))
	require.NoError(t, err)
	h, err := sig.Sum()
	require.NoError(t, err)
	return h
}

func TestGenesisBootstrap(t *testing.T) {
	s, err := OpenOrInit(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	last, err := s.GetLastBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 0, last.Header.Height)
	assert.EqualValues(t, 0, last.Header.Offset)
}

func TestChainMonotonicity(t *testing.T) {
	s, err := OpenOrInit(t.TempDir(), WithSegmentOverAllocateSize(1<<12))
	require.NoError(t, err)
	defer s.Close()

	genesis, err := s.GetLastBlock()
	require.NoError(t, err)

	prev := genesis
	var written []Block
	written = append(written, genesis)
	for i := 0; i < 20; i++ {
		prev = appendBlock(t, s, prev, i%3)
		written = append(written, prev)
	}

	it := s.BlocksIter(0)
	var forward []Block
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		forward = append(forward, b)
	}
	require.Len(t, forward, len(written))
	for i := 0; i < len(forward)-1; i++ {
		assert.Less(t, forward[i].Header.Offset, forward[i+1].Header.Offset)
		assert.Equal(t, forward[i].NextOffset(), forward[i+1].Header.Offset)
	}

	rit := s.BlocksIterReverse(s.NextOffset())
	var reverse []Block
	for {
		b, ok := rit.Next()
		if !ok {
			break
		}
		reverse = append(reverse, b)
	}
	require.Len(t, reverse, len(written))
	for i, b := range reverse {
		assert.Equal(t, forward[len(forward)-1-i].Header.Offset, b.Header.Offset)
	}
}

func TestTruncateFromOffset(t *testing.T) {
	s, err := OpenOrInit(t.TempDir(), WithSegmentOverAllocateSize(1<<12))
	require.NoError(t, err)
	defer s.Close()

	genesis, err := s.GetLastBlock()
	require.NoError(t, err)
	prev := genesis
	var offsets []int64
	for i := 0; i < 10; i++ {
		prev = appendBlock(t, s, prev, 1)
		offsets = append(offsets, prev.Header.Offset)
	}

	truncateAt := offsets[5]
	require.NoError(t, s.TruncateFromOffset(truncateAt))

	last, err := s.GetLastBlock()
	require.NoError(t, err)
	assert.LessOrEqual(t, last.NextOffset(), truncateAt)

	_, err = s.GetBlock(truncateAt)
	assert.ErrorIs(t, err, ErrOutOfBound)

	for _, off := range offsets[:5] {
		_, err := s.GetBlock(off)
		assert.NoError(t, err)
	}
}

func TestReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenOrInit(dir, WithSegmentOverAllocateSize(1<<12))
	require.NoError(t, err)
	genesis, err := s.GetLastBlock()
	require.NoError(t, err)
	prev := genesis
	for i := 0; i < 5; i++ {
		prev = appendBlock(t, s, prev, 2)
	}
	wantNext := s.NextOffset()
	require.NoError(t, s.Close())

	reopened, err := OpenOrInit(dir, WithSegmentOverAllocateSize(1<<12))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, wantNext, reopened.NextOffset())

	last, err := reopened.GetLastBlock()
	require.NoError(t, err)
	assert.Equal(t, prev.Header.Offset, last.Header.Offset)
}

func TestIntegrityErrorOnOffsetMismatch(t *testing.T) {
	s, err := OpenOrInit(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	bad := Block{Header: Header{Offset: 999, Height: 1}}
	_, err = s.WriteBlock(bad)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestWaitOffset(t *testing.T) {
	s, err := OpenOrInit(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	genesis, err := s.GetLastBlock()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errCh <- s.WaitOffset(ctx, genesis.NextOffset()+1)
	}()

	appendBlock(t, s, genesis, 0)
	require.NoError(t, <-errCh)
}

func TestWaitOffsetContextCanceled(t *testing.T) {
	s, err := OpenOrInit(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.WaitOffset(ctx, 1<<30)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
