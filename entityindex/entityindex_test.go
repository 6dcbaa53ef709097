package entityindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/frame"
	"github.com/nodecell/datacell/mutationindex"
	"github.com/nodecell/datacell/pending"
)

func putEntry(t *testing.T, store *pending.Store, e Entry) pending.Operation {
	t.Helper()
	hashSigner, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	require.NoError(t, err)
	enc, err := frame.Encode(frame.TypePendingOperation, EncodeEntry(e), hashSigner)
	require.NoError(t, err)
	f, err := frame.New(enc)
	require.NoError(t, err)
	op := pending.Operation{OperationID: e.OperationID, GroupID: e.GroupID, Type: pending.TypeEntry, Frame: f}
	store.Put(op)
	return op
}

func newTestEntityIndex(t *testing.T, cfg Config) (*Index, *pending.Store, *chainstore.Store) {
	t.Helper()
	pendingStore := pending.New()
	chainStore, err := chainstore.OpenOrInit(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = chainStore.Close() })

	idx, err := Open(t.TempDir(), pendingStore, chainStore, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, pendingStore, chainStore
}

func TestStartedIndexesUncommittedEntries(t *testing.T) {
	idx, pendingStore, _ := newTestEntityIndex(t, Config{ChainIndexMinDepth: 1})

	putEntry(t, pendingStore, Entry{
		OperationID: 1, GroupID: 1, Kind: EntryPutTrait,
		EntityID: "e1", TraitID: "t1", TraitType: "note", Text: []string{"hello"},
	})
	putEntry(t, pendingStore, Entry{
		OperationID: 2, GroupID: 2, Kind: EntryPutTrait,
		EntityID: "e2", TraitID: "t1", TraitType: "note", Text: []string{"world"},
	})

	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventStarted}}))

	results, err := idx.Search(mutationindex.Query{Kind: mutationindex.QueryAll}, mutationindex.Ordering{By: mutationindex.OrderByOperationID, Ascending: true}, mutationindex.Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results.Entities, 2)
	require.Equal(t, "e1", results.Entities[0].EntityID)
	require.Equal(t, "e2", results.Entities[1].EntityID)
}

func TestTraitTombstoneRemovesTrait(t *testing.T) {
	idx, pendingStore, _ := newTestEntityIndex(t, Config{ChainIndexMinDepth: 1})

	putEntry(t, pendingStore, Entry{
		OperationID: 1, GroupID: 1, Kind: EntryPutTrait,
		EntityID: "e1", TraitID: "t1", TraitType: "note",
	})
	putEntry(t, pendingStore, Entry{
		OperationID: 2, GroupID: 2, Kind: EntryTraitTombstone,
		EntityID: "e1", TraitID: "t1",
	})

	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventStarted}}))

	results, err := idx.Search(mutationindex.Query{Kind: mutationindex.QueryAll}, mutationindex.Ordering{By: mutationindex.OrderByOperationID, Ascending: true}, mutationindex.Page{}, 0)
	require.NoError(t, err)
	require.Empty(t, results.Entities)
}

func TestNewPendingOperationIndexesIncrementally(t *testing.T) {
	idx, pendingStore, _ := newTestEntityIndex(t, Config{ChainIndexMinDepth: 1})
	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventStarted}}))

	putEntry(t, pendingStore, Entry{
		OperationID: 5, GroupID: 5, Kind: EntryPutTrait,
		EntityID: "e5", TraitID: "t1", TraitType: "note",
	})
	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventNewPendingOperation, OperationID: 5}}))

	results, err := idx.Search(mutationindex.Query{Kind: mutationindex.QueryAll}, mutationindex.Ordering{By: mutationindex.OrderByOperationID, Ascending: true}, mutationindex.Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results.Entities, 1)
	require.Equal(t, "e5", results.Entities[0].EntityID)
}

func TestNewChainBlockPromotesEntryToChainIndex(t *testing.T) {
	idx, pendingStore, chainStore := newTestEntityIndex(t, Config{ChainIndexMinDepth: 0})

	op := putEntry(t, pendingStore, Entry{
		OperationID: 1, GroupID: 1, Kind: EntryPutTrait,
		EntityID: "e1", TraitID: "t1", TraitType: "note",
	})

	last, err := chainStore.GetLastBlock()
	require.NoError(t, err)
	lastHash, err := chainstore.BlockHash(last)
	require.NoError(t, err)

	block := chainstore.Block{
		Header: chainstore.Header{
			Offset:         last.NextOffset(),
			Height:         last.Header.Height + 1,
			PreviousOffset: last.Header.Offset,
			PreviousHash:   lastHash,
			OperationsHash: []byte{0},
		},
		OperationsPayload: op.Frame.Bytes(),
	}
	_, err = chainStore.WriteBlock(block)
	require.NoError(t, err)
	pendingStore.SetStatus(1, pending.CommitStatus{Committed: true, Offset: block.Header.Offset, Height: block.Header.Height})

	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventNewChainBlock, Offset: block.Header.Offset}}))

	_, stillPending := pendingStore.Get(1)
	require.False(t, stillPending)

	results, err := idx.Search(mutationindex.Query{Kind: mutationindex.QueryAll}, mutationindex.Ordering{By: mutationindex.OrderByOperationID, Ascending: true}, mutationindex.Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results.Entities, 1)
	require.Equal(t, SourceChain, results.Entities[0].Source)
}

func TestStreamDiscontinuityRebuildsPendingIndex(t *testing.T) {
	idx, pendingStore, _ := newTestEntityIndex(t, Config{ChainIndexMinDepth: 1})
	putEntry(t, pendingStore, Entry{
		OperationID: 1, GroupID: 1, Kind: EntryPutTrait,
		EntityID: "e1", TraitID: "t1", TraitType: "note",
	})
	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventStreamDiscontinuity}}))

	results, err := idx.Search(mutationindex.Query{Kind: mutationindex.QueryAll}, mutationindex.Ordering{By: mutationindex.OrderByOperationID, Ascending: true}, mutationindex.Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results.Entities, 1)
}

func TestWaitIndexedUnblocksOnceOffsetIsFolded(t *testing.T) {
	idx, pendingStore, chainStore := newTestEntityIndex(t, Config{ChainIndexMinDepth: 0})

	op := putEntry(t, pendingStore, Entry{
		OperationID: 1, GroupID: 1, Kind: EntryPutTrait,
		EntityID: "e1", TraitID: "t1", TraitType: "note",
	})

	last, err := chainStore.GetLastBlock()
	require.NoError(t, err)
	lastHash, err := chainstore.BlockHash(last)
	require.NoError(t, err)

	block := chainstore.Block{
		Header: chainstore.Header{
			Offset:         last.NextOffset(),
			Height:         last.Header.Height + 1,
			PreviousOffset: last.Header.Offset,
			PreviousHash:   lastHash,
			OperationsHash: []byte{0},
		},
		OperationsPayload: op.Frame.Bytes(),
	}
	blockOffset, err := chainStore.WriteBlock(block)
	require.NoError(t, err)
	pendingStore.SetStatus(1, pending.CommitStatus{Committed: true, Offset: blockOffset, Height: block.Header.Height})

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- idx.WaitIndexed(ctx, block.NextOffset())
	}()

	// Give the waiter a moment to actually park in cond.Wait before the
	// offset advances, so this exercises the wake path rather than a
	// check that happened to already be satisfied.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, idx.HandleEvents([]Event{{Kind: EventNewChainBlock, Offset: blockOffset}}))

	require.NoError(t, <-done)
}

func TestWaitIndexedReturnsOnContextCancellation(t *testing.T) {
	idx, _, _ := newTestEntityIndex(t, Config{ChainIndexMinDepth: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := idx.WaitIndexed(ctx, 1_000_000)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChainDivergedBelowIndexedOffsetIsFatal(t *testing.T) {
	idx, _, chainStore := newTestEntityIndex(t, Config{ChainIndexMinDepth: 0})
	idx.chainIndexNextOffset = chainStore.NextOffset() + 1000 // pretend we've indexed past the divergence point

	err := idx.HandleEvents([]Event{{Kind: EventChainDiverged, Offset: 1}})
	require.ErrorIs(t, err, ErrFatal)
}
