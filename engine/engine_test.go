package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodecell/datacell/cell"
	"github.com/nodecell/datacell/cell/roster"
	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/chainsync"
	"github.com/nodecell/datacell/entityindex"
	"github.com/nodecell/datacell/frame"
	"github.com/nodecell/datacell/pending"
	"github.com/nodecell/datacell/pendingsync"
)

// frameEntryOp wraps an entityindex.Entry payload in a signed
// TypePendingOperation frame, the same encode-then-Put pattern
// entityindex's own tests use.
func frameEntryOp(operationID, groupID uint64) (pending.Operation, error) {
	entry := entityindex.Entry{
		OperationID: operationID, GroupID: groupID, Kind: entityindex.EntryPutTrait,
		EntityID: "e1", TraitID: "t1", TraitType: "note", Text: []string{"hello"},
	}
	hashSigner, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		return pending.Operation{}, err
	}
	enc, err := frame.Encode(frame.TypePendingOperation, entityindex.EncodeEntry(entry), hashSigner)
	if err != nil {
		return pending.Operation{}, err
	}
	f, err := frame.New(enc)
	if err != nil {
		return pending.Operation{}, err
	}
	return pending.Operation{OperationID: operationID, GroupID: groupID, Type: pending.TypeEntry, Frame: f}, nil
}

type noopTransport struct{}

func (noopTransport) ChainSync(ctx context.Context, peerID string, req chainsync.Request) (chainsync.Response, error) {
	return chainsync.Response{}, nil
}

func (noopTransport) PendingSync(ctx context.Context, peerID string, msg pendingsync.Message) (pendingsync.Message, error) {
	return pendingsync.Message{}, nil
}

func newTestEngine(t *testing.T) (*Engine, cell.Identity) {
	t.Helper()

	id, err := cell.NewIdentity()
	require.NoError(t, err)

	rosterStore, err := roster.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rosterStore.Close() })
	require.NoError(t, rosterStore.AddNode(id.NodeID(), "local"))

	pendingStore := pending.New()
	chainStore, err := chainstore.OpenOrInit(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = chainStore.Close() })

	entityIdx, err := entityindex.Open(t.TempDir(), pendingStore, chainStore, entityindex.Config{ChainIndexMinDepth: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = entityIdx.Close() })

	cfg := cell.New(cell.WithQuorum(1))
	e := New(cfg, id, noopTransport{}, cell.NewCommitRoster(rosterStore), pendingStore, chainStore, entityIdx)
	return e, id
}

func TestTickWithNoPeersIsANoop(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Start())
	require.NoError(t, e.Tick(context.Background(), 1))
	require.NoError(t, e.Tick(context.Background(), 2))
}

func TestTickProposesAndCommitsSoleSignerBlock(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Start())

	before := e.chainStore.NextOffset()

	// First tick: no pending operations, nothing to propose, but the
	// commit manager's cleanup phase still runs and no block is produced.
	require.NoError(t, e.Tick(context.Background(), 1))
	require.Equal(t, before, e.chainStore.NextOffset())

	// Put a pending entry so the commit manager has something to propose.
	op, err := frameEntryOp(1, 1)
	require.NoError(t, err)
	e.pendingStore.Put(op)

	// Each subsequent tick advances the commit manager by one step
	// (propose, then sign, then commit once the signature is itself
	// visible to a view): loop until the block lands or the test gives up.
	for i := int64(0); i < 10 && e.chainStore.NextOffset() == before; i++ {
		require.NoError(t, e.Tick(context.Background(), 2+i))
	}
	require.Greater(t, e.chainStore.NextOffset(), before)
}

func TestBusReceivesTickEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Start())
	sub := e.Bus().Subscribe()

	op, err := frameEntryOp(1, 1)
	require.NoError(t, err)
	e.pendingStore.Put(op)
	require.NoError(t, e.Tick(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, entityindex.EventNewPendingOperation, ev.Kind)
}
