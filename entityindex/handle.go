package entityindex

import (
	"github.com/pkg/errors"

	"github.com/nodecell/datacell/mutationindex"
)

// ErrFatal signals a divergence below the durably chain-indexed watermark
// — spec §4.8 "this is Fatal (divergence below durable index)".
var ErrFatal = errors.New("entityindex: divergence below durable chain index")

// HandleEvents applies a batch of data-layer events in order, per the
// policy in spec §4.8. Consecutive NewPendingOperation events are folded
// into a single pending-index batch apply before the next event kind is
// handled, mirroring how the commit manager treats contiguous pending
// arrivals.
func (idx *Index) HandleEvents(events []Event) error {
	var pendingRun []uint64
	flush := func() error {
		if len(pendingRun) == 0 {
			return nil
		}
		err := idx.applyPendingOperations(pendingRun)
		pendingRun = pendingRun[:0]
		return err
	}

	for _, ev := range events {
		if ev.Kind == EventNewPendingOperation {
			pendingRun = append(pendingRun, ev.OperationID)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := idx.handleOne(ev); err != nil {
			return err
		}
	}
	return flush()
}

func (idx *Index) handleOne(ev Event) error {
	switch ev.Kind {
	case EventStarted:
		if err := idx.indexChainNewBlocks(); err != nil {
			return err
		}
		return idx.reindexPending()

	case EventStreamDiscontinuity:
		return idx.reindexPending()

	case EventNewChainBlock:
		return idx.indexChainNewBlocks()

	case EventChainDiverged:
		if idx.chainIndexOffset() == 0 {
			return idx.reindexChain()
		}
		if ev.Offset > idx.chainIndexOffset() {
			return idx.reindexPending()
		}
		return ErrFatal

	default:
		return errors.Errorf("entityindex: unknown event kind %d", ev.Kind)
	}
}

// applyPendingOperations indexes a batch of newly arrived pending
// operation ids into the pending index (spec §4.8 "apply a pending-index
// mutation for each id (batched when contiguous)").
func (idx *Index) applyPendingOperations(ids []uint64) error {
	var mutations []mutationindex.Mutation
	for _, id := range ids {
		op, ok := idx.pendingStore.Get(id)
		if !ok {
			continue
		}
		entry, ok := decodeOperationEntry(op)
		if !ok {
			continue
		}
		mutations = append(mutations, entryToMutation(entry, op.Status.Offset, op.Status.Committed))
	}
	if len(mutations) == 0 {
		return nil
	}
	return idx.pendingIdx.Apply(mutations)
}
