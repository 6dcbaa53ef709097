package entityindex

import (
	"github.com/pkg/errors"

	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/frame"
	"github.com/nodecell/datacell/mutationindex"
)

// reindexPending rebuilds the pending index from scratch out of the
// pending store's current contents: every Entry operation that isn't yet
// durably indexed in the chain index, spec §4.8 "rebuild the pending
// index" (used by Started, StreamDiscontinuity, and the "divergence after
// last indexed offset" branch of ChainDiverged).
func (idx *Index) reindexPending() error {
	if err := idx.pendingIdx.Reset(); err != nil {
		return errors.Wrap(err, "entityindex: resetting pending index")
	}

	currentHeight, haveChain := idx.currentHeight()

	var mutations []mutationindex.Mutation
	for _, id := range idx.pendingStore.AllIDs() {
		op, ok := idx.pendingStore.Get(id)
		if !ok {
			continue
		}
		if haveChain && op.Status.Committed && currentHeight >= op.Status.Height &&
			currentHeight-op.Status.Height >= idx.cfg.ChainIndexMinDepth {
			continue // already durable in the chain index
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

func (idx *Index) currentHeight() (uint64, bool) {
	last, err := idx.chainStore.GetLastBlock()
	if err != nil {
		return 0, false
	}
	return last.Header.Height, true
}

// indexChainNewBlocks promotes every committed block that has reached
// chain_index_min_depth and hasn't been folded into the chain index yet:
// its Entry operations move into the chain index and are dropped from the
// pending store and pending index (spec §4.8 "NewChainBlock").
func (idx *Index) indexChainNewBlocks() error {
	currentHeight, haveChain := idx.currentHeight()
	if !haveChain {
		return nil
	}

	var chainMutations []mutationindex.Mutation
	var pendingDeletes []mutationindex.Mutation
	var promotedIDs []uint64

	it := idx.chainStore.BlocksIter(idx.chainIndexOffset())
	for {
		block, ok := it.Next()
		if !ok {
			break
		}
		if currentHeight < block.Header.Height || currentHeight-block.Header.Height < idx.cfg.ChainIndexMinDepth {
			break
		}

		entries, err := decodeBlockEntries(block)
		if err != nil {
			return errors.Wrap(err, "entityindex: decoding block operations")
		}
		for _, e := range entries {
			chainMutations = append(chainMutations, entryToMutation(e, block.Header.Offset, true))
			pendingDeletes = append(pendingDeletes, mutationindex.Mutation{
				DeleteEntityOperation: &mutationindex.DeleteEntityOperation{OperationID: e.OperationID},
			})
			promotedIDs = append(promotedIDs, e.OperationID)
		}
		idx.setChainIndexOffset(block.NextOffset())
	}

	if len(chainMutations) > 0 {
		if err := idx.chainIdx.Apply(chainMutations); err != nil {
			return errors.Wrap(err, "entityindex: applying chain mutations")
		}
		if err := idx.pendingIdx.Apply(pendingDeletes); err != nil {
			return errors.Wrap(err, "entityindex: pruning promoted operations from pending index")
		}
	}
	for _, id := range promotedIDs {
		idx.pendingStore.Delete(id)
	}
	return nil
}

// decodeBlockEntries decodes every Entry carried in a committed block's
// operations payload, skipping anything this index doesn't recognize
// (e.g. a PendingIgnore marker, which carries no mutation of its own).
func decodeBlockEntries(block chainstore.Block) ([]Entry, error) {
	var entries []Entry
	it := frame.NewIterator(block.OperationsPayload)
	for {
		f, err := it.Next()
		if err != nil {
			if errors.Is(err, frame.ErrEOF) {
				break
			}
			return nil, err
		}
		e, err := DecodeEntry(f.MessageData())
		if err != nil {
			continue // PendingIgnore or another operation kind this index ignores
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// reindexChain rebuilds the chain index wholesale from offset 0 — used
// only when the chain index itself is empty and a divergence is detected
// with no prior chain-indexed watermark to compare against.
func (idx *Index) reindexChain() error {
	if err := idx.chainIdx.Reset(); err != nil {
		return errors.Wrap(err, "entityindex: resetting chain index")
	}
	idx.setChainIndexOffset(0)
	return idx.indexChainNewBlocks()
}
