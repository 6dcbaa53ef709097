// Package entityindex implements the derived aggregation layer described
// in spec §4.8: a consistent-at-event-boundaries view over the chain and
// pending mutation indices, folding a matched entity's mutation history
// into its current trait set and exposing paged, hash-verifiable search.
package entityindex

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/mutationindex"
	"github.com/nodecell/datacell/pending"
)

// Config mirrors the subset of spec §6's configuration options the entity
// index reads directly.
type Config struct {
	ChainIndexMinDepth       uint64
	EntityMutationsCacheSize int
}

// Index is the sole writer of both the chain and pending mutation indices
// (spec §3 "Ownership"). It is not safe for concurrent use; the engine
// loop that owns it serializes all access the same way it serializes
// every other handler (spec §5).
type Index struct {
	cfg Config
	log *logrus.Entry

	pendingStore *pending.Store
	chainStore   *chainstore.Store

	chainIdx   *mutationindex.Index
	pendingIdx *mutationindex.Index

	// chainIndexNextOffset (next offset not yet folded into chainIdx) is
	// written only by the engine's single indexing goroutine, same as
	// every other field above, but is also read by WaitIndexed from
	// whatever goroutine is blocking on durability — mu/cond guard this
	// one field for that cross-goroutine visibility.
	mu                   sync.Mutex
	cond                 *sync.Cond
	chainIndexNextOffset int64
}

// Open opens or creates the on-disk chain index at chainIndexDir and a
// fresh in-memory pending index, returning an Index that has not yet
// consumed the Started event.
func Open(chainIndexDir string, pendingStore *pending.Store, chainStore *chainstore.Store, cfg Config) (*Index, error) {
	if cfg.EntityMutationsCacheSize <= 0 {
		cfg.EntityMutationsCacheSize = 1024
	}
	chainIdx, err := mutationindex.OpenChain(chainIndexDir, cfg.EntityMutationsCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "entityindex: opening chain index")
	}
	pendingIdx, err := mutationindex.NewPending(cfg.EntityMutationsCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "entityindex: creating pending index")
	}
	idx := &Index{
		cfg:          cfg,
		log:          logrus.WithField("component", "entityindex"),
		pendingStore: pendingStore,
		chainStore:   chainStore,
		chainIdx:     chainIdx,
		pendingIdx:   pendingIdx,
	}
	idx.cond = sync.NewCond(&idx.mu)
	return idx, nil
}

// chainIndexOffset reads the next offset not yet folded into the chain
// index.
func (idx *Index) chainIndexOffset() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.chainIndexNextOffset
}

// setChainIndexOffset updates the next offset not yet folded into the
// chain index and wakes any WaitIndexed callers blocked on it.
func (idx *Index) setChainIndexOffset(offset int64) {
	idx.mu.Lock()
	idx.chainIndexNextOffset = offset
	idx.cond.Broadcast()
	idx.mu.Unlock()
}

// WaitIndexed blocks until every committed block up to offset has been
// folded into the durable chain index, or ctx is done (spec §12
// "BlockWaiter-style height wait", generalized from the chain store's own
// WaitOffset so callers — notably the external query-API collaborator
// named in spec.md §1 — can block on the entity index's derived view
// specifically, rather than on raw chain durability alone).
func (idx *Index) WaitIndexed(ctx context.Context, offset int64) error {
	done := make(chan struct{})
	stopWaking := make(chan struct{})
	defer close(stopWaking)

	go func() {
		select {
		case <-ctx.Done():
			idx.mu.Lock()
			idx.cond.Broadcast()
			idx.mu.Unlock()
		case <-stopWaking:
		}
	}()

	go func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		for idx.chainIndexNextOffset < offset && ctx.Err() == nil {
			idx.cond.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases both underlying mutation indices.
func (idx *Index) Close() error {
	err1 := idx.chainIdx.Close()
	err2 := idx.pendingIdx.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// decodeOperationEntry reads op's frame body as an Entry. PendingIgnore and
// any operation body this index doesn't recognize decode with an error and
// are treated as producing no mutation — spec §4.7's document kinds only
// cover entries derived from Entry operations.
func decodeOperationEntry(op pending.Operation) (Entry, bool) {
	if op.Type != pending.TypeEntry {
		return Entry{}, false
	}
	e, err := DecodeEntry(op.Frame.MessageData())
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

// entryToMutation converts a decoded Entry plus its chain placement (if
// any) into the mutationindex.Mutation it produces.
func entryToMutation(e Entry, blockOffset int64, hasBlock bool) mutationindex.Mutation {
	switch e.Kind {
	case EntryPutTrait:
		return mutationindex.Mutation{PutTrait: &mutationindex.PutTrait{
			OperationID:      e.OperationID,
			BlockOffset:      blockOffset,
			HasBlock:         hasBlock,
			EntityID:         e.EntityID,
			TraitID:          e.TraitID,
			TraitType:        e.TraitType,
			CreationDate:     e.CreationDate,
			ModificationDate: e.ModificationDate,
			Text:             e.Text,
			Refs:             e.Refs,
			Fields:           stringFieldsToAny(e.Fields),
		}}
	case EntryTraitTombstone:
		return mutationindex.Mutation{PutTraitTombstone: &mutationindex.PutTraitTombstone{
			OperationID: e.OperationID,
			EntityID:    e.EntityID,
			TraitID:     e.TraitID,
		}}
	default: // EntryEntityTombstone
		return mutationindex.Mutation{PutEntityTombstone: &mutationindex.PutEntityTombstone{
			OperationID: e.OperationID,
			EntityID:    e.EntityID,
		}}
	}
}

func stringFieldsToAny(fields map[string]string) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
