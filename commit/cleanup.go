package commit

import (
	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/pending"
)

// CleanupResult is what one cleanup pass produced: operation ids to mark
// PendingIgnore, and the new pending_last_cleanup_block watermark.
type CleanupResult struct {
	ToIgnore           []uint64
	PendingLastCleanup int64
}

// Cleanup implements spec §4.6 step 6: operations committed at chain depth
// >= cleanupDepth are emitted as PendingIgnore so the pending synchronizer
// stops asking for them.
func Cleanup(pendingStore *pending.Store, chainStore *chainstore.Store, cleanupDepth uint64) (CleanupResult, error) {
	last, err := chainStore.GetLastBlock()
	if err != nil {
		return CleanupResult{}, ErrUninitializedChain
	}
	currentHeight := last.Header.Height

	var toIgnore []uint64
	for _, id := range pendingStore.AllIDs() {
		op, ok := pendingStore.Get(id)
		if !ok || op.Type == pending.TypePendingIgnore || !op.Status.Committed {
			continue
		}
		if currentHeight < op.Status.Height {
			continue
		}
		if currentHeight-op.Status.Height >= cleanupDepth {
			toIgnore = append(toIgnore, id)
		}
	}

	return CleanupResult{ToIgnore: toIgnore, PendingLastCleanup: chainStore.NextOffset()}, nil
}
