package commit

import (
	"sort"

	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/pending"
)

// Propose implements spec §4.6 step 5: when no NextPotential proposal
// exists, collect every uncommitted Entry/PendingIgnore operation not
// already claimed by a past-committed proposal, and build the next block
// proposal. newOpID is the operation_id the caller has allocated for the
// BlockPropose operation wrapping this proposal (also used as group_id and
// proposed_operation_id, per spec "whose proposed_operation_id ==
// new_block_op_id").
func Propose(pendingStore *pending.Store, chainStore *chainstore.Store, allViews []View, newOpID uint64) (Proposal, error) {
	last, err := chainStore.GetLastBlock()
	if err != nil {
		return Proposal{}, ErrUninitializedChain
	}
	lastHash, err := chainstore.BlockHash(last)
	if err != nil {
		return Proposal{}, err
	}

	claimed := make(map[uint64]bool)
	for _, v := range allViews {
		if v.Status != StatusPastCommitted {
			continue
		}
		for _, id := range v.Proposal.OperationIDs {
			claimed[id] = true
		}
	}

	var candidates []pending.Operation
	for _, op := range pendingStore.OperationsByType(pending.TypeEntry) {
		if !op.Status.Committed && !claimed[op.OperationID] {
			candidates = append(candidates, op)
		}
	}
	for _, op := range pendingStore.OperationsByType(pending.TypePendingIgnore) {
		if !op.Status.Committed && !claimed[op.OperationID] {
			candidates = append(candidates, op)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].OperationID < candidates[j].OperationID })

	ids := make([]uint64, len(candidates))
	for i, op := range candidates {
		ids[i] = op.OperationID
	}
	_, hash, err := operationsPayloadAndHash(candidates)
	if err != nil {
		return Proposal{}, err
	}

	return Proposal{
		GroupID:             newOpID,
		Offset:              last.NextOffset(),
		Height:              last.Header.Height + 1,
		PreviousOffset:      last.Header.Offset,
		PreviousHash:        lastHash,
		OperationsHash:      hash,
		ProposedOperationID: newOpID,
		OperationIDs:        ids,
	}, nil
}
