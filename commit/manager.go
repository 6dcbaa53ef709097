package commit

import (
	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/pending"
)

// Config bundles the commit manager's tunables (spec §6 "Configuration").
type Config struct {
	Quorum                      int
	OperationsCleanupAfterDepth uint64
	SelfNodeID                  string
	AllocateOperationID         func() uint64
	Sign                        func(headerDigest []byte) []byte
}

// TickResult is everything one commit-manager tick produced, for the
// engine to turn into pending-store mutations and events.
type TickResult struct {
	NewSign        *Sign // emit as a BlockSign pending operation, if non-nil
	NewSignGroup   uint64
	NewRefuse      *Refuse // emit as a BlockRefuse pending operation, if non-nil
	NewRefuseGroup uint64

	Committed   *chainstore.Block // a block was written this tick, if non-nil
	NewProposal *Proposal         // emit as a BlockPropose pending operation, if non-nil

	Cleanup CleanupResult
}

// Tick runs one commit-manager cycle (spec §4.6 steps 1-6). chainStore must
// already have a genesis block (ErrUninitializedChain otherwise).
func Tick(pendingStore *pending.Store, chainStore *chainstore.Store, roster Roster, cfg Config) (TickResult, error) {
	if _, err := chainStore.GetLastBlock(); err != nil {
		return TickResult{}, ErrUninitializedChain
	}

	views, err := BuildPendingBlocksView(pendingStore, chainStore, cfg.Quorum, cfg.SelfNodeID)
	if err != nil {
		return TickResult{}, err
	}

	var result TickResult

	if selected := SelectProposal(views, cfg.SelfNodeID); selected != nil {
		decision, err := DecideSignOrRefuse(*selected, pendingStore, views)
		if err != nil {
			return TickResult{}, err
		}

		if decision == DecisionRefuse && selected.HasSignatureFrom(cfg.SelfNodeID) {
			return TickResult{}, ErrFatal
		}

		switch decision {
		case DecisionSign:
			digest, err := headerDigest(chainstore.Header{
				Offset: selected.Proposal.Offset, Height: selected.Proposal.Height,
				PreviousOffset: selected.Proposal.PreviousOffset, PreviousHash: selected.Proposal.PreviousHash,
				OperationsHash: selected.Proposal.OperationsHash, ProposedOperationID: selected.Proposal.ProposedOperationID,
			})
			if err != nil {
				return TickResult{}, err
			}
			sig := cfg.Sign(digest)
			result.NewSign = &Sign{GroupID: selected.Proposal.GroupID, NodeID: cfg.SelfNodeID, Signature: sig}
			result.NewSignGroup = selected.Proposal.GroupID
		case DecisionRefuse:
			result.NewRefuse = &Refuse{GroupID: selected.Proposal.GroupID, NodeID: cfg.SelfNodeID}
			result.NewRefuseGroup = selected.Proposal.GroupID
		}

		block, committed, err := Commit(*selected, pendingStore, chainStore, roster, cfg.Quorum)
		if err != nil {
			return TickResult{}, err
		}
		if committed {
			result.Committed = &block
		}
	} else if cfg.AllocateOperationID != nil {
		proposal, err := Propose(pendingStore, chainStore, views, cfg.AllocateOperationID())
		if err != nil && err != ErrUninitializedChain {
			return TickResult{}, err
		}
		if err == nil && len(proposal.OperationIDs) > 0 {
			result.NewProposal = &proposal
		}
	}

	cleanup, err := Cleanup(pendingStore, chainStore, cfg.OperationsCleanupAfterDepth)
	if err != nil {
		return TickResult{}, err
	}
	result.Cleanup = cleanup
	return result, nil
}
