package commit

import (
	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/pending"
)

// Status classifies one BlockPropose against the current chain and pending
// state (spec §4.6 step 1).
type Status int

const (
	StatusNextPotential Status = iota
	StatusNextRefused
	StatusPastCommitted
	StatusPastRefused
)

// View is one BlockPropose operation together with every BlockSign/
// BlockRefuse referencing it, and its derived status.
type View struct {
	ProposeOp pending.Operation
	Proposal  Proposal
	Signs     []Sign
	Refuses   []Refuse
	Status    Status
}

// HasSignatureFrom reports whether nodeID already signed this proposal.
func (v View) HasSignatureFrom(nodeID string) bool {
	for _, s := range v.Signs {
		if s.NodeID == nodeID {
			return true
		}
	}
	return false
}

// HasRefusalFrom reports whether nodeID already refused this proposal.
func (v View) HasRefusalFrom(nodeID string) bool {
	for _, r := range v.Refuses {
		if r.NodeID == nodeID {
			return true
		}
	}
	return false
}

// BuildPendingBlocksView scans pending for every BlockPropose and classifies
// each (spec §4.6 step 1). selfNodeID marks a proposal this node has already
// refused as settled rather than repeatedly re-evaluated.
func BuildPendingBlocksView(pendingStore *pending.Store, chainStore *chainstore.Store, quorum int, selfNodeID string) ([]View, error) {
	proposeOps := pendingStore.OperationsByType(pending.TypeBlockPropose)
	views := make([]View, 0, len(proposeOps))

	nextOffset := chainStore.NextOffset()

	for _, op := range proposeOps {
		proposal, err := DecodeProposal(op.Frame.MessageData())
		if err != nil {
			return nil, err
		}
		group := pendingStore.GetGroupOperations(op.OperationID)
		var signs []Sign
		var refuses []Refuse
		for _, gop := range group {
			switch gop.Type {
			case pending.TypeBlockSign:
				s, err := DecodeSign(gop.Frame.MessageData())
				if err != nil {
					return nil, err
				}
				signs = append(signs, s)
			case pending.TypeBlockRefuse:
				r, err := DecodeRefuse(gop.Frame.MessageData())
				if err != nil {
					return nil, err
				}
				refuses = append(refuses, r)
			}
		}

		view := View{ProposeOp: op, Proposal: proposal, Signs: signs, Refuses: refuses}
		view.Status = classify(proposal, signs, refuses, chainStore, nextOffset, quorum, view.HasRefusalFrom(selfNodeID))
		views = append(views, view)
	}
	return views, nil
}

func classify(p Proposal, signs []Sign, refuses []Refuse, chainStore *chainstore.Store, nextOffset int64, quorum int, selfRefused bool) Status {
	if p.Offset < nextOffset {
		existing, err := chainStore.GetBlock(p.Offset)
		if err == nil && existing.Header.ProposedOperationID == p.GroupID {
			return StatusPastCommitted
		}
		return StatusPastRefused
	}
	if len(refuses) >= quorum || selfRefused {
		return StatusNextRefused
	}
	return StatusNextPotential
}
