package commit

import (
	"bytes"
	"sort"

	"github.com/nodecell/datacell/frame"
	"github.com/nodecell/datacell/pending"
)

// Decision is the commit manager's verdict on one proposal.
type Decision int

const (
	DecisionSign Decision = iota
	DecisionRefuse
)

// DecideSignOrRefuse implements spec §4.6 step 3: sign iff no operation in
// the proposal is already committed (in the chain, or in a different
// past-committed proposal) and the recomputed operations hash matches the
// proposal's declared one.
func DecideSignOrRefuse(v View, pendingStore *pending.Store, allViews []View) (Decision, error) {
	committedElsewhere := make(map[uint64]bool)
	for _, other := range allViews {
		if other.Status != StatusPastCommitted || other.Proposal.GroupID == v.Proposal.GroupID {
			continue
		}
		for _, id := range other.Proposal.OperationIDs {
			committedElsewhere[id] = true
		}
	}

	ops := make([]pending.Operation, 0, len(v.Proposal.OperationIDs))
	for _, id := range v.Proposal.OperationIDs {
		op, ok := pendingStore.Get(id)
		if !ok {
			return DecisionRefuse, ErrMissingOperation
		}
		if op.Status.Committed || committedElsewhere[id] {
			return DecisionRefuse, nil
		}
		ops = append(ops, op)
	}

	_, hash, err := operationsPayloadAndHash(ops)
	if err != nil {
		return DecisionRefuse, err
	}
	if !bytes.Equal(hash, v.Proposal.OperationsHash) {
		return DecisionRefuse, nil
	}
	return DecisionSign, nil
}

// operationsPayloadAndHash returns the concatenated framed bytes to store as
// the block's operations payload, and operations_hash: the multihash over
// the concatenation of each operation's signature, in operation_id order
// (spec §3 "operations_hash ... over the concatenation of operation
// signatures, in order").
func operationsPayloadAndHash(ops []pending.Operation) ([]byte, []byte, error) {
	sorted := make([]pending.Operation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OperationID < sorted[j].OperationID })

	var payload []byte
	var sigs []byte
	for _, op := range sorted {
		payload = append(payload, op.Frame.Bytes()...)
		sigs = append(sigs, op.Frame.SignatureData()...)
	}

	s, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.Write(sigs); err != nil {
		return nil, nil, err
	}
	hash, err := s.Sum()
	if err != nil {
		return nil, nil, err
	}
	return payload, hash, nil
}
