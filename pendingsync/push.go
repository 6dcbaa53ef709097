package pendingsync

import "github.com/nodecell/datacell/pending"

// PushNewOperation builds the single-range message a node sends immediately
// after accepting a new local operation, short-circuiting a full
// reconciliation round for the common case (spec §4.4 "fast path: a newly
// created operation is pushed immediately rather than waiting for the next
// scheduled sync").
func PushNewOperation(op pending.Operation) Message {
	r := Range{
		From: op.OperationID, FromIncluded: true,
		To: op.OperationID, ToIncluded: true,
		HasOperations: true, Operations: []pending.Operation{op},
	}
	r.OperationsHash, r.OperationsCount = hashChunk(r.Operations)
	return Message{Ranges: []Range{r}}
}
