package pendingsync

import (
	"github.com/nodecell/datacell/pending"
)

// Message is the wire envelope exchanged by both directions of a sync
// round: a bare summary going out, headers or operations coming back for
// whichever ranges disagreed (spec §4.4 steps 1-3).
type Message struct {
	FromBlockDepth uint64
	Ranges         []Range
}

// Initiate builds the opening message of a sync round: bounded-range
// hash+count summaries over the local pending store, restricted by filter
// (spec §4.4 step 1).
func Initiate(store *pending.Store, filter DepthFilter, maxPerRange int) Message {
	return Message{
		FromBlockDepth: filter.MinDepth,
		Ranges:         BuildRanges(store, filter, maxPerRange),
	}
}

// Respond processes an incoming sync message against the local store and
// returns the reply message, any operations the peer has already handed us
// (to be applied immediately), and the operation ids we've learned we're
// missing (informational — the peer's own Respond call, symmetric to this
// one, will push them to us as Operations once it sees our headers).
func Respond(store *pending.Store, filter DepthFilter, in Message) (reply Message, applied []pending.Operation, missing []uint64, err error) {
	if err := validate(in); err != nil {
		return Message{}, nil, nil, err
	}

	for _, remote := range in.Ranges {
		bounds := remote.toStoreRange()
		local := buildRangeForBounds(store, filter, remote)

		switch {
		case local.agrees(remote):
			// synchronized; nothing to send back for this range.

		case remote.HasOperations:
			for _, op := range remote.Operations {
				if !bounds.Contains(op.OperationID) {
					return Message{}, nil, nil, ErrInvalidSyncState
				}
				store.Put(op)
				applied = append(applied, op)
			}

		case remote.HasHeaders:
			localHeaders := headersForBounds(store, filter, bounds)
			missingHere, missingThere := diffHeaders(localHeaders, remote.Headers)
			missing = append(missing, missingHere...)
			if len(missingThere) > 0 {
				reply.Ranges = append(reply.Ranges, pushRange(remote, operationsByID(store, missingThere)))
			}
			// Echo our own headers back, present-on-both-sides included
			// (spec §4.4 step 2's acknowledgment bullet): the far side's
			// next Respond call diffs these against its own headers and
			// discovers the ids it never saw pushed — the ones we're
			// missing here — so it can push them on the next round.
			reply.Ranges = append(reply.Ranges, Range{
				From: remote.From, FromIncluded: remote.FromIncluded,
				To: remote.To, ToIncluded: remote.ToIncluded, ToOpen: remote.ToOpen,
				OperationsHash: local.OperationsHash, OperationsCount: local.OperationsCount,
				HasHeaders: true, Headers: localHeaders,
			})

		case remote.OperationsCount == 0 && local.OperationsCount > 0:
			// Peer has nothing in this range; push everything we hold.
			reply.Ranges = append(reply.Ranges, pushRange(remote, store.OperationsIter(bounds)))

		default:
			// Bare summaries disagree with neither side offering headers
			// yet: escalate to a headers-only exchange.
			reply.Ranges = append(reply.Ranges, Range{
				From: remote.From, FromIncluded: remote.FromIncluded,
				To: remote.To, ToIncluded: remote.ToIncluded, ToOpen: remote.ToOpen,
				OperationsHash: local.OperationsHash, OperationsCount: local.OperationsCount,
				HasHeaders: true, Headers: headersForBounds(store, filter, bounds),
			})
		}
	}
	return reply, applied, missing, nil
}

func validate(m Message) error {
	for _, r := range m.Ranges {
		if !r.ToOpen && (r.To < r.From || (r.To == r.From && !r.ToIncluded)) {
			return ErrInvalidSyncRequest
		}
		if r.HasHeaders && uint64(len(r.Headers)) != r.OperationsCount {
			return ErrInvalidSyncState
		}
		if r.HasOperations && uint64(len(r.Operations)) != r.OperationsCount {
			return ErrInvalidSyncState
		}
	}
	return nil
}

func buildRangeForBounds(store *pending.Store, filter DepthFilter, bounds Range) Range {
	ops := filterOps(store.OperationsIter(bounds.toStoreRange()), filter)
	hash, count := hashChunk(ops)
	return Range{
		From: bounds.From, FromIncluded: bounds.FromIncluded,
		To: bounds.To, ToIncluded: bounds.ToIncluded, ToOpen: bounds.ToOpen,
		OperationsHash: hash, OperationsCount: count,
	}
}

func headersForBounds(store *pending.Store, filter DepthFilter, bounds pending.Range) []OperationHeader {
	ops := filterOps(store.OperationsIter(bounds), filter)
	headers := make([]OperationHeader, len(ops))
	for i, op := range ops {
		headers[i] = OperationHeader{OperationID: op.OperationID, SignatureDigest: op.Frame.SignatureData()}
	}
	return headers
}

func operationsByID(store *pending.Store, ids []uint64) []pending.Operation {
	out := make([]pending.Operation, 0, len(ids))
	for _, id := range ids {
		if op, ok := store.Get(id); ok {
			out = append(out, op)
		}
	}
	return out
}

func filterOps(ops []pending.Operation, filter DepthFilter) []pending.Operation {
	out := ops[:0:0]
	for _, op := range ops {
		if filter.Allows(op) {
			out = append(out, op)
		}
	}
	return out
}

// diffHeaders compares two header sets covering the same range and returns
// the ids each side is missing (the classic id-merge diff, spec §4.4 step
// 2's "diff logic").
func diffHeaders(local, remote []OperationHeader) (missingHere, missingThere []uint64) {
	localByID := make(map[uint64][]byte, len(local))
	for _, h := range local {
		localByID[h.OperationID] = h.SignatureDigest
	}
	remoteByID := make(map[uint64][]byte, len(remote))
	for _, h := range remote {
		remoteByID[h.OperationID] = h.SignatureDigest
	}
	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			missingHere = append(missingHere, id)
		}
	}
	for id := range localByID {
		if _, ok := remoteByID[id]; !ok {
			missingThere = append(missingThere, id)
		}
	}
	return missingHere, missingThere
}

func pushRange(bounds Range, ops []pending.Operation) Range {
	hash, count := hashChunk(ops)
	return Range{
		From: bounds.From, FromIncluded: bounds.FromIncluded,
		To: bounds.To, ToIncluded: bounds.ToIncluded, ToOpen: bounds.ToOpen,
		OperationsHash: hash, OperationsCount: count,
		HasOperations: true, Operations: ops,
	}
}
