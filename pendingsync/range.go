// Package pendingsync implements the bounded-range hash reconciliation
// protocol that converges two nodes' pending stores (spec §4.4).
package pendingsync

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/nodecell/datacell/pending"
)

// OperationHeader is the id+signature-digest summary of one operation,
// exchanged when a range disagrees and a diff needs to happen without
// shipping full operation bodies.
type OperationHeader struct {
	OperationID     uint64
	SignatureDigest []byte
}

// Range mirrors spec §6's PendingSyncRange wire shape: bounds, a hash+count
// summary, and optionally headers or full operations for diffing.
type Range struct {
	From            uint64
	FromIncluded    bool
	To              uint64
	ToIncluded      bool
	ToOpen          bool
	OperationsHash  uint64
	OperationsCount uint64
	Headers         []OperationHeader // set when initiating a diff
	Operations      []pending.Operation
	HasHeaders      bool
	HasOperations   bool
}

func (r Range) toStoreRange() pending.Range {
	return pending.Range{From: r.From, FromIncluded: r.FromIncluded, To: r.To, ToIncluded: r.ToIncluded, ToOpen: r.ToOpen}
}

// agrees reports whether two range summaries describe the same operation
// set: spec's "if hash ⊕ count agrees, the range is synchronized".
func (r Range) agrees(other Range) bool {
	return r.OperationsHash == other.OperationsHash && r.OperationsCount == other.OperationsCount
}

// DepthFilter decides whether an operation should be considered for sync,
// honoring spec §4.4's "from-block-depth filter": an operation is included
// if it's uncommitted, or committed at a depth shallower than minDepth.
type DepthFilter struct {
	CurrentHeight uint64
	MinDepth      uint64 // 0 disables the filter entirely
}

// Allows reports whether op passes the filter.
func (f DepthFilter) Allows(op pending.Operation) bool {
	if f.MinDepth == 0 {
		return true
	}
	if !op.Status.Committed {
		return true
	}
	if f.CurrentHeight < op.Status.Height {
		return true
	}
	// Deeply committed operations are presumed already fully disseminated
	// and are excluded to keep ranges small.
	return f.CurrentHeight-op.Status.Height < f.MinDepth
}

// BuildRanges partitions store's operation_id space into contiguous ranges
// of at most maxPerRange operations (after applying filter), each carrying
// a hash over its operations' signatures and a count (spec §4.4 step 1).
func BuildRanges(store *pending.Store, filter DepthFilter, maxPerRange int) []Range {
	all := store.OperationsIter(pending.Range{ToOpen: true})
	var filtered []pending.Operation
	for _, op := range all {
		if filter.Allows(op) {
			filtered = append(filtered, op)
		}
	}
	if maxPerRange <= 0 {
		maxPerRange = 1
	}

	var ranges []Range
	for i := 0; i < len(filtered); i += maxPerRange {
		chunk := filtered[i:min(i+maxPerRange, len(filtered))]
		ranges = append(ranges, rangeFromChunk(chunk, i == 0, i+maxPerRange >= len(filtered)))
	}
	if len(ranges) == 0 {
		ranges = append(ranges, Range{FromIncluded: true, ToOpen: true})
	}
	return ranges
}

func rangeFromChunk(chunk []pending.Operation, first, last bool) Range {
	r := Range{FromIncluded: true}
	if first {
		r.From = 0
	} else {
		r.From = chunk[0].OperationID
	}
	if last {
		r.ToOpen = true
	} else {
		r.To = chunk[len(chunk)-1].OperationID
		r.ToIncluded = true
	}
	r.OperationsHash, r.OperationsCount = hashChunk(chunk)
	return r
}

func hashChunk(chunk []pending.Operation) (uint64, uint64) {
	ids := make([]uint64, len(chunk))
	for i, op := range chunk {
		ids[i] = op.OperationID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := xxhash.New()
	for _, op := range orderedByID(chunk, ids) {
		h.Write(uint64Bytes(op.OperationID))
		h.Write(op.Frame.SignatureData())
	}
	return h.Sum64(), uint64(len(chunk))
}

func orderedByID(chunk []pending.Operation, ids []uint64) []pending.Operation {
	byID := make(map[uint64]pending.Operation, len(chunk))
	for _, op := range chunk {
		byID[op.OperationID] = op
	}
	out := make([]pending.Operation, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
