package chainsync

import "github.com/nodecell/datacell/chainstore"

// Status is a peer's synchronization state machine (spec §4.5).
type Status int

const (
	StatusUnknown Status = iota
	StatusDownloading
	StatusSynchronized
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusDownloading:
		return "downloading"
	case StatusSynchronized:
		return "synchronized"
	default:
		return "invalid"
	}
}

// BlockRef identifies a block by offset and content hash.
type BlockRef struct {
	Offset int64
	Hash   []byte
}

// PeerState is everything chain sync tracks about one remote peer.
type PeerState struct {
	Status          Status
	LastCommonBlock *BlockRef
	LastKnownBlock  *BlockRef
	Tracker         *RequestTracker
}

// NewPeerState returns a peer state in the initial Unknown status, paced by
// the given minimum request interval and unresponsiveness timeout.
func NewPeerState(minInterval, timeout int64) *PeerState {
	return &PeerState{Tracker: NewRequestTracker(minInterval, timeout)}
}

// RequestedDetails selects what a ChainSyncRequest asks for.
type RequestedDetails int

const (
	DetailsHeaders RequestedDetails = iota
	DetailsBlocks
)

// Request is the wire shape of spec §6's ChainSyncRequest.
type Request struct {
	FromOffset       int64
	ToOffset         int64 // 0 means open
	RequestedDetails RequestedDetails
}

// HeaderEntry is one sampled block's header plus its content hash, computed
// by the sender over its own copy of the block (spec §4.5's headers carry
// enough for the requester to detect a common ancestor by hash, not just by
// offset).
type HeaderEntry struct {
	Header chainstore.Header
	Hash   []byte
}

// Response is the wire shape of spec §6's ChainSyncResponse: exactly one of
// Headers or Blocks is populated, matching the request's RequestedDetails.
type Response struct {
	FromOffset int64
	ToOffset   int64
	Headers    []HeaderEntry
	Blocks     []chainstore.Block
}
