package chainsync

import "github.com/nodecell/datacell/chainstore"

// BuildBlocksResponse answers a download-phase request: as many contiguous
// blocks starting at fromOffset as fit under maxSendSize bytes (spec §4.5
// "the leader replies with as many contiguous blocks as fit under
// blocks_max_send_size").
func BuildBlocksResponse(store *chainstore.Store, fromOffset int64, maxSendSize int) (Response, error) {
	resp := Response{FromOffset: fromOffset}
	it := store.BlocksIter(fromOffset)
	size := 0
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		blockSize := int(b.NextOffset() - b.Header.Offset)
		if size > 0 && size+blockSize > maxSendSize {
			break
		}
		resp.Blocks = append(resp.Blocks, b)
		size += blockSize
		resp.ToOffset = b.NextOffset()
	}
	return resp, nil
}

// ApplyBlocksResponse writes every block in resp to store in order,
// verifying each one's offset against the chain's current next offset
// before writing (spec §4.5 "verifies each block's offset ==
// next_local_offset"). onBlockWritten, if non-nil, is called once per
// accepted block so the caller can emit ChainBlockNew.
func ApplyBlocksResponse(store *chainstore.Store, resp Response, onBlockWritten func(chainstore.Block)) error {
	for _, b := range resp.Blocks {
		if b.Header.Offset != store.NextOffset() {
			return ErrInvalidSyncResponse
		}
		if _, err := store.WriteBlock(b); err != nil {
			return err
		}
		if onBlockWritten != nil {
			onBlockWritten(b)
		}
	}
	return nil
}

// CheckDivergence reports ErrDiverged when the leader's metadata shows no
// block in common with us even though we already hold blocks of our own
// (spec §4.5's fatal Diverged case).
func CheckDivergence(store *chainstore.Store, leader *PeerState) error {
	if leader.LastCommonBlock != nil {
		return nil
	}
	if store.NextOffset() > 0 {
		return ErrDiverged
	}
	return nil
}
