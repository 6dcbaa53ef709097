package chainsync

import (
	"bytes"

	"github.com/nodecell/datacell/chainstore"
)

// ApplyHeaderSample folds a metadata-phase response into peer: it updates
// LastKnownBlock to the highest offset seen, and advances LastCommonBlock
// to the highest header whose hash matches a block we already hold (spec
// §4.5 "the requester maintains per-peer last_common_block ... and
// last_known_block").
//
// entries must be newest-first, matching BuildHeaderSample's output; once
// no common ancestor is found, the caller narrows the next request with
// NarrowFrom.
func ApplyHeaderSample(store *chainstore.Store, peer *PeerState, entries []HeaderEntry) error {
	for _, e := range entries {
		if peer.LastKnownBlock == nil || e.Header.Offset > peer.LastKnownBlock.Offset {
			peer.LastKnownBlock = &BlockRef{Offset: e.Header.Offset, Hash: e.Hash}
		}
	}

	for _, e := range entries {
		local, err := store.GetBlock(e.Header.Offset)
		if err != nil {
			continue // we don't hold a block at this offset
		}
		localHash, err := chainstore.BlockHash(local)
		if err != nil {
			return err
		}
		if !bytes.Equal(localHash, e.Hash) {
			continue
		}
		if peer.LastCommonBlock == nil || e.Header.Offset > peer.LastCommonBlock.Offset {
			peer.LastCommonBlock = &BlockRef{Offset: e.Header.Offset, Hash: localHash}
		}
	}
	return nil
}

// NarrowFrom returns the offset a follow-up metadata request should start
// from: the earliest offset examined so far, so an iterative narrowing
// converges on the actual common ancestor.
func NarrowFrom(entries []HeaderEntry) int64 {
	if len(entries) == 0 {
		return 0
	}
	lowest := entries[0].Header.Offset
	for _, e := range entries {
		if e.Header.Offset < lowest {
			lowest = e.Header.Offset
		}
	}
	return lowest
}
