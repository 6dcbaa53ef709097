package chainsync

import "sort"

// SelectLeader implements spec §4.5's leader selection: once a strict
// quorum of peers' metadata is known, the leader is the peer with the
// highest last_known_block.offset; local ties (or no peer, or local being
// strictly longer) favor the local node.
//
// peers maps peer id to its current state; quorumSize is the number of
// peers (including self) that must have left Unknown status before a
// leader can be chosen. It returns ("", true) when local is leader, or the
// winning peer id and false otherwise.
func SelectLeader(selfOffset int64, peers map[string]*PeerState, quorumSize int) (leaderID string, isSelf bool) {
	known := 0
	for _, p := range peers {
		if p.Status != StatusUnknown {
			known++
		}
	}
	if known+1 < quorumSize { // +1 counts the local node
		return "", true // no quorum yet: stay local/idle until it forms
	}

	bestID := ""
	bestOffset := selfOffset
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic iteration so ties resolve identically everywhere

	for _, id := range ids {
		p := peers[id]
		if p.LastKnownBlock == nil {
			continue
		}
		if p.LastKnownBlock.Offset > bestOffset {
			bestOffset = p.LastKnownBlock.Offset
			bestID = id
		}
	}
	if bestID == "" {
		return "", true
	}
	return bestID, false
}
