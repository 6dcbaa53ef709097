// Package chainsync implements the three tick-driven phases that bring a
// node's chain store into agreement with its peers: metadata sampling,
// leader selection, and block download (spec §4.5).
package chainsync

import "github.com/pkg/errors"

var (
	// ErrInvalidSyncResponse is returned when a downloaded block's offset
	// doesn't match the requester's expected next_local_offset.
	ErrInvalidSyncResponse = errors.New("chainsync: response offset mismatch")

	// ErrDiverged is fatal: the leader reports no common block with us
	// even though we hold blocks of our own. Requires operator
	// intervention (wipe or branch).
	ErrDiverged = errors.New("chainsync: diverged from leader, no common ancestor")
)
