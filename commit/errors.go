// Package commit implements the per-tick commit manager described in spec
// §4.6: classifying pending block proposals, deciding to sign or refuse,
// assembling and writing quorum-reached blocks, proposing new blocks, and
// cleaning up pending operations that the chain has durably absorbed.
package commit

import "github.com/pkg/errors"

var (
	// ErrMyNodeNotFound is returned when the local node is missing from the
	// cell roster (signatures can't be attributed).
	ErrMyNodeNotFound = errors.New("commit: local node not found in roster")

	// ErrMissingOperation is returned when a proposal references an
	// operation_id absent from the pending store.
	ErrMissingOperation = errors.New("commit: proposal references unknown operation")

	// ErrUninitializedChain is returned when the chain store has no
	// genesis block yet.
	ErrUninitializedChain = errors.New("commit: chain has no genesis block")

	// ErrFatal is returned when a block this node previously signed later
	// fails its hash check — an unrecoverable integrity violation that
	// requires operator intervention.
	ErrFatal = errors.New("commit: previously signed proposal failed hash check")
)
