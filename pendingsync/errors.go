package pendingsync

import "github.com/pkg/errors"

// Errors surfaced by reconciliation, spec §4.4 "Edge cases".
var (
	// ErrInvalidSyncRequest is returned when a peer's range bounds are
	// malformed (out of order, or zero-width without being open-ended).
	// Ranges of one message are not checked against each other for
	// overlap.
	ErrInvalidSyncRequest = errors.New("pendingsync: invalid range bounds")

	// ErrInvalidSyncState is returned when a response carries headers or
	// operations inconsistent with the range it claims to cover (an
	// operation id outside its own bounds, a header count disagreeing
	// with the declared operations_count).
	ErrInvalidSyncState = errors.New("pendingsync: response inconsistent with its range")
)
