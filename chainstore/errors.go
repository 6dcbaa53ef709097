package chainstore

import "github.com/pkg/errors"

// Error taxonomy per spec §7: integrity and out-of-bound errors are
// returned (never silently swallowed); Integrity at write time is fatal to
// the caller (the engine treats it as such), at read time it's logged and
// returned.
var (
	// ErrIntegrity is returned by WriteBlock when the block's declared
	// offset doesn't match the store's current next_block_offset.
	ErrIntegrity = errors.New("chainstore: block offset does not match next block offset")

	// ErrSegmentFull is returned when a block can't fit even in a brand
	// new segment (the block itself exceeds segment_max_size).
	ErrSegmentFull = errors.New("chainstore: block too large for a fresh segment")

	// ErrOutOfBound is returned by offset-based lookups outside the chain.
	ErrOutOfBound = errors.New("chainstore: offset out of bound")

	// ErrNotDirectory is returned by OpenOrInit when the chain directory
	// path exists but is not a directory.
	ErrNotDirectory = errors.New("chainstore: path exists and is not a directory")
)
