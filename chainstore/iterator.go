package chainstore

// ForwardIterator walks committed blocks in increasing offset order,
// starting at fromOffset.
type ForwardIterator struct {
	s      *Store
	offset int64
	done   bool
}

// BlocksIter returns a forward iterator starting at fromOffset.
func (s *Store) BlocksIter(fromOffset int64) *ForwardIterator {
	return &ForwardIterator{s: s, offset: fromOffset}
}

// Next returns the next block and advances, or (Block{}, false) once the
// chain's current next-offset is reached.
func (it *ForwardIterator) Next() (Block, bool) {
	if it.done {
		return Block{}, false
	}
	if it.offset >= it.s.NextOffset() {
		it.done = true
		return Block{}, false
	}
	b, err := it.s.GetBlock(it.offset)
	if err != nil {
		it.done = true
		return Block{}, false
	}
	it.offset = b.NextOffset()
	return b, true
}

// ReverseIterator walks committed blocks in decreasing offset order,
// starting from the block whose NextOffset() equals fromNextOffset.
type ReverseIterator struct {
	s          *Store
	nextOffset int64
	done       bool
}

// BlocksIterReverse returns a reverse iterator starting from the block
// ending at fromNextOffset.
func (s *Store) BlocksIterReverse(fromNextOffset int64) *ReverseIterator {
	return &ReverseIterator{s: s, nextOffset: fromNextOffset}
}

// Next returns the preceding block and steps backward, or (Block{}, false)
// once offset 0 (genesis) has already been returned.
func (it *ReverseIterator) Next() (Block, bool) {
	if it.done || it.nextOffset <= 0 {
		return Block{}, false
	}
	b, err := it.s.GetBlockFromNextOffset(it.nextOffset)
	if err != nil {
		it.done = true
		return Block{}, false
	}
	it.nextOffset = b.Header.Offset
	return b, true
}
