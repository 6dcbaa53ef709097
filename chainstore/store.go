// Package chainstore implements the segmented, memory-mapped, append-only
// block log described in spec §4.2: framed block sections written across
// size-capped segment files, with forward/reverse iteration and truncation.
package chainstore

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nodecell/datacell/frame"
)

// Default sizing, per spec §6 "Configuration".
const (
	DefaultSegmentMaxSize        int64 = 4 << 30  // 4 GiB hard cap
	DefaultSegmentOverAllocate   int64 = 64 << 20 // 64 MiB growth increment
)

// blockIndexEntry records where one block lives so GetBlockFromNextOffset
// and reverse iteration don't have to rescan a segment's bytes.
type blockIndexEntry struct {
	offset     int64
	nextOffset int64
}

// segState bundles a segment with the block index built for it.
type segState struct {
	seg    *segment
	blocks []blockIndexEntry // sorted by offset
}

// Store is the chain's segment set. It is the exclusive owner of every
// segment's file handle and mmap region (spec §3 "Ownership").
type Store struct {
	dir          string
	maxSize      int64
	overAllocate int64
	log          *logrus.Entry

	mu   sync.Mutex
	cond *sync.Cond
	segs []*segState
	next int64 // next_block_offset
}

// Option configures a Store.
type Option func(*Store)

// WithSegmentMaxSize overrides DefaultSegmentMaxSize.
func WithSegmentMaxSize(n int64) Option { return func(s *Store) { s.maxSize = n } }

// WithSegmentOverAllocateSize overrides DefaultSegmentOverAllocate.
func WithSegmentOverAllocateSize(n int64) Option { return func(s *Store) { s.overAllocate = n } }

// WithLogger attaches a logrus entry used for integrity-error and
// lifecycle logging.
func WithLogger(l *logrus.Entry) Option { return func(s *Store) { s.log = l } }

// OpenOrInit opens an existing chain directory, or creates one and writes a
// zero-operation genesis block if dir is empty (spec §12 "Genesis
// bootstrap").
func OpenOrInit(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:          dir,
		maxSize:      DefaultSegmentMaxSize,
		overAllocate: DefaultSegmentOverAllocate,
		log:          logrus.WithField("component", "chainstore"),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, o := range opts {
		o(s)
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "chainstore: creating directory %s", dir)
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "chainstore: stat %s", dir)
	} else if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	if len(s.segs) == 0 {
		genesis := Block{Header: Header{Offset: 0, Height: 0, PreviousOffset: -1}}
		if _, err := s.WriteBlock(genesis); err != nil {
			return nil, errors.Wrap(err, "chainstore: writing genesis block")
		}
	}
	return s, nil
}

// open scans the directory for seg_<offset> files, opens and mmaps each,
// and walks every segment forward to build its block index and locate the
// last block (spec §4.2 "Opening").
func (s *Store) open() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "chainstore: reading directory")
	}
	var offsets []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		off, ok := parseSegmentOffset(e.Name())
		if !ok {
			continue
		}
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	for _, off := range offsets {
		seg, err := openSegment(s.dir, off)
		if err != nil {
			return err
		}
		st := &segState{seg: seg}
		if err := st.rebuildIndex(); err != nil {
			return err
		}
		if len(st.blocks) > 0 {
			first := st.blocks[0].offset
			if first != off {
				return errors.Errorf("chainstore: segment %d's first block declares offset %d", off, first)
			}
		}
		s.segs = append(s.segs, st)
	}
	if len(s.segs) > 0 {
		last := s.segs[len(s.segs)-1]
		if len(last.blocks) > 0 {
			s.next = last.blocks[len(last.blocks)-1].nextOffset
		} else {
			s.next = last.seg.firstOffset
		}
	}
	return nil
}

// rebuildIndex walks a segment's raw bytes forward with decodeBlock,
// recording each block's offset/nextOffset, and sets seg.currentSize to the
// logical length actually occupied by valid blocks (trailing garbage from
// an interrupted write is ignored).
func (st *segState) rebuildIndex() error {
	raw := st.seg.data
	if raw == nil {
		return nil
	}
	pos := int64(0)
	for pos < int64(len(raw)) {
		b, n, err := decodeBlock(raw[pos:])
		if err != nil {
			break // trailing zero-fill from over-allocation, or truncated write
		}
		st.blocks = append(st.blocks, blockIndexEntry{
			offset:     st.seg.firstOffset + pos,
			nextOffset: st.seg.firstOffset + pos + int64(n),
		})
		_ = b
		pos += int64(n)
	}
	st.seg.currentSize = pos
	return nil
}

func hashSignerFactory() (frame.Signer, error) {
	return frame.NewMultihashSigner(frame.CodeSHA3_256)
}

// WriteBlock appends block to the last segment, per spec §4.2. It returns
// the new next_block_offset, or ErrIntegrity if block.Header.Offset doesn't
// match the store's current next offset.
func (s *Store) WriteBlock(b Block) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Header.Offset != s.next {
		s.log.WithFields(logrus.Fields{
			"declared": b.Header.Offset,
			"expected": s.next,
		}).Error("chainstore: integrity violation on write")
		return 0, ErrIntegrity
	}

	encoded, err := b.encode(hashSignerFactory)
	if err != nil {
		return 0, err
	}
	if int64(len(encoded)) > s.maxSize {
		return 0, ErrSegmentFull
	}

	var st *segState
	if len(s.segs) == 0 {
		st, err = s.newSegment(b.Header.Offset)
		if err != nil {
			return 0, err
		}
	} else {
		st = s.segs[len(s.segs)-1]
		if st.seg.nextOffset()+int64(len(encoded)) > st.seg.firstOffset+s.maxSize {
			st, err = s.newSegment(b.Header.Offset)
			if err != nil {
				return 0, err
			}
		}
	}

	if err := st.seg.write(encoded, s.overAllocate); err != nil {
		return 0, err
	}
	st.blocks = append(st.blocks, blockIndexEntry{offset: b.Header.Offset, nextOffset: b.NextOffset()})
	s.next = b.NextOffset()

	// s.mu == s.cond.L, already held by this call.
	s.cond.Broadcast()

	return s.next, nil
}

func (s *Store) newSegment(firstOffset int64) (*segState, error) {
	seg, err := createSegment(s.dir, firstOffset, s.overAllocate)
	if err != nil {
		return nil, err
	}
	st := &segState{seg: seg}
	s.segs = append(s.segs, st)
	return st, nil
}

// NextOffset returns the store's current next_block_offset.
func (s *Store) NextOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// GetLastBlock returns the last written block, or ErrOutOfBound if the
// store has no blocks (shouldn't happen once genesis is written).
func (s *Store) GetLastBlock() (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segs) == 0 {
		return Block{}, ErrOutOfBound
	}
	last := s.segs[len(s.segs)-1]
	if len(last.blocks) == 0 {
		return Block{}, ErrOutOfBound
	}
	entry := last.blocks[len(last.blocks)-1]
	return s.getBlockLocked(entry.offset)
}

func (s *Store) segmentFor(offset int64) (*segState, bool) {
	i := sort.Search(len(s.segs), func(i int) bool { return s.segs[i].seg.firstOffset > offset })
	if i == 0 {
		return nil, false
	}
	return s.segs[i-1], true
}

// GetBlock returns the block starting at offset.
func (s *Store) GetBlock(offset int64) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBlockLocked(offset)
}

func (s *Store) getBlockLocked(offset int64) (Block, error) {
	st, ok := s.segmentFor(offset)
	if !ok {
		return Block{}, ErrOutOfBound
	}
	rel := offset - st.seg.firstOffset
	raw := st.seg.bytes()
	if rel < 0 || rel >= int64(len(raw)) {
		return Block{}, ErrOutOfBound
	}
	b, _, err := decodeBlock(raw[rel:])
	if err != nil {
		return Block{}, errors.Wrapf(err, "chainstore: decoding block at offset %d", offset)
	}
	return b, nil
}

// GetBlockFromNextOffset returns the block whose NextOffset() equals
// nextOffset, using the segment's maintained block index (built by forward
// scanning at open/write time, per spec's "forward or reverse metadata").
func (s *Store) GetBlockFromNextOffset(nextOffset int64) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.segmentFor(nextOffset - 1)
	if !ok {
		return Block{}, ErrOutOfBound
	}
	for _, e := range st.blocks {
		if e.nextOffset == nextOffset {
			return s.getBlockLocked(e.offset)
		}
	}
	return Block{}, ErrOutOfBound
}

// SegmentRange describes one segment's byte range.
type SegmentRange struct {
	FirstOffset int64
	NextOffset  int64
}

// Segments returns the ordered list of segment byte ranges.
func (s *Store) Segments() []SegmentRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SegmentRange, len(s.segs))
	for i, st := range s.segs {
		out[i] = SegmentRange{FirstOffset: st.seg.firstOffset, NextOffset: st.seg.nextOffset()}
	}
	return out
}

// TruncateFromOffset truncates the segment containing offset to length
// offset-segment.firstOffset, and deletes all later segments. If offset
// equals a segment's first offset, that segment is deleted entirely (spec
// §4.2).
func (s *Store) TruncateFromOffset(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.segs), func(i int) bool { return s.segs[i].seg.firstOffset >= offset })
	// idx is the first segment whose firstOffset >= offset: that segment and
	// everything after it is removed entirely.
	keepIdx := idx
	if idx > 0 && s.segs[idx-1].seg.firstOffset < offset {
		keepIdx = idx - 1
	}

	for i := len(s.segs) - 1; i > keepIdx; i-- {
		if err := s.segs[i].seg.remove(); err != nil {
			return err
		}
		s.segs = s.segs[:i]
	}

	if keepIdx < len(s.segs) {
		kept := s.segs[keepIdx]
		if kept.seg.firstOffset == offset {
			if err := kept.seg.remove(); err != nil {
				return err
			}
			s.segs = s.segs[:keepIdx]
		} else {
			n := offset - kept.seg.firstOffset
			if err := kept.seg.truncateTo(n); err != nil {
				return err
			}
			kept.blocks = filterBlocks(kept.blocks, offset)
		}
	}

	if len(s.segs) == 0 {
		s.next = 0
	} else {
		last := s.segs[len(s.segs)-1]
		if len(last.blocks) > 0 {
			s.next = last.blocks[len(last.blocks)-1].nextOffset
		} else {
			s.next = last.seg.firstOffset
		}
	}
	return nil
}

func filterBlocks(blocks []blockIndexEntry, ltOffset int64) []blockIndexEntry {
	out := blocks[:0]
	for _, b := range blocks {
		if b.offset < ltOffset {
			out = append(out, b)
		}
	}
	return out
}

// WaitOffset blocks until the store's next_block_offset is >= offset, or
// ctx is done (spec §12 "BlockWaiter-style height wait").
func (s *Store) WaitOffset(ctx context.Context, offset int64) error {
	done := make(chan struct{})
	stopWaking := make(chan struct{})
	defer close(stopWaking)

	// sync.Cond has no context awareness: a goroutine parked in Wait only
	// wakes on Broadcast/Signal. Broadcast once more when ctx is canceled so
	// the waiter below gets a chance to notice and give up.
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-stopWaking:
		}
	}()

	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for s.next < offset && ctx.Err() == nil {
			s.cond.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unmaps and closes every segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, st := range s.segs {
		if err := st.seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
