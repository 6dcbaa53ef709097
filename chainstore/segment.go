package chainstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

const segmentFilePrefix = "seg_"

// segment owns one mmap-backed segment file, a contiguous run of blocks
// such that firstOffset <= block.offset < nextOffset (spec §3 "Segment").
// Exclusive ownership of the file handle and mmap region belongs to this
// type; the Store exclusively owns the segment set.
type segment struct {
	path        string
	firstOffset int64
	file        *os.File
	data        mmap.MMap
	currentSize int64 // bytes of data actually in use (<= len(data))
}

func segmentPath(dir string, firstOffset int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", segmentFilePrefix, firstOffset))
}

func parseSegmentOffset(name string) (int64, bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(name, segmentFilePrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// createSegment creates and mmaps a brand new, zero-length-content segment
// file, pre-allocated to overAllocate bytes.
func createSegment(dir string, firstOffset int64, overAllocate int64) (*segment, error) {
	path := segmentPath(dir, firstOffset)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "chainstore: creating segment file %s", path)
	}
	s := &segment{path: path, firstOffset: firstOffset, file: f}
	if err := s.grow(overAllocate); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// openSegment opens and mmaps an existing segment file.
func openSegment(dir string, firstOffset int64) (*segment, error) {
	path := segmentPath(dir, firstOffset)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "chainstore: opening segment file %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "chainstore: stat segment file")
	}
	s := &segment{path: path, firstOffset: firstOffset, file: f}
	if info.Size() > 0 {
		data, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "chainstore: mmap segment file")
		}
		s.data = data
	}
	return s, nil
}

// grow over-allocates the segment file by allocSize bytes and re-maps it.
// The mmap region must be re-mapped after every set_len, per spec §4.2
// "Segment growth".
func (s *segment) grow(allocSize int64) error {
	newLen := int64(len(s.data)) + allocSize
	if err := s.unmap(); err != nil {
		return err
	}
	if err := s.file.Truncate(newLen); err != nil {
		return errors.Wrap(err, "chainstore: truncating segment file")
	}
	data, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "chainstore: re-mapping segment file after growth")
	}
	s.data = data
	return nil
}

func (s *segment) unmap() error {
	if s.data == nil {
		return nil
	}
	if err := s.data.Unmap(); err != nil {
		return errors.Wrap(err, "chainstore: unmapping segment file")
	}
	s.data = nil
	return nil
}

// write appends raw bytes to the segment at s.currentSize, growing the
// underlying file first if they don't fit within the already-allocated
// region.
func (s *segment) write(b []byte, overAllocate int64) error {
	needed := s.currentSize + int64(len(b))
	for needed > int64(len(s.data)) {
		if err := s.grow(overAllocate); err != nil {
			return err
		}
	}
	copy(s.data[s.currentSize:needed], b)
	s.currentSize = needed
	return s.file.Sync()
}

// truncateTo shrinks the segment's logical content to n bytes (physically
// truncating the file as well) and re-maps.
func (s *segment) truncateTo(n int64) error {
	if err := s.unmap(); err != nil {
		return err
	}
	if err := s.file.Truncate(n); err != nil {
		return errors.Wrap(err, "chainstore: truncating segment")
	}
	if n > 0 {
		data, err := mmap.Map(s.file, mmap.RDWR, 0)
		if err != nil {
			return errors.Wrap(err, "chainstore: re-mapping after truncate")
		}
		s.data = data
	}
	s.currentSize = n
	return nil
}

func (s *segment) close() error {
	if err := s.unmap(); err != nil {
		return err
	}
	return s.file.Close()
}

func (s *segment) remove() error {
	if err := s.close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

// bytes returns the segment's logical content (excludes the over-allocated
// but unused tail).
func (s *segment) bytes() []byte {
	if s.data == nil {
		return nil
	}
	return s.data[:s.currentSize]
}

// nextOffset returns firstOffset + currentSize, i.e. the absolute offset at
// which the next block in this segment (or the next segment, if this one
// is sealed) would start.
func (s *segment) nextOffset() int64 {
	return s.firstOffset + s.currentSize
}
