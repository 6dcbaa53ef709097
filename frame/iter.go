package frame

// Iterator walks a buffer of concatenated frames forward, one Frame at a
// time. chainstore uses this to walk a segment's operations payload or (for
// recovery) an entire segment file.
type Iterator struct {
	buf    []byte
	offset int
}

// NewIterator returns an Iterator starting at the beginning of buf.
func NewIterator(buf []byte) *Iterator {
	return &Iterator{buf: buf}
}

// Offset returns the byte offset of the frame Next will return.
func (it *Iterator) Offset() int { return it.offset }

// Next returns the next frame and advances past it. It returns ErrEOF (the
// frame package's alias for io.EOF) once the buffer is exhausted.
func (it *Iterator) Next() (Frame, error) {
	if it.offset >= len(it.buf) {
		return Frame{}, ErrEOF
	}
	f, err := New(it.buf[it.offset:])
	if err != nil {
		return Frame{}, err
	}
	it.offset += f.Size()
	return f, nil
}
