// Package frame implements the length-prefixed, typed, optionally signed
// message envelope used for every operation and block section on the wire
// and on disk (spec §4.1).
//
// A frame is META ‖ MESSAGE ‖ [SIGNATURE] ‖ META, where META is 8
// little-endian bytes: (u16 message_type, u32 message_size, u16
// signature_size). The tail copy of META lets a reader locate the start of
// the previous frame from its end, which is what chainstore's reverse
// iterator relies on.
//
// Frame is a single type over a byte container rather than separate
// "borrowed" and "owned" variants: a chainstore.Segment hands out frames
// backed by its mmap region, while pending.Store and the wire codecs hand
// out frames backed by freshly allocated slices. Both are just []byte to
// Go, so one type covers both and decoding stays lazy — constructing a
// Frame only slices metadata out; MessageData/SignatureData don't copy.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MetaSize is the size in bytes of one head or tail metadata block.
const MetaSize = 8

// Errors surfaced by frame parsing, per spec §7 ("framing errors ... local
// to one frame; surfaced to the caller, never fatal by themselves").
var (
	ErrInvalidSize      = errors.New("frame: buffer too short")
	ErrInvalidData      = errors.New("frame: head and tail metadata disagree")
	ErrEOF              = io.EOF
	ErrInvalidSignature = errors.New("frame: signature verification failed")
	ErrTypeMismatch     = errors.New("frame: unexpected message type")
)

// meta is the 8-byte (message_type, message_size, signature_size) header
// repeated at both ends of a frame.
type meta struct {
	messageType   uint16
	messageSize   uint32
	signatureSize uint16
}

func decodeMeta(b []byte) (meta, error) {
	if len(b) < MetaSize {
		return meta{}, ErrInvalidSize
	}
	return meta{
		messageType:   binary.LittleEndian.Uint16(b[0:2]),
		messageSize:   binary.LittleEndian.Uint32(b[2:6]),
		signatureSize: binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

func (m meta) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], m.messageType)
	binary.LittleEndian.PutUint32(b[2:6], m.messageSize)
	binary.LittleEndian.PutUint16(b[6:8], m.signatureSize)
}

// Frame is a parsed view over a byte slice holding one META‖MESSAGE‖
// [SIGNATURE]‖META envelope. Parsing is lazy: New only validates and
// decodes the two metadata blocks; MessageData and SignatureData just
// reslice buf.
type Frame struct {
	buf  []byte
	head meta
}

// New parses a frame out of the front of buf. buf may be longer than the
// frame (the caller slices buf[:f.Size()] to advance past it); it must not
// be shorter than the frame.
func New(buf []byte) (Frame, error) {
	head, err := decodeMeta(buf)
	if err != nil {
		return Frame{}, err
	}
	if head.messageSize == 0 {
		return Frame{}, ErrEOF
	}
	size := frameSize(head)
	if uint64(len(buf)) < size {
		return Frame{}, ErrInvalidSize
	}
	tail, err := decodeMeta(buf[size-MetaSize : size])
	if err != nil {
		return Frame{}, err
	}
	if tail != head {
		return Frame{}, ErrInvalidData
	}
	return Frame{buf: buf[:size], head: head}, nil
}

// FromNextOffset locates and parses the frame immediately preceding
// nextOffset within buf, using the tail metadata at nextOffset-MetaSize to
// compute the frame's start. This is what chainstore's reverse iterator and
// get_block_from_next_offset use.
func FromNextOffset(buf []byte, nextOffset int64) (Frame, error) {
	if nextOffset < MetaSize || int64(len(buf)) < nextOffset {
		return Frame{}, ErrInvalidSize
	}
	tail, err := decodeMeta(buf[nextOffset-MetaSize : nextOffset])
	if err != nil {
		return Frame{}, err
	}
	size := int64(frameSize(tail))
	start := nextOffset - size
	if start < 0 {
		return Frame{}, ErrInvalidData
	}
	return New(buf[start:nextOffset])
}

func frameSize(m meta) uint64 {
	return uint64(MetaSize)*2 + uint64(m.messageSize) + uint64(m.signatureSize)
}

// MessageType returns the frame's declared message type tag.
func (f Frame) MessageType() uint16 { return f.head.messageType }

// Size returns the total number of bytes the frame occupies, head meta
// through tail meta inclusive.
func (f Frame) Size() int { return len(f.buf) }

// MessageData returns the message bytes (excludes both metadata blocks and
// the signature).
func (f Frame) MessageData() []byte {
	start := MetaSize
	end := start + int(f.head.messageSize)
	return f.buf[start:end]
}

// SignatureData returns the signature bytes, or nil if the frame carries
// none.
func (f Frame) SignatureData() []byte {
	if f.head.signatureSize == 0 {
		return nil
	}
	start := MetaSize + int(f.head.messageSize)
	end := start + int(f.head.signatureSize)
	return f.buf[start:end]
}

// Bytes returns the full encoded frame, head meta through tail meta.
func (f Frame) Bytes() []byte { return f.buf }

// Verify recomputes the hash over MessageData using v and compares it
// bit-for-bit against SignatureData.
func (f Frame) Verify(v Verifier) error {
	if v == nil {
		return nil
	}
	return v.Verify(f.MessageData(), f.SignatureData())
}

// Write encodes a frame of the given message type and message bytes to w,
// signing the message with s if s is non-nil, and returns the number of
// bytes written.
//
// Signing is streamed: s consumes the message bytes via Write as they're
// handed to it (mirroring a signer that hashes while the caller is still
// producing the message), then Sum is called once to obtain the signature
// bytes written into the trailing section.
func Write(w io.Writer, messageType uint16, message []byte, s Signer) (int, error) {
	var sig []byte
	if s != nil {
		if _, err := s.Write(message); err != nil {
			return 0, errors.Wrap(err, "frame: streaming message to signer")
		}
		var err error
		sig, err = s.Sum()
		if err != nil {
			return 0, errors.Wrap(err, "frame: computing signature")
		}
	}
	m := meta{
		messageType:   messageType,
		messageSize:   uint32(len(message)),
		signatureSize: uint16(len(sig)),
	}
	var head, tail [MetaSize]byte
	m.encode(head[:])
	m.encode(tail[:])

	n := 0
	for _, chunk := range [][]byte{head[:], message, sig, tail[:]} {
		if len(chunk) == 0 {
			continue
		}
		wn, err := w.Write(chunk)
		n += wn
		if err != nil {
			return n, errors.Wrap(err, "frame: writing")
		}
	}
	return n, nil
}

// Encode returns the encoded frame as a freshly allocated slice, the owned
// equivalent of Write.
func Encode(messageType uint16, message []byte, s Signer) ([]byte, error) {
	var buf byteSliceWriter
	if _, err := Write(&buf, messageType, message, s); err != nil {
		return nil, err
	}
	return buf.b, nil
}

type byteSliceWriter struct{ b []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
