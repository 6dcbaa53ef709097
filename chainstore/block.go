package chainstore

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/nodecell/datacell/frame"
)

// Header is the fixed-shape first section of a block (spec §3 "Block").
type Header struct {
	Offset              int64
	Height              uint64
	PreviousOffset      int64
	PreviousHash        []byte // multihash over the previous block's signatures
	OperationsHash      []byte // multihash over the concatenation of operation signatures
	ProposedOperationID uint64 // operation_id of the BlockPropose this block commits
}

// NextOffset returns offset + header.size + operations.size + signatures.size,
// i.e. the offset the following block must be written at.
func (b Block) NextOffset() int64 {
	return b.Header.Offset + int64(b.headerFrameSize()) + int64(len(b.OperationsPayload)) + int64(b.signaturesFrameSize())
}

// Signature is one node's signature over a block's header digest.
type Signature struct {
	NodeID    string
	Signature []byte
}

// Block is the triple of framed sections concatenated in file order: header,
// raw operations payload, signatures (spec §3).
type Block struct {
	Header Header
	// OperationsPayload is the raw bytes of the framed operations, sorted
	// by operation_id, exactly as they'll appear on disk — not re-framed.
	OperationsPayload []byte
	Signatures        []Signature
}

func encodeHeaderMessage(h Header) []byte {
	buf := make([]byte, 0, 8+8+8+2+len(h.PreviousHash)+2+len(h.OperationsHash)+8)
	buf = appendUint64(buf, uint64(h.Offset))
	buf = appendUint64(buf, h.Height)
	buf = appendUint64(buf, uint64(h.PreviousOffset))
	buf = appendBytes(buf, h.PreviousHash)
	buf = appendBytes(buf, h.OperationsHash)
	buf = appendUint64(buf, h.ProposedOperationID)
	return buf
}

func decodeHeaderMessage(b []byte) (Header, error) {
	var h Header
	var ok bool
	if h.Offset, b, ok = takeInt64(b); !ok {
		return Header{}, errors.New("chainstore: truncated header: offset")
	}
	var height uint64
	if height, b, ok = takeUint64(b); !ok {
		return Header{}, errors.New("chainstore: truncated header: height")
	}
	h.Height = height
	if h.PreviousOffset, b, ok = takeInt64(b); !ok {
		return Header{}, errors.New("chainstore: truncated header: previous_offset")
	}
	if h.PreviousHash, b, ok = takeBytes(b); !ok {
		return Header{}, errors.New("chainstore: truncated header: previous_hash")
	}
	if h.OperationsHash, b, ok = takeBytes(b); !ok {
		return Header{}, errors.New("chainstore: truncated header: operations_hash")
	}
	if h.ProposedOperationID, b, ok = takeUint64(b); !ok {
		return Header{}, errors.New("chainstore: truncated header: proposed_operation_id")
	}
	return h, nil
}

func encodeSignaturesMessage(sigs []Signature) []byte {
	buf := appendUint64(nil, uint64(len(sigs)))
	for _, s := range sigs {
		buf = appendBytes(buf, []byte(s.NodeID))
		buf = appendBytes(buf, s.Signature)
	}
	return buf
}

func decodeSignaturesMessage(b []byte) ([]Signature, error) {
	count, b, ok := takeUint64(b)
	if !ok {
		return nil, errors.New("chainstore: truncated signatures: count")
	}
	sigs := make([]Signature, 0, count)
	for i := uint64(0); i < count; i++ {
		var nodeID, sig []byte
		if nodeID, b, ok = takeBytes(b); !ok {
			return nil, errors.New("chainstore: truncated signatures: node_id")
		}
		if sig, b, ok = takeBytes(b); !ok {
			return nil, errors.New("chainstore: truncated signatures: signature")
		}
		sigs = append(sigs, Signature{NodeID: string(nodeID), Signature: sig})
	}
	return sigs, nil
}

// encode renders the block as the three concatenated frames described in
// spec §6 "Chain on-disk layout": header frame, raw operations payload,
// signatures frame. hashSigner produces the content-hash "signature" used
// to chain headers together (not a node signature).
func (b Block) encode(hashSigner func() (frame.Signer, error)) ([]byte, error) {
	hs, err := hashSigner()
	if err != nil {
		return nil, err
	}
	headerFrame, err := frame.Encode(frame.TypeBlockHeader, encodeHeaderMessage(b.Header), hs)
	if err != nil {
		return nil, errors.Wrap(err, "chainstore: encoding header frame")
	}

	ss, err := hashSigner()
	if err != nil {
		return nil, err
	}
	sigFrame, err := frame.Encode(frame.TypeBlockSignatures, encodeSignaturesMessage(b.Signatures), ss)
	if err != nil {
		return nil, errors.Wrap(err, "chainstore: encoding signatures frame")
	}

	out := make([]byte, 0, len(headerFrame)+len(b.OperationsPayload)+len(sigFrame))
	out = append(out, headerFrame...)
	out = append(out, b.OperationsPayload...)
	out = append(out, sigFrame...)
	return out, nil
}

// BlockHash returns the content hash identifying b — the same digest a
// following block records as its PreviousHash — computed over the encoded
// signatures section (spec §3's block-to-block chaining is over the
// signatures, not the header alone, since the header itself already embeds
// previous_hash and operations_hash).
func BlockHash(b Block) ([]byte, error) {
	s, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(encodeSignaturesMessage(b.Signatures)); err != nil {
		return nil, err
	}
	return s.Sum()
}

func (b Block) headerFrameSize() int {
	return 2*frame.MetaSize + len(encodeHeaderMessage(b.Header)) + multihashDigestSize
}

func (b Block) signaturesFrameSize() int {
	digestSize := multihashDigestSize
	return 2*frame.MetaSize + len(encodeSignaturesMessage(b.Signatures)) + digestSize
}

// multihashDigestSize is the encoded size of the SHA3-256 multihash used to
// "sign" header and signatures sections for chaining purposes. Computed
// once from a zero-length digest to avoid hardcoding multihash varint
// framing sizes.
var multihashDigestSize = func() int {
	s, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	if err != nil {
		panic(err)
	}
	sum, err := s.Sum()
	if err != nil {
		panic(err)
	}
	return len(sum)
}()

// decodeBlock parses a block starting at the front of buf, returning the
// block and the number of bytes it occupies.
func decodeBlock(buf []byte) (Block, int, error) {
	headerFrame, err := frame.NewTyped(buf, frame.TypeBlockHeader)
	if err != nil {
		return Block{}, 0, errors.Wrap(err, "chainstore: decoding header frame")
	}
	header, err := decodeHeaderMessage(headerFrame.MessageData())
	if err != nil {
		return Block{}, 0, err
	}

	opsStart := headerFrame.Size()
	pos := 0
	for {
		f, err := frame.New(buf[opsStart+pos:])
		if err != nil {
			return Block{}, 0, errors.Wrap(err, "chainstore: scanning operations payload")
		}
		if f.MessageType() == frame.TypeBlockSignatures {
			break
		}
		pos += f.Size()
	}
	sigStart := opsStart + pos
	sigFrame, err := frame.NewTyped(buf[sigStart:], frame.TypeBlockSignatures)
	if err != nil {
		return Block{}, 0, errors.Wrap(err, "chainstore: decoding signatures frame")
	}
	sigs, err := decodeSignaturesMessage(sigFrame.MessageData())
	if err != nil {
		return Block{}, 0, err
	}

	b := Block{
		Header:            header,
		OperationsPayload: buf[opsStart:sigStart],
		Signatures:        sigs,
	}
	return b, sigStart + sigFrame.Size(), nil
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBytes(b []byte, v []byte) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(len(v)))
	b = append(b, tmp[:]...)
	return append(b, v...)
}

func takeUint64(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, b, false
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], true
}

func takeInt64(b []byte) (int64, []byte, bool) {
	v, rest, ok := takeUint64(b)
	return int64(v), rest, ok
}

func takeBytes(b []byte) ([]byte, []byte, bool) {
	if len(b) < 2 {
		return nil, b, false
	}
	n := int(binary.LittleEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return nil, b, false
	}
	return b[:n], b[n:], true
}
