package frame

import (
	"crypto/ed25519"
	"hash"

	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// Signer streams message bytes (Write) and then yields a signature (Sum).
// Two implementations are provided: a multihash digest signer (used for
// block header/operations/signature-section framing, where the "signature"
// is really a content hash used for chaining) and an ed25519 node-identity
// signer (used to sign operations on behalf of a node, spec §3 "every
// operation is wrapped in a signed frame whose signature covers the body").
type Signer interface {
	Write(p []byte) (int, error)
	Sum() ([]byte, error)
}

// Verifier recomputes the expected signature over messageData and compares
// it against signatureData.
type Verifier interface {
	Verify(messageData, signatureData []byte) error
}

// multihashCode identifies the hash algorithm self-described by a multihash
// signature, per spec's "self-describing hash byte string prefixed with an
// algorithm code and length".
const (
	CodeSHA3_256 = multihash.SHA3_256
	CodeSHA3_512 = multihash.SHA3_512
)

// MultihashSigner hashes the streamed message with the given algorithm and
// returns a self-describing multihash digest as the signature. This is the
// signer used for block sections: chainstore signs each block's header and
// signatures frames with it, and the previous_hash a block records is
// chainstore.BlockHash of the previous block, a multihash over its
// signatures section.
type MultihashSigner struct {
	code uint64
	h    hash.Hash
}

// NewMultihashSigner returns a MultihashSigner using the given multihash
// algorithm code (CodeSHA3_256 or CodeSHA3_512).
func NewMultihashSigner(code uint64) (*MultihashSigner, error) {
	var h hash.Hash
	switch code {
	case CodeSHA3_256:
		h = sha3.New256()
	case CodeSHA3_512:
		h = sha3.New512()
	default:
		return nil, errors.Errorf("frame: unsupported multihash code %d", code)
	}
	return &MultihashSigner{code: code, h: h}, nil
}

func (s *MultihashSigner) Write(p []byte) (int, error) { return s.h.Write(p) }

// Sum returns the self-describing multihash over everything written so
// far.
func (s *MultihashSigner) Sum() ([]byte, error) {
	digest := s.h.Sum(nil)
	return multihash.Encode(digest, s.code)
}

// MultihashVerifier recomputes the multihash digest over messageData and
// compares it bit-for-bit to signatureData.
type MultihashVerifier struct{}

func (MultihashVerifier) Verify(messageData, signatureData []byte) error {
	decoded, err := multihash.Decode(signatureData)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	s, err := NewMultihashSigner(decoded.Code)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if _, err := s.Write(messageData); err != nil {
		return err
	}
	recomputed, err := s.Sum()
	if err != nil {
		return err
	}
	if !constantTimeEqual(recomputed, signatureData) {
		return ErrInvalidSignature
	}
	return nil
}

// Ed25519Signer signs the streamed message with a node's ed25519 private
// key once Sum is called (ed25519 is not incremental, so bytes are
// buffered internally; this still satisfies the streamed Signer
// interface).
type Ed25519Signer struct {
	key ed25519.PrivateKey
	buf []byte
}

// NewEd25519Signer returns a Signer that signs with key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

func (s *Ed25519Signer) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *Ed25519Signer) Sum() ([]byte, error) {
	return ed25519.Sign(s.key, s.buf), nil
}

// Ed25519Verifier verifies a signature against a fixed node public key.
type Ed25519Verifier struct {
	Key ed25519.PublicKey
}

func (v Ed25519Verifier) Verify(messageData, signatureData []byte) error {
	if !ed25519.Verify(v.Key, messageData, signatureData) {
		return ErrInvalidSignature
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
