package frame

import (
	"bytes"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	signers := map[string]Signer{
		"sha3-256": mustSigner(t, CodeSHA3_256),
		"sha3-512": mustSigner(t, CodeSHA3_512),
	}
	for name, s := range signers {
		t.Run(name, func(t *testing.T) {
			message := []byte("hello, chain")
			var buf bytes.Buffer
			n, err := Write(&buf, TypePendingOperation, message, s)
			require.NoError(t, err)
			require.Equal(t, buf.Len(), n)

			f, err := New(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, TypePendingOperation, f.MessageType())
			assert.Equal(t, message, f.MessageData())
			assert.Equal(t, 2*MetaSize+len(message)+len(f.SignatureData()), f.Size())

			require.NoError(t, f.Verify(MultihashVerifier{}))
		})
	}
}

func TestRoundTripProperty(t *testing.T) {
	s := mustSigner(t, CodeSHA3_256)
	f := func(msg []byte) bool {
		if len(msg) == 0 {
			msg = []byte{0}
		}
		enc, err := Encode(TypePendingOperation, msg, s)
		if err != nil {
			return false
		}
		got, err := New(enc)
		if err != nil {
			return false
		}
		if !bytes.Equal(got.MessageData(), msg) {
			return false
		}
		return got.Verify(MultihashVerifier{}) == nil
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMetadataSymmetry(t *testing.T) {
	s := mustSigner(t, CodeSHA3_256)
	enc, err := Encode(TypeBlockHeader, []byte("header bytes"), s)
	require.NoError(t, err)

	f, err := New(enc)
	require.NoError(t, err)
	assert.Equal(t, len(enc), f.Size())
	assert.Equal(t, 2*MetaSize+len(f.MessageData())+len(f.SignatureData()), f.Size())
}

func TestFromNextOffset(t *testing.T) {
	s := mustSigner(t, CodeSHA3_256)
	var buf bytes.Buffer
	_, err := Write(&buf, TypePendingOperation, []byte("first"), s)
	require.NoError(t, err)
	firstSize := buf.Len()
	_, err = Write(&buf, TypePendingOperation, []byte("second"), s)
	require.NoError(t, err)

	// Reverse-parse the first frame using the tail metadata located
	// immediately before the second frame.
	got, err := FromNextOffset(buf.Bytes(), int64(firstSize))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got.MessageData())
}

func TestInvalidSize(t *testing.T) {
	_, err := New([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestInvalidData(t *testing.T) {
	s := mustSigner(t, CodeSHA3_256)
	enc, err := Encode(TypePendingOperation, []byte("x"), s)
	require.NoError(t, err)
	enc[len(enc)-1] ^= 0xFF // corrupt the tail meta
	_, err = New(enc)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestEOFOnZeroSize(t *testing.T) {
	buf := make([]byte, MetaSize*2)
	_, err := New(buf)
	assert.ErrorIs(t, err, ErrEOF)
}

func TestTypedMismatch(t *testing.T) {
	s := mustSigner(t, CodeSHA3_256)
	enc, err := Encode(TypePendingOperation, []byte("x"), s)
	require.NoError(t, err)
	_, err = NewTyped(enc, TypeBlockHeader)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestInvalidSignature(t *testing.T) {
	s := mustSigner(t, CodeSHA3_256)
	enc, err := Encode(TypePendingOperation, []byte("x"), s)
	require.NoError(t, err)
	f, err := New(enc)
	require.NoError(t, err)
	sig := f.SignatureData()
	sig[0] ^= 0xFF
	assert.ErrorIs(t, f.Verify(MultihashVerifier{}), ErrInvalidSignature)
}

func mustSigner(t *testing.T, code uint64) Signer {
	t.Helper()
	s, err := NewMultihashSigner(code)
	require.NoError(t, err)
	return s
}
