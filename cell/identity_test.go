package cell

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityFromSeedRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	restored, err := IdentityFromSeed(hex.EncodeToString(id.Private))
	require.NoError(t, err)
	require.Equal(t, id.NodeID(), restored.NodeID())
}

func TestSignVerify(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	digest := []byte("header digest")
	sig := id.Sign(digest)

	require.True(t, Verify(id.NodeID(), digest, sig))
	require.False(t, Verify(id.NodeID(), []byte("different digest"), sig))
}

func TestVerifyRejectsMalformedNodeID(t *testing.T) {
	require.False(t, Verify("not-hex", []byte("d"), []byte("s")))
	require.False(t, Verify("ab", []byte("d"), []byte("s")))
}
