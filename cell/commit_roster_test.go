package cell

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodecell/datacell/cell/roster"
)

func newTestRoster(t *testing.T) *roster.Store {
	t.Helper()
	s, err := roster.Open(filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCommitRosterPublicKeyRequiresMembership(t *testing.T) {
	store := newTestRoster(t)
	id, err := NewIdentity()
	require.NoError(t, err)

	cr := NewCommitRoster(store)

	_, ok := cr.PublicKey(id.NodeID())
	require.False(t, ok, "unregistered node must not resolve")

	require.NoError(t, store.AddNode(id.NodeID(), "addr"))

	pub, ok := cr.PublicKey(id.NodeID())
	require.True(t, ok)
	require.Equal(t, id.Public, pub)
}

func TestCommitRosterQuorumIsStrictMajority(t *testing.T) {
	store := newTestRoster(t)
	cr := NewCommitRoster(store)

	q, err := cr.Quorum()
	require.NoError(t, err)
	require.Equal(t, 1, q)

	for i := 0; i < 4; i++ {
		id, err := NewIdentity()
		require.NoError(t, err)
		require.NoError(t, store.AddNode(id.NodeID(), "addr"))
	}

	q, err = cr.Quorum()
	require.NoError(t, err)
	require.Equal(t, 3, q)
}
