package roster

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddNodeIsUpsert(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.AddNode("node-1", "10.0.0.1:2423"))
	require.NoError(t, s.AddNode("node-1", "10.0.0.2:2423"))

	nodes, err := s.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "10.0.0.2:2423", nodes[0].Address)
}

func TestRemoveNodeDropsWatermark(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.AddNode("node-1", "addr"))
	require.NoError(t, s.SetWatermark("node-1", 42, 7))
	require.NoError(t, s.RemoveNode("node-1"))

	nodes, err := s.Nodes()
	require.NoError(t, err)
	require.Empty(t, nodes)

	offset, opID, err := s.Watermark("node-1")
	require.NoError(t, err)
	require.Zero(t, offset)
	require.Zero(t, opID)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.AddNode("node-1", "addr"))

	offset, opID, err := s.Watermark("node-1")
	require.NoError(t, err)
	require.Zero(t, offset)
	require.Zero(t, opID)

	require.NoError(t, s.SetWatermark("node-1", 100, 9))
	require.NoError(t, s.SetWatermark("node-1", 150, 12))

	offset, opID, err = s.Watermark("node-1")
	require.NoError(t, err)
	require.EqualValues(t, 150, offset)
	require.EqualValues(t, 12, opID)
}
