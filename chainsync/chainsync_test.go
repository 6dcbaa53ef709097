package chainsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecell/datacell/chainstore"
	"github.com/nodecell/datacell/frame"
)

func appendTestBlock(t *testing.T, s *chainstore.Store, prev chainstore.Block) chainstore.Block {
	t.Helper()
	signer, err := frame.NewMultihashSigner(frame.CodeSHA3_256)
	require.NoError(t, err)
	prevHash, err := chainstore.BlockHash(prev)
	require.NoError(t, err)
	_, err = signer.Write(nil)
	require.NoError(t, err)
	opsHash, err := signer.Sum()
	require.NoError(t, err)

	b := chainstore.Block{Header: chainstore.Header{
		Offset:         prev.NextOffset(),
		Height:         prev.Header.Height + 1,
		PreviousOffset: prev.Header.Offset,
		PreviousHash:   prevHash,
		OperationsHash: opsHash,
	}}
	_, err = s.WriteBlock(b)
	require.NoError(t, err)
	got, err := s.GetBlock(b.Header.Offset)
	require.NoError(t, err)
	return got
}

func chain(t *testing.T, n int) *chainstore.Store {
	t.Helper()
	s, err := chainstore.OpenOrInit(t.TempDir())
	require.NoError(t, err)
	prev, err := s.GetLastBlock()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		prev = appendTestBlock(t, s, prev)
	}
	return s
}

func TestBuildHeaderSampleIncludesEndsAndStride(t *testing.T) {
	s := chain(t, 20) // 21 blocks total including genesis
	entries, err := BuildHeaderSample(s, 0, 0, SampleParams{BeginCount: 2, EndCount: 2, SampledCount: 5})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	// begin {0,1}, end {19,20}, stride 21/5=4 samples {0,4,8,12,16,20}
	require.Len(t, entries, 8)
	last, err := s.GetLastBlock()
	require.NoError(t, err)
	assert.Equal(t, last.Header.Offset, entries[0].Header.Offset)
	assert.EqualValues(t, 0, entries[len(entries)-1].Header.Offset)
	// newest first
	for i := 0; i < len(entries)-1; i++ {
		assert.Greater(t, entries[i].Header.Offset, entries[i+1].Header.Offset)
	}
}

func TestApplyHeaderSampleFindsCommonAncestor(t *testing.T) {
	s := chain(t, 5)
	entries, err := BuildHeaderSample(s, 0, 0, SampleParams{BeginCount: 10, EndCount: 10})
	require.NoError(t, err)

	peer := NewPeerState(0, 0)
	require.NoError(t, ApplyHeaderSample(s, peer, entries))
	require.NotNil(t, peer.LastCommonBlock)
	require.NotNil(t, peer.LastKnownBlock)
	last, err := s.GetLastBlock()
	require.NoError(t, err)
	assert.Equal(t, last.Header.Offset, peer.LastCommonBlock.Offset)
	assert.Equal(t, last.Header.Offset, peer.LastKnownBlock.Offset)
}

func TestSelectLeaderPrefersSelfOnTie(t *testing.T) {
	peers := map[string]*PeerState{
		"peer-a": {Status: StatusSynchronized, LastKnownBlock: &BlockRef{Offset: 100}},
	}
	id, isSelf := SelectLeader(100, peers, 2)
	assert.True(t, isSelf)
	assert.Empty(t, id)
}

func TestSelectLeaderPicksLongestPeer(t *testing.T) {
	peers := map[string]*PeerState{
		"peer-a": {Status: StatusSynchronized, LastKnownBlock: &BlockRef{Offset: 500}},
		"peer-b": {Status: StatusSynchronized, LastKnownBlock: &BlockRef{Offset: 100}},
	}
	id, isSelf := SelectLeader(100, peers, 2)
	assert.False(t, isSelf)
	assert.Equal(t, "peer-a", id)
}

func TestSelectLeaderWaitsForQuorum(t *testing.T) {
	peers := map[string]*PeerState{
		"peer-a": {Status: StatusUnknown},
		"peer-b": {Status: StatusUnknown},
	}
	_, isSelf := SelectLeader(0, peers, 3)
	assert.True(t, isSelf)
}

func TestApplyBlocksResponseRejectsOffsetMismatch(t *testing.T) {
	s, err := chainstore.OpenOrInit(t.TempDir())
	require.NoError(t, err)
	resp := Response{Blocks: []chainstore.Block{{Header: chainstore.Header{Offset: 999}}}}
	err = ApplyBlocksResponse(s, resp, nil)
	assert.ErrorIs(t, err, ErrInvalidSyncResponse)
}

func TestCheckDivergence(t *testing.T) {
	s := chain(t, 3)
	peer := &PeerState{}
	assert.ErrorIs(t, CheckDivergence(s, peer), ErrDiverged)

	peer.LastCommonBlock = &BlockRef{Offset: 0}
	assert.NoError(t, CheckDivergence(s, peer))
}

func TestRequestTrackerPacing(t *testing.T) {
	tr := NewRequestTracker(100, 1000)
	assert.True(t, tr.ReadyToSend(0))
	tr.MarkSent(0)
	assert.False(t, tr.ReadyToSend(50))
	assert.True(t, tr.ReadyToSend(150))
	assert.False(t, tr.Unresponsive(150))
	assert.True(t, tr.Unresponsive(2000))
}
