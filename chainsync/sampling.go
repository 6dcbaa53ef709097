package chainsync

import "github.com/nodecell/datacell/chainstore"

// SampleParams bounds how many headers a metadata response includes
// unconditionally versus by even striding (spec §4.5 metadata phase).
type SampleParams struct {
	BeginCount   int
	EndCount     int
	SampledCount int
}

// BuildHeaderSample answers a metadata-phase request: it returns, in
// descending offset order (newest first, per spec "headers arrive
// newest-first"), the last EndCount blocks unconditionally, roughly
// SampledCount evenly spaced blocks struck through the remaining range, and
// the first BeginCount blocks unconditionally.
func BuildHeaderSample(store *chainstore.Store, from, to int64, p SampleParams) ([]HeaderEntry, error) {
	all, err := blocksInRange(store, from, to)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	included := make(map[int]bool, p.BeginCount+p.EndCount+p.SampledCount)
	for i := 0; i < p.BeginCount && i < len(all); i++ {
		included[i] = true
	}
	for i := 0; i < p.EndCount && i < len(all); i++ {
		included[len(all)-1-i] = true
	}
	if p.SampledCount > 0 {
		stride := len(all) / p.SampledCount
		if stride < 1 {
			stride = 1
		}
		for i := 0; i < len(all); i += stride {
			included[i] = true
		}
	}

	out := make([]HeaderEntry, 0, len(included))
	for i := len(all) - 1; i >= 0; i-- { // newest first
		if !included[i] {
			continue
		}
		hash, err := chainstore.BlockHash(all[i])
		if err != nil {
			return nil, err
		}
		out = append(out, HeaderEntry{Header: all[i].Header, Hash: hash})
	}
	return out, nil
}

func blocksInRange(store *chainstore.Store, from, to int64) ([]chainstore.Block, error) {
	var out []chainstore.Block
	it := store.BlocksIter(from)
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		if to > 0 && b.Header.Offset >= to {
			break
		}
		out = append(out, b)
	}
	return out, nil
}
