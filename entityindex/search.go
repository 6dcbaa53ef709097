package entityindex

import (
	"hash/crc64"

	"github.com/nodecell/datacell/mutationindex"
)

// Source records which underlying mutation index answered for an entity's
// matched mutation, spec §4.8 "EntityResultSource".
type Source int

const (
	SourceChain Source = iota
	SourcePending
)

// TraitState is one trait's current folded state within an entity.
type TraitState struct {
	TraitType        string
	OperationID      uint64
	CreationDate     float64
	ModificationDate float64
}

// EntityResult is one matched, folded entity (spec §4.8 step 3-4).
type EntityResult struct {
	EntityID           string
	Source             Source
	MatchedOperationID uint64
	OrderingValue      float64
	Traits             map[string]TraitState
	CreationDate       float64
	ModificationDate   float64
}

// SearchResults is the outcome of one entity-index search (spec §4.8
// "Search").
type SearchResults struct {
	Entities       []EntityResult
	EstimatedTotal int
	ResultHash     uint64
	NextPage       mutationindex.Page
}

// crc64Table is shared across result-hash computations; ISO is the
// variant the stdlib documents as the common default.
var crc64Table = crc64.MakeTable(crc64.ISO)

// rawFetchLimit bounds how many raw per-index hits feed the merge before
// folding and the final entity-level page are applied.
const rawFetchLimit = 10000

// Search runs q against both the chain and pending mutation indices,
// merges by ordering value, folds each matched entity's mutation history
// into its current trait set, and applies paging — spec §4.8 "Search"
// steps 1-4. Trait-payload hydration (step 5) is left to the caller, which
// has everything it needs (MatchedOperationID, per-trait OperationID) to
// fetch the underlying operation from the pending store or chain store.
func (idx *Index) Search(q mutationindex.Query, ord mutationindex.Ordering, page mutationindex.Page, nowNanos int64) (SearchResults, error) {
	rawPage := mutationindex.Page{Count: rawFetchLimit}

	chainHits, err := idx.chainIdx.Search(q, ord, rawPage, nowNanos)
	if err != nil {
		return SearchResults{}, err
	}
	pendingHits, err := idx.pendingIdx.Search(q, ord, rawPage, nowNanos)
	if err != nil {
		return SearchResults{}, err
	}

	merged := mergeResults(chainHits, pendingHits, ord.Ascending)

	seen := make(map[string]bool, len(merged))
	hasher := crc64.New(crc64Table)

	var entities []EntityResult
	for _, m := range merged {
		if seen[m.result.EntityID] {
			continue
		}
		seen[m.result.EntityID] = true

		entity, ok, err := idx.foldEntity(m)
		if err != nil {
			return SearchResults{}, err
		}
		if !ok {
			continue
		}

		if page.After != nil && !passesAfter(entity.OrderingValue, *page.After, ord.Ascending) {
			continue
		}
		if page.Before != nil && !passesBefore(entity.OrderingValue, *page.Before, ord.Ascending) {
			continue
		}

		entities = append(entities, entity)
		writeU64(hasher, entity.MatchedOperationID)
	}

	if page.Offset > 0 {
		if page.Offset >= len(entities) {
			entities = nil
		} else {
			entities = entities[page.Offset:]
		}
	}
	if page.Count > 0 && page.Count < len(entities) {
		entities = entities[:page.Count]
	}

	results := SearchResults{
		Entities:       entities,
		EstimatedTotal: len(chainHits) + len(pendingHits),
		ResultHash:     hasher.Sum64(),
	}
	if len(entities) > 0 {
		last := entities[len(entities)-1].OrderingValue
		if ord.Ascending {
			results.NextPage = mutationindex.Page{After: &last, Count: page.Count}
		} else {
			results.NextPage = mutationindex.Page{Before: &last, Count: page.Count}
		}
	}
	return results, nil
}

type taggedResult struct {
	result mutationindex.Result
	source Source
}

func mergeResults(chainHits, pendingHits []mutationindex.Result, ascending bool) []taggedResult {
	out := make([]taggedResult, 0, len(chainHits)+len(pendingHits))
	i, j := 0, 0
	better := func(a, b float64) bool {
		if ascending {
			return a <= b
		}
		return a >= b
	}
	for i < len(chainHits) && j < len(pendingHits) {
		if better(chainHits[i].OrderingValue, pendingHits[j].OrderingValue) {
			out = append(out, taggedResult{chainHits[i], SourceChain})
			i++
		} else {
			out = append(out, taggedResult{pendingHits[j], SourcePending})
			j++
		}
	}
	for ; i < len(chainHits); i++ {
		out = append(out, taggedResult{chainHits[i], SourceChain})
	}
	for ; j < len(pendingHits); j++ {
		out = append(out, taggedResult{pendingHits[j], SourcePending})
	}
	return out
}

// foldEntity reduces an entity's full mutation history to its current
// trait set and reports whether the matched mutation m is still active —
// spec §4.8 step 3-4.
func (idx *Index) foldEntity(m taggedResult) (EntityResult, bool, error) {
	var history []mutationindex.MutationMetadata
	var err error
	if m.source == SourceChain {
		history, err = idx.chainIdx.FetchEntityMutations(m.result.EntityID)
	} else {
		history, err = idx.pendingIdx.FetchEntityMutations(m.result.EntityID)
	}
	if err != nil {
		return EntityResult{}, false, err
	}

	traits := make(map[string]TraitState)
	for _, meta := range history {
		switch meta.DocumentType {
		case mutationindex.DocumentTraitPut:
			traits[meta.TraitID] = TraitState{
				TraitType:        meta.TraitType,
				OperationID:      meta.OperationID,
				CreationDate:     meta.CreationDate,
				ModificationDate: meta.ModifiedDate,
			}
		case mutationindex.DocumentTraitTombstone:
			delete(traits, meta.TraitID)
		case mutationindex.DocumentEntityTombstone, mutationindex.DocumentPendingDeletionMarker:
			traits = make(map[string]TraitState)
		}
	}

	if len(traits) == 0 {
		return EntityResult{}, false, nil
	}

	active := false
	var creationDate, modificationDate float64
	first := true
	for _, ts := range traits {
		if ts.OperationID == m.result.OperationID {
			active = true
		}
		if first || ts.CreationDate < creationDate {
			creationDate = ts.CreationDate
		}
		if first || ts.ModificationDate > modificationDate {
			modificationDate = ts.ModificationDate
		}
		first = false
	}
	if !active {
		return EntityResult{}, false, nil
	}

	return EntityResult{
		EntityID:           m.result.EntityID,
		Source:             m.source,
		MatchedOperationID: m.result.OperationID,
		OrderingValue:      m.result.OrderingValue,
		Traits:             traits,
		CreationDate:       creationDate,
		ModificationDate:   modificationDate,
	}, true, nil
}

func passesAfter(value, cursor float64, ascending bool) bool {
	if ascending {
		return value > cursor
	}
	return value < cursor
}

func passesBefore(value, cursor float64, ascending bool) bool {
	if ascending {
		return value < cursor
	}
	return value > cursor
}

func writeU64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	_, _ = h.Write(buf[:])
}
