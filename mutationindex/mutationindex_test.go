package mutationindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewPending(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestApplyAndSearchAll(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Apply([]Mutation{
		{PutTrait: &PutTrait{
			OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "note",
			CreationDate: 1_000_000_000, ModificationDate: 1_000_000_000,
			Text: []string{"hello world"},
		}},
		{PutTrait: &PutTrait{
			OperationID: 2, EntityID: "e2", TraitID: "t1", TraitType: "note",
			CreationDate: 2_000_000_000, ModificationDate: 2_000_000_000,
			Text: []string{"goodbye"},
		}},
	})
	require.NoError(t, err)

	results, err := idx.Search(Query{Kind: QueryAll}, Ordering{By: OrderByOperationID}, Page{}, 3_000_000_000)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, uint64(2), results[0].OperationID) // descending by default
	require.Equal(t, uint64(1), results[1].OperationID)
}

func TestSearchMatchText(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "note", Text: []string{"hello world"}}},
		{PutTrait: &PutTrait{OperationID: 2, EntityID: "e2", TraitID: "t1", TraitType: "note", Text: []string{"goodbye"}}},
	}))

	results, err := idx.Search(Query{Kind: QueryMatchText, MatchText: "hello"}, Ordering{By: OrderByScore}, Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "e1", results[0].EntityID)
}

func TestSearchIDs(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "note"}},
		{PutTrait: &PutTrait{OperationID: 2, EntityID: "e2", TraitID: "t1", TraitType: "note"}},
		{PutTrait: &PutTrait{OperationID: 3, EntityID: "e3", TraitID: "t1", TraitType: "note"}},
	}))

	results, err := idx.Search(Query{Kind: QueryIDs, EntityIDs: []string{"e1", "e3"}}, Ordering{By: OrderByOperationID, Ascending: true}, Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "e1", results[0].EntityID)
	require.Equal(t, "e3", results[1].EntityID)
}

func TestSearchOperations(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "note"}},
		{PutTrait: &PutTrait{OperationID: 2, EntityID: "e2", TraitID: "t1", TraitType: "note"}},
	}))

	results, err := idx.Search(Query{Kind: QueryOperations, OperationIDs: []uint64{2}}, Ordering{By: OrderByOperationID}, Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(2), results[0].OperationID)
}

func TestSearchReference(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{
			OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "link",
			Refs: []string{EntityTraitID("e2", "t1")},
		}},
	}))

	results, err := idx.Search(Query{Kind: QueryReference, ReferenceEntityID: "e2", ReferenceTraitID: "t1"}, Ordering{By: OrderByOperationID}, Page{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "e1", results[0].EntityID)
}

func TestDeleteEntityOperationRemovesDocument(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "note"}},
	}))
	require.NoError(t, idx.Apply([]Mutation{
		{DeleteEntityOperation: &DeleteEntityOperation{OperationID: 1}},
	}))

	results, err := idx.Search(Query{Kind: QueryAll}, Ordering{By: OrderByOperationID}, Page{}, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestApplyInvalidatesMutationsCache(t *testing.T) {
	idx := newTestIndex(t)
	idx.cache.Put("e1", []MutationMetadata{{OperationID: 1, EntityID: "e1"}})

	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{OperationID: 2, EntityID: "e1", TraitID: "t2", TraitType: "note"}},
	}))

	_, found := idx.cache.Get("e1")
	require.False(t, found)
}

func TestPagingOffsetAndCount(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Apply([]Mutation{
		{PutTrait: &PutTrait{OperationID: 1, EntityID: "e1", TraitID: "t1", TraitType: "note"}},
		{PutTrait: &PutTrait{OperationID: 2, EntityID: "e2", TraitID: "t1", TraitType: "note"}},
		{PutTrait: &PutTrait{OperationID: 3, EntityID: "e3", TraitID: "t1", TraitType: "note"}},
	}))

	results, err := idx.Search(Query{Kind: QueryAll}, Ordering{By: OrderByOperationID, Ascending: true}, Page{Offset: 1, Count: 1}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(2), results[0].OperationID)
}

func TestRecencyBoostFavorsNewerDocsAtEqualTextScore(t *testing.T) {
	now := int64(400 * 24 * 3600) * 1_000_000_000 // day 400, in nanos
	old := recencyBoost(float64(now/1e9), 0)
	recent := recencyBoost(float64(now/1e9), float64(now/1e9))
	require.Less(t, old, recent)
	require.InDelta(t, 1.0, recent, 1e-9)
}
