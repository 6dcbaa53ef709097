package mutationindex

// FetchEntityMutations returns every mutation recorded for entityID, in
// operation_id order, populating the bounded LRU on a cache miss (spec
// §4.7 "Entity mutations cache... populated on fetch_entity_mutations").
func (idx *Index) FetchEntityMutations(entityID string) ([]MutationMetadata, error) {
	if cached, ok := idx.cache.Get(entityID); ok {
		return cached, nil
	}

	results, err := idx.Search(
		Query{Kind: QueryIDs, EntityIDs: []string{entityID}},
		Ordering{By: OrderByOperationID, Ascending: true},
		Page{Count: maxFetchSize},
		0,
	)
	if err != nil {
		return nil, err
	}

	mutations := make([]MutationMetadata, len(results))
	for i, r := range results {
		mutations[i] = MutationMetadata{
			OperationID:  r.OperationID,
			BlockOffset:  r.BlockOffset,
			HasBlock:     r.HasBlock,
			EntityID:     r.EntityID,
			TraitID:      r.TraitID,
			TraitType:    r.TraitType,
			DocumentType: r.DocumentType,
			CreationDate: r.CreationDate,
			ModifiedDate: r.ModifiedDate,
		}
	}
	idx.cache.Put(entityID, mutations)
	return mutations, nil
}
