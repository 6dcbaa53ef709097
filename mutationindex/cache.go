package mutationindex

import lru "github.com/hashicorp/golang-lru/v2"

// MutationMetadata is one indexed mutation's identity, enough to fold
// entity state without re-reading the full operation (spec §4.7 "full
// ordered list of MutationMetadata").
type MutationMetadata struct {
	OperationID  uint64
	BlockOffset  int64
	HasBlock     bool
	EntityID     string
	TraitID      string
	TraitType    string
	DocumentType DocumentType
	CreationDate float64 // indexed seconds, only meaningful for TraitPut
	ModifiedDate float64 // indexed seconds, only meaningful for TraitPut
}

// mutationsCache is a bounded LRU from entity_id to its full ordered
// mutation history (spec §4.7 "Entity mutations cache"), populated on
// fetch and invalidated by every apply touching that entity.
type mutationsCache struct {
	inner *lru.Cache[string, []MutationMetadata]
}

func newMutationsCache(capacity int) *mutationsCache {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[string, []MutationMetadata](capacity)
	if err != nil {
		panic(err) // only fails for capacity <= 0, excluded above
	}
	return &mutationsCache{inner: c}
}

// Get returns the cached mutation list for entityID, if present.
func (c *mutationsCache) Get(entityID string) ([]MutationMetadata, bool) {
	return c.inner.Get(entityID)
}

// Put stores mutations for entityID, evicting the least recently used
// entry if the cache is at capacity.
func (c *mutationsCache) Put(entityID string, mutations []MutationMetadata) {
	c.inner.Add(entityID, mutations)
}

// Invalidate drops the cached entry for entityID, if any.
func (c *mutationsCache) Invalidate(entityID string) {
	c.inner.Remove(entityID)
}

// Clear empties the cache entirely.
func (c *mutationsCache) Clear() {
	c.inner.Purge()
}
