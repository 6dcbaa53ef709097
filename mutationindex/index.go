package mutationindex

import (
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/pkg/errors"
)

// Index wraps one bleve index — either the on-disk "chain" index or the
// in-memory "pending" one (spec §4.7). Index does no locking of its own:
// writes come from its single owner, the entity index, and reads go
// through idx directly, which bleve guarantees safe for concurrent use
// once a batch has been committed and the reader reloaded (spec §5 "a
// reload-on-commit reader that is safe to share across threads").
type Index struct {
	idx    bleve.Index
	onDisk bool
	path   string
	cache  *mutationsCache
}

// OpenChain opens (or creates) the on-disk chain index at path.
func OpenChain(path string, cacheSize int) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, BuildMapping())
	}
	if err != nil {
		return nil, errors.Wrap(err, "mutationindex: opening chain index")
	}
	return &Index{idx: idx, onDisk: true, path: path, cache: newMutationsCache(cacheSize)}, nil
}

// NewPending creates a fresh in-memory pending index. It's rebuilt
// wholesale (not persisted) whenever the entity index decides to, per spec
// §4.8's StreamDiscontinuity/ChainDiverged handling.
func NewPending(cacheSize int) (*Index, error) {
	idx, err := bleve.NewMemOnly(BuildMapping())
	if err != nil {
		return nil, errors.Wrap(err, "mutationindex: creating pending index")
	}
	return &Index{idx: idx, cache: newMutationsCache(cacheSize)}, nil
}

// Close releases the underlying index. For an on-disk index this flushes
// and closes file handles; for an in-memory one it just drops references.
func (idx *Index) Close() error {
	return idx.idx.Close()
}

// Reset discards all documents, recreating the index from scratch — used
// to rebuild the pending index (spec §4.8 "rebuild the pending index").
func (idx *Index) Reset() error {
	if err := idx.idx.Close(); err != nil {
		return err
	}
	idx.cache.Clear()
	if idx.onDisk {
		if err := os.RemoveAll(idx.path); err != nil {
			return errors.Wrap(err, "mutationindex: clearing chain index directory")
		}
		fresh, err := bleve.New(idx.path, BuildMapping())
		if err != nil {
			return err
		}
		idx.idx = fresh
		return nil
	}
	fresh, err := bleve.NewMemOnly(BuildMapping())
	if err != nil {
		return err
	}
	idx.idx = fresh
	return nil
}
