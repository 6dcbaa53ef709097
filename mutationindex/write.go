package mutationindex

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PutTrait indexes one TraitPut mutation: a trait's current typed payload,
// reflected into full-text and scalar/reference fields by the caller
// (spec §4.7 "full-text fields derived via reflection from the trait's
// typed payload").
type PutTrait struct {
	OperationID      uint64
	BlockOffset      int64
	HasBlock         bool
	EntityID         string
	TraitID          string
	TraitType        string
	CreationDate     int64
	ModificationDate int64
	Text             []string               // aggregated into all_text
	Refs             []string               // aggregated into all_refs, one EntityTraitID ("entity/trait") string per ref
	Fields           map[string]interface{} // dynamic per-trait-type fields
}

// PutTraitTombstone indexes a TraitTombstone mutation.
type PutTraitTombstone struct {
	OperationID uint64
	EntityID    string
	TraitID     string
}

// PutEntityTombstone indexes an EntityTombstone mutation.
type PutEntityTombstone struct {
	OperationID uint64
	EntityID    string
}

// PendingDeletionMarker indexes a marker that an entity's final state
// depends on a pending deletion (pending index only).
type PendingDeletionMarker struct {
	OperationID uint64
	EntityID    string
}

// DeleteEntityOperation removes the document previously indexed under
// operationID, used when an operation is cleaned up from the pending
// store (spec §4.6 cleanup) or superseded.
type DeleteEntityOperation struct {
	OperationID uint64
}

// Mutation is the sum type a batch apply consumes, one variant per spec
// §4.7 "Write path" operation.
type Mutation struct {
	PutTrait              *PutTrait
	PutTraitTombstone     *PutTraitTombstone
	PutEntityTombstone    *PutEntityTombstone
	PendingDeletionMarker *PendingDeletionMarker
	DeleteEntityOperation *DeleteEntityOperation
}

func docID(operationID uint64) string { return strconv.FormatUint(operationID, 10) }

// Apply commits a batch of mutations: a single bleve batch closes and the
// reader reloads synchronously, so subsequent Search calls observe the
// write immediately (spec §4.7 "a single commit closes the batch and
// reloads the reader synchronously"). Every entity touched has its cached
// mutation history invalidated.
func (idx *Index) Apply(mutations []Mutation) error {
	batch := idx.idx.NewBatch()
	touched := make(map[string]bool)

	for _, m := range mutations {
		switch {
		case m.PutTrait != nil:
			p := m.PutTrait
			doc := Document{
				FieldOperationID:   p.OperationID,
				FieldEntityID:      p.EntityID,
				FieldTraitID:       p.TraitID,
				FieldEntityTraitID: EntityTraitID(p.EntityID, p.TraitID),
				FieldTraitType:     p.TraitType,
				FieldCreationDate:  nanosToIndexedSeconds(p.CreationDate),
				FieldModifiedDate:  nanosToIndexedSeconds(p.ModificationDate),
				FieldAllText:       strings.Join(p.Text, " "),
				FieldAllRefs:       p.Refs, // one array element per ref; keyword-analyzed independently so a phrase match finds any single ref intact
				FieldHasReference:  boolToInt(len(p.Refs) > 0),
				FieldDocumentType:  int(DocumentTraitPut),
			}
			if p.HasBlock {
				doc[FieldBlockOffset] = p.BlockOffset
			}
			for k, v := range p.Fields {
				doc[k] = v
			}
			if err := batch.Index(docID(p.OperationID), doc); err != nil {
				return errors.Wrap(err, "mutationindex: indexing trait put")
			}
			touched[p.EntityID] = true

		case m.PutTraitTombstone != nil:
			t := m.PutTraitTombstone
			doc := Document{
				FieldOperationID:   t.OperationID,
				FieldEntityID:      t.EntityID,
				FieldTraitID:       t.TraitID,
				FieldEntityTraitID: EntityTraitID(t.EntityID, t.TraitID),
				FieldDocumentType:  int(DocumentTraitTombstone),
			}
			if err := batch.Index(docID(t.OperationID), doc); err != nil {
				return errors.Wrap(err, "mutationindex: indexing trait tombstone")
			}
			touched[t.EntityID] = true

		case m.PutEntityTombstone != nil:
			e := m.PutEntityTombstone
			doc := Document{
				FieldOperationID:  e.OperationID,
				FieldEntityID:     e.EntityID,
				FieldDocumentType: int(DocumentEntityTombstone),
			}
			if err := batch.Index(docID(e.OperationID), doc); err != nil {
				return errors.Wrap(err, "mutationindex: indexing entity tombstone")
			}
			touched[e.EntityID] = true

		case m.PendingDeletionMarker != nil:
			d := m.PendingDeletionMarker
			doc := Document{
				FieldOperationID:  d.OperationID,
				FieldEntityID:     d.EntityID,
				FieldDocumentType: int(DocumentPendingDeletionMarker),
			}
			if err := batch.Index(docID(d.OperationID), doc); err != nil {
				return errors.Wrap(err, "mutationindex: indexing pending deletion marker")
			}
			touched[d.EntityID] = true

		case m.DeleteEntityOperation != nil:
			batch.Delete(docID(m.DeleteEntityOperation.OperationID))
		}
	}

	if err := idx.idx.Batch(batch); err != nil {
		return errors.Wrap(err, "mutationindex: committing batch")
	}
	for entityID := range touched {
		idx.cache.Invalidate(entityID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nanosToIndexedSeconds converts a nanosecond timestamp to whole seconds.
// bleve's numeric fast fields are float64 internally, which only carries 53
// bits of integer precision — not enough for a nanosecond epoch value.
// Seconds resolution is more than sufficient for the recency boost and
// fits comfortably.
func nanosToIndexedSeconds(nanos int64) float64 {
	return float64(nanos / 1e9)
}
