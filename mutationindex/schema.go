// Package mutationindex implements the inverted-index layer described in
// spec §4.7: one document per operation affecting an entity's traits,
// queryable by full text, trait name, entity id, operation id, or
// reference, with score-based recency boosting. Two instances exist side
// by side — an on-disk "chain" index for durably committed operations, and
// an in-memory "pending" index for everything else — because the
// underlying engine's deletion model can't cheaply revert documents.
package mutationindex

// DocumentType distinguishes the four document kinds a mutation produces.
type DocumentType int

const (
	DocumentTraitPut DocumentType = iota
	DocumentTraitTombstone
	DocumentEntityTombstone
	DocumentPendingDeletionMarker
)

// Field names used across every document, spec §4.7 "Fields".
const (
	FieldOperationID   = "operation_id"
	FieldBlockOffset   = "block_offset"
	FieldEntityID      = "entity_id"
	FieldTraitID       = "trait_id"
	FieldEntityTraitID = "entity_trait_id"
	FieldTraitType     = "trait_type"
	FieldCreationDate  = "creation_date"
	FieldModifiedDate  = "modification_date"
	FieldAllText       = "all_text"
	FieldAllRefs       = "all_refs"
	FieldHasReference  = "has_reference"
	FieldDocumentType  = "document_type"
)

// Document is the generic shape every document kind marshals to before
// being handed to the index — a flat field map keeps the bleve mapping
// simple and lets dynamic per-trait fields (declared by the schema
// registry) ride alongside the fixed ones without a distinct Go type per
// trait.
type Document map[string]interface{}

// EntityTraitID is the conventional composite key entity_id+trait_id,
// stored in a document's entity_trait_id field and used as the reference
// string the "reference" query matches in all_refs. Documents themselves
// are identified in the index by their operation_id (see docID).
func EntityTraitID(entityID, traitID string) string {
	if traitID == "" {
		return entityID
	}
	return entityID + "/" + traitID
}
