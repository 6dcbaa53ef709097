package mutationindex

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BuildMapping constructs the index mapping shared by the chain and
// pending indices: the fixed fields every document carries (spec §4.7
// "Always-present fields"), plus a permissive dynamic mapping so
// schema-registry-derived per-trait-type fields don't need a mapping
// change to be indexed.
func BuildMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	m.DefaultMapping = bleve.NewDocumentMapping()
	m.DefaultMapping.Dynamic = true

	addField := func(name string, fm *mapping.FieldMapping) {
		m.DefaultMapping.AddFieldMappingsAt(name, fm)
	}

	textField := func(analyzer string) *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
		return fm
	}
	numericFast := func() *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.DocValues = true
		return fm
	}
	keyword := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = "keyword"
		fm.DocValues = true
		return fm
	}

	addField(FieldOperationID, numericFast())
	addField(FieldBlockOffset, numericFast())
	addField(FieldEntityID, keyword())
	addField(FieldTraitID, keyword())
	addField(FieldEntityTraitID, keyword())
	addField(FieldTraitType, keyword())
	addField(FieldCreationDate, numericFast())
	addField(FieldModifiedDate, numericFast())
	addField(FieldAllText, textField("standard"))
	addField(FieldAllRefs, textField("keyword"))
	addField(FieldHasReference, numericFast())
	addField(FieldDocumentType, numericFast())

	return m
}
