package mutationindex

import (
	"math"
	"sort"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/pkg/errors"
)

// QueryKind selects the query predicate, spec §4.7 "Queries".
type QueryKind int

const (
	QueryMatchText QueryKind = iota
	QueryTraitName
	QueryIDs
	QueryOperations
	QueryReference
	QueryAll
)

// Query is one search predicate. Only the fields relevant to Kind are read.
type Query struct {
	Kind QueryKind

	MatchText string // QueryMatchText: fuzzy-tokenized against all_text

	TraitType       string                 // QueryTraitName
	FieldPredicates map[string]interface{} // QueryTraitName: exact-match constraints on dynamic fields

	EntityIDs []string // QueryIDs

	OperationIDs []uint64 // QueryOperations

	ReferenceEntityID string // QueryReference
	ReferenceTraitID  string // QueryReference
	ReferenceField    string // QueryReference: defaults to all_refs when empty
}

func (q Query) build() (query.Query, error) {
	switch q.Kind {
	case QueryMatchText:
		mq := bleve.NewMatchQuery(q.MatchText)
		mq.SetField(FieldAllText)
		mq.SetFuzziness(1)
		return mq, nil

	case QueryTraitName:
		conj := bleve.NewConjunctionQuery(termQuery(FieldTraitType, q.TraitType))
		for field, value := range q.FieldPredicates {
			conj.AddQuery(termQuery(field, value))
		}
		return conj, nil

	case QueryIDs:
		if len(q.EntityIDs) == 0 {
			return bleve.NewMatchNoneQuery(), nil
		}
		disj := bleve.NewDisjunctionQuery()
		for _, id := range q.EntityIDs {
			disj.AddQuery(termQuery(FieldEntityID, id))
		}
		return disj, nil

	case QueryOperations:
		if len(q.OperationIDs) == 0 {
			return bleve.NewMatchNoneQuery(), nil
		}
		disj := bleve.NewDisjunctionQuery()
		for _, id := range q.OperationIDs {
			v := float64(id)
			nq := bleve.NewNumericRangeInclusiveQuery(&v, &v, boolPtr(true), boolPtr(true))
			nq.SetField(FieldOperationID)
			disj.AddQuery(nq)
		}
		return disj, nil

	case QueryReference:
		field := q.ReferenceField
		if field == "" {
			field = FieldAllRefs
		}
		phrase := EntityTraitID(q.ReferenceEntityID, q.ReferenceTraitID)
		pq := bleve.NewMatchPhraseQuery(phrase)
		pq.SetField(field)
		return pq, nil

	case QueryAll:
		return bleve.NewMatchAllQuery(), nil

	default:
		return nil, errors.Errorf("mutationindex: unknown query kind %d", q.Kind)
	}
}

func termQuery(field string, value interface{}) query.Query {
	switch v := value.(type) {
	case string:
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		return tq
	case float64:
		nq := bleve.NewNumericRangeInclusiveQuery(&v, &v, boolPtr(true), boolPtr(true))
		nq.SetField(field)
		return nq
	case int:
		f := float64(v)
		nq := bleve.NewNumericRangeInclusiveQuery(&f, &f, boolPtr(true), boolPtr(true))
		nq.SetField(field)
		return nq
	case uint64:
		f := float64(v)
		nq := bleve.NewNumericRangeInclusiveQuery(&f, &f, boolPtr(true), boolPtr(true))
		nq.SetField(field)
		return nq
	default:
		tq := bleve.NewTermQuery(strconv.Quote(""))
		tq.SetField(field)
		return tq
	}
}

func boolPtr(b bool) *bool { return &b }

// OrderBy selects the ordering value compared across results, spec §4.7
// "Ordering is one of: score ..., operation_id, or a named fast field".
type OrderBy int

const (
	OrderByScore OrderBy = iota
	OrderByOperationID
	OrderByField
)

// Ordering configures result order and the recency boost.
type Ordering struct {
	By           OrderBy
	Field        string // used when By == OrderByField
	RecencyBoost bool   // only meaningful when By == OrderByScore
	Ascending    bool
}

// Page is the opaque cursor described in spec §4.7 "Paging uses opaque
// (after_ordering_value, before_ordering_value, count, offset)".
type Page struct {
	After  *float64
	Before *float64
	Count  int
	Offset int
}

// Result is one matched mutation document, reduced to the metadata the
// entity index needs to fold entity state (spec §4.8 step 3).
type Result struct {
	OperationID   uint64
	EntityID      string
	TraitID       string
	TraitType     string
	BlockOffset   int64
	HasBlock      bool
	DocumentType  DocumentType
	CreationDate  float64 // indexed seconds, only meaningful for TraitPut
	ModifiedDate  float64 // indexed seconds, only meaningful for TraitPut
	OrderingValue float64
}

// recencyBoostLambda is ln(0.2)/365, spec §4.7's decay constant.
var recencyBoostLambda = math.Log(0.2) / 365

// recencyBoost implements spec §4.7's "Recency boost formula":
// exp(λ · max(0, |now − date|_days − 15)).
func recencyBoost(nowSeconds, dateSeconds float64) float64 {
	days := math.Abs(nowSeconds-dateSeconds) / 86400
	return math.Exp(recencyBoostLambda * math.Max(0, days-15))
}

// maxFetchSize bounds how many raw hits Search pulls from bleve before
// computing ordering values and applying the cursor/offset/count window in
// Go. Generous enough for the small entity counts this index targets;
// truly large result sets should narrow the query instead.
const maxFetchSize = 10000

// Search runs q against idx, returning results ordered and paged per ord
// and page. nowNanos is the reference time for the recency boost.
func (idx *Index) Search(q Query, ord Ordering, page Page, nowNanos int64) ([]Result, error) {
	bq, err := q.build()
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(bq, maxFetchSize, 0, false)
	req.Fields = []string{
		FieldOperationID, FieldEntityID, FieldTraitID, FieldTraitType, FieldBlockOffset,
		FieldDocumentType, FieldCreationDate, FieldModifiedDate,
	}
	if ord.By == OrderByField && ord.Field != "" {
		req.Fields = append(req.Fields, ord.Field)
	}

	sr, err := idx.idx.Search(req)
	if err != nil {
		return nil, errors.Wrap(err, "mutationindex: search")
	}

	nowSeconds := float64(nowNanos / 1e9)
	results := make([]Result, 0, len(sr.Hits))
	for _, hit := range sr.Hits {
		r := Result{
			OperationID:  fieldUint64(hit.Fields, FieldOperationID),
			EntityID:     fieldString(hit.Fields, FieldEntityID),
			TraitID:      fieldString(hit.Fields, FieldTraitID),
			TraitType:    fieldString(hit.Fields, FieldTraitType),
			DocumentType: DocumentType(fieldInt(hit.Fields, FieldDocumentType)),
			CreationDate: fieldFloat64(hit.Fields, FieldCreationDate),
			ModifiedDate: fieldFloat64(hit.Fields, FieldModifiedDate),
		}
		if v, ok := hit.Fields[FieldBlockOffset]; ok {
			r.HasBlock = true
			r.BlockOffset = int64(toFloat64(v))
		}

		switch ord.By {
		case OrderByScore:
			score := hit.Score
			if ord.RecencyBoost {
				score *= recencyBoost(nowSeconds, fieldFloat64(hit.Fields, FieldModifiedDate))
			}
			r.OrderingValue = score
		case OrderByOperationID:
			r.OrderingValue = float64(r.OperationID)
		case OrderByField:
			r.OrderingValue = fieldFloat64(hit.Fields, ord.Field)
		}

		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if ord.Ascending {
			return results[i].OrderingValue < results[j].OrderingValue
		}
		return results[i].OrderingValue > results[j].OrderingValue
	})

	return applyPage(results, page, ord.Ascending), nil
}

func applyPage(results []Result, page Page, ascending bool) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if page.After != nil && !passesAfter(r.OrderingValue, *page.After, ascending) {
			continue
		}
		if page.Before != nil && !passesBefore(r.OrderingValue, *page.Before, ascending) {
			continue
		}
		filtered = append(filtered, r)
	}

	if page.Offset > 0 {
		if page.Offset >= len(filtered) {
			return nil
		}
		filtered = filtered[page.Offset:]
	}

	if page.Count > 0 && page.Count < len(filtered) {
		filtered = filtered[:page.Count]
	}
	return filtered
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

func fieldString(fields map[string]interface{}, name string) string {
	v, _ := fields[name].(string)
	return v
}

func fieldInt(fields map[string]interface{}, name string) int {
	return int(toFloat64(fields[name]))
}

func fieldUint64(fields map[string]interface{}, name string) uint64 {
	return uint64(toFloat64(fields[name]))
}

func fieldFloat64(fields map[string]interface{}, name string) float64 {
	return toFloat64(fields[name])
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
