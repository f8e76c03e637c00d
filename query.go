package searchbase

import (
	"strings"
)

// Query is a search expression plus paging and ordering.
//
// The expression uses the RediSearch query syntax. The sets backend accepts
// the subset described in ParseExpression.
type Query struct {
	Expression string
	Offset     int
	Num        int
	SortBy     string
	Descending bool
}

// NewQuery creates a query returning the first DefaultQueryLimit hits.
// An empty expression matches every document.
func NewQuery(expression string) *Query {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		expression = "*"
	}
	return &Query{
		Expression: expression,
		Num:        DefaultQueryLimit,
	}
}

// Limit sets the page
func (q *Query) Limit(offset, num int) *Query {
	q.Offset = offset
	q.Num = num
	return q
}

// SortedBy orders hits by a sortable field instead of document id
func (q *Query) SortedBy(field string, descending bool) *Query {
	q.SortBy = field
	q.Descending = descending
	return q
}

// Validate checks the paging parameters
func (q *Query) Validate() error {
	if q == nil {
		return WithContext(ErrInvalidQuery, map[string]interface{}{"reason": "nil query"})
	}
	if q.Offset < 0 || q.Num < 0 {
		return WithContext(ErrInvalidQuery, map[string]interface{}{
			"expression": q.Expression,
			"offset":     q.Offset,
			"num":        q.Num,
			"reason":     "offset and limit must be non-negative",
		})
	}
	return nil
}

// page returns a copy starting at offset with num hits
func (q *Query) page(offset, num int) *Query {
	cp := *q
	cp.Offset = offset
	cp.Num = num
	return &cp
}

func (q *Query) String() string {
	return "Query [ " + q.Expression + " ]"
}

// SearchResult is one page of hits
type SearchResult struct {
	// Total is the number of matching documents, independent of paging
	Total int64
	Docs  []Document
}

// Keys returns the key field of every hit, skipping hits without one
func (r *SearchResult) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.Docs))
	for _, doc := range r.Docs {
		if k := doc.Fields[FieldKey]; k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
