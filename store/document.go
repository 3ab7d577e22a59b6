package store

import (
	"github.com/jacentio/moody/filter"
)

// Managed attributes stamped by the table when Config.Timestamps is set.
const (
	AttrCreatedAt = "created_at"
	AttrUpdatedAt = "updated_at"
	AttrVersion   = "version"
	AttrTTL       = "ttl"
)

// Document is a stored record.
type Document map[string]any

// Clone returns a deep copy of the document. Nested maps and slices are copied.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a document value. Scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}
	return v
}

// QueryInput defines parameters for querying an index.
type QueryInput struct {
	// IndexName is the optional GSI to query. Empty queries the table itself.
	IndexName string

	// Key holds the key predicates: an equality on the hash key and at most
	// one predicate on the range key.
	Key []filter.Predicate

	// Filter holds the remaining predicates, applied after the key condition.
	Filter []filter.Predicate

	// SortKey is the range attribute of the index. Results are ordered by it.
	SortKey string

	// Descending reverses the range order (ScanIndexForward = false).
	Descending bool

	// Limit stops reading once this many matching documents were collected (0 = no limit).
	Limit int

	// Count returns only the number of matching documents.
	Count bool
}

// ScanInput defines parameters for a full-table scan.
type ScanInput struct {
	// Filter holds predicates evaluated against every document.
	Filter []filter.Predicate

	// Limit stops reading once this many matching documents were collected (0 = no limit).
	Limit int

	// Count returns only the number of matching documents.
	Count bool
}

// Result is the outcome of a query or scan.
type Result struct {
	// Items are the matching documents (empty for count requests).
	Items []Document

	// Count is the number of matching documents.
	Count int
}
