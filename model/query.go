package model

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/jacentio/moody/store"
)

// Action is a bulk side effect applied to every matched document.
type Action int

const (
	ActionNone Action = iota
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "none"
}

// Spec is the declarative request a Query builds.
type Spec struct {
	Filters map[string]any
	Sort    []string
	Select  []string
	Limit   int
	Skip    int
	Count   bool
	Lean    bool
	Flatten bool
	Action  Action
	Payload store.Document
	Index   string
}

// Query is a chainable request against one model. It executes at most once:
// later Exec calls return the first outcome.
type Query struct {
	model *Model
	spec  Spec

	once   sync.Once
	result *Result
	err    error
}

func newQuery(m *Model) *Query {
	return &Query{model: m, spec: Spec{Filters: map[string]any{}}}
}

// Find merges criteria into the filters.
func (q *Query) Find(criteria map[string]any) *Query {
	for k, v := range criteria {
		q.spec.Filters[k] = v
	}
	return q
}

// Count marks the query as a count and merges criteria into the filters.
func (q *Query) Count(criteria map[string]any) *Query {
	q.spec.Count = true
	return q.Find(criteria)
}

// Select restricts the returned fields. Arguments may be CSV lists.
// The id field is always included.
func (q *Query) Select(fields ...string) *Query {
	q.spec.Select = mergeFields(mergeFields(q.spec.Select, fields), []string{q.model.idField})
	return q
}

// Sort appends sort fields. Arguments may be CSV lists; a leading "-" sorts descending.
func (q *Query) Sort(fields ...string) *Query {
	q.spec.Sort = mergeFields(q.spec.Sort, fields)
	return q
}

// Limit caps the number of documents. Zero, negative or math.MaxInt disables the limit.
func (q *Query) Limit(n int) *Query {
	if n <= 0 || n == math.MaxInt {
		n = 0
	}
	q.spec.Limit = n
	return q
}

// Skip offsets the returned documents. Zero or negative disables it.
func (q *Query) Skip(n int) *Query {
	if n < 0 {
		n = 0
	}
	q.spec.Skip = n
	return q
}

// One returns only the first match, as a single document.
func (q *Query) One() *Query {
	q.spec.Limit = 1
	q.spec.Flatten = true
	return q
}

// Lean returns raw documents without decoration or virtual fields.
func (q *Query) Lean() *Query {
	q.spec.Lean = true
	return q
}

// Using forces the named index.
func (q *Query) Using(indexName string) *Query {
	q.spec.Index = indexName
	return q
}

// Action sets a side effect to apply to every matched document.
func (q *Query) Action(a Action, payload map[string]any) *Query {
	q.spec.Action = a
	q.spec.Payload = store.Document(payload).Clone()
	return q
}

// Spec returns a copy of the request built so far.
func (q *Query) Spec() Spec {
	s := q.spec
	s.Filters = store.Document(q.spec.Filters).Clone()
	s.Sort = append([]string(nil), q.spec.Sort...)
	s.Select = append([]string(nil), q.spec.Select...)
	s.Payload = q.spec.Payload.Clone()
	return s
}

// Exec runs the query once and caches the outcome.
func (q *Query) Exec(ctx context.Context) (*Result, error) {
	q.once.Do(func() {
		q.result, q.err = q.model.execute(ctx, q.Spec())
	})
	return q.result, q.err
}

// mergeFields appends CSV-split, trimmed, non-empty fields to existing,
// dropping duplicates and keeping first occurrences in order.
func mergeFields(existing []string, args []string) []string {
	seen := make(map[string]bool, len(existing)+len(args))
	out := make([]string, 0, len(existing)+len(args))
	add := func(f string) {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
	}
	for _, f := range existing {
		add(f)
	}
	for _, arg := range args {
		for _, f := range strings.Split(arg, ",") {
			add(f)
		}
	}
	return out
}
