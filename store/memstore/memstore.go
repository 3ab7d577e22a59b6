// Package memstore provides an in-memory table with the same semantics as
// store.Table. It backs local development and tests where no DynamoDB
// endpoint is available.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/moody/filter"
	"github.com/jacentio/moody/store"
)

// Table is an in-memory document table. It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	name   string
	config store.Config
	logger *zap.Logger

	docs  map[string]store.Document
	order []string
	calls atomic.Int64
}

// New creates an empty table. A nil logger disables logging.
func New(name string, config store.Config, logger *zap.Logger) *Table {
	if config.IDField == "" {
		config.IDField = "id"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		name:   name,
		config: config,
		logger: logger.With(zap.String("table", name)),
		docs:   make(map[string]store.Document),
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// IDField returns the partition key attribute.
func (t *Table) IDField() string {
	return t.config.IDField
}

// Len returns the number of live documents.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, k := range t.order {
		if t.live(t.docs[k]) {
			n++
		}
	}
	return n
}

// Calls returns how many store operations the table has served.
func (t *Table) Calls() int {
	return int(t.calls.Load())
}

// keyOf normalizes an identifier so 1 and 1.0 address the same document.
func keyOf(id any) string {
	return fmt.Sprint(id)
}

// live reports whether a document is visible to reads.
func (t *Table) live(doc store.Document) bool {
	if doc == nil {
		return false
	}
	if !t.config.SoftDelete {
		return true
	}
	_, deleted := doc[store.AttrTTL]
	return !deleted
}

// Create stores a new document and returns it as written.
func (t *Table) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	t.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := doc.Clone()
	if item == nil {
		item = store.Document{}
	}
	if id, ok := item[t.config.IDField]; !ok || id == nil || id == "" {
		item[t.config.IDField] = uuid.NewString()
	}
	if t.config.Timestamps {
		now := time.Now().UTC().Format(time.RFC3339)
		item[store.AttrCreatedAt] = now
		item[store.AttrUpdatedAt] = now
		item[store.AttrVersion] = float64(1)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := keyOf(item[t.config.IDField])
	if existing, ok := t.docs[key]; ok && existing != nil {
		return nil, store.ErrAlreadyExists
	}
	t.docs[key] = item
	t.order = append(t.order, key)

	t.logger.Debug("document created", zap.String("id", key))
	return item.Clone(), nil
}

// Get retrieves a document by identifier.
func (t *Table) Get(ctx context.Context, id any) (store.Document, error) {
	t.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, store.ErrMissingID
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	doc := t.docs[keyOf(id)]
	if !t.live(doc) {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

// UpdateByID applies a patch and returns the updated document. Nil values remove attributes.
func (t *Table) UpdateByID(ctx context.Context, id any, patch store.Document) (store.Document, error) {
	t.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, store.ErrMissingID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	doc := t.docs[keyOf(id)]
	if !t.live(doc) {
		return nil, store.ErrNotFound
	}

	updated := doc.Clone()
	for k, v := range patch {
		if t.managed(k) {
			continue
		}
		if v == nil {
			delete(updated, k)
			continue
		}
		updated[k] = store.CloneValue(v)
	}
	if t.config.Timestamps {
		updated[store.AttrUpdatedAt] = time.Now().UTC().Format(time.RFC3339)
		version, _ := updated[store.AttrVersion].(float64)
		updated[store.AttrVersion] = version + 1
	}
	t.docs[keyOf(id)] = updated

	return updated.Clone(), nil
}

// DeleteByID deletes a document and returns it as it was before deletion.
func (t *Table) DeleteByID(ctx context.Context, id any) (store.Document, error) {
	t.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, store.ErrMissingID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := keyOf(id)
	doc := t.docs[key]
	if !t.live(doc) {
		return nil, store.ErrNotFound
	}

	if t.config.SoftDelete {
		marked := doc.Clone()
		marked[store.AttrTTL] = float64(time.Now().Unix())
		t.docs[key] = marked
		return doc.Clone(), nil
	}

	delete(t.docs, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return doc, nil
}

// Query reads documents matching the key and filter predicates, ordered by SortKey.
// Documents without the sort attribute are absent from secondary indexes.
func (t *Table) Query(ctx context.Context, input store.QueryInput) (*store.Result, error) {
	t.calls.Add(1)
	if len(input.Key) == 0 {
		return nil, errors.New("moody: query requires a key condition")
	}
	preds := append(append([]filter.Predicate{}, input.Key...), input.Filter...)
	if err := validate(preds); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []store.Document
	for _, k := range t.order {
		doc := t.docs[k]
		if !t.live(doc) {
			continue
		}
		if input.IndexName != "" && input.SortKey != "" {
			if _, ok := doc[input.SortKey]; !ok {
				continue
			}
		}
		if filter.Match(doc, preds) {
			matched = append(matched, doc)
		}
	}

	if input.SortKey != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			c := filter.Compare(matched[i][input.SortKey], matched[j][input.SortKey])
			if input.Descending {
				return c > 0
			}
			return c < 0
		})
	}

	return t.result(matched, input.Count, input.Limit), nil
}

// Scan reads every live document matching the filter, in insertion order.
func (t *Table) Scan(ctx context.Context, input store.ScanInput) (*store.Result, error) {
	t.calls.Add(1)
	if err := validate(input.Filter); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []store.Document
	for _, k := range t.order {
		doc := t.docs[k]
		if t.live(doc) && filter.Match(doc, input.Filter) {
			matched = append(matched, doc)
		}
	}
	return t.result(matched, input.Count, input.Limit), nil
}

// result applies limit and count to matched documents, cloning what is returned.
// Counts ignore the limit, matching store.Table.
// Callers hold at least the read lock.
func (t *Table) result(matched []store.Document, countOnly bool, limit int) *store.Result {
	if countOnly {
		return &store.Result{Items: []store.Document{}, Count: len(matched)}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	res := &store.Result{Items: []store.Document{}, Count: len(matched)}
	for _, doc := range matched {
		res.Items = append(res.Items, doc.Clone())
	}
	return res
}

func (t *Table) managed(attr string) bool {
	switch attr {
	case t.config.IDField, store.AttrTTL:
		return true
	case store.AttrCreatedAt, store.AttrUpdatedAt, store.AttrVersion:
		return t.config.Timestamps
	}
	return false
}

// validate rejects operators the DynamoDB table could not render either.
func validate(preds []filter.Predicate) error {
	for _, p := range preds {
		if p.Op != filter.OpEq && p.Op != filter.OpGt {
			return &filter.OperatorError{Field: p.Field, Operator: string(p.Op)}
		}
	}
	return nil
}
