package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/moody/index"
	"github.com/jacentio/moody/store"
)

// Table is the document store behind a model. *store.Table and
// *memstore.Table implement it.
type Table interface {
	Create(ctx context.Context, doc store.Document) (store.Document, error)
	Get(ctx context.Context, id any) (store.Document, error)
	UpdateByID(ctx context.Context, id any, patch store.Document) (store.Document, error)
	DeleteByID(ctx context.Context, id any) (store.Document, error)
	Query(ctx context.Context, input store.QueryInput) (*store.Result, error)
	Scan(ctx context.Context, input store.ScanInput) (*store.Result, error)
}

var _ Table = (*store.Table)(nil)

// VirtualFunc computes a virtual field from a stored document.
type VirtualFunc func(doc store.Document) any

// ValueFunc computes a stored field from the document about to be saved.
type ValueFunc func(ctx context.Context, doc store.Document) (any, error)

// StaticFunc is a model-level behavior.
type StaticFunc func(ctx context.Context, m *Model, args ...any) (any, error)

// MethodFunc is a document-level behavior.
type MethodFunc func(ctx context.Context, d *Doc, args ...any) (any, error)

// Model is a named collection of documents stored in one table.
type Model struct {
	name     string
	idField  string
	schema   Schema
	catalog  *index.Catalog
	table    Table
	registry *Registry
	logger   *zap.Logger

	mu         sync.RWMutex
	virtuals   map[string]VirtualFunc
	values     map[string]ValueFunc
	valueOrder []string
	statics    map[string]StaticFunc
	methods    map[string]MethodFunc
}

func newModel(r *Registry, name string, schema Schema, table Table) (*Model, error) {
	catalog, err := schema.Catalog()
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}

	idField := schema.IDField()
	if t, ok := table.(interface{ IDField() string }); ok && t.IDField() != idField {
		return nil, fmt.Errorf("%w: model %s uses id field %q but its table is keyed on %q",
			ErrInvalidSchema, name, idField, t.IDField())
	}

	m := &Model{
		name:     name,
		idField:  idField,
		schema:   schema,
		catalog:  catalog,
		table:    table,
		registry: r,
		logger:   r.logger.With(zap.String("model", name)),
		virtuals: make(map[string]VirtualFunc),
		values:   make(map[string]ValueFunc),
		statics:  make(map[string]StaticFunc),
		methods:  make(map[string]MethodFunc),
	}
	for _, f := range schema.Fields {
		if f.Value != nil {
			m.Value(f.Name, f.Value)
		}
	}
	return m, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// IDField returns the identifier field.
func (m *Model) IDField() string { return m.idField }

// Schema returns the model's schema.
func (m *Model) Schema() Schema { return m.schema }

// Catalog returns the model's index catalog.
func (m *Model) Catalog() *index.Catalog { return m.catalog }

// Table returns the backing table.
func (m *Model) Table() Table { return m.table }

// Registry returns the registry the model belongs to.
func (m *Model) Registry() *Registry { return m.registry }

// Virtual attaches a computed, non-persisted field.
func (m *Model) Virtual(name string, fn VirtualFunc) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.virtuals[name] = fn
	return m
}

// Value attaches a function recomputing a stored field on every non-lean save.
func (m *Model) Value(field string, fn ValueFunc) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[field]; !exists {
		m.valueOrder = append(m.valueOrder, field)
	}
	m.values[field] = fn
	return m
}

// Static attaches a model-level behavior.
func (m *Model) Static(name string, fn StaticFunc) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statics[name] = fn
	return m
}

// Method attaches a document-level behavior.
func (m *Model) Method(name string, fn MethodFunc) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[name] = fn
	return m
}

// CallStatic invokes a static attached with Static.
func (m *Model) CallStatic(ctx context.Context, name string, args ...any) (any, error) {
	m.mu.RLock()
	fn, ok := m.statics[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, m.name, name)
	}
	return fn(ctx, m, args...)
}

func (m *Model) method(name string) (MethodFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.methods[name]
	return fn, ok
}

func (m *Model) virtual(name string) (VirtualFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.virtuals[name]
	return fn, ok
}

// virtualNames returns the attached virtual fields, sorted.
func (m *Model) virtualNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.virtuals))
	for name := range m.virtuals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Model) hasValues() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values) > 0
}

// computeValues runs every value function against doc, in attach order,
// storing each result into doc.
func (m *Model) computeValues(ctx context.Context, doc store.Document) error {
	m.mu.RLock()
	order := append([]string(nil), m.valueOrder...)
	fns := make([]ValueFunc, len(order))
	for i, field := range order {
		fns[i] = m.values[field]
	}
	m.mu.RUnlock()

	for i, field := range order {
		v, err := fns[i](ctx, doc)
		if err != nil {
			return fmt.Errorf("value %s.%s: %w", m.name, field, err)
		}
		doc[field] = v
	}
	return nil
}

// prepare fills defaults and checks required fields before creation.
func (m *Model) prepare(doc map[string]any) (store.Document, error) {
	out := store.Document(doc).Clone()
	if out == nil {
		out = store.Document{}
	}
	for _, f := range m.schema.Fields {
		v, ok := out[f.Name]
		if f.Type == TypeOID && (!ok || v == nil || v == "") {
			out[f.Name] = uuid.NewString()
			continue
		}
		if f.Required && (!ok || v == nil) && f.Name != m.idField {
			return nil, fmt.Errorf("%w: %s.%s is required", ErrInvalidSchema, m.name, f.Name)
		}
	}
	return out, nil
}

// Create persists one document and returns it decorated.
// Value functions are not run on creation.
func (m *Model) Create(ctx context.Context, doc map[string]any) (*Doc, error) {
	prepared, err := m.prepare(doc)
	if err != nil {
		return nil, err
	}
	created, err := m.table.Create(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", m.name, err)
	}
	return m.wrap(created, true), nil
}

// CreateMany persists documents with bounded concurrency.
// The result order matches the input; the first failure is returned.
func (m *Model) CreateMany(ctx context.Context, docs []map[string]any) ([]*Doc, error) {
	m.logger.Debug("create many", zap.Int("docs", len(docs)))

	out := make([]*Doc, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.registry.opts.MaxConcurrent)
	for i, doc := range docs {
		g.Go(func() error {
			created, err := m.Create(ctx, doc)
			if err != nil {
				return err
			}
			out[i] = created
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertMany is an alias of CreateMany.
func (m *Model) InsertMany(ctx context.Context, docs []map[string]any) ([]*Doc, error) {
	return m.CreateMany(ctx, docs)
}

// Find starts a query for documents matching criteria.
func (m *Model) Find(criteria map[string]any) *Query {
	return newQuery(m).Find(criteria)
}

// FindOne starts a query for the first document matching criteria.
func (m *Model) FindOne(criteria map[string]any) *Query {
	return newQuery(m).Find(criteria).One()
}

// FindOneByID starts a query for the document with the given identifier.
func (m *Model) FindOneByID(id any) *Query {
	return newQuery(m).Find(map[string]any{m.idField: id}).One()
}

// Count starts a query counting documents matching criteria.
func (m *Model) Count(criteria map[string]any) *Query {
	return newQuery(m).Count(criteria)
}

// UpdateOne starts a query updating the first document matching criteria.
func (m *Model) UpdateOne(criteria map[string]any, patch map[string]any) *Query {
	return newQuery(m).Find(criteria).One().Action(ActionUpdate, patch)
}

// UpdateMany starts a query updating every document matching criteria.
func (m *Model) UpdateMany(criteria map[string]any, patch map[string]any) *Query {
	return newQuery(m).Find(criteria).Action(ActionUpdate, patch)
}

// DeleteOne starts a query deleting the first document matching criteria.
func (m *Model) DeleteOne(criteria map[string]any) *Query {
	return newQuery(m).Find(criteria).One().Action(ActionDelete, nil)
}

// DeleteMany starts a query deleting every document matching criteria.
func (m *Model) DeleteMany(criteria map[string]any) *Query {
	return newQuery(m).Find(criteria).Action(ActionDelete, nil)
}

// UpdateOneByID applies a patch to one document and returns it decorated.
// Value functions are recomputed against the merged document.
func (m *Model) UpdateOneByID(ctx context.Context, id any, patch map[string]any) (*Doc, error) {
	updated, err := m.save(ctx, id, store.Document(patch), false)
	if err != nil {
		return nil, err
	}
	return m.wrap(updated, true), nil
}

// DeleteOneByID removes one document and returns it as it was before deletion.
func (m *Model) DeleteOneByID(ctx context.Context, id any) (*Doc, error) {
	deleted, err := m.table.DeleteByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete %s %v: %w", m.name, id, err)
	}
	return m.wrap(deleted, true), nil
}

// save persists a patch. Unless lean, value functions run against the
// current document merged with the patch and their results join the patch.
func (m *Model) save(ctx context.Context, id any, patch store.Document, lean bool) (store.Document, error) {
	patch = patch.Clone()
	if patch == nil {
		patch = store.Document{}
	}

	if !lean && m.hasValues() {
		current, err := m.table.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("update %s %v: %w", m.name, id, err)
		}
		merged := current.Clone()
		for k, v := range patch {
			merged[k] = v
		}
		if err := m.computeValues(ctx, merged); err != nil {
			return nil, err
		}
		m.mu.RLock()
		for _, field := range m.valueOrder {
			patch[field] = merged[field]
		}
		m.mu.RUnlock()
	}

	updated, err := m.table.UpdateByID(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update %s %v: %w", m.name, id, err)
	}
	return updated, nil
}
