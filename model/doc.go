package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jacentio/moody/store"
)

// Doc is a decorated document: the stored fields plus virtual values, bound
// to its model's instance methods. A Doc is never mutated after wrapping.
type Doc struct {
	model  *Model
	fields store.Document
}

// wrap builds a Doc from a raw record. When virtuals is set every virtual
// missing from raw is computed.
func (m *Model) wrap(raw store.Document, virtuals bool) *Doc {
	fields := raw.Clone()
	if fields == nil {
		fields = store.Document{}
	}
	if virtuals {
		for _, name := range m.virtualNames() {
			if _, ok := fields[name]; ok {
				continue
			}
			if fn, ok := m.virtual(name); ok {
				fields[name] = fn(raw)
			}
		}
	}
	return &Doc{model: m, fields: fields}
}

// Model returns the document's model.
func (d *Doc) Model() *Model { return d.model }

// ID returns the document identifier.
func (d *Doc) ID() any { return d.fields[d.model.idField] }

// Get returns a field value, or nil.
func (d *Doc) Get(field string) any { return d.fields[field] }

// Has reports whether the field is present.
func (d *Doc) Has(field string) bool {
	_, ok := d.fields[field]
	return ok
}

// Fields returns a copy of the document's fields.
func (d *Doc) Fields() store.Document { return d.fields.Clone() }

// MarshalJSON encodes the document's fields.
func (d *Doc) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(d.fields))
}

// Call invokes an instance method attached with Model.Method.
func (d *Doc) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := d.model.method(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s#%s", ErrUnknownMethod, d.model.name, name)
	}
	return fn(ctx, d, args...)
}

// ToObject returns the document as a plain map with value functions recomputed.
func (d *Doc) ToObject(ctx context.Context) (store.Document, error) {
	out := d.fields.Clone()
	if err := d.model.computeValues(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies a patch to the stored document and returns the new version.
func (d *Doc) Update(ctx context.Context, patch map[string]any) (*Doc, error) {
	return d.model.UpdateOneByID(ctx, d.ID(), patch)
}

// Delete removes the stored document.
func (d *Doc) Delete(ctx context.Context) error {
	_, err := d.model.DeleteOneByID(ctx, d.ID())
	return err
}
