package model

import (
	"encoding/json"
	"fmt"

	"github.com/jacentio/moody/index"
)

// FieldType is the declared type of a schema field. Values are not coerced;
// the type only drives defaults such as oid generation.
type FieldType string

const (
	TypeAny     FieldType = ""
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeMap     FieldType = "map"
	TypeList    FieldType = "list"
	TypeOID     FieldType = "oid"
	TypePointer FieldType = "pointer"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeAny, TypeString, TypeNumber, TypeBoolean, TypeDate, TypeMap, TypeList, TypeOID, TypePointer:
		return true
	}
	return false
}

// IndexAnnotation marks a field's role in the table's indexes.
type IndexAnnotation string

const (
	IndexNone IndexAnnotation = ""

	// IndexPrimary marks the partition key (the model's id field).
	IndexPrimary IndexAnnotation = "primary"

	// IndexSort marks the sort field shared by the secondary indexes.
	IndexSort IndexAnnotation = "sort"

	// IndexSecondary declares a secondary index on the field.
	IndexSecondary IndexAnnotation = "secondary"
)

// UnmarshalJSON accepts "primary", "sort", "secondary", true (secondary) and false.
func (a *IndexAnnotation) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*a = IndexSecondary
		} else {
			*a = IndexNone
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("index annotation: %w", err)
	}
	switch v := IndexAnnotation(s); v {
	case IndexNone, IndexPrimary, IndexSort, IndexSecondary:
		*a = v
		return nil
	}
	return fmt.Errorf("%w: unknown index annotation %q", ErrInvalidSchema, s)
}

// Field is one schema field.
type Field struct {
	Name     string          `json:"name"`
	Type     FieldType       `json:"type,omitempty"`
	Required bool            `json:"required,omitempty"`
	Index    IndexAnnotation `json:"index,omitempty"`

	// Value, when set, recomputes the field on every non-lean save.
	Value ValueFunc `json:"-"`
}

// Schema describes a model's fields and indexes.
type Schema struct {
	Fields []Field `json:"fields"`

	// Indexes declares secondary indexes beyond those derived from field annotations.
	Indexes []index.Descriptor `json:"-"`
}

// IDField returns the field annotated as primary, or "id".
func (s Schema) IDField() string {
	for _, f := range s.Fields {
		if f.Index == IndexPrimary {
			return f.Name
		}
	}
	return "id"
}

// SortField returns the field annotated as sort, or "".
func (s Schema) SortField() string {
	for _, f := range s.Fields {
		if f.Index == IndexSort {
			return f.Name
		}
	}
	return ""
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) validate() error {
	seen := make(map[string]bool, len(s.Fields))
	var primary, sortFields int
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field without a name", ErrInvalidSchema)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return fmt.Errorf("%w: unknown type %q for field %q", ErrInvalidSchema, f.Type, f.Name)
		}
		switch f.Index {
		case IndexPrimary:
			primary++
		case IndexSort:
			sortFields++
		}
	}
	if primary > 1 {
		return fmt.Errorf("%w: more than one primary field", ErrInvalidSchema)
	}
	if sortFields > 1 {
		return fmt.Errorf("%w: more than one sort field", ErrInvalidSchema)
	}
	return nil
}

// Catalog builds the index catalog from the field annotations and any
// explicit indexes. Every secondary field gets an index sorted by the
// schema's sort field, named e.g. filterColorSortTitle.
func (s Schema) Catalog() (*index.Catalog, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	sortField := s.SortField()
	var secondary []index.Descriptor
	for _, f := range s.Fields {
		if f.Index == IndexSecondary {
			secondary = append(secondary, index.NewSecondary(f.Name, sortField))
		}
	}
	secondary = append(secondary, s.Indexes...)

	c, err := index.NewCatalog(index.NewPartition(s.IDField()), secondary...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return c, nil
}
