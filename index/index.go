// Package index describes the indexes available on a model's table and
// chooses the best one for a query.
package index

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind distinguishes the partition index from secondary indexes.
type Kind int

const (
	// Partition is the primary key index every document can be looked up by.
	Partition Kind = iota

	// Secondary is an additional index with a restricted filterable field set.
	Secondary
)

func (k Kind) String() string {
	if k == Partition {
		return "partition"
	}
	return "secondary"
}

// PrimaryName is the name given to the partition index.
const PrimaryName = "primary"

var (
	// ErrUnknownIndex is returned when a forced index is not in the catalog.
	ErrUnknownIndex = errors.New("moody: unknown index")

	// ErrInvalidCatalog is returned when a catalog cannot be built.
	ErrInvalidCatalog = errors.New("moody: invalid index catalog")
)

// UnknownIndexError reports the forced index name that was not found.
type UnknownIndexError struct {
	Name string
}

func (e *UnknownIndexError) Error() string {
	return fmt.Sprintf("moody: unknown index %q", e.Name)
}

// Is matches ErrUnknownIndex.
func (e *UnknownIndexError) Is(target error) bool {
	return target == ErrUnknownIndex
}

// Descriptor describes a single index.
type Descriptor struct {
	// Name is the index name ("primary" for the partition index, otherwise the GSI name).
	Name string

	// Kind is Partition or Secondary.
	Kind Kind

	// HashKey is the attribute that must be matched by equality to query the index.
	HashKey string

	// RangeKey is the optional range attribute of the index.
	RangeKey string

	// FilterFields are the fields the index can filter on.
	FilterFields []string

	// SortField is the field the index natively sorts on (empty if none).
	SortField string
}

// Filters reports whether field is one of the descriptor's filter fields.
func (d Descriptor) Filters(field string) bool {
	for _, f := range d.FilterFields {
		if f == field {
			return true
		}
	}
	return false
}

// NewPartition returns the partition index descriptor for a hash key.
func NewPartition(hashKey string) Descriptor {
	return Descriptor{
		Name:         PrimaryName,
		Kind:         Partition,
		HashKey:      hashKey,
		FilterFields: []string{hashKey},
	}
}

// NewSecondary returns a secondary index on field, optionally sorted by sortField.
// The index is named after its fields, e.g. filterColorSortTitle.
func NewSecondary(field, sortField string) Descriptor {
	d := Descriptor{
		Name:         Name(field, sortField),
		Kind:         Secondary,
		HashKey:      field,
		FilterFields: []string{field},
	}
	if sortField != "" && sortField != field {
		d.RangeKey = sortField
		d.SortField = sortField
		d.FilterFields = append(d.FilterFields, sortField)
	}
	return d
}

// Name derives a secondary index name from its hash field and sort field.
func Name(field, sortField string) string {
	name := "filter" + upperFirst(field)
	if sortField != "" && sortField != field {
		name += "Sort" + upperFirst(sortField)
	}
	return name
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Catalog holds the partition index and any secondary indexes of a table.
type Catalog struct {
	indexes []Descriptor
	byName  map[string]int
}

// NewCatalog builds a catalog. Index names must be unique.
func NewCatalog(partition Descriptor, secondary ...Descriptor) (*Catalog, error) {
	if partition.HashKey == "" {
		return nil, fmt.Errorf("%w: partition index needs a hash key", ErrInvalidCatalog)
	}
	partition.Kind = Partition
	if partition.Name == "" {
		partition.Name = PrimaryName
	}

	c := &Catalog{
		indexes: []Descriptor{partition},
		byName:  map[string]int{partition.Name: 0},
	}
	for _, d := range secondary {
		if d.Name == "" || d.HashKey == "" {
			return nil, fmt.Errorf("%w: secondary index needs a name and hash key", ErrInvalidCatalog)
		}
		if _, exists := c.byName[d.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate index %q", ErrInvalidCatalog, d.Name)
		}
		d.Kind = Secondary
		c.byName[d.Name] = len(c.indexes)
		c.indexes = append(c.indexes, d)
	}
	return c, nil
}

// Partition returns the partition index.
func (c *Catalog) Partition() Descriptor {
	return c.indexes[0]
}

// Lookup finds an index by name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.indexes[i], true
}

// All returns every index, partition first.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, len(c.indexes))
	copy(out, c.indexes)
	return out
}

// String lists the index names.
func (c *Catalog) String() string {
	names := make([]string, len(c.indexes))
	for i, d := range c.indexes {
		names[i] = d.Name
	}
	return strings.Join(names, ",")
}
