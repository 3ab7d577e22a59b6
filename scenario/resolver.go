// Package scenario imports interdependent documents into registered models.
//
// A scenario is a table->documents map. Documents reference each other with
// placeholder strings starting with [Sigil]; a document declares its own
// placeholder under the bare "$" key:
//
//	{
//	  "directors": [{"$": "$d1", "name": "Ron"}],
//	  "movies":    [{"title": "Rush", "director": "$d1"}]
//	}
//
// The resolver creates documents in cycles. Each cycle creates every document
// whose references are all known, records the identifiers they were given and
// substitutes them into the remaining documents. A cycle that creates nothing
// while documents remain fails with [ErrUnresolvableScenario].
package scenario

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/moody/model"
)

// Sigil prefixes placeholder references. The bare sigil is the key under
// which a document declares its own placeholder.
const Sigil = "$"

// Config configures a Resolver.
type Config struct {
	// MaxConcurrent bounds in-flight creations per cycle.
	// Default: the registry's MaxConcurrent
	MaxConcurrent int
}

// DefaultConfig returns a Config that defers to the registry.
func DefaultConfig() Config {
	return Config{}
}

// Item is one scenario document waiting to be created.
type Item struct {
	Table string

	// Placeholder is the document's declared "$" identifier, if any.
	Placeholder string

	// Document is the payload with "$" removed and known references substituted.
	Document map[string]any

	// Needs lists the placeholders still unresolved in Document.
	Needs []string
}

// Stats summarizes a scenario run.
type Stats struct {
	// Created counts created documents per table.
	Created map[string]int

	// Cycles is the number of creation cycles run.
	Cycles int

	// Lookup maps each declared placeholder to the identifier its document received.
	Lookup map[string]any
}

// Resolver imports scenarios into the models of a registry.
type Resolver struct {
	registry *model.Registry
	config   Config
	logger   *zap.Logger
}

// NewResolver creates a resolver. A nil logger uses the registry's logger.
func NewResolver(reg *model.Registry, config Config, logger *zap.Logger) *Resolver {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = reg.Options().MaxConcurrent
	}
	if logger == nil {
		logger = reg.Logger()
	}
	return &Resolver{registry: reg, config: config, logger: logger}
}

// Run creates every document of the scenario and returns what was created.
// Unknown tables and malformed placeholders fail before anything is created.
// A failed creation stops the run after its cycle.
func (r *Resolver) Run(ctx context.Context, in Input) (*Stats, error) {
	queue, err := r.compile(in)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Created: make(map[string]int), Lookup: make(map[string]any)}
	for len(queue) > 0 {
		stats.Cycles++

		var ready, blocked []Item
		for _, item := range queue {
			if len(item.Needs) == 0 {
				ready = append(ready, item)
			} else {
				blocked = append(blocked, item)
			}
		}
		if len(ready) == 0 {
			r.logger.Error("unresolvable scenario",
				zap.Int("cycle", stats.Cycles),
				zap.Int("remaining", len(blocked)),
				zap.Strings("needs", pending(blocked)),
			)
			return stats, &UnresolvableError{Cycle: stats.Cycles, Remaining: blocked}
		}

		ids, created, err := r.create(ctx, ready)
		for i, item := range ready {
			if !created[i] {
				continue
			}
			stats.Created[item.Table]++
			if item.Placeholder != "" {
				stats.Lookup[item.Placeholder] = ids[i]
			}
		}
		if err != nil {
			return stats, fmt.Errorf("scenario cycle %d: %w", stats.Cycles, err)
		}

		r.logger.Info("scenario cycle",
			zap.Int("cycle", stats.Cycles),
			zap.Int("created", len(ready)),
			zap.Int("remaining", len(blocked)),
		)

		for i := range blocked {
			blocked[i].Needs = substitute(blocked[i].Document, stats.Lookup)
		}
		queue = blocked
	}
	return stats, nil
}

// compile validates the input and flattens it into a queue, tables in name order.
func (r *Resolver) compile(in Input) ([]Item, error) {
	tables := make([]string, 0, len(in))
	for table := range in {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	declared := make(map[string]string)
	var queue []Item
	for _, table := range tables {
		if _, err := r.registry.Model(table); err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		for i, raw := range in[table] {
			doc, _ := normalize(raw).(map[string]any)
			if doc == nil {
				doc = map[string]any{}
			}

			item := Item{Table: table, Document: doc}
			if v, ok := doc[Sigil]; ok {
				ph, isString := v.(string)
				if !isString || !strings.HasPrefix(ph, Sigil) || ph == Sigil {
					return nil, fmt.Errorf("%w: %s[%d]: placeholder must be a string like \"$name\", got %v",
						ErrInvalidScenario, table, i, v)
				}
				if prev, dup := declared[ph]; dup {
					return nil, fmt.Errorf("%w: placeholder %s declared by %s and %s",
						ErrInvalidScenario, ph, prev, table)
				}
				declared[ph] = table
				item.Placeholder = ph
				delete(doc, Sigil)
			}
			item.Needs = substitute(doc, nil)
			queue = append(queue, item)
		}
	}
	return queue, nil
}

// create runs one cycle's creations with bounded concurrency. The returned
// identifiers and created flags line up with items; on error they still
// report the documents that were stored.
func (r *Resolver) create(ctx context.Context, items []Item) ([]any, []bool, error) {
	ids := make([]any, len(items))
	created := make([]bool, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrent)
	for i, item := range items {
		g.Go(func() error {
			m, err := r.registry.Model(item.Table)
			if err != nil {
				return err
			}
			doc, err := m.Create(ctx, item.Document)
			if err != nil {
				return err
			}
			ids[i] = doc.ID()
			created[i] = true
			return nil
		})
	}
	return ids, created, g.Wait()
}

// normalize deep copies v, turning every map with string keys into
// map[string]any and every slice or array into []any so placeholders nested in
// typed containers are seen by substitute. Byte slices are kept as binary.
func normalize(v any) any {
	switch node := v.(type) {
	case nil:
		return nil
	case string, bool, float64, int, int64, []byte:
		return node
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = normalize(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = normalize(child)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		fallthrough
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// substitute replaces known placeholders in doc, in place and at any depth,
// and returns the sorted placeholders it could not resolve. A placeholder is
// resolved when present in lookup, whatever its value.
func substitute(doc map[string]any, lookup map[string]any) []string {
	seen := make(map[string]bool)
	var walk func(v any) any
	walk = func(v any) any {
		switch node := v.(type) {
		case map[string]any:
			for k, child := range node {
				if k == Sigil {
					continue
				}
				node[k] = walk(child)
			}
		case []any:
			for i, child := range node {
				node[i] = walk(child)
			}
		case string:
			if !strings.HasPrefix(node, Sigil) {
				return node
			}
			if id, ok := lookup[node]; ok {
				return id
			}
			seen[node] = true
		}
		return v
	}
	walk(doc)

	if len(seen) == 0 {
		return nil
	}
	needs := make([]string, 0, len(seen))
	for ph := range seen {
		needs = append(needs, ph)
	}
	sort.Strings(needs)
	return needs
}

func pending(items []Item) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		for _, ph := range item.Needs {
			if !seen[ph] {
				seen[ph] = true
				out = append(out, ph)
			}
		}
	}
	sort.Strings(out)
	return out
}
