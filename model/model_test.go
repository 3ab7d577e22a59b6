package model_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jacentio/moody/index"
	"github.com/jacentio/moody/model"
	"github.com/jacentio/moody/store"
	"github.com/jacentio/moody/store/memstore"
)

var _ model.Table = (*memstore.Table)(nil)

func TestSchema_Catalog(t *testing.T) {
	c, err := widgetSchema().Catalog()
	require.NoError(t, err)

	assert.Equal(t, "primary,filterColorSortTitle", c.String())
	d, ok := c.Lookup("filterColorSortTitle")
	require.True(t, ok)
	assert.Equal(t, "color", d.HashKey)
	assert.Equal(t, "title", d.RangeKey)
	assert.Equal(t, "id", c.Partition().HashKey)
}

func TestSchema_ExplicitIndexes(t *testing.T) {
	s := widgetSchema()
	s.Indexes = []index.Descriptor{index.NewSecondary("sprockets", "")}
	c, err := s.Catalog()
	require.NoError(t, err)
	_, ok := c.Lookup("filterSprockets")
	assert.True(t, ok)
}

func TestSchema_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		fields []model.Field
	}{
		{"unnamed", []model.Field{{Type: model.TypeString}}},
		{"duplicate", []model.Field{{Name: "a"}, {Name: "a"}}},
		{"unknown type", []model.Field{{Name: "a", Type: "decimal"}}},
		{"two primaries", []model.Field{{Name: "a", Index: model.IndexPrimary}, {Name: "b", Index: model.IndexPrimary}}},
		{"two sort fields", []model.Field{{Name: "a", Index: model.IndexSort}, {Name: "b", Index: model.IndexSort}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.Schema{Fields: tt.fields}.Catalog()
			assert.ErrorIs(t, err, model.ErrInvalidSchema)
		})
	}
}

func TestSchema_IDFieldDefault(t *testing.T) {
	assert.Equal(t, "id", model.Schema{}.IDField())
	s := model.Schema{Fields: []model.Field{{Name: "slug", Index: model.IndexPrimary}}}
	assert.Equal(t, "slug", s.IDField())
}

func TestSchema_JSON(t *testing.T) {
	var s model.Schema
	err := json.Unmarshal([]byte(`{"fields":[
		{"name":"id","type":"oid","index":"primary"},
		{"name":"title","type":"string","required":true,"index":"sort"},
		{"name":"color","index":true},
		{"name":"notes","index":false}
	]}`), &s)
	require.NoError(t, err)

	require.Len(t, s.Fields, 4)
	assert.Equal(t, model.IndexPrimary, s.Fields[0].Index)
	assert.True(t, s.Fields[1].Required)
	assert.Equal(t, model.IndexSecondary, s.Fields[2].Index)
	assert.Equal(t, model.IndexNone, s.Fields[3].Index)

	err = json.Unmarshal([]byte(`{"fields":[{"name":"a","index":"clustered"}]}`), &s)
	assert.ErrorIs(t, err, model.ErrInvalidSchema)
}

func TestRegistry(t *testing.T) {
	reg, err := model.NewRegistry(model.DefaultOptions())
	require.NoError(t, err)
	defer reg.Close()

	table := memstore.New("widgets", store.Config{IDField: "id"}, nil)
	m, err := reg.Define("widgets", widgetSchema(), table)
	require.NoError(t, err)
	assert.Equal(t, "widgets", m.Name())
	assert.Equal(t, "id", m.IDField())

	got, err := reg.Model("widgets")
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = reg.Define("widgets", widgetSchema(), table)
	assert.ErrorIs(t, err, model.ErrModelExists)

	_, err = reg.Model("gadgets")
	assert.ErrorIs(t, err, model.ErrUnknownModel)

	assert.Equal(t, []string{"widgets"}, reg.Models())
	assert.True(t, reg.Remove("widgets"))
	assert.False(t, reg.Remove("widgets"))
	assert.Empty(t, reg.Models())
}

func TestRegistry_DefineRejects(t *testing.T) {
	reg, err := model.NewRegistry(model.DefaultOptions())
	require.NoError(t, err)
	defer reg.Close()

	table := memstore.New("widgets", store.Config{IDField: "uuid"}, nil)
	_, err = reg.Define("widgets", widgetSchema(), table)
	assert.ErrorIs(t, err, model.ErrInvalidSchema, "table keyed on another field")

	_, err = reg.Define("", widgetSchema(), table)
	assert.ErrorIs(t, err, model.ErrInvalidSchema)

	_, err = reg.Define("widgets", widgetSchema(), nil)
	assert.ErrorIs(t, err, model.ErrInvalidSchema)
}

func TestRegistry_DefaultOptions(t *testing.T) {
	reg, err := model.NewRegistry(model.Options{})
	require.NoError(t, err)
	defer reg.Close()

	opts := reg.Options()
	assert.Equal(t, 8, opts.MaxConcurrent)
	assert.NotNil(t, reg.Logger())
}

func TestCreate(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)
	ctx := context.Background()

	doc, err := f.model.Create(ctx, map[string]any{"title": "Zed", "color": "green"})
	require.NoError(t, err)
	id, ok := doc.ID().(string)
	require.True(t, ok)
	assert.Len(t, id, 36, "oid fields get a uuid")
	assert.Equal(t, "green", doc.Get("color"))
	assert.Equal(t, 5, f.table.Len())

	_, err = f.model.Create(ctx, map[string]any{"color": "green"})
	assert.ErrorIs(t, err, model.ErrInvalidSchema, "title is required")

	_, err = f.model.Create(ctx, map[string]any{"id": "w1", "title": "Again"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestCreateMany_KeepsOrder(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)

	input := make([]map[string]any, 20)
	for i := range input {
		input[i] = map[string]any{"title": strings.Repeat("x", i+1)}
	}
	docs, err := f.model.InsertMany(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, docs, 20)
	for i, d := range docs {
		assert.Equal(t, strings.Repeat("x", i+1), d.Get("title"))
	}
}

func TestCreateMany_FirstError(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)

	_, err := f.model.CreateMany(context.Background(), []map[string]any{
		{"title": "ok"},
		{"color": "missing title"},
	})
	assert.ErrorIs(t, err, model.ErrInvalidSchema)
}

func TestValueFunctions(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)
	ctx := context.Background()

	calls := 0
	f.model.Value("slug", func(_ context.Context, doc store.Document) (any, error) {
		calls++
		return strings.ToLower(doc["title"].(string)), nil
	})

	created, err := f.model.Create(ctx, map[string]any{"id": "w9", "title": "Hello"})
	require.NoError(t, err)
	assert.False(t, created.Has("slug"), "creation does not run value functions")

	updated, err := f.model.UpdateOneByID(ctx, "w9", map[string]any{"title": "World"})
	require.NoError(t, err)
	assert.Equal(t, "world", updated.Get("slug"))

	stored, err := f.table.Get(ctx, "w9")
	require.NoError(t, err)
	assert.Equal(t, "world", stored["slug"])

	before := calls
	_, err = f.model.UpdateMany(map[string]any{"id": "w9"}, map[string]any{"title": "Lean"}).Lean().Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, calls, "lean saves skip value functions")

	stored, err = f.table.Get(ctx, "w9")
	require.NoError(t, err)
	assert.Equal(t, "world", stored["slug"])

	obj, err := updated.ToObject(ctx)
	require.NoError(t, err)
	assert.Equal(t, "world", obj["slug"])
}

func TestValueFunction_Error(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)
	boom := errors.New("no slug")
	f.model.Value("slug", func(context.Context, store.Document) (any, error) { return nil, boom })

	_, err := f.model.UpdateOneByID(context.Background(), "w1", map[string]any{"title": "x"})
	assert.ErrorIs(t, err, boom)

	doc, err := f.table.Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "Foo", doc["title"], "nothing is written when a value fails")
}

func TestSchemaValueField(t *testing.T) {
	reg, err := model.NewRegistry(model.DefaultOptions())
	require.NoError(t, err)
	defer reg.Close()

	s := widgetSchema()
	s.Fields = append(s.Fields, model.Field{
		Name: "stamp",
		Value: func(context.Context, store.Document) (any, error) {
			return "stamped", nil
		},
	})
	m, err := reg.Define("widgets", s, memstore.New("widgets", store.Config{IDField: "id"}, nil))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Create(ctx, map[string]any{"id": "a", "title": "A"})
	require.NoError(t, err)
	doc, err := m.UpdateOneByID(ctx, "a", map[string]any{"color": "red"})
	require.NoError(t, err)
	assert.Equal(t, "stamped", doc.Get("stamp"))
}

func TestUpdateOneByID_NotFound(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)

	_, err := f.model.UpdateOneByID(context.Background(), "nope", map[string]any{"title": "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDoc(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)
	ctx := context.Background()
	f.model.Method("shout", func(_ context.Context, d *model.Doc, args ...any) (any, error) {
		return strings.ToUpper(d.Get("title").(string)) + strings.Repeat("!", len(args)), nil
	})

	res, err := f.model.FindOneByID("w1").Exec(ctx)
	require.NoError(t, err)
	doc := res.Doc

	out, err := doc.Call(ctx, "shout", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "FOO!!", out)

	_, err = doc.Call(ctx, "whisper")
	assert.ErrorIs(t, err, model.ErrUnknownMethod)

	fields := doc.Fields()
	fields["title"] = "mutated"
	assert.Equal(t, "Foo", doc.Get("title"), "Fields returns a copy")

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"w1","title":"Foo","color":"red","sprockets":3}`, string(raw))

	updated, err := doc.Update(ctx, map[string]any{"color": "teal"})
	require.NoError(t, err)
	assert.Equal(t, "teal", updated.Get("color"))
	assert.Equal(t, "red", doc.Get("color"), "docs are not mutated by updates")

	require.NoError(t, doc.Delete(ctx))
	_, err = f.table.Get(ctx, "w1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatics(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)
	ctx := context.Background()

	f.model.Static("countColor", func(ctx context.Context, m *model.Model, args ...any) (any, error) {
		res, err := m.Count(map[string]any{"color": args[0]}).Exec(ctx)
		if err != nil {
			return nil, err
		}
		return res.Count, nil
	})

	n, err := f.model.CallStatic(ctx, "countColor", "red")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.model.CallStatic(ctx, "nothing")
	assert.ErrorIs(t, err, model.ErrUnknownMethod)
}

func TestQuerySpec(t *testing.T) {
	f := newFixture(t, model.DefaultOptions(), nil)

	q := f.model.Find(map[string]any{"color": "red"}).
		Select("title, color", "title").
		Sort("-title").
		Limit(5).
		Skip(-3).
		Using("filterColorSortTitle")
	spec := q.Spec()

	assert.Equal(t, []string{"title", "color", "id"}, spec.Select)
	assert.Equal(t, []string{"-title"}, spec.Sort)
	assert.Equal(t, 5, spec.Limit)
	assert.Equal(t, 0, spec.Skip)
	assert.Equal(t, "filterColorSortTitle", spec.Index)

	spec.Filters["color"] = "blue"
	assert.Equal(t, "red", q.Spec().Filters["color"], "Spec returns a copy")

	one := f.model.FindOne(nil).Spec()
	assert.True(t, one.Flatten)
	assert.Equal(t, 1, one.Limit)

	upd := f.model.UpdateMany(nil, map[string]any{"a": 1}).Spec()
	assert.Equal(t, model.ActionUpdate, upd.Action)
	assert.Equal(t, "update", upd.Action.String())
}

func TestQueryError(t *testing.T) {
	inner := errors.New("throttled")
	err := error(&model.QueryError{Model: "widgets", Stage: model.StageExecuted, Err: inner})

	assert.ErrorIs(t, err, model.ErrQueryExecutionFailed)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "executed")
	assert.Contains(t, err.Error(), "widgets")
}

func TestBus(t *testing.T) {
	bus, err := model.NewBus(nil)
	require.NoError(t, err)

	got := make(chan model.Event, 1)
	unsubscribe := bus.Subscribe(model.EventQueryScan, func(_ context.Context, e model.Event) error {
		got <- e
		return nil
	})
	defer unsubscribe()

	bus.Emit(model.Event{Type: model.EventQueryScan, Model: "widgets", Filters: map[string]any{"a": 1}})

	select {
	case e := <-got:
		assert.Equal(t, "widgets", e.Model)
		assert.False(t, e.Time.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_FailingHandlerDoesNotStallQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	opts := model.DefaultOptions()
	opts.Logger = zap.New(core)
	reg, err := model.NewRegistry(opts)
	require.NoError(t, err)
	defer reg.Close()

	m, err := reg.Define("widgets", widgetSchema(), memstore.New("widgets", store.Config{IDField: "id"}, nil))
	require.NoError(t, err)

	var calls atomic.Int32
	reg.Subscribe(model.EventQueryScan, func(context.Context, model.Event) error {
		calls.Add(1)
		return errors.New("monitor offline")
	})

	start := time.Now()
	_, err = m.Find(map[string]any{"sprockets": 3}).Exec(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.EqualValues(t, 1, calls.Load(), "handler is not retried")
	failed := logs.FilterMessage("event handler failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "queryScan", failed[0].ContextMap()["event"])
}

func TestRegistry_DefaultBusDeliversQueryEvents(t *testing.T) {
	reg, err := model.NewRegistry(model.DefaultOptions())
	require.NoError(t, err)
	defer reg.Close()

	m, err := reg.Define("widgets", widgetSchema(), memstore.New("widgets", store.Config{IDField: "id"}, nil))
	require.NoError(t, err)

	got := make(chan model.Event, 4)
	reg.Subscribe(model.EventQueryIndexed, func(_ context.Context, e model.Event) error {
		got <- e
		return nil
	})

	_, err = m.Find(map[string]any{"color": "red"}).Exec(context.Background())
	require.NoError(t, err)

	select {
	case e := <-got:
		assert.Equal(t, "filterColorSortTitle", e.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("queryIndexed not delivered")
	}
}
