package model_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/moody/model"
	"github.com/jacentio/moody/store"
	"github.com/jacentio/moody/store/memstore"
)

// recorder is a synchronous Emitter that keeps every event.
type recorder struct {
	mu       sync.Mutex
	events   []model.Event
	handlers map[model.EventType][]model.Handler
}

var _ model.Emitter = (*recorder)(nil)

func newRecorder() *recorder {
	return &recorder{handlers: make(map[model.EventType][]model.Handler)}
}

func (r *recorder) Emit(e model.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hs := append([]model.Handler(nil), r.handlers[e.Type]...)
	r.mu.Unlock()
	for _, h := range hs {
		_ = h(context.Background(), e)
	}
}

func (r *recorder) Subscribe(t model.EventType, h model.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], h)
	return func() {}
}

func (r *recorder) of(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// faultyTable wraps a table and injects failures.
type faultyTable struct {
	model.Table

	readErr    error
	failUpdate map[any]bool
	failDelete map[any]bool
}

func (f *faultyTable) Query(ctx context.Context, in store.QueryInput) (*store.Result, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.Table.Query(ctx, in)
}

func (f *faultyTable) Scan(ctx context.Context, in store.ScanInput) (*store.Result, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.Table.Scan(ctx, in)
}

func (f *faultyTable) UpdateByID(ctx context.Context, id any, patch store.Document) (store.Document, error) {
	if f.failUpdate[id] {
		return nil, errors.New("update rejected")
	}
	return f.Table.UpdateByID(ctx, id, patch)
}

func (f *faultyTable) DeleteByID(ctx context.Context, id any) (store.Document, error) {
	if f.failDelete[id] {
		return nil, errors.New("delete rejected")
	}
	return f.Table.DeleteByID(ctx, id)
}

// gaugedTable holds every update briefly and records the peak number in flight.
type gaugedTable struct {
	model.Table

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *gaugedTable) UpdateByID(ctx context.Context, id any, patch store.Document) (store.Document, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return g.Table.UpdateByID(ctx, id, patch)
}

func (g *gaugedTable) maxInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func widgetSchema() model.Schema {
	return model.Schema{Fields: []model.Field{
		{Name: "id", Type: model.TypeOID, Index: model.IndexPrimary},
		{Name: "title", Type: model.TypeString, Required: true, Index: model.IndexSort},
		{Name: "color", Type: model.TypeString, Index: model.IndexSecondary},
		{Name: "sprockets", Type: model.TypeNumber},
	}}
}

var widgetDocs = []map[string]any{
	{"id": "w1", "title": "Foo", "color": "red", "sprockets": 3},
	{"id": "w2", "title": "Bar", "color": "white"},
	{"id": "w3", "title": "Baz", "color": "red", "sprockets": 12},
	{"id": "w4", "title": "Quz", "color": "blue", "sprockets": 9},
}

type fixture struct {
	reg    *model.Registry
	events *recorder
	table  *memstore.Table
	model  *model.Model
}

func newFixture(t *testing.T, opts model.Options, wrap func(model.Table) model.Table) *fixture {
	t.Helper()

	events := newRecorder()
	opts.Emitter = events
	reg, err := model.NewRegistry(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	table := memstore.New("widgets", store.Config{IDField: "id"}, nil)
	var backing model.Table = table
	if wrap != nil {
		backing = wrap(table)
	}
	m, err := reg.Define("widgets", widgetSchema(), backing)
	require.NoError(t, err)

	_, err = m.CreateMany(context.Background(), widgetDocs)
	require.NoError(t, err)
	events.reset()

	return &fixture{reg: reg, events: events, table: table, model: m}
}

func docIDs(docs []*model.Doc) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}
