package model

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Options configures a Registry.
type Options struct {
	// Logger receives planner and bulk-action logs. Default: no-op.
	Logger *zap.Logger

	// Emitter receives query and change events. Default: a new Bus.
	Emitter Emitter

	// MaxConcurrent bounds in-flight store calls of bulk actions and CreateMany.
	// Default: 8
	MaxConcurrent int

	// ForceScan disables index selection; every query scans.
	ForceScan bool

	// Cache is accepted for compatibility and has no effect.
	Cache bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{MaxConcurrent: 8}
}

func (o *Options) validate() {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 8
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Registry holds the models of one application. Models are looked up by name
// by the scenario resolver and the change stream handler.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model

	opts    Options
	logger  *zap.Logger
	emitter Emitter
	pool    *ants.Pool
}

// NewRegistry creates an empty registry with its worker pool and event bus.
func NewRegistry(opts Options) (*Registry, error) {
	opts.validate()

	emitter := opts.Emitter
	if emitter == nil {
		bus, err := NewBus(opts.Logger)
		if err != nil {
			return nil, err
		}
		emitter = bus
	}

	logger := opts.Logger
	pool, err := ants.NewPool(opts.MaxConcurrent, ants.WithPanicHandler(func(v any) {
		logger.Error("bulk action panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Registry{
		models:  make(map[string]*Model),
		opts:    opts,
		logger:  logger,
		emitter: emitter,
		pool:    pool,
	}, nil
}

// Define creates a model backed by table and registers it under name.
func (r *Registry) Define(name string, schema Schema, table Table) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: model needs a name", ErrInvalidSchema)
	}
	if table == nil {
		return nil, fmt.Errorf("%w: model %s needs a table", ErrInvalidSchema, name)
	}
	m, err := newModel(r, name, schema, table)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	r.models[name] = m

	r.logger.Debug("model defined",
		zap.String("model", name),
		zap.String("idField", m.idField),
		zap.Stringer("indexes", m.catalog),
	)
	return m, nil
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove unregisters a model. It reports whether the model existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.models[name]
	delete(r.models, name)
	return ok
}

// Options returns the registry's effective options.
func (r *Registry) Options() Options {
	return r.opts
}

// Logger returns the registry's logger.
func (r *Registry) Logger() *zap.Logger {
	return r.logger
}

// Emit publishes an event.
func (r *Registry) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.emitter.Emit(e)
}

// Subscribe registers a handler for one event type.
func (r *Registry) Subscribe(t EventType, h Handler) func() {
	return r.emitter.Subscribe(t, h)
}

// Close releases the worker pool. Models must not be used afterwards.
func (r *Registry) Close() error {
	return r.pool.ReleaseTimeout(3 * time.Second)
}
