package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jacentio/moody/filter"
	"github.com/jacentio/moody/index"
	"github.com/jacentio/moody/store"
)

// Stage is a step of query execution. Stages run in order and execution
// stops at the first error.
type Stage int

const (
	StageBuilt Stage = iota
	StageIndexResolved
	StageExecuted
	StagePostProcessed
	StageActionApplied
	StageFlattened
	StageDone
)

var stageNames = [...]string{
	"built",
	"index_resolved",
	"executed",
	"post_processed",
	"action_applied",
	"flattened",
	"done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ResultKind tells which fields of a Result are populated.
type ResultKind int

const (
	// KindMany results carry Docs (or Raw when lean).
	KindMany ResultKind = iota

	// KindOne results carry Doc (or RawDoc when lean) and Found.
	KindOne

	// KindCount results carry Count only.
	KindCount
)

// Result is the outcome of a query.
type Result struct {
	Kind ResultKind

	Docs []*Doc
	Raw  []store.Document

	Doc    *Doc
	RawDoc store.Document
	Found  bool

	// Count is the number of returned (or counted) documents.
	Count int

	// Index is the index that served the query; empty when it scanned.
	Index   string
	Scanned bool

	// Failed is the number of documents a bulk action could not update or delete.
	Failed int
}

// row pairs a stored record with its projected view.
type row struct {
	raw  store.Document
	view store.Document
}

// sortKey is one parsed sort entry.
type sortKey struct {
	field      string
	descending bool
}

// execution carries one query through the stages.
type execution struct {
	m      *Model
	spec   Spec
	logger *zap.Logger
	stage  Stage

	idx *index.Descriptor

	// key predicates form the key condition, remote ones are evaluated by the
	// store, local ones on key attributes that the key condition could not take.
	key, remote, local []filter.Predicate

	sortKeys   []sortKey
	nativeSort bool
	descending bool
	paged      bool

	rows   []row
	count  int
	failed int
}

// execute runs a query spec through every stage.
func (m *Model) execute(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Flatten {
		spec.Limit = 1
	}
	ex := &execution{m: m, spec: spec, logger: m.logger, stage: StageBuilt}

	if err := ex.resolveIndex(); err != nil {
		return nil, err
	}
	if err := ex.run(ctx); err != nil {
		return nil, err
	}
	if spec.Count {
		ex.stage = StageDone
		return &Result{Kind: KindCount, Count: ex.count, Index: ex.indexName(), Scanned: ex.idx == nil}, nil
	}
	ex.postProcess()
	ex.applyAction(ctx)
	res := ex.flatten()
	ex.stage = StageDone
	return res, nil
}

func (ex *execution) indexName() string {
	if ex.idx == nil {
		return ""
	}
	return ex.idx.Name
}

// resolveIndex translates the filters, picks an index and announces the path.
func (ex *execution) resolveIndex() error {
	preds, err := filter.Translate(ex.spec.Filters)
	if err != nil {
		return fmt.Errorf("find %s: %w", ex.m.name, err)
	}

	for _, entry := range ex.spec.Sort {
		field, desc := index.SortField(entry)
		ex.sortKeys = append(ex.sortKeys, sortKey{field: field, descending: desc})
	}

	var idx *index.Descriptor
	switch {
	case ex.spec.Index != "":
		idx, err = index.Select(ex.m.catalog, nil, nil, ex.spec.Index)
		if err != nil {
			return fmt.Errorf("find %s: %w", ex.m.name, err)
		}
		if !hasEquality(preds, idx.HashKey) {
			return fmt.Errorf("%w: %s needs an equality filter on %s", ErrIndexUnusable, idx.Name, idx.HashKey)
		}
	case !ex.m.registry.opts.ForceScan:
		// The best ranked index whose hash key is pinned by an equality wins.
		for _, d := range index.Rank(ex.m.catalog, filter.Fields(ex.spec.Filters), ex.spec.Sort) {
			if hasEquality(preds, d.HashKey) {
				idx = &d
				break
			}
		}
	}
	ex.idx = idx
	ex.split(preds)
	ex.planSort()

	filters := map[string]any(store.Document(ex.spec.Filters).Clone())
	if idx == nil {
		ex.logger.Debug("query falls back to scan", zap.Any("filters", filters))
		ex.m.registry.Emit(Event{Type: EventQueryScan, Model: ex.m.name, Filters: filters})
	} else {
		ex.logger.Debug("query uses index", zap.String("index", idx.Name), zap.Any("filters", filters))
		ex.m.registry.Emit(Event{Type: EventQueryIndexed, Model: ex.m.name, Filters: filters, Index: idx.Name})
	}

	ex.stage = StageIndexResolved
	return nil
}

func hasEquality(preds []filter.Predicate, field string) bool {
	for _, p := range preds {
		if p.Field == field && p.Op == filter.OpEq {
			return true
		}
	}
	return false
}

// split assigns predicates to the key condition, the store filter or the
// local filter. Key attributes may appear once in the key condition and
// never in a store filter.
func (ex *execution) split(preds []filter.Predicate) {
	if ex.idx == nil {
		ex.remote = preds
		return
	}
	var usedHash, usedRange bool
	for _, p := range preds {
		switch {
		case p.Field == ex.idx.HashKey && p.Op == filter.OpEq && !usedHash:
			ex.key = append(ex.key, p)
			usedHash = true
		case ex.idx.RangeKey != "" && p.Field == ex.idx.RangeKey && !usedRange:
			ex.key = append(ex.key, p)
			usedRange = true
		case p.Field == ex.idx.HashKey || (ex.idx.RangeKey != "" && p.Field == ex.idx.RangeKey):
			ex.local = append(ex.local, p)
		default:
			ex.remote = append(ex.remote, p)
		}
	}
}

// planSort decides whether the index returns documents in the requested order.
func (ex *execution) planSort() {
	if len(ex.sortKeys) == 0 {
		ex.nativeSort = true
		return
	}
	if ex.idx == nil || ex.idx.SortField == "" {
		return
	}
	desc := ex.sortKeys[0].descending
	for _, k := range ex.sortKeys {
		if k.field != ex.idx.SortField || k.descending != desc {
			return
		}
	}
	ex.nativeSort = true
	ex.descending = desc
}

// run issues the store call. Skip and limit are pushed down only when the
// store returns the final order and evaluates every predicate.
func (ex *execution) run(ctx context.Context) error {
	pushDown := ex.nativeSort && len(ex.local) == 0
	limit := 0
	if pushDown && ex.spec.Limit > 0 {
		limit = ex.spec.Skip + ex.spec.Limit
	}
	countNative := ex.spec.Count && len(ex.local) == 0

	var (
		res *store.Result
		err error
	)
	if ex.idx != nil {
		input := store.QueryInput{
			Key:        ex.key,
			Filter:     ex.remote,
			SortKey:    ex.idx.RangeKey,
			Descending: ex.descending,
			Limit:      limit,
			Count:      countNative,
		}
		if ex.idx.Kind == index.Secondary {
			input.IndexName = ex.idx.Name
		}
		res, err = ex.m.table.Query(ctx, input)
	} else {
		res, err = ex.m.table.Scan(ctx, store.ScanInput{
			Filter: ex.remote,
			Limit:  limit,
			Count:  countNative,
		})
	}
	if err != nil {
		return &QueryError{Model: ex.m.name, Stage: StageExecuted, Err: err}
	}

	items := res.Items
	if len(ex.local) > 0 {
		kept := items[:0:0]
		for _, doc := range items {
			if filter.Match(doc, ex.local) {
				kept = append(kept, doc)
			}
		}
		items = kept
	}

	ex.logger.Debug("query executed",
		zap.String("index", ex.indexName()),
		zap.Bool("scan", ex.idx == nil),
		zap.Int("items", len(items)),
		zap.Int("count", res.Count),
	)

	ex.stage = StageExecuted
	if ex.spec.Count {
		if countNative {
			ex.count = res.Count
		} else {
			ex.count = len(items)
		}
		return nil
	}

	ex.rows = make([]row, len(items))
	for i, doc := range items {
		ex.rows[i] = row{raw: doc}
	}
	if pushDown {
		ex.rows = page(ex.rows, ex.spec.Skip, ex.spec.Limit)
		ex.paged = true
	}
	return nil
}

// postProcess applies the soft sort, paging not done by the store and the
// soft select.
func (ex *execution) postProcess() {
	if !ex.paged {
		if !ex.nativeSort {
			ex.softSort()
		}
		ex.rows = page(ex.rows, ex.spec.Skip, ex.spec.Limit)
	}
	for i := range ex.rows {
		ex.rows[i].view = ex.project(ex.rows[i].raw)
	}
	ex.stage = StagePostProcessed
}

// softSort orders rows by the composite sort key. Missing values sort first
// ascending and last descending.
func (ex *execution) softSort() {
	sort.SliceStable(ex.rows, func(i, j int) bool {
		for _, k := range ex.sortKeys {
			c := filter.Compare(ex.sortValue(ex.rows[i].raw, k.field), ex.sortValue(ex.rows[j].raw, k.field))
			if c == 0 {
				continue
			}
			if k.descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func (ex *execution) sortValue(raw store.Document, field string) any {
	if v, ok := raw[field]; ok {
		return v
	}
	if fn, ok := ex.m.virtual(field); ok {
		return fn(raw)
	}
	return nil
}

// project builds the returned view of a record. Without a selection every
// virtual is merged in unless lean; with one, only the selected fields are
// kept and selected virtuals are computed.
func (ex *execution) project(raw store.Document) store.Document {
	if len(ex.spec.Select) == 0 {
		out := raw.Clone()
		if ex.spec.Lean {
			return out
		}
		for _, name := range ex.m.virtualNames() {
			if _, ok := out[name]; ok {
				continue
			}
			if fn, ok := ex.m.virtual(name); ok {
				out[name] = fn(raw)
			}
		}
		return out
	}

	out := make(store.Document, len(ex.spec.Select)+1)
	for _, f := range ex.spec.Select {
		if v, ok := raw[f]; ok {
			out[f] = store.CloneValue(v)
			continue
		}
		if fn, ok := ex.m.virtual(f); ok {
			out[f] = fn(raw)
		}
	}
	if id, ok := raw[ex.m.idField]; ok {
		out[ex.m.idField] = id
	}
	return out
}

// applyAction runs the bulk update or delete on the worker pool. Documents
// whose action fails are logged and dropped; the rest keep their order.
func (ex *execution) applyAction(ctx context.Context) {
	defer func() { ex.stage = StageActionApplied }()
	if ex.spec.Action == ActionNone || len(ex.rows) == 0 {
		return
	}

	ex.logger.Debug("bulk action",
		zap.Stringer("action", ex.spec.Action),
		zap.Int("docs", len(ex.rows)),
		zap.Bool("lean", ex.spec.Lean),
	)

	done := make([]*row, len(ex.rows))
	var wg sync.WaitGroup
	for i := range ex.rows {
		id := ex.rows[i].raw[ex.m.idField]
		wg.Add(1)
		err := ex.m.registry.pool.Submit(func() {
			defer wg.Done()
			raw, err := ex.act(ctx, id)
			if err != nil {
				ex.logger.Warn("bulk action failed",
					zap.Stringer("action", ex.spec.Action),
					zap.Any("id", id),
					zap.Error(err),
				)
				return
			}
			done[i] = &row{raw: raw, view: ex.project(raw)}
		})
		if err != nil {
			wg.Done()
			ex.logger.Warn("bulk action not scheduled", zap.Any("id", id), zap.Error(err))
		}
	}
	wg.Wait()

	rows := make([]row, 0, len(done))
	for _, r := range done {
		if r == nil {
			ex.failed++
			continue
		}
		rows = append(rows, *r)
	}
	ex.rows = rows
}

// act applies the action to one document. Lean actions return only the identifier.
func (ex *execution) act(ctx context.Context, id any) (store.Document, error) {
	var (
		raw store.Document
		err error
	)
	switch ex.spec.Action {
	case ActionUpdate:
		raw, err = ex.m.save(ctx, id, ex.spec.Payload, ex.spec.Lean)
	case ActionDelete:
		raw, err = ex.m.table.DeleteByID(ctx, id)
	default:
		return nil, fmt.Errorf("unknown action %s", ex.spec.Action)
	}
	if err != nil {
		return nil, err
	}
	if ex.spec.Lean {
		return store.Document{ex.m.idField: id}, nil
	}
	return raw, nil
}

// flatten shapes the rows into the result.
func (ex *execution) flatten() *Result {
	res := &Result{
		Index:   ex.indexName(),
		Scanned: ex.idx == nil,
		Failed:  ex.failed,
	}

	if ex.spec.Flatten {
		res.Kind = KindOne
		if len(ex.rows) > 0 {
			res.Found = true
			res.Count = 1
			if ex.spec.Lean {
				res.RawDoc = ex.rows[0].view
			} else {
				res.Doc = &Doc{model: ex.m, fields: ex.rows[0].view}
			}
		}
		ex.stage = StageFlattened
		return res
	}

	res.Kind = KindMany
	res.Count = len(ex.rows)
	if ex.spec.Lean {
		res.Raw = make([]store.Document, len(ex.rows))
		for i, r := range ex.rows {
			res.Raw[i] = r.view
		}
	} else {
		res.Docs = make([]*Doc, len(ex.rows))
		for i, r := range ex.rows {
			res.Docs[i] = &Doc{model: ex.m, fields: r.view}
		}
	}
	ex.stage = StageFlattened
	return res
}

// page applies skip and limit (0 disables either).
func page[T any](items []T, skip, limit int) []T {
	if skip > 0 {
		if skip >= len(items) {
			return items[:0]
		}
		items = items[skip:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
