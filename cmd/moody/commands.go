package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jacentio/moody/model"
)

func newScenarioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <pattern>...",
		Short: "Import scenario files, resolving $ placeholders between documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.importScenario(cmd.Context(), args)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"created": stats.Created,
				"cycles":  stats.Cycles,
				"lookup":  stats.Lookup,
			})
		},
	}
}

// queryFlags are the query builder options shared by find and count.
type queryFlags struct {
	filter string
	sort   []string
	sel    []string
	limit  int
	skip   int
	one    bool
	lean   bool
	using  string
}

func (f *queryFlags) register(cmd *cobra.Command, full bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.filter, "filter", "", `criteria as JSON, e.g. {"color":"red","rank":{"$gt":3}}`)
	flags.StringVar(&f.using, "using", "", "force an index")
	if !full {
		return
	}
	flags.StringSliceVar(&f.sort, "sort", nil, "sort fields, prefix with - for descending")
	flags.StringSliceVar(&f.sel, "select", nil, "fields to return")
	flags.IntVar(&f.limit, "limit", 0, "maximum number of documents (0 = no limit)")
	flags.IntVar(&f.skip, "skip", 0, "number of documents to skip")
	flags.BoolVar(&f.one, "one", false, "return the first document only")
	flags.BoolVar(&f.lean, "lean", false, "return stored fields only")
}

func (f *queryFlags) criteria() (map[string]any, error) {
	if f.filter == "" {
		return nil, nil
	}
	var criteria map[string]any
	if err := json.Unmarshal([]byte(f.filter), &criteria); err != nil {
		return nil, fmt.Errorf("parse --filter: %w", err)
	}
	return criteria, nil
}

func (f *queryFlags) apply(q *model.Query) *model.Query {
	if len(f.sort) > 0 {
		q.Sort(f.sort...)
	}
	if len(f.sel) > 0 {
		q.Select(f.sel...)
	}
	if f.using != "" {
		q.Using(f.using)
	}
	if f.one {
		q.One()
	} else {
		q.Limit(f.limit)
	}
	if f.lean {
		q.Lean()
	}
	return q.Skip(f.skip)
}

func newFindCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "find <model>",
		Short: "Find documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.registry.Model(args[0])
			if err != nil {
				return err
			}
			criteria, err := f.criteria()
			if err != nil {
				return err
			}
			res, err := f.apply(m.Find(criteria)).Exec(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), render(res))
		},
	}
	f.register(cmd, true)
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "count <model>",
		Short: "Count documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.registry.Model(args[0])
			if err != nil {
				return err
			}
			criteria, err := f.criteria()
			if err != nil {
				return err
			}
			q := m.Count(criteria)
			if f.using != "" {
				q.Using(f.using)
			}
			res, err := q.Exec(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), render(res))
		},
	}
	f.register(cmd, false)
	return cmd
}

// render shapes a query result for output.
func render(res *model.Result) any {
	switch res.Kind {
	case model.KindCount:
		return map[string]any{"count": res.Count}
	case model.KindOne:
		if !res.Found {
			return nil
		}
		if res.Doc != nil {
			return res.Doc
		}
		return res.RawDoc
	}
	if res.Raw != nil {
		return res.Raw
	}
	if res.Docs == nil {
		return []any{}
	}
	return res.Docs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
