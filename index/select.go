package index

import (
	"sort"
	"strings"
)

// SortField parses a sort entry such as "-rank" or "+title" into its field
// name and direction.
func SortField(entry string) (field string, descending bool) {
	switch {
	case strings.HasPrefix(entry, "-"):
		return entry[1:], true
	case strings.HasPrefix(entry, "+"):
		return entry[1:], false
	}
	return entry, false
}

// Score returns the filter score and sort score of d for the requested
// filter fields and sort entries.
//
// The filter score counts the requested fields the index filters on. The
// sort score is 1 when every requested sort field is the index's native sort
// field, else 0.
func Score(d Descriptor, fields []string, sortEntries []string) (filterScore, sortScore int) {
	for _, f := range fields {
		if d.Filters(f) {
			filterScore++
		}
	}

	sortScore = 1
	for _, entry := range sortEntries {
		field, _ := SortField(entry)
		if d.SortField == "" || field != d.SortField {
			sortScore = 0
			break
		}
	}
	return filterScore, sortScore
}

// Select picks the best index for a query.
//
// A forced index is returned as-is once validated. With no filter fields, or
// when no index filters on any requested field, Select returns nil and the
// caller must scan. Otherwise candidates are ranked by filter score, then sort
// score, then partition index first.
func Select(c *Catalog, fields []string, sortEntries []string, forced string) (*Descriptor, error) {
	if forced != "" {
		d, ok := c.Lookup(forced)
		if !ok {
			return nil, &UnknownIndexError{Name: forced}
		}
		return &d, nil
	}

	ranked := Rank(c, fields, sortEntries)
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}

// Rank returns the indexes filtering on at least one requested field, best
// first, in the order Select would pick them.
func Rank(c *Catalog, fields []string, sortEntries []string) []Descriptor {
	if len(fields) == 0 {
		return nil
	}

	type candidate struct {
		desc        Descriptor
		filterScore int
		sortScore   int
	}

	candidates := make([]candidate, 0, len(c.indexes))
	for _, d := range c.indexes {
		fs, ss := Score(d, fields, sortEntries)
		if fs == 0 {
			continue
		}
		candidates = append(candidates, candidate{desc: d, filterScore: fs, sortScore: ss})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.filterScore != b.filterScore {
			return a.filterScore > b.filterScore
		}
		if a.sortScore != b.sortScore {
			return a.sortScore > b.sortScore
		}
		return a.desc.Kind == Partition && b.desc.Kind != Partition
	})

	ranked := make([]Descriptor, len(candidates))
	for i, cand := range candidates {
		ranked[i] = cand.desc
	}
	return ranked
}
