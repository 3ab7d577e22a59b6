package filter_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/moody/filter"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		criteria map[string]any
		expected []filter.Predicate
	}{
		{
			name:     "empty criteria",
			criteria: map[string]any{},
			expected: []filter.Predicate{},
		},
		{
			name:     "literal equality",
			criteria: map[string]any{"color": "red"},
			expected: []filter.Predicate{{Field: "color", Op: filter.OpEq, Value: "red"}},
		},
		{
			name:     "verbose equality",
			criteria: map[string]any{"color": map[string]any{"$eq": "red"}},
			expected: []filter.Predicate{{Field: "color", Op: filter.OpEq, Value: "red"}},
		},
		{
			name:     "greater than",
			criteria: map[string]any{"sprockets": map[string]any{"$gt": 3}},
			expected: []filter.Predicate{{Field: "sprockets", Op: filter.OpGt, Value: 3}},
		},
		{
			name: "fields sorted",
			criteria: map[string]any{
				"title": "Foo",
				"color": "red",
			},
			expected: []filter.Predicate{
				{Field: "color", Op: filter.OpEq, Value: "red"},
				{Field: "title", Op: filter.OpEq, Value: "Foo"},
			},
		},
		{
			name:     "plain map is a literal",
			criteria: map[string]any{"settings": map[string]any{"greeting": "Hello"}},
			expected: []filter.Predicate{{Field: "settings", Op: filter.OpEq, Value: map[string]any{"greeting": "Hello"}}},
		},
		{
			name:     "multiple operators on one field",
			criteria: map[string]any{"rank": map[string]any{"$gt": 1, "$eq": 4}},
			expected: []filter.Predicate{
				{Field: "rank", Op: filter.OpEq, Value: 4},
				{Field: "rank", Op: filter.OpGt, Value: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preds, err := filter.Translate(tt.criteria)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, preds)
		})
	}
}

func TestTranslate_UnsupportedOperator(t *testing.T) {
	for _, op := range []string{"$lt", "$gte", "$in", "$ne", "$regex"} {
		t.Run(op, func(t *testing.T) {
			_, err := filter.Translate(map[string]any{"rank": map[string]any{op: 1}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, filter.ErrUnsupportedOperator))

			var opErr *filter.OperatorError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "rank", opErr.Field)
			assert.Equal(t, op, opErr.Operator)
		})
	}
}

func TestTranslate_Deterministic(t *testing.T) {
	criteria := map[string]any{"a": 1, "b": 2, "c": map[string]any{"$gt": 3}}
	first, err := filter.Translate(criteria)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := filter.Translate(criteria)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMatch(t *testing.T) {
	doc := map[string]any{
		"color":     "red",
		"sprockets": float64(12),
		"title":     "Baz",
	}

	tests := []struct {
		name     string
		preds    []filter.Predicate
		expected bool
	}{
		{"no predicates", nil, true},
		{"equal string", []filter.Predicate{{Field: "color", Op: filter.OpEq, Value: "red"}}, true},
		{"unequal string", []filter.Predicate{{Field: "color", Op: filter.OpEq, Value: "blue"}}, false},
		{"int against float", []filter.Predicate{{Field: "sprockets", Op: filter.OpEq, Value: 12}}, true},
		{"greater than", []filter.Predicate{{Field: "sprockets", Op: filter.OpGt, Value: 10}}, true},
		{"not greater than", []filter.Predicate{{Field: "sprockets", Op: filter.OpGt, Value: 12}}, false},
		{"greater than mixed kinds", []filter.Predicate{{Field: "sprockets", Op: filter.OpGt, Value: "1"}}, false},
		{"missing field", []filter.Predicate{{Field: "missing", Op: filter.OpEq, Value: nil}}, false},
		{"all must match", []filter.Predicate{
			{Field: "color", Op: filter.OpEq, Value: "red"},
			{Field: "title", Op: filter.OpEq, Value: "Foo"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, filter.Match(doc, tt.preds))
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, filter.Compare(1, 2))
	assert.Equal(t, 1, filter.Compare(float64(3), 2))
	assert.Equal(t, 0, filter.Compare(int64(2), float32(2)))
	assert.Equal(t, -1, filter.Compare("a", "b"))
	assert.Equal(t, -1, filter.Compare(nil, false))
	assert.Equal(t, -1, filter.Compare(false, true))
	assert.Equal(t, -1, filter.Compare(true, 0))
	assert.Equal(t, -1, filter.Compare(99, "0"))
	assert.Equal(t, 0, filter.Compare(nil, nil))
}
