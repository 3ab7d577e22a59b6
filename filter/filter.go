// Package filter translates flat Mongo-style criteria maps into predicates.
//
// A criteria map associates a field name with either a literal (equality) or an
// operator object:
//
//	{"color": "red", "sprockets": {"$gt": 3}}
//
// Only equality ($eq or a literal) and $gt are translated. Any other operator is
// rejected with [ErrUnsupportedOperator] instead of being silently downgraded.
// The resulting predicates feed both native index queries and full scans.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Operator is a comparison operator recognized by the translator.
type Operator string

const (
	OpEq Operator = "$eq"
	OpGt Operator = "$gt"
)

// ErrUnsupportedOperator is returned when criteria use an operator the translator does not implement.
var ErrUnsupportedOperator = errors.New("moody: unsupported filter operator")

// OperatorError reports the field and operator that could not be translated.
type OperatorError struct {
	Field    string
	Operator string
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("moody: unsupported filter operator %q on field %q", e.Operator, e.Field)
}

// Is matches ErrUnsupportedOperator.
func (e *OperatorError) Is(target error) bool {
	return target == ErrUnsupportedOperator
}

// Predicate is a single translated condition on a field.
type Predicate struct {
	Field string
	Op    Operator
	Value any
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Translate converts criteria into predicates ordered by field name.
// Operator objects are maps whose keys start with "$"; any other map is
// compared by equality as a literal.
func Translate(criteria map[string]any) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(criteria))
	for _, field := range Fields(criteria) {
		value := criteria[field]
		ops, ok := operatorObject(value)
		if !ok {
			preds = append(preds, Predicate{Field: field, Op: OpEq, Value: value})
			continue
		}

		names := make([]string, 0, len(ops))
		for name := range ops {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			switch Operator(name) {
			case OpEq, OpGt:
				preds = append(preds, Predicate{Field: field, Op: Operator(name), Value: ops[name]})
			default:
				return nil, &OperatorError{Field: field, Operator: name}
			}
		}
	}
	return preds, nil
}

// Fields returns the sorted field names of a criteria map.
func Fields(criteria map[string]any) []string {
	fields := make([]string, 0, len(criteria))
	for field := range criteria {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// operatorObject reports whether v is an operator object.
func operatorObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return m, true
		}
	}
	return nil, false
}
