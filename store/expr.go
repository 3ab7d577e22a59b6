package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/moody/filter"
)

// expression accumulates attribute name and value placeholders for one request.
type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byAttr map[string]string
	n      int
}

func newExpression() *expression {
	return &expression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		byAttr: map[string]string{},
	}
}

// name returns the placeholder for an attribute name, reusing earlier ones.
func (e *expression) name(attr string) string {
	if key, ok := e.byAttr[attr]; ok {
		return key
	}
	key := fmt.Sprintf("#attr%d", len(e.byAttr))
	e.byAttr[attr] = key
	e.names[key] = attr
	return key
}

// value marshals v and returns its placeholder.
func (e *expression) value(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	key := fmt.Sprintf(":val%d", e.n)
	e.n++
	e.values[key] = av
	return key, nil
}

// condition renders one predicate.
func (e *expression) condition(p filter.Predicate) (string, error) {
	var op string
	switch p.Op {
	case filter.OpEq:
		op = "="
	case filter.OpGt:
		op = ">"
	default:
		return "", &filter.OperatorError{Field: p.Field, Operator: string(p.Op)}
	}
	val, err := e.value(p.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", e.name(p.Field), op, val), nil
}

// conditions renders predicates joined with AND. Empty input renders "".
func (e *expression) conditions(preds []filter.Predicate) (string, error) {
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		clause, err := e.condition(p)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), nil
}

// attributeNames returns the names map, or nil when empty (DynamoDB rejects empty maps).
func (e *expression) attributeNames() map[string]string {
	if len(e.names) == 0 {
		return nil
	}
	return e.names
}

// attributeValues returns the values map, or nil when empty.
func (e *expression) attributeValues() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}
