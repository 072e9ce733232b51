package store

import (
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// expression accumulates condition clauses with their placeholders.
type expression struct {
	clauses []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newExpression() *expression {
	return &expression{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

// equal adds "#typed = :native".
func (e *expression) equal(f *Field, av types.AttributeValue) {
	name, value := nameRef(f.Name), valueRef(f.Native)
	e.names[name] = f.Name
	e.values[value] = av
	e.clauses = append(e.clauses, name+" = "+value)
}

// raw adds a caller-supplied fragment verbatim.
func (e *expression) raw(fragment string) {
	if fragment != "" {
		e.clauses = append(e.clauses, fragment)
	}
}

func (e *expression) String() string {
	return strings.Join(e.clauses, " AND ")
}

func (e *expression) empty() bool { return len(e.clauses) == 0 }

func nameRef(typed string) string  { return "#" + typed }
func valueRef(native string) string { return ":" + native }

// sortedKeys returns the keys of attrs in lexical order.
func sortedKeys(attrs Attributes) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
