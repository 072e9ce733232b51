package store

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the compiled schemas known to a process, keyed by logical table name.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
	}
}

// Register adds a schema to the registry. Registering two schemas for the
// same table is an error.
func (r *Registry) Register(s *Schema) error {
	if s == nil {
		return validationErr("register schema", "schema is nil")
	}
	if _, dup := r.schemas[s.table]; dup {
		return validationErr("register schema", fmt.Sprintf("table %s is already registered", s.table))
	}
	r.schemas[s.table] = s
	return nil
}

// Define compiles def and registers the result.
func (r *Registry) Define(def Definition) (*Schema, error) {
	s, err := NewSchema(def)
	if err != nil {
		return nil, err
	}
	if err := r.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the schema registered for a logical table name.
func (r *Registry) Lookup(table string) (*Schema, bool) {
	s, ok := r.schemas[table]
	return s, ok
}

// LookupPhysical resolves a physical table name of the form table_env.
func (r *Registry) LookupPhysical(physical, env string) (*Schema, bool) {
	table, ok := strings.CutSuffix(physical, "_"+env)
	if !ok {
		return nil, false
	}
	return r.Lookup(table)
}

// All returns every registered schema ordered by table name.
func (r *Registry) All() []*Schema {
	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].table < out[j].table })
	return out
}
