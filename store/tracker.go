package store

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Tracker records which native attributes of a live instance changed since
// it was last persisted. A field may be marked once between saves unless
// the caller explicitly overrides.
//
// A Tracker guards a single instance in a single goroutine; it does not
// detect modifications made by other processes.
type Tracker struct {
	order  []string
	values map[string]any
}

// Mark records value for field. Marking an already modified field fails
// with an *InconsistencyError unless allowOverride is set, in which case the
// pending value is replaced.
func (t *Tracker) Mark(field string, value any, allowOverride bool) error {
	if t.values == nil {
		t.values = make(map[string]any)
	}
	if _, modified := t.values[field]; modified {
		if !allowOverride {
			return &InconsistencyError{Field: field}
		}
		t.values[field] = value
		return nil
	}
	t.values[field] = value
	t.order = append(t.order, field)
	return nil
}

// IsModified reports whether field carries an unsaved change.
func (t *Tracker) IsModified(field string) bool {
	_, ok := t.values[field]
	return ok
}

// Value returns the pending value of a modified field.
func (t *Tracker) Value(field string) (any, bool) {
	v, ok := t.values[field]
	return v, ok
}

// Modified returns the modified fields in the order they were first marked.
func (t *Tracker) Modified() []string {
	return append([]string(nil), t.order...)
}

// Len returns the number of modified fields.
func (t *Tracker) Len() int { return len(t.order) }

// Reset clears the modified set. Call after changes are persisted.
func (t *Tracker) Reset() {
	t.order = t.order[:0]
	clear(t.values)
}

// CommitPlan is the partial update derived from a Tracker.
type CommitPlan struct {
	// Changed holds typed field names with their new encoded values.
	Changed map[string]types.AttributeValue

	// Removed holds typed field names to delete from the item.
	Removed []string
}

// Plan partitions the modified fields into changed and removed ones. A
// field whose pending value is nil or "" is removed.
func (t *Tracker) Plan(s *Schema) (*CommitPlan, error) {
	if t.Len() == 0 {
		return nil, ErrNoChanges
	}
	plan := &CommitPlan{Changed: make(map[string]types.AttributeValue)}
	for _, native := range t.order {
		f, ok := s.byNative[native]
		if !ok {
			return nil, validationErr("plan update", "field is not part of table "+s.table, native)
		}
		if s.isIDField(f.Name) {
			return nil, validationErr("plan update", "id fields cannot be updated", native)
		}
		v := t.values[native]
		if v == nil || v == "" {
			plan.Removed = append(plan.Removed, f.Name)
			continue
		}
		av, err := EncodeField(f, v)
		if err != nil {
			return nil, err
		}
		plan.Changed[f.Name] = av
	}
	sort.Strings(plan.Removed)
	return plan, nil
}

// AttributeUpdates renders the plan as per-attribute PUT and DELETE actions.
func (p *CommitPlan) AttributeUpdates() map[string]types.AttributeValueUpdate {
	updates := make(map[string]types.AttributeValueUpdate, len(p.Changed)+len(p.Removed))
	for name, av := range p.Changed {
		updates[name] = types.AttributeValueUpdate{Action: types.AttributeActionPut, Value: av}
	}
	for _, name := range p.Removed {
		updates[name] = types.AttributeValueUpdate{Action: types.AttributeActionDelete}
	}
	return updates
}
