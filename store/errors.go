package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned when required key or index fields are missing,
	// a field is unknown to the schema, or an index is not declared.
	ErrValidation = errors.New("linkstore: validation failed")

	// ErrEncoding is returned when a value cannot be converted to or from its wire form.
	ErrEncoding = errors.New("linkstore: encoding failed")

	// ErrInconsistency is returned when a field is modified twice before a save.
	ErrInconsistency = errors.New("linkstore: field already modified and not yet saved")

	// ErrIntegrity is returned when a uniqueness precondition fails on create.
	ErrIntegrity = errors.New("linkstore: uniqueness check failed")

	// ErrNotFound is returned by entity layers when a single expected record is absent.
	ErrNotFound = errors.New("linkstore: item not found")

	// ErrMultipleFound is returned when a lookup expected to be unique matched several items.
	ErrMultipleFound = errors.New("linkstore: multiple items found")

	// ErrNoChanges is returned when saving an instance with no modified fields.
	ErrNoChanges = errors.New("linkstore: no modified fields")
)

// ValidationError names the fields that made a call invalid.
type ValidationError struct {
	Op     string
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("linkstore: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	if len(e.Fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationErr(op, reason string, fields ...string) error {
	return &ValidationError{Op: op, Reason: reason, Fields: fields}
}

// EncodingError reports a field whose value could not be encoded or decoded.
type EncodingError struct {
	Field string
	Type  string
	Err   error
}

func (e *EncodingError) Error() string {
	msg := fmt.Sprintf("linkstore: field %q (type %q)", e.Field, e.Type)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEncoding}
	}
	return []error{ErrEncoding, e.Err}
}

func encodingErr(field, typ string, format string, args ...any) error {
	return &EncodingError{Field: field, Type: typ, Err: fmt.Errorf(format, args...)}
}

// InconsistencyError is returned by Tracker.Mark for a field that already
// carries an unsaved modification.
type InconsistencyError struct {
	Field string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("linkstore: %s is already modified and not yet saved", e.Field)
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistency }

// IntegrityError is returned when a conditional create fails its uniqueness check.
type IntegrityError struct {
	Table string
	Field string
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("linkstore: uniqueness check failed for %q on table %s", e.Field, e.Table)
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntegrity}
	}
	return []error{ErrIntegrity, e.Err}
}
