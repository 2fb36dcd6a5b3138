package orm

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch reports a row or record whose shape disagrees with the schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrUnknownField reports a reference to an attribute the schema does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrAlreadyPersisted is returned by Insert for a record that already has an identity.
	ErrAlreadyPersisted = errors.New("record already persisted")
	// ErrNotPersisted is returned by Update for a record without an identity.
	ErrNotPersisted = errors.New("record not persisted")
)

// FieldError names the undeclared attribute behind an ErrUnknownField.
type FieldError struct {
	Table string
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s has no attribute %q", ErrUnknownField, e.Table, e.Field)
}

// Unwrap lets errors.Is match ErrUnknownField.
func (e *FieldError) Unwrap() error { return ErrUnknownField }
