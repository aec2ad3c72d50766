package cdm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks caller misuse. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a table or domain missing from the catalog or the
	// reflected schema.
	ErrNotFound = errors.New("not found")
)

// InvalidArgument wraps ErrInvalidArgument with a message naming the violated
// precondition.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// UnknownDomainError is returned when a table symbol is absent from the
// catalog built from the CDM version metadata.
type UnknownDomainError struct {
	Name    string
	Version string
}

func (e *UnknownDomainError) Error() string {
	return fmt.Sprintf("unknown domain table %q in CDM %s", e.Name, e.Version)
}

func (e *UnknownDomainError) Unwrap() error { return ErrNotFound }

// TableNotFoundError is returned when a resolved table does not exist in the
// reflected database schema.
type TableNotFoundError struct {
	Schema string
	Table  string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found in schema %q", e.Table, e.Schema)
}

func (e *TableNotFoundError) Unwrap() error { return ErrNotFound }
