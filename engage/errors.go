package engage

import (
	"errors"
	"fmt"
)

var ErrNoTemplate = errors.New("no eligible template")

// Missing or invalid limits or catalog. Fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration (%s): %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Failure of an external collaborator (fetch, cache, send). Scoped to the current candidate or tick.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Wraps err as a TransientError, passing nil through.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// A malformed configuration entry. Only that entry is dropped.
type ValidationError struct {
	Entry string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid entry %q: %s", e.Entry, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
