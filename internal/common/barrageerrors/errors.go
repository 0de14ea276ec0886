// Package barrageerrors contains the generic errors returned by lifecycle and
// store operations. Callers discriminate them with errors.As; transport layers
// are expected to map them onto their own status codes.
package barrageerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned whenever some resource isn't found. A resource that
// exists but belongs to a different owner is reported with this same error, so
// that callers cannot probe for the existence of other owners' resources.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "load test"
	Value   string // Resource id
	Message string // An optional message to include in the error message
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrConflict is returned on an illegal lifecycle transition, e.g., starting a
// test that is already running or deleting one mid-run.
type ErrConflict struct {
	Type    string // Resource type
	Value   string // Resource id
	Status  string // The status that caused the conflict
	Message string
}

func (err *ErrConflict) Error() (s string) {
	s = fmt.Sprintf("resource %q of type %q is in status %q", err.Value, err.Type, err.Status)
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is returned on invalid configuration or arguments.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "requestsPerSecond"
	Value   interface{} // The invalid value that was provided
	Message string      // Optional explanation of why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrUnavailable indicates that a required external collaborator (e.g., the
// message broker) could not be reached. Lifecycle transitions whose side
// effects failed with this error are rolled back, not committed.
type ErrUnavailable struct {
	Component string
	Message   string
}

func (err *ErrUnavailable) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("%s is unavailable", err.Component)
	}
	return fmt.Sprintf("%s is unavailable; %s", err.Component, err.Message)
}

func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ErrConflict
	return errors.As(err, &e)
}

func IsInvalidArgument(err error) bool {
	var e *ErrInvalidArgument
	return errors.As(err, &e)
}

func IsUnavailable(err error) bool {
	var e *ErrUnavailable
	return errors.As(err, &e)
}
