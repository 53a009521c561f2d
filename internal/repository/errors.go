package repository

import (
	"errors"
	"fmt"
)

// NotFoundError reports that no entry matched a unique lookup.
type NotFoundError struct {
	Attribute string
	Value     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no person with %s=%q", e.Attribute, e.Value)
}

// AlreadyExistsError reports that a value required to be unique is already
// taken, naming the offending attribute.
type AlreadyExistsError struct {
	Attribute string
	Value     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q is already taken", e.Attribute, e.Value)
}

// DataInconsistencyError reports that a lookup expected to match at most one
// entry matched several. The directory itself is in a state this layer
// never produces.
type DataInconsistencyError struct {
	Attribute string
	Value     string
	Count     int
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("%d entries with %s=%q, expected at most one", e.Count, e.Attribute, e.Value)
}

// IsNotFound checks whether an error is a unique-lookup miss.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsAlreadyExists checks whether an error is a uniqueness conflict.
func IsAlreadyExists(err error) bool {
	var exists *AlreadyExistsError
	return errors.As(err, &exists)
}

// IsDataInconsistency checks whether an error reports duplicate entries.
func IsDataInconsistency(err error) bool {
	var inconsistent *DataInconsistencyError
	return errors.As(err, &inconsistent)
}
