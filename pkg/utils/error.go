package utils

import (
	"fmt"
)

var (
	ErrBadRequest        = fmt.Errorf("Bad request")
	ErrNotFound          = fmt.Errorf("Not found")
	ErrParse             = fmt.Errorf("Parse error")
	ErrCapacityExhausted = fmt.Errorf("No capacity available")
	ErrSpawn             = fmt.Errorf("Failed to start experiment")
	ErrResultRead        = fmt.Errorf("Failed to read result")
	ErrReporting         = fmt.Errorf("Failed to report to coordinator")
	ErrUnknownProject    = fmt.Errorf("Unknown project")
	ErrUnknownExperiment = fmt.Errorf("Unknown experiment")
	ErrDuplicate         = fmt.Errorf("Experiment already running")
)

type DetailedError interface {
	error
	Details() string
}

type detailedError struct {
	err     error
	details string
}

// NewDetailedError wraps err with extra diagnostic text, such as the
// tail of a failed process's output.
func NewDetailedError(err error, details string) error {
	return &detailedError{err: err, details: details}
}

func (e *detailedError) Error() string {
	return e.err.Error()
}

func (e *detailedError) Details() string {
	return e.details
}

func (e *detailedError) Unwrap() error {
	return e.err
}
