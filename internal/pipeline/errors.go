package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUser      = errors.New("invalid user")
	ErrUnknownQueryType = errors.New("unknown query type")
	ErrEmptyInput       = errors.New("empty user input")
)

// ValidationError rejects a request before any stage runs.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StageFailure reports an unrecoverable error inside one stage. The run
// ends in StateFailed and nothing is persisted.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

func validate(req Request) error {
	if req.UserID == "" {
		return &ValidationError{Field: "userId", Reason: "must not be empty", Err: ErrInvalidUser}
	}
	if !req.QueryType.Valid() {
		return &ValidationError{Field: "queryType", Reason: fmt.Sprintf("%q is not supported", req.QueryType), Err: ErrUnknownQueryType}
	}
	if isBlank(req.UserInput) {
		return &ValidationError{Field: "userInput", Reason: "must not be empty", Err: ErrEmptyInput}
	}
	return nil
}
