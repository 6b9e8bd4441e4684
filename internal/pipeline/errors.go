package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoData marks a unit for which the provider reported zero results, e.g. a
// market holiday. It is a valid outcome, not a failure.
var ErrNoData = errors.New("no data available")

// NoDataError wraps ErrNoData with the unit that produced it.
type NoDataError struct {
	Source string
	Unit   Unit
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%s: no data for %s", e.Source, e.Unit)
}

func (e *NoDataError) Unwrap() error { return ErrNoData }

// TransientFetchError covers timeouts, non-200 responses, provider error codes
// and malformed payloads. The unit is skipped; re-running the driver recovers.
type TransientFetchError struct {
	Source string
	Op     string
	Status int // HTTP status when one was received
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Source, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PersistenceError is returned by the writer after its retry budget is spent,
// or immediately for non-retryable database errors.
type PersistenceError struct {
	Table    string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("write %s failed after %d attempt(s): %v", e.Table, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError halts a run before any unit is attempted.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Key, e.Reason)
}

// Action is what the driver does with a classified error.
type Action int

const (
	ActionSkip  Action = iota // mark the unit and move on
	ActionRetry               // retry inside the writer, then skip
	ActionAbort               // stop before (or instead of) doing work
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRetry:
		return "retry"
	case ActionAbort:
		return "abort"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// PolicyFor maps an error to the driver's handling policy. Unknown errors
// are skipped so that one bad unit never stops the run.
func PolicyFor(err error) Action {
	var (
		cfgErr     *ConfigurationError
		persistErr *PersistenceError
		fetchErr   *TransientFetchError
	)
	switch {
	case err == nil:
		return ActionSkip
	case errors.As(err, &cfgErr):
		return ActionAbort
	case errors.As(err, &persistErr):
		return ActionRetry
	case errors.As(err, &fetchErr), errors.Is(err, ErrNoData):
		return ActionSkip
	}
	return ActionSkip
}
