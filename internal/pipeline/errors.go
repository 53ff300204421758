package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stages and stores.
var (
	// ErrNotFound indicates a row lookup found nothing.
	ErrNotFound = errors.New("not found")

	// ErrNoPendingJobs indicates ClaimNext found no claimable job.
	ErrNoPendingJobs = errors.New("no pending jobs")

	// ErrUnknownJobType indicates a job references a type with no
	// registered handler. This is a configuration error, not a crash.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrInvalidTransition indicates a status change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransientSourceError marks a source failure worth retrying: timeouts,
// connection resets, 5xx responses.
type TransientSourceError struct {
	Endpoint string
	Err      error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("transient source error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// PermanentSourceError marks a source failure that must not be retried:
// 4xx responses and malformed bodies.
type PermanentSourceError struct {
	Endpoint string
	Err      error
}

func (e *PermanentSourceError) Error() string {
	return fmt.Sprintf("permanent source error on %s: %v", e.Endpoint, e.Err)
}

func (e *PermanentSourceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientSourceError.
func IsTransient(err error) bool {
	var t *TransientSourceError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is (or wraps) a PermanentSourceError.
func IsPermanent(err error) bool {
	var p *PermanentSourceError
	return errors.As(err, &p)
}
