// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Transient marks a failure that is worth retrying: network errors,
// 5xx responses, or a response body that could not be decoded.
type Transient struct {
	Err error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *Transient) Unwrap() error { return e.Err }

// RateLimited signals that the API point budget is exhausted. Reset is the
// time the budget replenishes, if the response carried one (zero otherwise).
type RateLimited struct {
	Reset time.Time
	Err   error
}

func (e *RateLimited) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("rate limited: %v", e.Err)
	}
	return fmt.Sprintf("rate limited until %s: %v", e.Reset.Format(time.RFC3339), e.Err)
}

func (e *RateLimited) Unwrap() error { return e.Err }

// Fatal marks a failure that must not be retried: authentication errors,
// malformed requests, or a retry ceiling that has been exhausted.
type Fatal struct {
	Err error
}

func (e *Fatal) Error() string {
	return fmt.Sprintf("fatal failure: %v", e.Err)
}

func (e *Fatal) Unwrap() error { return e.Err }

// RecordMapping is a per-record failure: the record is skipped and the batch
// continues. It never aborts a run.
type RecordMapping struct {
	Reason string
}

func (e *RecordMapping) Error() string {
	return fmt.Sprintf("record mapping failure: %s", e.Reason)
}

// IsTransient reports whether err is (or wraps) a Transient failure.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// IsRateLimited reports whether err is (or wraps) a RateLimited failure.
// The matched error is returned so callers can read its Reset time.
func IsRateLimited(err error) (*RateLimited, bool) {
	var r *RateLimited
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsFatal reports whether err is (or wraps) a Fatal failure.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}

// IsRecordMapping reports whether err is a per-record mapping failure.
func IsRecordMapping(err error) bool {
	var m *RecordMapping
	return errors.As(err, &m)
}
