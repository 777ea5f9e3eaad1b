package reconciler

import (
	"errors"
	"fmt"
)

// ErrorKind - Classification of a platform failure. It decides retry
// behavior: transient and rate-limited errors are retried, forbidden and
// not-found are terminal.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindForbidden
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// PlatformError - A typed error from the platform client. Forbidden
// covers hierarchy violations (bot role below the target role); those need
// operator intervention and retrying them is pointless.
type PlatformError struct {
	Kind ErrorKind
	Err  error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Kind, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Retryable - Whether the reconciler should retry this failure.
func (e *PlatformError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// Forbidden - Whether err is a terminal permission/hierarchy failure.
func Forbidden(err error) bool {
	var perr *PlatformError
	return errors.As(err, &perr) && perr.Kind == KindForbidden
}
