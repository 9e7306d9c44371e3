package queryexec

import "errors"

// ErrorKind splits service failures into retryable and terminal.
type ErrorKind int

const (
	// KindTransient failures (throttling, network blips) consume retry
	// budget and are tried again.
	KindTransient ErrorKind = iota
	// KindPermanent failures (bad query, missing resource) fail the job
	// immediately without consuming budget.
	KindPermanent
)

// ServiceError tags an underlying failure with retry semantics.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Kind == KindPermanent {
		return "permanent: " + e.Err.Error()
	}
	return "transient: " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err was tagged non-retryable. Untagged errors
// count as transient so an unclassified network failure consumes budget
// instead of killing the job outright.
func IsPermanent(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind == KindPermanent
	}
	return false
}
