package cas

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("object not found")

// TransientError wraps a backend failure that is worth retrying:
// throttling, 5xx responses, connection resets and the like. Callers
// that exhaust their own retries record these as transient so a later
// pipeline run picks the work up again.
type TransientError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a backend failure that retrying cannot fix,
// such as access denied or a malformed request.
type PermanentError struct {
	Op  string
	Key string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
