package extract

import (
	"errors"
	"fmt"
)

// ErrEmptyContent marks a document whose partitioned text is whitespace
// only. Indexing empty documents silently poisons the search space, so the
// record must end up failed rather than processed.
var ErrEmptyContent = errors.New("no text extracted from document (0 bytes): file may be image-only with failed OCR, blank, or corrupted")

// TimeoutError reports a partition pass killed by its wall-clock limit.
type TimeoutError struct {
	Mode Mode
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s partitioning killed after exceeding its deadline: file may be corrupted or too complex", e.Mode)
}

// IsTimeout reports whether err is a hard partitioning timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// EngineError reports a failed partitioner invocation, carrying the tail of
// the engine's diagnostics stream.
type EngineError struct {
	Mode   Mode
	Err    error
	Stderr string
}

func (e *EngineError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("partitioner %s pass failed: %v: %s", e.Mode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("partitioner %s pass failed: %v", e.Mode, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
