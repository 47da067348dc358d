package download

import (
	"errors"
	"fmt"
)

// ErrRangeIgnored is returned by a segment of a multi-segment plan when the server answers
// its range request with the whole resource.
var ErrRangeIgnored = errors.New("server ignored range request")

// StorageError is a local filesystem failure. It is never retried.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

var _ error = &StorageError{}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IntegrityError means the assembled artifact failed validation and was discarded.
type IntegrityError struct {
	Path   string
	Reason string
}

var _ error = &IntegrityError{}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s", e.Path, e.Reason)
}
