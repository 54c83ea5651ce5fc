package source

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the configured location does not exist.
var ErrNotFound = errors.New("source not found")

// TransferError tags a failure in the byte transfer from the object
// store. It travels through the chunk queue so the consuming iterator
// surfaces it instead of ending in a silent short read.
type TransferError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed for s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
