package index

import "errors"

// ErrNotFound is returned when a storage key has no entry in the merged index.
var ErrNotFound = errors.New("index: not found")
