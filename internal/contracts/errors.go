package contracts

import "errors"

// ErrNotFound is returned by registries when an id has no row.
var ErrNotFound = errors.New("not found")
