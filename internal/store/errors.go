package store

import "errors"

// ErrNotFound is returned when a lookup or flag update matches no row.
var ErrNotFound = errors.New("not found")
