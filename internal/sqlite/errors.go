package sqlite

import "errors"

// ErrKeyNotFound indicates no service key matches the presented token.
var ErrKeyNotFound = errors.New("service key not found")
