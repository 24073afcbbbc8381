// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist. Callers must
// treat this as non-fatal: the entity may have been concurrently deleted.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request was rejected before any state changed.
var ErrValidation = errors.New("validation failed")
