// Package storage holds errors shared by the blob store backends.
package storage

import "errors"

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")
