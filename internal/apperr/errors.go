// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrNoFile          = errors.New("no file selected")
	ErrInFlight        = errors.New("operation already in progress")
	ErrInvalidInput    = errors.New("invalid input")
)
