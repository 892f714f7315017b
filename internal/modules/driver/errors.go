package driver

import "errors"

var (
	ErrNotFound = errors.New("driver not found")
	ErrConflict = errors.New("driver state conflict")
)
