package order

import "errors"

var (
	ErrNotFound   = errors.New("order not found")
	ErrConflict   = errors.New("order state conflict")
	ErrBadRequest = errors.New("invalid order request")
)
