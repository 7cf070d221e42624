package errors

import "errors"

var (
	ErrInvalidInput     = errors.New("catalog input is invalid")
	ErrBookNotFound     = errors.New("book not found")
	ErrDuplicateISBN    = errors.New("a book with this ISBN already exists")
	ErrInvalidOperation = errors.New("operation would violate catalog inventory invariants")
	ErrAccessDenied     = errors.New("administrative capability required")
)
