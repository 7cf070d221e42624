package errors

import "errors"

var (
	ErrInvalidInput      = errors.New("lending input is invalid")
	ErrBookNotFound      = errors.New("book not found")
	ErrBorrowingNotFound = errors.New("borrowing not found")
	ErrBookUnavailable   = errors.New("no copies of the book are available")
	ErrAlreadyBorrowed   = errors.New("patron already holds an open loan for this book")
	ErrAlreadyReturned   = errors.New("borrowing has already been returned")
	ErrAccessDenied      = errors.New("administrative capability required")
	ErrConflict          = errors.New("lending transaction conflict, retry budget exhausted")
)
