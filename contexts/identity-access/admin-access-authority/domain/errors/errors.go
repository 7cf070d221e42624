package errors

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrAdminNotFound     = errors.New("admin grant not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidTransition = errors.New("invalid grant transition")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrAlreadyGranted    = errors.New("grant already exists")
)
