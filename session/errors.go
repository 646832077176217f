package session

import "errors"

var (
	ErrNotFound         = errors.New("session not found")
	ErrPinSpace         = errors.New("no free pin available")
	ErrPhaseClosed      = errors.New("phase not accepting input")
	ErrAlreadySubmitted = errors.New("already submitted")
)
