package repository

import "errors"

var (
	// ErrNotFound: the referenced conversation, message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation: the input was rejected before any persistence call.
	ErrValidation = errors.New("invalid input")
)
