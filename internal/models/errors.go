package models

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")

	// ErrSourceMissing is returned when a thumbnail is requested for an image
	// whose file is gone. It matches ErrNotFound.
	ErrSourceMissing = &notFoundError{msg: "source image not found"}
)

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
