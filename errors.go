package main

import (
	"errors"
)

var (
	// ErrInvalidConfig is fatal and prevents startup.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidPoolSize is returned when a worker pool is requested with less than one worker.
	ErrInvalidPoolSize = errors.New("worker pool size must be greater than zero")

	// ErrPoolClosed is returned by Submit once teardown has begun.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrInvalidBody marks a request body that is not the expected JSON.
	ErrInvalidBody = errors.New("request body is not valid JSON")

	// ErrMissingID marks a request body without a usable string "id" field.
	ErrMissingID = errors.New("request body lacks a string id")

	// ErrInvalidRecord marks a record that failed field validation.
	ErrInvalidRecord = errors.New("record failed validation")

	// ErrBackend wraps every failure of the document store.
	ErrBackend = errors.New("backend request failed")
)

// statusForError maps a handler error onto the HTTP status code reported to the client.
func statusForError(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidBody), errors.Is(err, ErrMissingID), errors.Is(err, ErrInvalidRecord):
		return StatusBadRequest
	default:
		return StatusInternalServerError
	}
}
