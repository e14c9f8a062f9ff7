package stream

import "errors"

var (
	// ErrPersistExhausted indicates the persistence collaborator kept failing
	// after all retry attempts.
	ErrPersistExhausted = errors.New("persist retries exhausted")
)
