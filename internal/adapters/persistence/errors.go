package persistence

import "errors"

var (
	// ErrNotFound indicates the requested event does not exist in the store.
	ErrNotFound = errors.New("event not found")
	// ErrStoreClosed indicates an operation was attempted after Close.
	ErrStoreClosed = errors.New("store is closed")
)
