package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrMissingScope  = errors.New("missing scope parameter")
	ErrBadLimit      = errors.New("limit must be a non-negative integer")
	ErrScopeNotFound = errors.New("no snapshots for scope")
)
