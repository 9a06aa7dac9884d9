package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the actor lacks a required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIdempotencyConflict indicates a duplicate processing key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)
