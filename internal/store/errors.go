package store

import "errors"

var (
	ErrNotFound  = errors.New("job not found")
	ErrCodec     = errors.New("task codec failure")
	ErrTransport = errors.New("store unavailable")

	// ErrAlreadyExists reports that an idempotency key already names a job.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict asks Attempt to rerun the transaction body from scratch.
	ErrConflict = errors.New("transaction conflict")
)
