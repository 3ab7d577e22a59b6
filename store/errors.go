package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = errors.New("moody: document not found")

	// ErrAlreadyExists is returned when creating a document with an existing identifier.
	ErrAlreadyExists = errors.New("moody: document already exists")

	// ErrMissingID is returned when an operation needs a document identifier and none was given.
	ErrMissingID = errors.New("moody: document identifier missing")
)
