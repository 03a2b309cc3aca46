// Package tsdverrors defines the sentinel errors shared across the cache's
// internal packages. The Facade is the only boundary where these are ever
// allowed to surface as anything other than a logged-and-swallowed neutral
// response.
package tsdverrors

import "errors"

var (
	// ErrNotInitialized is returned when an operation is attempted on a
	// component before Init has been called successfully.
	ErrNotInitialized = errors.New("component not initialized")

	// ErrMalformedInput is returned when caller-supplied JSON cannot be
	// parsed or is missing required fields.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidSchema is returned when a Schema fails validation, e.g. its
	// date-key column is absent from its column list.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidFilter is returned when an unrecognized downsampling filter
	// name is supplied.
	ErrInvalidFilter = errors.New("invalid downsampling filter")

	// ErrStorageError is returned when a CacheStore or BackingStore
	// operation fails.
	ErrStorageError = errors.New("storage error")

	// ErrInvalidTime is returned when a date-key string cannot be parsed
	// under the canonical time layout.
	ErrInvalidTime = errors.New("invalid time value")
)
