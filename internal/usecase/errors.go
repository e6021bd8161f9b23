package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrConflict              = errors.New("conflict")

	// ErrMatchUnavailable marks a match whose detail source answered 403, 404 or 410.
	ErrMatchUnavailable = errors.New("match detail unavailable")
	// ErrDatasetUnavailable is returned when no boundary dataset mirror could be loaded.
	ErrDatasetUnavailable = errors.New("country boundary dataset unavailable")
)
