package app

import (
	"errors"

	"dermassist/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")

	ErrDocumentNotFound = errors.New("document not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrQueueUnavailable = errors.New("ingestion queue unavailable")

	// ErrInvalidTransition is returned when a document is no longer in the
	// status an operation expects.
	ErrInvalidTransition = repository.ErrStatusConflict
)
