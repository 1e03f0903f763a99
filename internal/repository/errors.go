package repository

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrStatusConflict = errors.New("document status does not allow this transition")
)
