package rag

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnsupportedType   = errors.New("unsupported document type")
	ErrExtraction        = errors.New("text extraction failed")
	ErrInvalidConfig     = errors.New("invalid rag configuration")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmbeddingService  = errors.New("embedding service failed")
	ErrGenerationService = errors.New("generation service failed")
)

// ValidationError is a user-correctable problem with a request or upload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type UnsupportedTypeError struct {
	MIMEType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported document type %q", e.MIMEType)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }

// ExtractionError means the parser failed or produced no usable text.
type ExtractionError struct {
	MIMEType string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s failed: %s: %v", e.MIMEType, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s failed: %s", e.MIMEType, e.Reason)
}

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

func (e *ExtractionError) Unwrap() error { return e.Err }

type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DimensionMismatchError reports a vector compared against one of a different length.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }
