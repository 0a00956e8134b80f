package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnknownSourceType      = errors.New("unknown source type")
	ErrBackendUnavailable     = errors.New("backend unavailable")
	ErrCollectionNotFound     = errors.New("collection not found")
	ErrTableNotFound          = errors.New("table not found")
	ErrEmbeddingProvider      = errors.New("embedding provider error")
	ErrMalformedMetadata      = errors.New("malformed metadata")
	ErrRequestTimeout         = errors.New("request timeout")
	ErrBothSourcesUnavailable = errors.New("both sources unavailable")
	ErrTemporary              = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindOf returns the first known sentinel that err wraps, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrBothSourcesUnavailable,
		ErrInvalidInput,
		ErrUnknownSourceType,
		ErrCollectionNotFound,
		ErrTableNotFound,
		ErrEmbeddingProvider,
		ErrMalformedMetadata,
		ErrRequestTimeout,
		ErrBackendUnavailable,
		ErrTemporary,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
