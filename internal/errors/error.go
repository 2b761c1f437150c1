package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration         = errors.New("configuration error")
	ErrStoreUnavailable      = errors.New("metadata store unavailable")
	ErrMalformedEntry        = errors.New("malformed metadata entry")
	ErrNotFound              = errors.New("metadata path not found")
	ErrInvalidChunk          = errors.New("invalid chunk id")
	ErrUnknownCommand        = errors.New("unknown command")
	ErrMissingRequiredFields = errors.New("missing required fields")
	ErrInsufficientShards    = errors.New("insufficient shards available for reconstruction")
	ErrEmptySnapshot         = errors.New("cannot archive an empty store dump")
)

// Unavailable wraps a transport failure so callers can match ErrStoreUnavailable
// while keeping the underlying cause.
func Unavailable(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, path, err)
}

// Malformed reports a value at path that could not be decoded.
func Malformed(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformedEntry, path, err)
}

func NotFound(path string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, path)
}

func ConfigNotSetError(config string) error {
	return fmt.Errorf("%w: the %s setting must be set", ErrConfiguration, config)
}
