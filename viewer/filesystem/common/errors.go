package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Common error types used across viewer packages
var (
	ErrNotInWorkingSet    = errors.New("path is not in the working set")
	ErrDecodeFailure      = errors.New("image decode failed")
	ErrPoolRejected       = errors.New("worker pool is shutting down")
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	ErrInvalidWindowSize  = errors.New("window size must be at least 1")
	ErrPathEmpty          = errors.New("path cannot be empty")
)

// DecodeError is attached to a load handle when the decoder fails for a path.
// It matches ErrDecodeFailure with errors.Is.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailure
}

// NewDecodeError wraps err for path. A nil err returns nil, and an error that
// is already a DecodeError is returned as is.
func NewDecodeError(path string, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Path: path, Err: err}
}

// NotInWorkingSet reports path as unknown to the current working set.
func NotInWorkingSet(path string) error {
	return fmt.Errorf("%w: %s", ErrNotInWorkingSet, path)
}

// ErrorUtils provides common error handling utilities
type ErrorUtils struct {
	logger zerolog.Logger
}

// NewErrorUtils creates a new ErrorUtils instance
func NewErrorUtils(logger zerolog.Logger) *ErrorUtils {
	return &ErrorUtils{logger: logger}
}

// WrapError wraps an error with additional context
func (eu *ErrorUtils) WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", context, err)
}

// LogAndWrapError logs an error and wraps it with context
func (eu *ErrorUtils) LogAndWrapError(err error, level zerolog.Level, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	context := fmt.Sprintf(message, args...)
	eu.logger.WithLevel(level).Err(err).Msg(context)

	return fmt.Errorf("%s: %w", context, err)
}

// IsRetryableError reports whether calling Get again for the same path may
// succeed. Decode failures are never cached, so everything except a caller
// error or a closed pool qualifies.
func (eu *ErrorUtils) IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotInWorkingSet) || errors.Is(err, ErrPoolRejected) {
		return false
	}
	if errors.Is(err, ErrDecodeFailure) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"temporary failure", "timeout", "resource temporarily unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
