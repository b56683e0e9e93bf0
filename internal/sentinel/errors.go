package sentinel

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid request")
	ErrConfiguration      = errors.New("missing configuration")
	ErrRetryExhausted     = errors.New("retries exhausted")
	ErrInvalidTileContent = errors.New("invalid tile content")
)

// HTTPError is a non-retryable provider answer.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, e.Detail)
}

// RetryExhaustedError reports the status of the last attempt once the
// attempt budget ran out on rate limits or server errors.
type RetryExhaustedError struct {
	Attempts   int
	LastStatus int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts, last status %d", e.Attempts, e.LastStatus)
}

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }
