package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// The error taxonomy mirrors how the boundary treats judge trouble:
// transport failures retry, a schema-invalid reply gets one more attempt,
// and truncation is a token-budget problem a retry cannot fix.

// ErrRateLimit reports a 429 from the provider. RetryAfter, when the
// provider sent one, overrides the backoff schedule.
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("judge provider rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("judge provider rate limited: %v", e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse reports a reply that failed the requested output
// schema. Content carries the offending bytes for the call log.
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("judge reply failed schema validation: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable reports a transport or server-side failure.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err == nil {
		return "judge provider unavailable"
	}
	return fmt.Sprintf("judge provider unavailable: %v", e.Err)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrMaxTokensExceeded reports a reply cut off at the output token cap. A
// truncated verdict is unusable JSON and a retry would truncate again.
type ErrMaxTokensExceeded struct {
	Content json.RawMessage
}

func (e *ErrMaxTokensExceeded) Error() string {
	return "judge reply truncated at the output token cap"
}

// retryClass buckets an error for the retry decorator.
type retryClass int

const (
	retryNever retryClass = iota
	retryOnce
	retryAlways
)

func classifyRetry(err error) retryClass {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retryNever
	}
	var truncated *ErrMaxTokensExceeded
	if errors.As(err, &truncated) {
		return retryNever
	}
	var invalid *ErrInvalidResponse
	if errors.As(err, &invalid) {
		return retryOnce
	}
	// Rate limits, unavailability, plain network errors.
	return retryAlways
}
