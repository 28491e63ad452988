package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RetryClass indicates how a failed network exchange should be handled.
type RetryClass string

const (
	RetryClassRetryable RetryClass = "retryable" // retry once, then fall back
	RetryClassCancelled RetryClass = "cancelled" // terminal, not an error
)

// apologyContent replaces the assistant placeholder when both the streaming
// attempt and the non-streaming fallback fail.
const apologyContent = "Sorry, something went wrong while answering. Please try again."

// TransportError wraps a failed network exchange with its HTTP status, when
// one was received.
type TransportError struct {
	Err        error
	HTTPStatus int
}

func (e *TransportError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClassifyTransportError separates cancellation, which finalizes with
// whatever content exists, from everything else, which earns one retry and
// one fallback. Any non-2xx status or network failure is retryable.
func ClassifyTransportError(err error) RetryClass {
	if err == nil {
		return RetryClassRetryable
	}
	if errors.Is(err, context.Canceled) {
		return RetryClassCancelled
	}
	// Some HTTP client paths stringify the cancellation instead of wrapping it.
	if strings.Contains(err.Error(), "context canceled") {
		return RetryClassCancelled
	}
	return RetryClassRetryable
}
