package chat

import (
	"context"
	"fmt"
)

// Outcome is the terminal result of one request lifecycle.
type Outcome string

const (
	OutcomeStreamed  Outcome = "streamed"  // streaming attempt completed
	OutcomeFellBack  Outcome = "fell_back" // non-streaming fallback completed
	OutcomeCancelled Outcome = "cancelled" // user stop or superseding send
	OutcomeFailed    Outcome = "failed"    // streaming and fallback both failed
)

// streamAttempts is the primary attempt plus exactly one retry of the same
// streaming request before falling back.
const streamAttempts = 2

// runWithFallback drives one request: the primary (streaming) operation with
// one retry, then the fallback (non-streaming) operation once. Cancellation
// short-circuits at every stage; it is a terminal state, not a failure, so no
// further attempts are made.
func runWithFallback(ctx context.Context, primary, fallback func(context.Context) error) (Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < streamAttempts; attempt++ {
		err := primary(ctx)
		if err == nil {
			return OutcomeStreamed, nil
		}
		if ClassifyTransportError(err) == RetryClassCancelled {
			return OutcomeCancelled, err
		}
		lastErr = err
	}

	if err := fallback(ctx); err != nil {
		if ClassifyTransportError(err) == RetryClassCancelled {
			return OutcomeCancelled, err
		}
		return OutcomeFailed, fmt.Errorf("fallback after %d streaming attempts (%v): %w", streamAttempts, lastErr, err)
	}
	return OutcomeFellBack, nil
}
