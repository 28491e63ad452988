package chat

import (
	"context"
	"testing"
	"time"
)

func TestLifecycleAtMostOneInFlight(t *testing.T) {
	l := NewLifecycle()

	_, first, ok := l.Begin(context.Background())
	if !ok {
		t.Fatalf("first Begin should succeed")
	}
	if _, _, ok := l.Begin(context.Background()); ok {
		t.Fatalf("second Begin must no-op while a request is in flight")
	}

	l.Finalize(first, StateFinalized)
	if _, _, ok := l.Begin(context.Background()); !ok {
		t.Fatalf("Begin should succeed again after finalize")
	}
}

func TestLifecycleStaleness(t *testing.T) {
	l := NewLifecycle()

	_, a, _ := l.Begin(context.Background())
	if l.IsStale(a) {
		t.Errorf("active request must not be stale")
	}
	if !l.IsStale("someone-else") {
		t.Errorf("unknown request id must be stale")
	}

	l.Finalize(a, StateFinalized)
	if !l.IsStale(a) {
		t.Errorf("finalized request must be stale")
	}

	// A new request does not resurrect the old id.
	_, b, _ := l.Begin(context.Background())
	if l.IsStale(b) || !l.IsStale(a) {
		t.Errorf("staleness leaked between requests a=%v b=%v", l.IsStale(a), l.IsStale(b))
	}
}

func TestLifecycleFinalizeIdempotent(t *testing.T) {
	l := NewLifecycle()
	_, id, _ := l.Begin(context.Background())

	l.Finalize(id, StateCancelled)
	l.Finalize(id, StateFailed) // later call must not overwrite

	st, ok := l.State(id)
	if !ok || st != StateCancelled {
		t.Errorf("State = %v/%v, want cancelled (first finalize wins)", st, ok)
	}
}

func TestLifecycleAppendTextRejectsStale(t *testing.T) {
	l := NewLifecycle()
	_, id, _ := l.Begin(context.Background())

	if full, ok := l.AppendText(id, "You "); !ok || full != "You " {
		t.Fatalf("AppendText = %q/%v", full, ok)
	}
	if full, ok := l.AppendText(id, "spent $42."); !ok || full != "You spent $42." {
		t.Fatalf("AppendText = %q/%v", full, ok)
	}

	l.Finalize(id, StateFinalized)
	if _, ok := l.AppendText(id, "late fragment"); ok {
		t.Errorf("AppendText must reject fragments after finalize")
	}
	if got := l.Text(id); got != "You spent $42." {
		t.Errorf("Text = %q, late fragment leaked in", got)
	}
}

func TestLifecycleBufferGracePeriod(t *testing.T) {
	l := NewLifecycle()
	l.grace = 10 * time.Millisecond
	_, id, _ := l.Begin(context.Background())
	l.AppendText(id, "partial")
	l.Finalize(id, StateFinalized)

	if got := l.Text(id); got != "partial" {
		t.Errorf("buffer should survive finalize for the grace period, got %q", got)
	}

	deadline := time.Now().Add(time.Second)
	for l.Text(id) != "" {
		if time.Now().After(deadline) {
			t.Fatalf("buffer never cleaned up after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLifecycleCancelSignalsContext(t *testing.T) {
	l := NewLifecycle()
	ctx, id, _ := l.Begin(context.Background())

	canceled, ok := l.CancelActive()
	if !ok || canceled != id {
		t.Fatalf("CancelActive = %q/%v, want %q", canceled, ok, id)
	}
	select {
	case <-ctx.Done():
	default:
		t.Errorf("request context should be cancelled after CancelActive")
	}

	// Cancellation alone does not finalize; the unwinding transport does.
	if l.IsStale(id) {
		t.Errorf("request must stay active until its transport finalizes it")
	}
}

func TestLifecycleSupersededTransportCancelled(t *testing.T) {
	l := NewLifecycle()
	ctxA, a, _ := l.Begin(context.Background())
	l.Finalize(a, StateFinalized)

	// Old cancel token fires when the next request begins.
	_, _, ok := l.Begin(context.Background())
	if !ok {
		t.Fatalf("Begin after finalize should succeed")
	}
	select {
	case <-ctxA.Done():
	case <-time.After(time.Second):
		t.Errorf("previous transport context should be cancelled on new Begin")
	}
}
