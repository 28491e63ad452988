package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestState is the terminal state recorded for a finalized request.
type RequestState string

const (
	StateActive    RequestState = "active"
	StateFinalized RequestState = "finalized"
	StateCancelled RequestState = "cancelled"
	StateFailed    RequestState = "failed"
)

// bufferGracePeriod is how long per-request text buffers outlive
// finalization, absorbing callbacks that were already in flight.
const bufferGracePeriod = 2 * time.Second

// Lifecycle enforces the at-most-one-in-flight invariant and makes stale or
// duplicate signals harmless. States move idle -> active(requestId) ->
// finalized|cancelled|failed; a finalized id can never mutate anything again.
//
// The environment is concurrent, so every transition is mutex-guarded. The
// cancellation token and the staleness check are both required: cancelling a
// transport is not instantaneous and late callbacks must still be dropped.
type Lifecycle struct {
	mu        sync.Mutex
	active    string
	cancel    context.CancelFunc
	finalized map[string]RequestState
	buffers   map[string]*strings.Builder
	grace     time.Duration
}

// NewLifecycle returns an idle lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		finalized: make(map[string]RequestState),
		buffers:   make(map[string]*strings.Builder),
		grace:     bufferGracePeriod,
	}
}

// Begin starts a new request. It returns ok=false without side effects when a
// request is already in flight. Otherwise it mints a request id, signals
// cancellation to any previous transport still draining, and returns a
// context bound to the new request's cancellation token.
func (l *Lifecycle) Begin(parent context.Context) (ctx context.Context, requestID string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != "" {
		return nil, "", false
	}
	if l.cancel != nil {
		// A superseded transport may still produce bytes; its events are
		// already inert via IsStale, this just stops the reads sooner.
		l.cancel()
	}

	requestID = uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	l.active = requestID
	l.cancel = cancel
	l.buffers[requestID] = &strings.Builder{}
	return ctx, requestID, true
}

// IsStale reports whether events for the given request id must be dropped:
// it is not the active request, or it has already been finalized.
func (l *Lifecycle) IsStale(requestID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.staleLocked(requestID)
}

func (l *Lifecycle) staleLocked(requestID string) bool {
	if requestID != l.active {
		return true
	}
	_, done := l.finalized[requestID]
	return done
}

// Finalize records the terminal state for a request. Idempotent: the first
// call wins, later calls are no-ops. The per-request text buffer survives a
// short grace period before cleanup.
func (l *Lifecycle) Finalize(requestID string, state RequestState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.finalized[requestID]; done {
		return
	}
	l.finalized[requestID] = state
	if l.active == requestID {
		l.active = ""
	}
	time.AfterFunc(l.grace, func() {
		l.mu.Lock()
		delete(l.buffers, requestID)
		l.mu.Unlock()
	})
}

// State returns the terminal state recorded for a request, or StateActive if
// it is the in-flight one.
func (l *Lifecycle) State(requestID string) (RequestState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.finalized[requestID]; ok {
		return st, true
	}
	if l.active == requestID {
		return StateActive, true
	}
	return "", false
}

// CancelActive signals cancellation of the in-flight request, if any. The
// request stays active until its transport unwinds and calls Finalize; this
// only fires the token.
func (l *Lifecycle) CancelActive() (requestID string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == "" {
		return "", false
	}
	if l.cancel != nil {
		l.cancel()
	}
	return l.active, true
}

// AppendText adds a streamed fragment to the request's accumulated buffer and
// returns the full text so far. Fragments for stale requests are rejected.
func (l *Lifecycle) AppendText(requestID, fragment string) (full string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.staleLocked(requestID) {
		return "", false
	}
	b, ok := l.buffers[requestID]
	if !ok {
		return "", false
	}
	b.WriteString(fragment)
	return b.String(), true
}

// ResetText clears the request's accumulated buffer. Used when a failed
// streaming attempt is retried so the placeholder is rebuilt from scratch
// rather than double-appended.
func (l *Lifecycle) ResetText(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buffers[requestID]; ok {
		b.Reset()
	}
}

// SetText replaces the request's accumulated buffer wholesale. Used by the
// non-streaming fallback, which commits final content in one shot.
func (l *Lifecycle) SetText(requestID, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buffers[requestID]; ok {
		b.Reset()
		b.WriteString(content)
	}
}

// Text returns the accumulated text for a request.
func (l *Lifecycle) Text(requestID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buffers[requestID]; ok {
		return b.String()
	}
	return ""
}

// InFlight reports whether a request is currently active.
func (l *Lifecycle) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != ""
}
