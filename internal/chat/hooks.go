package chat

import "context"

// Hook receives notifications as a request progresses. Implementations must
// be fast; they run on the streaming path.
type Hook interface {
	OnStreamDelta(ctx context.Context, requestID, delta string)
	OnHandoff(ctx context.Context, from, to, note string)
	OnEmployeeChanged(ctx context.Context, employeeSlug string)
	OnConfirmationRequired(ctx context.Context, pc PendingConfirmation)
	OnToolExecuting(ctx context.Context, tool string, args map[string]any)
	OnFallback(ctx context.Context, requestID string, streamErr error)
	OnRequestDone(ctx context.Context, requestID string, outcome Outcome)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnStreamDelta(context.Context, string, string)               {}
func (NopHook) OnHandoff(context.Context, string, string, string)           {}
func (NopHook) OnEmployeeChanged(context.Context, string)                   {}
func (NopHook) OnConfirmationRequired(context.Context, PendingConfirmation) {}
func (NopHook) OnToolExecuting(context.Context, string, map[string]any)     {}
func (NopHook) OnFallback(context.Context, string, error)                   {}
func (NopHook) OnRequestDone(context.Context, string, Outcome)              {}
