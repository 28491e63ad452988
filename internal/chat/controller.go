package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/parley/internal/sse"
)

// maxToolLog bounds the diagnostic tool-call log.
const maxToolLog = 64

// Options carries optional per-controller request parameters forwarded to
// the backend on every send.
type Options struct {
	SystemPromptOverride string
	DocumentIDs          []string
	ContextSnapshot      map[string]any
}

// Controller is the public API of one conversational session: Send, Stop,
// ConfirmToolExecution and CancelToolExecution. Construct one per
// (user, employee) session and Close it on teardown; in-flight state never
// leaks across instances.
//
// No error ever escapes these methods: every outcome lands in the message
// store or in the controller's status accessors.
type Controller struct {
	userID     string
	opts       Options
	store      *Store
	lc         *Lifecycle
	transport  Transport
	identities IdentityStore
	history    HistoryStore // optional
	hooks      Hook

	mu           sync.Mutex
	employeeSlug string
	identity     SessionIdentity
	headers      HeaderSnapshot
	guardrails   map[string]any
	pending      *PendingConfirmation
	input        string
	uploads      []UploadItem
	toolLog      []ToolInvocation
}

// New builds a controller bound to one (user, employee) pair. The persisted
// identity is loaded from the identity store, and any persisted transcript
// for the resulting scope is merged into the message store.
func New(userID, employeeSlug string, transport Transport, identities IdentityStore, opts ...func(*Controller)) (*Controller, error) {
	if transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	if identities == nil {
		return nil, fmt.Errorf("chat: identity store is required")
	}

	c := &Controller{
		userID:       userID,
		employeeSlug: employeeSlug,
		store:        NewStore(),
		lc:           NewLifecycle(),
		transport:    transport,
		identities:   identities,
		hooks:        NopHook{},
	}
	for _, opt := range opts {
		opt(c)
	}

	identity, err := identities.Identity(userID, employeeSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load session identity: %w", err)
	}
	c.identity = identity

	if c.history != nil {
		if msgs, err := c.history.History(c.scopeKey()); err != nil {
			log.Printf("WARNING: failed to load transcript history: %v", err)
		} else if len(msgs) > 0 {
			c.store.Reconcile(c.scopeKey(), msgs)
		}
	}
	return c, nil
}

// WithHooks installs an observer.
func WithHooks(h Hook) func(*Controller) {
	return func(c *Controller) {
		if h != nil {
			c.hooks = h
		}
	}
}

// WithHistory installs a transcript store for persistence and search.
func WithHistory(h HistoryStore) func(*Controller) {
	return func(c *Controller) { c.history = h }
}

// WithOptions sets per-send request parameters.
func WithOptions(o Options) func(*Controller) {
	return func(c *Controller) { c.opts = o }
}

// WithDedupWindow tunes the reconciliation repeat window.
func WithDedupWindow(d time.Duration) func(*Controller) {
	return func(c *Controller) { c.store.SetDedupWindow(d) }
}

// Send resolves text (or the current input buffer) plus pending uploads and
// runs one full request lifecycle. It is a no-op when a send is already in
// flight, when a confirmation is pending, or when there is nothing to send.
// It blocks until the request reaches a terminal state; run it in its own
// goroutine when the caller needs to keep servicing Stop.
func (c *Controller) Send(ctx context.Context, text string) {
	if c.lc.InFlight() {
		log.Printf("send ignored: request already in flight")
		return
	}
	c.mu.Lock()
	if c.pending != nil {
		tool := c.pending.Tool
		c.mu.Unlock()
		log.Printf("send ignored: confirmation pending for tool %q", tool)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(c.input)
	}
	ups := c.uploads
	if text == "" && len(ups) == 0 {
		c.mu.Unlock()
		return
	}
	// Input and upload buffers clear synchronously, before any I/O.
	c.input = ""
	c.uploads = nil
	slug := c.employeeSlug
	identity := c.identity
	c.mu.Unlock()

	rctx, requestID, ok := c.lc.Begin(ctx)
	if !ok {
		log.Printf("send ignored: request already in flight")
		return
	}

	now := time.Now()
	userMsg := Message{
		ID:              NewLocalID(),
		Role:            RoleUser,
		Content:         text,
		CreatedAt:       now,
		RequestID:       requestID,
		ClientMessageID: uuid.NewString(),
	}
	placeholder := Message{
		ID:        NewLocalID(),
		Role:      RoleAssistant,
		CreatedAt: now,
		Streaming: true,
		RequestID: requestID,
	}
	c.store.Append(userMsg)
	c.store.Append(placeholder)
	c.persist(userMsg)

	rc := &RequestContext{
		RequestID:     requestID,
		ScopeKey:      ScopeKey(identity, slug),
		EmployeeSlug:  slug,
		StartedAt:     now,
		PlaceholderID: placeholder.ID,
		UserMessageID: userMsg.ID,
	}
	req := &ChatRequest{
		UserID:               c.userID,
		SessionID:            identity.SessionID,
		ThreadID:             identity.ThreadID,
		Message:              text,
		EmployeeSlug:         slug,
		SystemPromptOverride: c.opts.SystemPromptOverride,
		DocumentIDs:          c.opts.DocumentIDs,
		ContextSnapshot:      c.opts.ContextSnapshot,
		Uploads:              uploadPayloads(ups),
	}

	c.run(rctx, rc, req)
}

// Stop cancels the active request. Not an error: the request finalizes with
// whatever partial content already arrived.
func (c *Controller) Stop() {
	if id, ok := c.lc.CancelActive(); ok {
		log.Printf("stopping request %s", id)
	}
}

// ConfirmToolExecution approves the pending gated action and re-sends an
// affirmative message through the normal send path so the backend retries
// the tool. A mismatched confirmation is silently ignored.
func (c *Controller) ConfirmToolExecution(ctx context.Context, pc PendingConfirmation) {
	c.mu.Lock()
	if c.pending == nil || c.pending.Tool != pc.Tool {
		c.mu.Unlock()
		return
	}
	tool := c.pending.Tool
	c.pending = nil
	c.mu.Unlock()

	c.Send(ctx, fmt.Sprintf("Yes, go ahead and run %s.", tool))
}

// CancelToolExecution declines the pending gated action and appends an
// acknowledgement message. A mismatched confirmation is silently ignored.
func (c *Controller) CancelToolExecution(pc PendingConfirmation) {
	c.mu.Lock()
	if c.pending == nil || c.pending.Tool != pc.Tool {
		c.mu.Unlock()
		return
	}
	tool := c.pending.Tool
	c.pending = nil
	c.mu.Unlock()

	msg := Message{
		ID:        NewLocalID(),
		Role:      RoleAssistant,
		Content:   fmt.Sprintf("Okay, I won't run %s. Let me know if you'd like anything else.", tool),
		CreatedAt: time.Now(),
	}
	c.store.Append(msg)
	c.persist(msg)
}

// Close tears the session down: the active request, if any, is stopped.
func (c *Controller) Close() {
	c.Stop()
}

// SetInput replaces the pending input buffer consumed by Send("").
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Attach adds uploads to the pending-send buffer.
func (c *Controller) Attach(items ...UploadItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, items...)
}

// RemoveUpload drops one pending upload by id.
func (c *Controller) RemoveUpload(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, it := range c.uploads {
		if it.ID == id {
			c.uploads = append(c.uploads[:i], c.uploads[i+1:]...)
			return true
		}
	}
	return false
}

// PendingUploads returns a copy of the pending-send upload buffer.
func (c *Controller) PendingUploads() []UploadItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UploadItem, len(c.uploads))
	copy(out, c.uploads)
	return out
}

// Messages returns the current visible message list.
func (c *Controller) Messages() []Message { return c.store.Messages() }

// Headers returns the response metadata of the last completed request.
func (c *Controller) Headers() HeaderSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers
}

// Guardrails returns the most recent guardrails snapshot.
func (c *Controller) Guardrails() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guardrails
}

// Pending returns the confirmation currently awaiting user action, if any.
func (c *Controller) Pending() (PendingConfirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingConfirmation{}, false
	}
	return *c.pending, true
}

// SwitchEmployee rebinds the controller to a different employee and loads
// that pair's persisted identity and transcript. It refuses to switch while
// a request is in flight.
func (c *Controller) SwitchEmployee(slug string) error {
	if slug == "" {
		return fmt.Errorf("chat: employee slug is required")
	}
	if c.lc.InFlight() {
		return fmt.Errorf("chat: cannot switch employee while a request is in flight")
	}
	c.mu.Lock()
	if slug == c.employeeSlug {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	identity, err := c.identities.Identity(c.userID, slug)
	if err != nil {
		return fmt.Errorf("failed to load session identity: %w", err)
	}

	c.mu.Lock()
	c.employeeSlug = slug
	c.identity = identity
	c.pending = nil
	c.mu.Unlock()

	if c.history != nil {
		if msgs, err := c.history.History(c.scopeKey()); err != nil {
			log.Printf("WARNING: failed to load transcript history: %v", err)
		} else if len(msgs) > 0 {
			c.store.Reconcile(c.scopeKey(), msgs)
		}
	}
	c.hooks.OnEmployeeChanged(context.Background(), slug)
	return nil
}

// EmployeeSlug returns the currently active assistant identity.
func (c *Controller) EmployeeSlug() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.employeeSlug
}

// Identity returns the current persisted session identity.
func (c *Controller) Identity() SessionIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// InFlight reports whether a request is currently running.
func (c *Controller) InFlight() bool { return c.lc.InFlight() }

// ToolLog returns the diagnostic record of observed tool_executing events.
func (c *Controller) ToolLog() []ToolInvocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolInvocation, len(c.toolLog))
	copy(out, c.toolLog)
	return out
}

// SearchHistory queries the transcript index for this session's scope.
func (c *Controller) SearchHistory(query string, k int) []SearchHit {
	if c.history == nil {
		return nil
	}
	hits, err := c.history.Search(c.scopeKey(), query, k)
	if err != nil {
		log.Printf("WARNING: transcript search failed: %v", err)
		return nil
	}
	return hits
}

func (c *Controller) scopeKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ScopeKey(c.identity, c.employeeSlug)
}

// run drives one request to a terminal state: streaming with one retry, then
// the non-streaming fallback, then the apology.
func (c *Controller) run(ctx context.Context, rc *RequestContext, req *ChatRequest) {
	var streamErr error
	outcome, err := runWithFallback(ctx,
		func(ctx context.Context) error {
			streamErr = c.streamOnce(ctx, rc, req)
			return streamErr
		},
		func(ctx context.Context) error {
			c.hooks.OnFallback(ctx, rc.RequestID, streamErr)
			return c.completeOnce(ctx, rc, req)
		},
	)
	if err != nil && outcome == OutcomeFailed {
		log.Printf("WARNING: request %s failed after retry and fallback: %v", rc.RequestID, err)
	}
	c.commit(ctx, rc, outcome)
}

// streamOnce performs one streaming attempt. The accumulated buffer resets
// first so a retried attempt rebuilds the placeholder instead of
// double-appending fragments.
func (c *Controller) streamOnce(ctx context.Context, rc *RequestContext, req *ChatRequest) error {
	c.lc.ResetText(rc.RequestID)
	sreq := *req
	sreq.Stream = true
	return c.transport.Stream(ctx, &sreq, c.captureHeaders, func(f sse.Frame) bool {
		return c.applyFrame(ctx, rc, f)
	})
}

// completeOnce performs the non-streaming fallback: its body is a one-shot
// final content commit into the same placeholder.
func (c *Controller) completeOnce(ctx context.Context, rc *RequestContext, req *ChatRequest) error {
	freq := *req
	freq.Stream = false
	comp, err := c.transport.Complete(ctx, &freq)
	if err != nil {
		return err
	}
	c.captureHeaders(comp.Headers)
	c.lc.SetText(rc.RequestID, comp.Content)
	if comp.ThreadID != "" {
		c.adoptThread(comp.ThreadID)
	}
	return nil
}

// applyFrame interprets one frame and applies its effect. Returning false
// stops stream consumption. Everything content-bearing is double-guarded by
// staleness checks.
func (c *Controller) applyFrame(ctx context.Context, rc *RequestContext, f sse.Frame) bool {
	if c.lc.IsStale(rc.RequestID) {
		log.Printf("dropped frame for stale request %s", rc.RequestID)
		return false
	}

	ev := ParseEvent(f)
	switch ev.Kind {
	case EventMeta:
		c.mu.Lock()
		c.guardrails = ev.Guardrails
		c.mu.Unlock()

	case EventHandoff:
		c.handleHandoff(ctx, rc, ev)

	case EventEmployee:
		c.mu.Lock()
		c.employeeSlug = ev.Employee
		c.mu.Unlock()
		c.hooks.OnEmployeeChanged(ctx, ev.Employee)

	case EventConfirmation:
		pc := PendingConfirmation{Tool: ev.Tool, Summary: ev.Summary}
		c.mu.Lock()
		c.pending = &pc
		c.mu.Unlock()
		c.hooks.OnConfirmationRequired(ctx, pc)
		// Streaming suspends until the user confirms or cancels.
		return false

	case EventToolExecuting:
		c.mu.Lock()
		c.toolLog = append(c.toolLog, ToolInvocation{Tool: ev.Tool, Args: ev.Args, At: time.Now()})
		if len(c.toolLog) > maxToolLog {
			c.toolLog = c.toolLog[len(c.toolLog)-maxToolLog:]
		}
		c.mu.Unlock()
		c.hooks.OnToolExecuting(ctx, ev.Tool, ev.Args)

	case EventDone:
		if ev.ThreadID != "" {
			c.adoptThread(ev.ThreadID)
		}
		return false

	case EventText:
		full, ok := c.lc.AppendText(rc.RequestID, ev.Fragment)
		if !ok {
			log.Printf("dropped text fragment for stale request %s", rc.RequestID)
			return false
		}
		c.store.Update(rc.PlaceholderID, func(m *Message) { m.Content = full })
		c.hooks.OnStreamDelta(ctx, rc.RequestID, ev.Fragment)
	}
	return true
}

// handleHandoff switches the active assistant identity, clears the persisted
// thread for the new identity so the next send binds a fresh thread, and
// announces the transfer with exactly one system message.
func (c *Controller) handleHandoff(ctx context.Context, rc *RequestContext, ev Event) {
	note := ev.Note
	if note == "" {
		note = fmt.Sprintf("Transferred from %s to %s", ev.From, ev.To)
	}

	c.mu.Lock()
	c.employeeSlug = ev.To
	c.identity.ThreadID = ""
	c.mu.Unlock()

	if err := c.identities.ClearThread(c.userID, ev.To); err != nil {
		log.Printf("WARNING: failed to clear thread after handoff: %v", err)
	}

	msg := Message{
		ID:        NewLocalID(),
		Role:      RoleSystem,
		Content:   note,
		CreatedAt: time.Now(),
		RequestID: rc.RequestID,
	}
	c.store.Append(msg)
	c.persist(msg)
	c.hooks.OnHandoff(ctx, ev.From, ev.To, note)
}

// commit freezes the placeholder to its terminal content and finalizes the
// request id so every late callback fails the staleness check.
func (c *Controller) commit(ctx context.Context, rc *RequestContext, outcome Outcome) {
	text := c.lc.Text(rc.RequestID)

	var state RequestState
	switch outcome {
	case OutcomeCancelled:
		state = StateCancelled
	case OutcomeFailed:
		state = StateFailed
	default:
		state = StateFinalized
	}
	c.lc.Finalize(rc.RequestID, state)

	switch {
	case outcome == OutcomeFailed:
		c.store.Update(rc.PlaceholderID, func(m *Message) {
			m.Content = apologyContent
			m.Streaming = false
		})
	case text == "":
		// Nothing arrived: cancelled early, or paused on a confirmation.
		c.store.Remove(rc.PlaceholderID)
	default:
		c.store.Update(rc.PlaceholderID, func(m *Message) {
			m.Content = text
			m.Streaming = false
		})
		if m, ok := c.store.Get(rc.PlaceholderID); ok {
			c.persist(m)
		}
	}

	c.hooks.OnRequestDone(ctx, rc.RequestID, outcome)
}

// captureHeaders replaces the header snapshot wholesale and persists an
// echoed session id for this (user, employee) pair.
func (c *Controller) captureHeaders(h HeaderSnapshot) {
	c.mu.Lock()
	c.headers = h
	changed := h.SessionID != "" && h.SessionID != c.identity.SessionID
	if changed {
		c.identity.SessionID = h.SessionID
	}
	slug := c.employeeSlug
	c.mu.Unlock()

	if changed {
		if err := c.identities.SaveSessionID(c.userID, slug, h.SessionID); err != nil {
			log.Printf("WARNING: failed to persist session id: %v", err)
		}
	}
}

// adoptThread persists the backend-assigned thread id for the active
// (user, employee) pair.
func (c *Controller) adoptThread(threadID string) {
	c.mu.Lock()
	c.identity.ThreadID = threadID
	slug := c.employeeSlug
	c.mu.Unlock()

	if err := c.identities.SaveThreadID(c.userID, slug, threadID); err != nil {
		log.Printf("WARNING: failed to persist thread id: %v", err)
	}
}

// persist appends a committed message to the transcript store, best effort.
func (c *Controller) persist(m Message) {
	if c.history == nil {
		return
	}
	if err := c.history.AppendMessage(c.scopeKey(), m); err != nil {
		log.Printf("WARNING: failed to persist message %s: %v", m.ID, err)
	}
}

func uploadPayloads(items []UploadItem) []UploadPayload {
	if len(items) == 0 {
		return nil
	}
	out := make([]UploadPayload, 0, len(items))
	for _, it := range items {
		out = append(out, UploadPayload{Name: it.Name, MimeType: it.MimeType, Data: it.Base64Data})
	}
	return out
}
