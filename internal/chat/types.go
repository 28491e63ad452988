// Package chat implements the session controller that drives one
// conversation against a streaming employee-assistant backend: message store,
// request lifecycle tracking, SSE event interpretation and the
// streaming-to-non-streaming fallback path.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/parley/internal/sse"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the visible conversation.
type Message struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	Streaming       bool      `json:"streaming,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
}

// Validate checks that the message has a usable role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
}

// UploadItem is one pending file attachment, owned by the pending-send
// buffer until drained on send or removed by the user.
type UploadItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Base64Data string `json:"base64_data"`
	PreviewURI string `json:"preview_uri,omitempty"`
}

// SessionIdentity holds the persisted identifiers binding a (user, employee)
// pair to backend state. Either field may be empty.
type SessionIdentity struct {
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// HeaderSnapshot is the response metadata of the most recent completed
// request. It is replaced wholesale, never merged.
type HeaderSnapshot struct {
	EmployeeName    string
	GuardrailStatus string
	PIIMasked       bool
	MemoryHit       bool
	MemoryCount     int
	SessionSummary  bool
	RouteConfidence float64
	StreamChunks    int
	SessionID       string
}

// PendingConfirmation is set while the backend waits for the user to approve
// a side-effecting tool call. While set, no sends are attempted.
type PendingConfirmation struct {
	Tool    string
	Summary string
}

// ToolInvocation is a diagnostic record of a tool_executing event.
type ToolInvocation struct {
	Tool string
	Args map[string]any
	At   time.Time
}

// RequestContext tracks one send for its whole lifecycle.
type RequestContext struct {
	RequestID     string
	ScopeKey      string
	EmployeeSlug  string
	StartedAt     time.Time
	PlaceholderID string // assistant placeholder message updated in place
	UserMessageID string
}

// ChatRequest is the outbound request body.
type ChatRequest struct {
	UserID               string          `json:"userId"`
	SessionID            string          `json:"sessionId,omitempty"`
	ThreadID             string          `json:"threadId,omitempty"`
	Message              string          `json:"message"`
	EmployeeSlug         string          `json:"employeeSlug"`
	SystemPromptOverride string          `json:"systemPromptOverride,omitempty"`
	DocumentIDs          []string        `json:"documentIds,omitempty"`
	ContextSnapshot      map[string]any  `json:"contextSnapshot,omitempty"`
	Stream               bool            `json:"stream"`
	Uploads              []UploadPayload `json:"uploads,omitempty"`
}

// UploadPayload is the wire form of an attachment.
type UploadPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// Completion is the result of the non-streaming fallback call.
type Completion struct {
	Content  string
	ThreadID string
	Headers  HeaderSnapshot
}

// Transport performs the network exchange. Implementations live outside this
// package (see internal/transport); tests use in-memory fakes.
type Transport interface {
	// Stream opens the streaming call and hands every frame to onFrame until
	// the body closes, the context is cancelled, or onFrame returns false.
	// onResponse fires once when response headers arrive.
	Stream(ctx context.Context, req *ChatRequest, onResponse func(HeaderSnapshot), onFrame func(sse.Frame) bool) error
	// Complete issues the synchronous non-streaming variant of the request.
	Complete(ctx context.Context, req *ChatRequest) (*Completion, error)
}

// IdentityStore persists SessionIdentity per (userId, employeeSlug) pair.
type IdentityStore interface {
	Identity(userID, employeeSlug string) (SessionIdentity, error)
	SaveSessionID(userID, employeeSlug, sessionID string) error
	SaveThreadID(userID, employeeSlug, threadID string) error
	ClearThread(userID, employeeSlug string) error
}

// SearchHit is one transcript search result.
type SearchHit struct {
	Message Message
	Score   float64
}

// HistoryStore persists committed messages per scope key and serves them back
// for reconciliation after a restart.
type HistoryStore interface {
	AppendMessage(scopeKey string, m Message) error
	History(scopeKey string) ([]Message, error)
	Search(scopeKey, query string, k int) ([]SearchHit, error)
}
