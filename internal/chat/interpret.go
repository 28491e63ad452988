package chat

import (
	"encoding/json"

	"github.com/ChamsBouzaiene/parley/internal/sse"
)

// EventKind classifies one interpreted wire frame.
type EventKind string

const (
	EventNone          EventKind = ""      // unrecognized or ignorable, never an error
	EventMeta          EventKind = "meta"  // guardrails snapshot, no content effect
	EventHandoff       EventKind = "handoff"
	EventEmployee      EventKind = "employee"
	EventConfirmation  EventKind = "confirmation_required"
	EventToolExecuting EventKind = "tool_executing"
	EventDone          EventKind = "done"
	EventText          EventKind = "text" // a content fragment
)

// Event is the typed interpretation of one frame. Only the fields matching
// Kind are meaningful.
type Event struct {
	Kind       EventKind
	Guardrails map[string]any // meta
	From, To   string         // handoff
	Note       string         // handoff: optional backend-provided announcement
	Employee   string         // employee
	Tool       string         // confirmation_required, tool_executing
	Summary    string         // confirmation_required
	Args       map[string]any // tool_executing
	ThreadID   string         // done
	Fragment   string         // text
}

// framePayload is the superset of every JSON shape the backend emits. A frame
// decodes into it once; classification then picks the variant.
type framePayload struct {
	Type       string         `json:"type"`
	Guardrails map[string]any `json:"guardrails"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Message    string         `json:"message"`
	Employee   string         `json:"employee"`
	Tool       string         `json:"tool"`
	Summary    string         `json:"summary"`
	Args       map[string]any `json:"args"`
	ThreadID   string         `json:"thread_id"`

	// Content fragment shapes, first non-empty wins.
	Content string `json:"content"`
	Delta   string `json:"delta"`
	Role    string `json:"role"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ParseEvent interprets one frame. Kinds are checked in a fixed precedence
// order: meta, handoff, employee, confirmation_required, tool_executing,
// done, then text. Anything unparseable comes back as EventNone.
func ParseEvent(f sse.Frame) Event {
	data := f.DataString()
	if data == "" || data == "[DONE]" {
		return Event{}
	}

	var p framePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Event{}
	}

	// Meta outranks every other classification: any frame carrying a
	// guardrails object updates the snapshot, whatever its tag says.
	if p.Guardrails != nil {
		return Event{Kind: EventMeta, Guardrails: p.Guardrails}
	}

	kind := f.Event
	if kind == "" {
		kind = p.Type
	}

	switch EventKind(kind) {
	case EventMeta:
		return Event{}
	case EventHandoff:
		if p.To == "" {
			return Event{}
		}
		return Event{Kind: EventHandoff, From: p.From, To: p.To, Note: p.Message}
	case EventEmployee:
		if p.Employee == "" {
			return Event{}
		}
		return Event{Kind: EventEmployee, Employee: p.Employee}
	case EventConfirmation:
		return Event{Kind: EventConfirmation, Tool: p.Tool, Summary: p.Summary}
	case EventToolExecuting:
		return Event{Kind: EventToolExecuting, Tool: p.Tool, Args: p.Args}
	case EventDone:
		return Event{Kind: EventDone, ThreadID: p.ThreadID}
	}

	// Untagged frame: tried as a content fragment.
	if frag, ok := textFragment(p); ok {
		return Event{Kind: EventText, Fragment: frag}
	}
	return Event{}
}

// textFragment canonicalizes the accepted content payload variants:
// {content}, {delta}, {role:"assistant", content} and the nested
// choices[0].delta.content shape.
func textFragment(p framePayload) (string, bool) {
	if p.Content != "" && (p.Role == "" || p.Role == string(RoleAssistant)) {
		return p.Content, true
	}
	if p.Delta != "" {
		return p.Delta, true
	}
	if len(p.Choices) > 0 && p.Choices[0].Delta.Content != "" {
		return p.Choices[0].Delta.Content, true
	}
	return "", false
}
