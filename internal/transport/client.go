// Package transport performs the network exchange against the chat backend:
// the streaming call consumed as SSE frames, and the synchronous
// non-streaming variant used as the fallback path.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/parley/internal/chat"
	"github.com/ChamsBouzaiene/parley/internal/sse"
)

// chatPath is the backend's conversation endpoint.
const chatPath = "/v1/chat"

// errorBodyLimit caps how much of an error response body ends up in messages.
const errorBodyLimit = 2048

// Client is the HTTP implementation of chat.Transport.
type Client struct {
	mu      sync.Mutex // guards baseURL; config reload swaps it mid-session
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a transport for the given backend. No request timeout is
// set: streaming responses stay open as long as the backend keeps talking,
// and cancellation arrives through the context.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// SetBaseURL swaps the backend endpoint, for config live reload. Requests
// already in flight keep the endpoint they started with.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

func (c *Client) endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL + chatPath
}

// Stream opens the streaming call and feeds every frame to onFrame until the
// body closes, the context is cancelled, or onFrame returns false.
func (c *Client) Stream(ctx context.Context, req *chat.ChatRequest, onResponse func(chat.HeaderSnapshot), onFrame func(sse.Frame) bool) error {
	resp, err := c.post(ctx, req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if onResponse != nil {
		onResponse(snapshotHeaders(resp.Header))
	}

	scanner := sse.NewScanner(resp.Body)
	for scanner.Scan() {
		if !onFrame(scanner.Frame()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return &chat.TransportError{Err: fmt.Errorf("reading stream: %w", err)}
	}
	return nil
}

// Complete issues the non-streaming variant and parses its one-shot body.
func (c *Client) Complete(ctx context.Context, req *chat.ChatRequest) (*chat.Completion, error) {
	resp, err := c.post(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Content  string `json:"content"`
		ThreadID string `json:"thread_id"`
		Message  struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &chat.TransportError{Err: fmt.Errorf("decoding completion body: %w", err)}
	}

	content := body.Content
	if content == "" {
		content = body.Message.Content
	}
	return &chat.Completion{
		Content:  content,
		ThreadID: body.ThreadID,
		Headers:  snapshotHeaders(resp.Header),
	}, nil
}

// post sends the request body and normalizes failures into TransportError.
// Any non-2xx status is an error; the response body is drained into it.
func (c *Client) post(ctx context.Context, req *chat.ChatRequest, accept string) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &chat.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, &chat.TransportError{
			Err:        fmt.Errorf("backend returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
			HTTPStatus: resp.StatusCode,
		}
	}
	return resp, nil
}

// Response headers the backend annotates replies with.
const (
	headerEmployee        = "X-Employee-Name"
	headerGuardrailStatus = "X-Guardrail-Status"
	headerPIIMasked       = "X-PII-Masked"
	headerMemoryHit       = "X-Memory-Hit"
	headerMemoryCount     = "X-Memory-Count"
	headerSessionSummary  = "X-Session-Summary"
	headerRouteConfidence = "X-Route-Confidence"
	headerStreamChunks    = "X-Stream-Chunk-Count"
	headerSessionID       = "X-Session-Id"
)

// snapshotHeaders captures the metadata headers of one response. Missing or
// malformed values degrade to zero values, never to errors.
func snapshotHeaders(h http.Header) chat.HeaderSnapshot {
	return chat.HeaderSnapshot{
		EmployeeName:    h.Get(headerEmployee),
		GuardrailStatus: h.Get(headerGuardrailStatus),
		PIIMasked:       parseBool(h.Get(headerPIIMasked)),
		MemoryHit:       parseBool(h.Get(headerMemoryHit)),
		MemoryCount:     parseInt(h.Get(headerMemoryCount)),
		SessionSummary:  parseBool(h.Get(headerSessionSummary)),
		RouteConfidence: parseFloat(h.Get(headerRouteConfidence)),
		StreamChunks:    parseInt(h.Get(headerStreamChunks)),
		SessionID:       h.Get(headerSessionID),
	}
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
