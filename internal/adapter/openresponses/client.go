// Package openresponses provides the HTTP client for the OpenResponses
// streaming API exposed by remote agent instances.
package openresponses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// agentIDHeader pins the dispatch to the instance's main agent.
const agentIDHeader = "x-openclaw-agent-id"

// ErrStreamInterrupted marks a transport failure after the stream already
// started. Callers treat it differently from a rejected request: output
// received up to that point is still meaningful.
var ErrStreamInterrupted = errors.New("stream interrupted")

// HTTPError is returned when the initial response carries a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Request describes one streamed dispatch exchange.
type Request struct {
	Endpoint string // instance endpoint, any of http(s):// or ws(s):// forms
	Token    string // optional bearer credential
	Input    string // task content
	User     string // session key for conversational continuity
}

// Frame is one decoded stream payload handed to the caller. Event is nil for
// the [DONE] sentinel and for payloads that are not valid JSON events.
type Frame struct {
	Raw   string
	Event *Event
}

// Handler receives each stream frame in order.
type Handler func(f Frame)

// Client issues streamed dispatches and health probes against instances.
type Client struct {
	model string
	http  *http.Client
}

// NewClient creates a client that dispatches with the given model name.
// The underlying http.Client carries no global timeout: streamed exchanges
// are bounded by the caller's context instead.
func NewClient(model string) *Client {
	return &Client{
		model: model,
		http:  &http.Client{},
	}
}

// streamBody is the JSON body of a streamed dispatch.
type streamBody struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Stream bool   `json:"stream"`
	User   string `json:"user"`
}

// Stream issues POST {endpoint}/v1/responses and feeds every SSE data frame
// to h until the stream ends. A clean end returns nil; the caller decides
// what an unterminated stream means. Cancellation and deadlines come from
// ctx.
func (c *Client) Stream(ctx context.Context, req Request, h Handler) error {
	body, err := json.Marshal(streamBody{
		Model:  c.model,
		Input:  req.Input,
		Stream: true,
		User:   req.User,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}

	url := HTTPBase(req.Endpoint) + "/v1/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(agentIDHeader, "main")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 200))
		if readErr != nil || len(errBody) == 0 {
			errBody = []byte(resp.Status)
		}
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var dec Decoder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, raw := range dec.Feed(buf[:n]) {
				h(decodeFrame(raw))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}
	}
}

// decodeFrame parses one data payload into a Frame. Malformed JSON is not an
// error; the frame just carries no event.
func decodeFrame(raw string) Frame {
	f := Frame{Raw: raw}
	if raw == DoneSentinel {
		return f
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err == nil {
		f.Event = &ev
	}
	return f
}

// Probe issues a short GET against the instance's health endpoint. Any
// non-2xx status or transport error is a probe failure.
func (c *Client) Probe(ctx context.Context, endpoint, token string) error {
	url := HTTPBase(endpoint) + "/api/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	return nil
}

// HTTPBase normalizes an instance endpoint to an http(s):// base URL with no
// trailing slash. ws:// and wss:// forms map to their HTTP equivalents.
func HTTPBase(endpoint string) string {
	base := endpoint
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	}
	return strings.TrimRight(base, "/")
}
