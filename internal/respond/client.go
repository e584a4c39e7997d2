// Package respond talks to the reasoning/synthesis boundary over HTTP and
// turns its replies into something the session can act on: reply text,
// decoded playback frames, a possible language switch, and the updated
// remaining-time budget.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxwire/voxwire/pkg/transcribe"
)

// Sentinel errors for the boundary error taxonomy.
var (
	// ErrSessionExpired signals the distinct session_expired status: the
	// conversation is over, the client must tear down without retry.
	ErrSessionExpired = errors.New("respond: session expired")

	// ErrBoundary covers any other failed round trip. Recoverable: the
	// session returns to listening and the user may simply speak again.
	ErrBoundary = errors.New("respond: boundary request failed")
)

const defaultRequestTimeout = 30 * time.Second

// StartRequest asks the platform to allocate a new conversation session.
// Contract, when non-empty, is the rendered slot-extraction instruction block
// for the agent's compiled flow; the boundary embeds it in its prompt.
type StartRequest struct {
	AgentID  string `json:"agent_id"`
	Language string `json:"language,omitempty"`
	Contract string `json:"contract,omitempty"`
}

// StartResult is the session allocation: identity, transcription credential
// and configuration, time budget, and an optional welcome message.
type StartResult struct {
	SessionID    string            `json:"session_id"`
	Language     string            `json:"language"`
	BudgetSecs   int               `json:"remaining_seconds"`
	Transcribe   transcribe.Config `json:"transcription"`
	WelcomeText  string            `json:"welcome_text,omitempty"`
	WelcomeAudio string            `json:"welcome_audio,omitempty"` // base64
	AudioFormat  string            `json:"audio_format,omitempty"`
}

// chatRequest is the finalized user turn sent to the boundary.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatResponse is the boundary's raw reply envelope.
type chatResponse struct {
	Status     string             `json:"status,omitempty"`
	Reply      string             `json:"reply"`
	Audio      string             `json:"audio,omitempty"` // base64
	Format     string             `json:"audio_format,omitempty"`
	Language   string             `json:"language,omitempty"`
	Transcribe *transcribe.Config `json:"transcription,omitempty"`
	Remaining  int                `json:"remaining_seconds"`
}

const statusSessionExpired = "session_expired"

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// Client is the HTTP client for the session-lifecycle boundary.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a boundary client. baseURL must be non-empty.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("respond: baseURL must not be empty")
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: defaultRequestTimeout,
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// StartSession allocates a new session and returns its identity, credential,
// and time budget.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (StartResult, error) {
	var res StartResult
	if err := c.post(ctx, "/start-session", req, &res); err != nil {
		return StartResult{}, err
	}
	if res.SessionID == "" {
		return StartResult{}, fmt.Errorf("%w: empty session id", ErrBoundary)
	}
	return res, nil
}

// Chat sends a finalized user turn and returns the boundary's raw reply.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (chatResponse, error) {
	var res chatResponse
	err := c.post(ctx, "/chat", chatRequest{SessionID: sessionID, Message: message}, &res)
	if err != nil {
		return chatResponse{}, err
	}
	if res.Status == statusSessionExpired {
		return chatResponse{}, ErrSessionExpired
	}
	return res, nil
}

// post performs one JSON round trip. Non-2xx responses are inspected for
// the session_expired status so expiry is distinguishable from generic
// failure; everything else maps to ErrBoundary.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrBoundary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrBoundary, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBoundary, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrBoundary, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Status == statusSessionExpired {
			return ErrSessionExpired
		}
		return fmt.Errorf("%w: %s returned %d", ErrBoundary, path, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrBoundary, err)
	}
	return nil
}
