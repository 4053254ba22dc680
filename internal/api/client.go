// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/hivemind-tui/internal/storage"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultTimeout bounds synchronous requests end to end.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for the synchronous path.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff growth.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize bounds non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

var (
	// Shared HTTP client with connection pooling for synchronous requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no client timeout; stream lifetime is
	// controlled by the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the gateway base URL is not set.
	ErrNotConfigured = errors.New("gateway URL not configured")

	// ErrRateLimited indicates the gateway rejected the request with 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates a gateway-side failure (5xx).
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrEmptyPrompt indicates a send was attempted with no content.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// GatewayError is an error response from the gateway API.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway error (HTTP %d)", e.Status)
}

// Is maps status classes onto the sentinel errors so callers can use
// errors.Is without inspecting status codes.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.Status >= 500 && e.Status < 600
	}
	return false
}

// apiErrorResponse is the gateway's error body shape.
type apiErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// =============================================================================
// WIRE SHAPES
// =============================================================================

// Prompt is the user turn being sent.
type Prompt struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the body shared by the sync and streaming chat endpoints;
// only UseResearch differs between them.
type chatRequest struct {
	Prompt         Prompt            `json:"prompt"`
	ChatHistory    []storage.Message `json:"chat_history"`
	ChainID        string            `json:"chain_id"`
	WalletAddress  string            `json:"wallet_address"`
	UseResearch    bool              `json:"use_research"`
	SelectedAgents []string          `json:"selected_agents"`
}

// SendRequest is one outgoing chat turn. History and SelectedAgents are
// read at call time and not mutated.
type SendRequest struct {
	Content        string
	History        []storage.Message
	SelectedAgents []string
}

// titleRequest is the body for the title generation endpoint.
type titleRequest struct {
	ChatHistory    []storage.Message `json:"chat_history"`
	ConversationID string            `json:"conversation_id"`
}

// titleResponse is its reply.
type titleResponse struct {
	Title string `json:"title"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one hivemind gateway on behalf of one wallet.
type Client struct {
	baseURL       string
	chainID       string
	walletAddress string
	maxRetries    int
	timeout       time.Duration
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// NewClient creates a gateway client. The base URL may be empty; requests
// then fail with ErrNotConfigured, which lets the caller construct the
// client unconditionally and defer configuration checks to send time.
func NewClient(baseURL, chainID, walletAddress string) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		chainID:       chainID,
		walletAddress: walletAddress,
		maxRetries:    DefaultMaxRetries,
		timeout:       DefaultTimeout,
		logger:        slog.New(slog.DiscardHandler).With("component", "api"),
	}
}

// WithTimeout sets the per-request timeout for the synchronous path.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithMaxRetries sets the retry budget for the synchronous path.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit throttles outgoing request starts to rps with the given
// burst. Zero rps disables throttling.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithLogger sets the structured logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger.With("component", "api")
	return c
}

// IsConfigured reports whether a gateway URL is set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// BaseURL returns the configured gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// SYNCHRONOUS CHAT
// =============================================================================

// Chat sends one turn synchronously and returns the complete assistant
// message. Transient failures (429, 5xx) are retried with exponential
// backoff up to the retry budget.
func (c *Client) Chat(ctx context.Context, req SendRequest) (*storage.Message, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyPrompt
	}

	body := chatRequest{
		Prompt:         Prompt{Role: storage.RoleUser, Content: req.Content},
		ChatHistory:    req.History,
		ChainID:        c.chainID,
		WalletAddress:  c.walletAddress,
		UseResearch:    false,
		SelectedAgents: req.SelectedAgents,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		var msg storage.Message
		err := c.postJSON(ctx, "/api/v1/chat", body, &msg)
		if err == nil {
			return &msg, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("chat request failed, retrying",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// GenerateTitle asks the gateway to name a conversation from its
// transcript. One shot, no retry; a failure leaves the name untouched.
func (c *Client) GenerateTitle(ctx context.Context, conversationID string, history []storage.Message) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	var resp titleResponse
	err := c.postJSON(ctx, "/api/v1/generate-title", titleRequest{
		ChatHistory:    history,
		ConversationID: conversationID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Title == "" {
		return "", errors.New("gateway returned empty title")
	}
	return resp.Title, nil
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// postJSON sends one JSON request and decodes the reply into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("gateway request",
		"path", path, "status", resp.StatusCode, "duration", time.Since(start))

	respBody, err := readResponse(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readResponse reads a body with a hard size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorFromResponse builds a GatewayError, pulling the message out of the
// error body when one is present.
func errorFromResponse(status int, body []byte) error {
	gerr := &GatewayError{Status: status}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Error != "" {
			gerr.Message = apiErr.Error
		} else if apiErr.Detail != "" {
			gerr.Message = apiErr.Detail
		}
	}
	if gerr.Message == "" && len(body) > 0 {
		gerr.Message = strings.TrimSpace(string(body))
	}
	return gerr
}

// isRetryable reports whether an error warrants another attempt on the
// synchronous path.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// backoff returns the delay before retry attempt n (1-based).
func backoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
