// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/morganforge/hivemind-tui/internal/sse"
	"github.com/morganforge/hivemind-tui/internal/storage"
)

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat sends one turn in research mode and feeds every decoded
// frame to fn in arrival order. It returns when the stream ends, fn
// returns an error, or ctx is cancelled. The stream is never retried; a
// caller that wants another attempt starts a fresh send.
func (c *Client) StreamChat(ctx context.Context, req SendRequest, fn func(sse.Frame) error) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(req.Content) == "" {
		return ErrEmptyPrompt
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body := chatRequest{
		Prompt:         Prompt{Role: storage.RoleUser, Content: req.Content},
		ChatHistory:    req.History,
		ChainID:        c.chainID,
		WalletAddress:  c.walletAddress,
		UseResearch:    true,
		SelectedAgents: req.SelectedAgents,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := readResponse(resp)
		if readErr != nil {
			return &GatewayError{Status: resp.StatusCode}
		}
		return errorFromResponse(resp.StatusCode, respBody)
	}

	c.logger.Debug("stream opened", "path", "/api/v1/chat/stream")
	err = sse.Stream(ctx, resp.Body, fn)
	c.logger.Debug("stream closed",
		"duration", time.Since(start), "error", err)
	return err
}
