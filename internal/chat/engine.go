// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/hivemind-tui/internal/api"
	"github.com/morganforge/hivemind-tui/internal/history"
	"github.com/morganforge/hivemind-tui/internal/orchestration"
	"github.com/morganforge/hivemind-tui/internal/sse"
	"github.com/morganforge/hivemind-tui/internal/storage"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
	"github.com/morganforge/hivemind-tui/internal/util"
)

// =============================================================================
// GATEWAY INTERFACE
// =============================================================================

// Gateway is the slice of the api client the engine needs. *api.Client
// satisfies it; tests substitute fakes.
type Gateway interface {
	Chat(ctx context.Context, req api.SendRequest) (*storage.Message, error)
	StreamChat(ctx context.Context, req api.SendRequest, fn func(sse.Frame) error) error
	GenerateTitle(ctx context.Context, conversationID string, history []storage.Message) (string, error)
	UploadFile(ctx context.Context, filename string, r io.Reader) (*storage.Message, error)
}

var _ Gateway = (*api.Client)(nil)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage is returned for a send with no content.
	ErrEmptyMessage = errors.New("empty message")

	// ErrStreamTruncated is returned when a research stream ends before
	// delivering a terminal event. The run is treated as a failed send.
	ErrStreamTruncated = errors.New("stream ended without a terminal event")
)

// failedSendContent is the transcript text of an error-marker message.
const failedSendContent = "The request could not be completed."

// maxTitleRunes caps gateway-generated conversation names.
const maxTitleRunes = 80

// =============================================================================
// ENGINE
// =============================================================================

// Engine drives sends for all conversations.
type Engine struct {
	store    *storage.Store
	history  *history.Manager
	gateway  Gateway
	recorder *telemetry.RunRecorder // nil disables run archiving
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates the session engine. recorder may be nil.
func NewEngine(store *storage.Store, hist *history.Manager, gw Gateway, recorder *telemetry.RunRecorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		history:  hist,
		gateway:  gw,
		recorder: recorder,
		logger:   logger.With("component", "chat"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// conversationLock returns the mutex serializing sends for one
// conversation, creating it on first use.
func (e *Engine) conversationLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// =============================================================================
// SENDING
// =============================================================================

// Send posts one turn synchronously and returns the assistant reply. The
// user message is committed before the request; on failure an assistant
// error marker is appended instead and the send error is returned.
func (e *Engine) Send(ctx context.Context, conversationID, content string) (*storage.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	lock := e.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	req, err := e.beginSend(conversationID, content)
	if err != nil {
		return nil, err
	}

	reply, err := e.gateway.Chat(ctx, req)
	if err != nil {
		e.recordFailure(conversationID, err)
		return nil, err
	}

	if err := e.history.Append(conversationID, *reply); err != nil {
		return nil, err
	}
	e.logger.Info("message sent", "conversation", conversationID)
	return reply, nil
}

// SendResearch posts one turn in research mode, feeding every decoded
// orchestration event to onEvent, and returns the terminal assistant
// message built by the accumulator. Partial state from an aborted stream
// is discarded; only the terminal message is committed.
func (e *Engine) SendResearch(ctx context.Context, conversationID, content string, onEvent func(orchestration.Event, orchestration.State)) (*storage.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	lock := e.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	req, err := e.beginSend(conversationID, content)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()
	acc := orchestration.NewAccumulator(onEvent)

	streamErr := e.gateway.StreamChat(ctx, req, func(f sse.Frame) error {
		acc.Apply(orchestration.DecodeFrame(f))
		if acc.Done() {
			return sse.ErrStopStream
		}
		return nil
	})
	if streamErr != nil {
		e.recordFailure(conversationID, streamErr)
		return nil, streamErr
	}
	if err := acc.Err(); err != nil {
		e.recordFailure(conversationID, err)
		return nil, err
	}
	if !acc.Done() {
		// EOF with no stream_complete frame: the connection dropped
		// mid-run. Partial state is discarded, not committed.
		e.recordFailure(conversationID, ErrStreamTruncated)
		return nil, ErrStreamTruncated
	}

	final := acc.FinalMessage()
	if err := e.history.Append(conversationID, final); err != nil {
		return nil, err
	}

	e.archiveRun(ctx, runID, conversationID, acc, time.Since(start))
	e.logger.Info("research run complete",
		"conversation", conversationID, "run", runID,
		"subtasks", len(acc.SubtaskOutputs()))
	return &final, nil
}

// beginSend snapshots the request inputs and commits the optimistic user
// message. History and agent selection are read before the append so the
// prompt is not duplicated inside chat_history.
func (e *Engine) beginSend(conversationID, content string) (api.SendRequest, error) {
	priorHistory, err := e.history.History(conversationID)
	if err != nil {
		return api.SendRequest{}, err
	}
	agents := e.store.SelectedAgents()

	if err := e.history.Append(conversationID, storage.NewUserMessage(content)); err != nil {
		return api.SendRequest{}, err
	}

	return api.SendRequest{
		Content:        content,
		History:        priorHistory,
		SelectedAgents: agents,
	}, nil
}

// recordFailure appends the assistant error marker for a failed send.
func (e *Engine) recordFailure(conversationID string, sendErr error) {
	e.logger.Error("send failed",
		"conversation", conversationID, "error", sendErr)

	marker := storage.NewAssistantMessage(failedSendContent)
	marker.ErrorMessage = sendErr.Error()
	if err := e.history.Append(conversationID, marker); err != nil {
		e.logger.Error("failed to record error marker",
			"conversation", conversationID, "error", err)
	}
}

// archiveRun persists run telemetry when a recorder is attached and the
// run observed anything worth archiving.
func (e *Engine) archiveRun(ctx context.Context, runID, conversationID string, acc *orchestration.Accumulator, elapsed time.Duration) {
	if e.recorder == nil {
		return
	}

	totals := acc.State().Totals
	duration := totals.Duration
	if duration == 0 {
		duration = elapsed.Seconds()
	}

	final := acc.FinalMessage()
	agentCount := 0
	if final.Metadata != nil {
		agentCount = len(final.Metadata.ContributingAgents)
	}

	err := e.recorder.Record(ctx, telemetry.Run{
		ID:             runID,
		ConversationID: conversationID,
		CompletedAt:    time.Now(),
		Tokens:         totals.Tokens,
		Duration:       duration,
		SubtaskCount:   len(acc.SubtaskOutputs()),
		AgentCount:     agentCount,
	})
	if err != nil {
		e.logger.Warn("failed to archive run telemetry",
			"run", runID, "error", err)
	}
}

// =============================================================================
// TITLES AND UPLOADS
// =============================================================================

// RefreshTitle asks the gateway to name the conversation from its
// transcript and renames it on success. A failure leaves the current
// name untouched.
func (e *Engine) RefreshTitle(ctx context.Context, conversationID string) (string, error) {
	msgs, err := e.history.History(conversationID)
	if err != nil {
		return "", err
	}

	title, err := e.gateway.GenerateTitle(ctx, conversationID, msgs)
	if err != nil {
		return "", err
	}
	title = util.TruncateRunes(util.Singleline(strings.TrimSpace(title)), maxTitleRunes)
	if err := e.store.Rename(conversationID, title); err != nil {
		return "", err
	}
	e.logger.Info("conversation renamed",
		"conversation", conversationID, "title", title)
	return title, nil
}

// Upload pushes a document to the gateway's RAG store, appends the
// acknowledgement to the transcript and marks the conversation.
func (e *Engine) Upload(ctx context.Context, conversationID, filename string, r io.Reader) (*storage.Message, error) {
	ack, err := e.gateway.UploadFile(ctx, filename, r)
	if err != nil {
		return nil, err
	}

	if ack.Valid() {
		if err := e.history.Append(conversationID, *ack); err != nil {
			return nil, err
		}
	}
	if err := e.store.SetHasUploadedFile(conversationID, true); err != nil {
		return nil, err
	}
	return ack, nil
}
