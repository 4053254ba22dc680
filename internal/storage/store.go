// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morganforge/hivemind-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultConversationID is the reserved conversation that always exists.
	DefaultConversationID = "default"

	// DefaultConversationName is the display name of the default conversation.
	DefaultConversationName = "Default Chat"

	// SeedMessageContent is the single assistant message a cleared
	// conversation is reset to.
	SeedMessageContent = "Hello! I'm your assistant. How can I help you today?"

	// storeFileName is the root blob holding every conversation.
	storeFileName = "conversations.json"

	// agentsFileName holds the selected-agents list under its own key,
	// as a plain JSON string array.
	agentsFileName = "selected_agents.json"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")
)

// =============================================================================
// CHANGE EVENTS
// =============================================================================

// EventType identifies what kind of store change occurred.
type EventType string

const (
	// EventUpdated fires after any committed mutation of a conversation.
	EventUpdated EventType = "updated"
	// EventDeleted fires after a conversation is removed.
	EventDeleted EventType = "deleted"
	// EventReloaded fires after the root file was replaced externally and
	// reloaded; ConversationID is empty.
	EventReloaded EventType = "reloaded"
)

// Event is a store change notification delivered to subscribers.
type Event struct {
	Type           EventType
	ConversationID string
}

// =============================================================================
// ROOT DATA
// =============================================================================

// rootData is the single persisted object. Versionless: a blob that fails
// to parse is reinitialized, not migrated.
type rootData struct {
	Conversations      map[string]*Conversation `json:"conversations"`
	LastConversationID int                      `json:"lastConversationId"`
}

func newRootData() *rootData {
	return &rootData{
		Conversations: map[string]*Conversation{
			DefaultConversationID: newDefaultConversation(),
		},
	}
}

func newDefaultConversation() *Conversation {
	return &Conversation{
		ID:        DefaultConversationID,
		Name:      DefaultConversationName,
		Messages:  []Message{seedMessage()},
		CreatedAt: time.Now(),
	}
}

func seedMessage() Message {
	return NewAssistantMessage(SeedMessageContent)
}

// =============================================================================
// STORE
// =============================================================================

// Store persists conversations as one JSON root object under the data
// directory. All operations read-modify-write the whole root under a
// single lock and commit it atomically.
type Store struct {
	mu   sync.RWMutex
	path string
	data *rootData

	agentsPath string

	logger *slog.Logger

	// lastCommit lets the external-change watcher distinguish our own
	// atomic writes from foreign ones.
	lastCommit atomic.Int64 // unix nanos

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewStore opens the store in dir, creating or reinitializing the root
// blob as needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		path:       filepath.Join(dir, storeFileName),
		agentsPath: filepath.Join(dir, agentsFileName),
		logger:     logger.With("component", "storage"),
		subs:       make(map[int]chan Event),
	}

	s.data = s.load()
	return s, nil
}

// Path returns the location of the root blob on disk.
func (s *Store) Path() string {
	return s.path
}

// load reads the root blob. A missing or unparseable file yields a fresh
// default state; corruption is recovered silently, never raised.
func (s *Store) load() *rootData {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("unreadable conversation store, reinitializing", "path", s.path, "error", err)
		}
		return newRootData()
	}

	var data rootData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("corrupt conversation store, reinitializing", "path", s.path, "error", err)
		return newRootData()
	}

	if data.Conversations == nil {
		data.Conversations = make(map[string]*Conversation)
	}
	// The default conversation is never allowed to disappear.
	if _, ok := data.Conversations[DefaultConversationID]; !ok {
		data.Conversations[DefaultConversationID] = newDefaultConversation()
	}
	return &data
}

// commit writes the whole root object atomically. Callers hold the write
// lock.
func (s *Store) commit() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	s.lastCommit.Store(time.Now().UnixNano())
	return nil
}

// recentlyCommitted reports whether we wrote the blob ourselves within
// the given window.
func (s *Store) recentlyCommitted(window time.Duration) bool {
	last := s.lastCommit.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < window
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Get returns a copy of the conversation with the given ID.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.data.Conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv.clone(), nil
}

// GetAll returns every conversation: default first, then the rest by
// creation time, newest first.
func (s *Store) GetAll() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]*Conversation, 0, len(s.data.Conversations))
	for _, conv := range s.data.Conversations {
		convs = append(convs, conv.clone())
	}

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].ID == DefaultConversationID {
			return true
		}
		if convs[j].ID == DefaultConversationID {
			return false
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs
}

// Search returns conversations whose name or message content contains the
// query, case-insensitively. An empty query matches everything.
func (s *Store) Search(query string) []*Conversation {
	all := s.GetAll()
	if query == "" {
		return all
	}

	query = strings.ToLower(query)
	var results []*Conversation
	for _, conv := range all {
		if strings.Contains(strings.ToLower(conv.Name), query) {
			results = append(results, conv)
			continue
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, conv)
				break
			}
		}
	}
	return results
}

// Messages returns the message list of a conversation, creating the
// conversation if it does not exist yet.
func (s *Store) Messages(id string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.data.Conversations[id]
	if !ok {
		conv = s.createLocked(id)
		if err := s.commit(); err != nil {
			return nil, err
		}
		defer s.notify(Event{Type: EventUpdated, ConversationID: id})
	}

	msgs := make([]Message, len(conv.Messages))
	copy(msgs, conv.Messages)
	return msgs, nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Create allocates a new conversation with the next monotonically
// increasing ID (chat_1, chat_2, ...) and returns a copy of it.
func (s *Store) Create() (*Conversation, error) {
	s.mu.Lock()
	s.data.LastConversationID++
	id := fmt.Sprintf("chat_%d", s.data.LastConversationID)
	conv := &Conversation{
		ID:        id,
		Name:      fmt.Sprintf("Chat %d", s.data.LastConversationID),
		Messages:  []Message{seedMessage()},
		CreatedAt: time.Now(),
	}
	s.data.Conversations[id] = conv
	err := s.commit()
	dup := conv.clone()
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.notify(Event{Type: EventUpdated, ConversationID: id})
	return dup, nil
}

// createLocked registers a conversation under a caller-chosen ID. The
// write lock must be held. Numeric chat_N IDs advance the counter so
// Create never collides with them.
func (s *Store) createLocked(id string) *Conversation {
	var n int
	if _, err := fmt.Sscanf(id, "chat_%d", &n); err == nil && n > s.data.LastConversationID {
		s.data.LastConversationID = n
	}
	conv := &Conversation{
		ID:        id,
		Name:      id,
		Messages:  []Message{},
		CreatedAt: time.Now(),
	}
	s.data.Conversations[id] = conv
	return conv
}

// Delete removes a conversation. Deleting the default conversation is a
// clear: its messages reset to the seed message, the entry stays.
func (s *Store) Delete(id string) error {
	if id == DefaultConversationID {
		return s.Clear(id)
	}

	s.mu.Lock()
	if _, ok := s.data.Conversations[id]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	delete(s.data.Conversations, id)
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(Event{Type: EventDeleted, ConversationID: id})
	return nil
}

// Clear resets a conversation's messages to the single seed message.
func (s *Store) Clear(id string) error {
	s.mu.Lock()
	conv, ok := s.data.Conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Messages = []Message{seedMessage()}
	conv.HasUploadedFile = false
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(Event{Type: EventUpdated, ConversationID: id})
	return nil
}

// Rename sets a conversation's display name.
func (s *Store) Rename(id, name string) error {
	s.mu.Lock()
	conv, ok := s.data.Conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Name = name
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(Event{Type: EventUpdated, ConversationID: id})
	return nil
}

// AppendMessage appends one message, creating the conversation if absent.
// Shape validation belongs to the history layer; the store persists what
// it is given.
func (s *Store) AppendMessage(id string, msg Message) error {
	s.mu.Lock()
	conv, ok := s.data.Conversations[id]
	if !ok {
		conv = s.createLocked(id)
	}
	conv.Messages = append(conv.Messages, msg)
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(Event{Type: EventUpdated, ConversationID: id})
	return nil
}

// SetMessages replaces a conversation's message list wholesale. Used by
// sanitation.
func (s *Store) SetMessages(id string, msgs []Message) error {
	s.mu.Lock()
	conv, ok := s.data.Conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Messages = make([]Message, len(msgs))
	copy(conv.Messages, msgs)
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(Event{Type: EventUpdated, ConversationID: id})
	return nil
}

// SetHasUploadedFile marks whether a file has been attached to the
// conversation's RAG context.
func (s *Store) SetHasUploadedFile(id string, uploaded bool) error {
	s.mu.Lock()
	conv, ok := s.data.Conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.HasUploadedFile = uploaded
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(Event{Type: EventUpdated, ConversationID: id})
	return nil
}

// =============================================================================
// SELECTED AGENTS
// =============================================================================

// SelectedAgents reads the persisted agent selection list. A missing or
// unparseable file yields an empty selection.
func (s *Store) SelectedAgents() []string {
	raw, err := os.ReadFile(s.agentsPath)
	if err != nil {
		return nil
	}
	var agents []string
	if err := json.Unmarshal(raw, &agents); err != nil {
		s.logger.Warn("corrupt agent selection, ignoring", "path", s.agentsPath, "error", err)
		return nil
	}
	return agents
}

// SetSelectedAgents persists the agent selection list.
func (s *Store) SetSelectedAgents(agents []string) error {
	raw, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("failed to marshal agent selection: %w", err)
	}
	return util.AtomicWriteFile(s.agentsPath, raw, 0644)
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers a change listener. The returned cancel function
// must be called to release it. Slow subscribers drop events rather than
// block store operations.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 16)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// notify fans an event out to all subscribers without blocking.
func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// reload replaces in-memory state from disk after an external write.
func (s *Store) reload() {
	s.mu.Lock()
	s.data = s.load()
	s.mu.Unlock()
	s.notify(Event{Type: EventReloaded})
}
