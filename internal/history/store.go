// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dawar-eco/ecochat/internal/logging"
	"github.com/dawar-eco/ecochat/internal/model"
	"github.com/dawar-eco/ecochat/internal/util"
)

const (
	conversationsFile = "conversations.json"
	uploadsFile       = "uploads.json"
)

// DefaultGreeting seeds every new conversation with an assistant welcome.
const DefaultGreeting = "Hello! I'm your DAWAR eco assistant. Ask about sustainability, " +
	"or upload images and PDFs for analysis."

// =============================================================================
// HISTORY STORE
// =============================================================================

// Store handles conversation and upload-history persistence.
type Store struct {
	// BaseDir is the directory holding both records.
	// Default: ~/.ecochat/history/
	BaseDir string

	greeting string
	log      *logging.Logger

	// lastWrite is the unix-nano time of our own most recent write, used by
	// the watcher to tell external modifications from our own.
	lastWrite atomic.Int64
}

// NewStore creates a store rooted at baseDir. An empty greeting selects
// DefaultGreeting.
func NewStore(baseDir, greeting string, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Store{BaseDir: baseDir, greeting: greeting, log: log}, nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load deserializes both collections. The caller always receives usable
// (possibly empty) state: missing or malformed records yield empty
// collections, never an error. Conversations come back most recently
// updated first.
func (s *Store) Load() ([]*model.Conversation, []*model.UploadHistoryItem) {
	var conversations []*model.Conversation
	if data, err := os.ReadFile(filepath.Join(s.BaseDir, conversationsFile)); err == nil {
		if err := json.Unmarshal(data, &conversations); err != nil {
			s.log.Error("failed to load chat history: %v", err)
			conversations = nil
		}
	} else if !os.IsNotExist(err) {
		s.log.Error("failed to read chat history: %v", err)
	}

	var uploads []*model.UploadHistoryItem
	if data, err := os.ReadFile(filepath.Join(s.BaseDir, uploadsFile)); err == nil {
		if err := json.Unmarshal(data, &uploads); err != nil {
			s.log.Error("failed to load upload history: %v", err)
			uploads = nil
		}
	} else if !os.IsNotExist(err) {
		s.log.Error("failed to read upload history: %v", err)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})

	return conversations, uploads
}

// =============================================================================
// SAVE
// =============================================================================

// Save persists the conversation collection. Best-effort: a write failure
// (disk full, permissions) is logged, never thrown to the caller, and the
// in-memory state remains authoritative for the current session.
func (s *Store) Save(conversations []*model.Conversation) {
	s.writeRecord(conversationsFile, conversations)
}

// SaveUploadHistory persists the upload-history collection, best-effort.
func (s *Store) SaveUploadHistory(items []*model.UploadHistoryItem) {
	s.writeRecord(uploadsFile, items)
}

func (s *Store) writeRecord(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.log.Error("failed to encode %s: %v", name, err)
		return
	}
	s.lastWrite.Store(time.Now().UnixNano())
	if err := util.AtomicWriteFile(filepath.Join(s.BaseDir, name), data, 0644); err != nil {
		s.log.Error("failed to save %s: %v", name, err)
	}
}

// =============================================================================
// CONVERSATION MUTATION
// =============================================================================

// CreateConversation builds a new conversation seeded with the greeting
// message. CreatedAt equals UpdatedAt. The caller persists via Save.
func (s *Store) CreateConversation(title string) *model.Conversation {
	if title == "" {
		title = DefaultTitle(time.Now())
	}
	conv := model.NewConversation(title)
	greeting := model.NewMessage(model.RoleAssistant, s.greeting)
	greeting.Timestamp = conv.CreatedAt
	conv.Messages = append(conv.Messages, greeting)
	conv.UpdatedAt = conv.CreatedAt
	return conv
}

// AddMessage returns a new conversation value with the message appended and
// UpdatedAt refreshed; the input conversation is not mutated (callers must
// replace their reference). The message is assigned an ID and timestamp if
// it lacks them, and its attachments are recorded on the conversation's
// ever-sent list.
func (s *Store) AddMessage(conv *model.Conversation, msg *model.Message) *model.Conversation {
	if msg.ID == "" {
		msg.ID = model.NewID("msg")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	next := conv.Clone()
	next.Messages = append(next.Messages, msg)
	for _, att := range msg.Attachments {
		if !next.HasAttachment(att.ID) {
			next.Attachments = append(next.Attachments, att)
		}
	}
	next.UpdatedAt = time.Now()
	return next
}

// =============================================================================
// UPLOAD HISTORY
// =============================================================================

// AddToUploadHistory creates a history entry for a freshly uploaded
// attachment, seeded with the conversation it was uploaded in.
func (s *Store) AddToUploadHistory(att *model.Attachment, conversationID string) *model.UploadHistoryItem {
	now := time.Now()
	return &model.UploadHistoryItem{
		ID:                model.NewID("upload"),
		File:              att,
		ConversationsUsed: []string{conversationID},
		UploadedAt:        now,
		LastUsed:          now,
	}
}

// UpdateUploadHistoryUsage records a reuse of the attachment in the given
// conversation: set semantics on ConversationsUsed, LastUsed refreshed.
// Pure function: the input slice and its items are not mutated; items not
// matching attachmentID are returned unchanged.
func UpdateUploadHistoryUsage(items []*model.UploadHistoryItem, attachmentID, conversationID string) []*model.UploadHistoryItem {
	updated := make([]*model.UploadHistoryItem, len(items))
	for i, item := range items {
		if item.File == nil || item.File.ID != attachmentID {
			updated[i] = item
			continue
		}
		next := *item
		next.ConversationsUsed = make([]string, len(item.ConversationsUsed))
		copy(next.ConversationsUsed, item.ConversationsUsed)
		if !next.UsedIn(conversationID) {
			next.ConversationsUsed = append(next.ConversationsUsed, conversationID)
		}
		next.LastUsed = time.Now()
		updated[i] = &next
	}
	return updated
}

// =============================================================================
// TITLES
// =============================================================================

// titleLimit is the maximum title length in runes before truncation.
const titleLimit = 50

// GenerateConversationTitle derives a short title from the first
// user-authored message: the first 50 runes, with an ellipsis when
// truncated. Falls back to a date-stamped default when no user message
// exists yet.
func GenerateConversationTitle(messages []*model.Message) string {
	for _, msg := range messages {
		if msg.Role != model.RoleUser || msg.GetDisplayContent() == "" {
			continue
		}
		title := util.CollapseWhitespace(msg.GetDisplayContent())
		runes := []rune(title)
		if len(runes) > titleLimit {
			return string(runes[:titleLimit]) + "..."
		}
		return title
	}
	return DefaultTitle(time.Now())
}

// DefaultTitle is the date-stamped fallback conversation title.
func DefaultTitle(t time.Time) string {
	return "Conversation " + t.Format("2006-01-02")
}

// IsDefaultTitle reports whether the title is empty or a date-stamped
// default, i.e. still eligible for automatic titling from the first user
// message.
func IsDefaultTitle(title string) bool {
	if title == "" {
		return true
	}
	date, ok := strings.CutPrefix(title, "Conversation ")
	if !ok {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}
