// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
//
// Messages are append-only: they are never reordered or deleted individually
// (only whole-conversation deletion is supported). The content of the last
// assistant message may mutate while it is the active streaming target.
// Invariant: UpdatedAt >= CreatedAt.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// Attachments ever sent in this conversation (references).
	Attachments []*Attachment `json:"attached_files"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation(title string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          NewID("conv"),
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    make([]*Message, 0),
		Attachments: make([]*Attachment, 0),
	}
}

// =============================================================================
// CONVERSATION METHODS
// =============================================================================

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// FirstUserMessage returns the earliest user-authored message, or nil.
func (c *Conversation) FirstUserMessage() *Message {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// HasAttachment reports whether the attachment is already recorded on the
// conversation's ever-sent list.
func (c *Conversation) HasAttachment(attachmentID string) bool {
	for _, att := range c.Attachments {
		if att.ID == attachmentID {
			return true
		}
	}
	return false
}

// Preview returns a short preview of the conversation for list views.
func (c *Conversation) Preview() string {
	first := c.FirstUserMessage()
	if first == nil {
		return "Empty conversation"
	}
	return first.Preview(80)
}

// Clone creates a copy of the conversation with a fresh message slice.
// Messages themselves are shared by reference; the clone exists so callers
// can append without mutating the original's slice.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]*Message, len(c.Messages), len(c.Messages)+1)
	copy(clone.Messages, c.Messages)
	clone.Attachments = make([]*Attachment, len(c.Attachments), len(c.Attachments)+1)
	copy(clone.Attachments, c.Attachments)
	return &clone
}
