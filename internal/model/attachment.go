// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// AttachmentType is the coarse classification of an uploaded file.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentPDF   AttachmentType = "pdf"
)

// Attachment is a file uploaded by the user. An attachment is created once
// per physical upload and is referenced, not copied, by every message and
// upload-history item that mentions it.
type Attachment struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Type AttachmentType `json:"type"`
	Size int64          `json:"size"`

	// URL is a locally-resolvable resource reference (a filesystem path).
	URL string `json:"url"`

	UploadedAt time.Time `json:"uploaded_at"`
}

// NewAttachment creates an attachment with a generated ID and the current
// time as the upload timestamp.
func NewAttachment(name string, typ AttachmentType, size int64, url string) *Attachment {
	return &Attachment{
		ID:         NewID("file"),
		Name:       name,
		Type:       typ,
		Size:       size,
		URL:        url,
		UploadedAt: time.Now(),
	}
}

// =============================================================================
// UPLOAD HISTORY
// =============================================================================

// UploadHistoryItem tracks an attachment and the conversations it has been
// (re)used in. ConversationsUsed has set semantics: no duplicates, and it
// always contains at least the conversation the upload was created in.
type UploadHistoryItem struct {
	ID                string      `json:"id"`
	File              *Attachment `json:"file"`
	ConversationsUsed []string    `json:"conversations_used"`
	UploadedAt        time.Time   `json:"uploaded_at"`
	LastUsed          time.Time   `json:"last_used"`
}

// UsedIn reports whether the item has been used in the given conversation.
func (u *UploadHistoryItem) UsedIn(conversationID string) bool {
	for _, id := range u.ConversationsUsed {
		if id == conversationID {
			return true
		}
	}
	return false
}
