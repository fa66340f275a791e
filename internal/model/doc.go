// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and uploaded files.
//
// # Key Types
//
//   - Conversation: Container for a chat session with messages and metadata
//   - Message: Single message with role, content, timestamp, and attachments
//   - Attachment: A file uploaded once and referenced by messages
//   - UploadHistoryItem: Cross-conversation reuse tracking for an Attachment
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
// Build a user message with an attachment:
//
//	att := model.NewAttachment("report.pdf", model.AttachmentPDF, 8192, "/tmp/report.pdf")
//	msg := model.NewUserMessage("Summarize this report", []*model.Attachment{att})
//
// Messages being streamed accumulate tokens and are finalized once:
//
//	msg := model.NewAssistantMessage()
//	msg.AppendToken("Hello")
//	msg.FinalizeStream()
package model
