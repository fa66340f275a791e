// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history provides durable conversation and upload-history
// persistence.
//
// Two independent records live under the store's base directory:
// conversations.json and uploads.json. Writes are atomic (temp file + fsync
// + rename) and best-effort: a failed write is logged, never surfaced, and
// the in-memory state stays authoritative for the session. Loads are
// lenient: malformed data yields empty collections rather than an error.
//
// A Watcher (fsnotify) can signal external modification of the store so a
// second window or process picks up changes, the way browser storage events
// propagate between tabs.
package history
