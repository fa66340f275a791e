// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides full-history message search backed by SQLite.
//
// The index is derived state: conversations.json remains the source of
// truth, and every conversation is re-indexed wholesale after it changes.
// Losing or deleting the database costs nothing but a rebuild.
package index
