// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates conversations, uploads, and streaming.
//
// The Orchestrator owns the in-memory conversation list and upload history,
// runs send/stream sessions against the backend, and persists through the
// history store after every mutation. It maintains two invariants: at least
// one conversation always exists, and exactly one conversation is active.
package session
