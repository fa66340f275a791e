// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dawar-eco/ecochat/internal/model"
)

// =============================================================================
// SEARCH INDEX
// =============================================================================

// SearchIndex indexes conversation messages for fast substring search.
type SearchIndex struct {
	db *sql.DB
}

// Match is a single search hit.
type Match struct {
	ConversationID string
	MessageID      string
	Role           model.Role
	Snippet        string
}

// Open opens (creating if needed) the search database at path.
func Open(path string) (*SearchIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			message_id      TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			timestamp       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SearchIndex{db: db}, nil
}

// =============================================================================
// INDEXING
// =============================================================================

// IndexConversation replaces the indexed rows for a conversation with its
// current messages. Messages still streaming or empty are skipped.
func (idx *SearchIndex) IndexConversation(conv *model.Conversation) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conv.ID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (message_id, conversation_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, msg := range conv.Messages {
		if msg.IsStreaming || msg.Content == "" {
			continue
		}
		if _, err := stmt.Exec(msg.ID, conv.ID, msg.Role.String(), msg.Content, msg.Timestamp.Unix()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveConversation drops all indexed rows for a conversation.
func (idx *SearchIndex) RemoveConversation(conversationID string) error {
	_, err := idx.db.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID)
	return err
}

// =============================================================================
// SEARCH
// =============================================================================

// snippetContext is how many bytes of content surround a hit.
const snippetContext = 40

// Search returns up to limit messages containing query (case-insensitive
// substring), newest first.
func (idx *SearchIndex) Search(query string, limit int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := idx.db.Query(`
		SELECT message_id, conversation_id, role, content
		FROM messages
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC
		LIMIT ?
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var role, content string
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &role, &content); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.Snippet = snippet(content, query)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// escapeLike escapes the LIKE metacharacters in a user query.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// snippet extracts a window of content around the first occurrence of query.
func snippet(content, query string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	pos := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if pos < 0 {
		pos = 0
	}

	start := pos - snippetContext
	if start < 0 {
		start = 0
	}
	end := pos + len(query) + snippetContext
	if end > len(content) {
		end = len(content)
	}

	// Back off to rune boundaries so the window never splits a character.
	for start > 0 && !isRuneStart(content[start]) {
		start--
	}
	for end < len(content) && !isRuneStart(content[end]) {
		end++
	}

	out := content[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out += "..."
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Close closes the underlying database.
func (idx *SearchIndex) Close() error {
	return idx.db.Close()
}
