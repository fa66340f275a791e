// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides debug logging to file and stderr.
//
// Debug logging is enabled when ECOCHAT_DEBUG=1 is set or the file
// ~/.ecochat/debug exists. Errors always echo to stderr; everything else is
// file-only so the interactive transcript stays clean.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger handles debug logging to file and stderr.
// A nil *Logger is valid and discards everything below Error.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	enabled bool
}

// New creates a logger rooted at dir (typically ~/.ecochat).
// Initialization failures degrade to a disabled logger rather than erroring:
// logging must never block the interactive flow.
func New(dir string) *Logger {
	l := &Logger{}

	debugFile := filepath.Join(dir, "debug")
	_, statErr := os.Stat(debugFile)
	if os.Getenv("ECOCHAT_DEBUG") != "1" && statErr != nil {
		return l
	}
	l.enabled = true

	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "ecochat log: failed to create logs dir %s: %v\n", logsDir, err)
		return l
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logsDir, fmt.Sprintf("ecochat-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecochat log: failed to open log file %s: %v\n", logPath, err)
		return l
	}
	l.file = file
	l.logf("INFO", "Logging started")
	return l
}

// Enabled returns whether debug logging is enabled.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Logger) logf(level, format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s: %s\n", timestamp, level, msg)
}

// Debug logs a debug message (file only).
func (l *Logger) Debug(format string, args ...any) {
	if !l.Enabled() {
		return
	}
	l.logf("DEBUG", format, args...)
}

// Info logs an info message (file only).
func (l *Logger) Info(format string, args ...any) {
	if !l.Enabled() {
		return
	}
	l.logf("INFO", format, args...)
}

// Error logs an error message (file and stderr).
func (l *Logger) Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ecochat error: %s\n", fmt.Sprintf(format, args...))
	if l.Enabled() {
		l.logf("ERROR", format, args...)
	}
}

// Stream logs a streaming event (file only).
func (l *Logger) Stream(eventType string, content string) {
	if !l.Enabled() {
		return
	}
	l.logf("STREAM", "[%s] %s", eventType, truncate(content, 200))
}

// Close closes the log file.
func (l *Logger) Close() {
	if l != nil && l.file != nil {
		l.file.Close()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
