// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"

	"github.com/dawar-eco/ecochat/internal/logging"
)

// =============================================================================
// DECODER CONSTANTS
// =============================================================================

const (
	// dataPrefix marks a line carrying an event payload.
	dataPrefix = "data: "

	// donePayload is the terminal sentinel signaling normal completion.
	donePayload = "[DONE]"

	// MaxFrameSize is the maximum allowed size for a single buffered frame
	// (64KB). A partial line growing past this is dropped as malformed.
	MaxFrameSize = 64 * 1024
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventKind discriminates decoded protocol events.
type EventKind int

const (
	// EventToken carries a partial answer token.
	EventToken EventKind = iota
	// EventError carries a server-reported error message. Terminal.
	EventError
	// EventDone signals normal stream completion. Terminal.
	EventDone
)

// Event is one decoded protocol event. Text holds the token text for
// EventToken and the error message for EventError; it is empty for EventDone.
type Event struct {
	Kind EventKind
	Text string
}

// String returns a short description for logging.
func (e Event) String() string {
	switch e.Kind {
	case EventToken:
		return "token"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// =============================================================================
// FRAME DECODER
// =============================================================================

// Decoder turns raw text chunks into discrete protocol events.
//
// Chunk boundaries carry no meaning: the same byte sequence produces the same
// ordered event sequence no matter how it is cut into chunks. The decoder
// retains the trailing, possibly incomplete, line between Feed calls.
//
// Once a terminal event (Done or Error) has been produced, all further input
// is discarded.
type Decoder struct {
	buf  string
	done bool
	log  *logging.Logger
}

// NewDecoder creates a decoder. The logger receives skipped-frame reports
// and may be nil.
func NewDecoder(log *logging.Logger) *Decoder {
	return &Decoder{log: log}
}

// Done reports whether a terminal event has been emitted.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a chunk to the retained buffer and returns all events
// completed by it, in arrival order.
func (d *Decoder) Feed(chunk string) []Event {
	if d.done {
		return nil
	}
	d.buf += chunk

	lines := strings.Split(d.buf, "\n")
	d.buf = lines[len(lines)-1]
	if len(d.buf) > MaxFrameSize {
		d.log.Error("dropping oversized frame (%d bytes)", len(d.buf))
		d.buf = ""
	}

	var events []Event
	for _, line := range lines[:len(lines)-1] {
		ev, ok := d.decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Kind == EventDone || ev.Kind == EventError {
			d.done = true
			d.buf = ""
			break
		}
	}
	return events
}

// Close signals end-of-input. If no terminal sentinel was seen, an implicit
// Done is emitted. A trailing fragment without its newline is discarded, the
// way the upstream producer's own consumers treat it.
func (d *Decoder) Close() []Event {
	if d.done {
		return nil
	}
	if strings.TrimSpace(d.buf) != "" {
		d.log.Debug("discarding %d buffered bytes at end of stream", len(d.buf))
	}
	d.done = true
	d.buf = ""
	return []Event{{Kind: EventDone}}
}

// decodeLine decodes one complete line into an event. ok is false for blank
// keep-alive lines, non-event lines, and malformed frames (which are reported
// to the logger but never abort the stream).
func (d *Decoder) decodeLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == donePayload {
		return Event{Kind: EventDone}, true
	}

	// The producer may emit partial or garbled frames under load; those are
	// skipped rather than treated as fatal.
	var frame struct {
		Token *string `json:"token"`
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		d.log.Debug("skipping malformed frame %q: %v", truncatePayload(payload), err)
		return Event{}, false
	}

	switch {
	case frame.Token != nil:
		return Event{Kind: EventToken, Text: *frame.Token}, true
	case frame.Error != nil:
		return Event{Kind: EventError, Text: *frame.Error}, true
	default:
		return Event{}, false
	}
}

func truncatePayload(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}
