// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/dawar-eco/ecochat/internal/logging"
)

// =============================================================================
// CALLBACKS AND HANDLE
// =============================================================================

// Callbacks receive decoded events for one streaming session. All callbacks
// are invoked from the session's pump goroutine, strictly in arrival order.
// Exactly one of OnDone, OnError, or OnAbort terminates the session.
// Nil callbacks are skipped.
type Callbacks struct {
	// OnToken delivers one partial answer token.
	OnToken func(text string)
	// OnDone signals normal completion.
	OnDone func()
	// OnError delivers a server error frame or a genuine transport failure.
	OnError func(message string)
	// OnAbort signals silent termination caused by Handle.Abort.
	OnAbort func()
}

// Upload is one binary attachment for an outbound request.
type Upload struct {
	Name string
	Data io.Reader
}

// Handle is a cancellable reference to one active streaming session. It is
// returned from Start and owned by the caller; there is no ambient shared
// connection state.
type Handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted atomic.Bool
}

// Abort cancels the session. The resulting transport failure is expected and
// is never surfaced as an Error event.
func (h *Handle) Abort() {
	h.aborted.Store(true)
	h.cancel()
}

// Wait blocks until the session's pump has finished and its terminal
// callback has returned.
func (h *Handle) Wait() {
	<-h.done
}

// =============================================================================
// STREAMING CLIENT
// =============================================================================

// Client issues streaming send requests against the assistant backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// defaultHeaderTimeout bounds the wait for response headers when the caller
// passes no timeout.
const defaultHeaderTimeout = 30 * time.Second

// NewClient creates a streaming client for the given base URL. headerTimeout
// bounds how long a send waits for response headers (<= 0 selects the
// default); the client carries no overall timeout beyond that, so a live
// stream runs until Done, Error, Abort, or the transport's own connection
// limits.
func NewClient(baseURL string, headerTimeout time.Duration, log *logging.Logger) *Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultHeaderTimeout
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: headerTimeout,
			},
		},
		log: log,
	}
}

// Start issues one streaming send request for a conversation and begins
// pumping decoded events into cb. The request body is a multipart form with
// a "content" field and zero or more "images" file parts.
//
// The caller must have appended the placeholder assistant message before
// calling Start, and must not start a second session for the same
// conversation while the returned Handle is live.
func (c *Client) Start(ctx context.Context, conversationID, content string, uploads []Upload, cb Callbacks) (*Handle, error) {
	body, contentType, err := encodeBody(content, uploads)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "chat", conversationID, "send-stream")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go c.pump(req, h, cb)
	return h, nil
}

// encodeBody builds the multipart form body for a send request.
func encodeBody(content string, uploads []Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("content", content); err != nil {
		return nil, "", err
	}
	for _, u := range uploads {
		part, err := w.CreateFormFile("images", u.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, u.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// =============================================================================
// PUMP LOOP
// =============================================================================

// pump drives one response body through the frame decoder until a terminal
// event, end-of-input, or a transport failure.
func (c *Client) pump(req *http.Request, h *Handle, cb Callbacks) {
	defer h.cancel()
	defer close(h.done)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.fail(h, cb, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.fail(h, cb, fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(snippet)))
		return
	}

	dec := NewDecoder(c.log)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if c.dispatch(dec.Feed(string(buf[:n])), cb) {
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				// End-of-input without an explicit sentinel: implicit Done.
				c.dispatch(dec.Close(), cb)
				return
			}
			c.fail(h, cb, err)
			return
		}
	}
}

// dispatch delivers events in order; returns true after a terminal event.
func (c *Client) dispatch(events []Event, cb Callbacks) bool {
	for _, ev := range events {
		switch ev.Kind {
		case EventToken:
			c.log.Stream("token", ev.Text)
			if cb.OnToken != nil {
				cb.OnToken(ev.Text)
			}
		case EventError:
			c.log.Stream("error", ev.Text)
			if cb.OnError != nil {
				cb.OnError(ev.Text)
			}
			return true
		case EventDone:
			c.log.Stream("done", "")
			if cb.OnDone != nil {
				cb.OnDone()
			}
			return true
		}
	}
	return false
}

// fail routes a transport failure: failures caused by Abort (or by the
// caller cancelling the parent context) terminate silently, everything else
// surfaces as an Error event.
func (c *Client) fail(h *Handle, cb Callbacks, err error) {
	if h.aborted.Load() || errors.Is(err, context.Canceled) {
		c.log.Debug("stream aborted: %v", err)
		if cb.OnAbort != nil {
			cb.OnAbort()
		}
		return
	}
	c.log.Debug("stream failed: %v", err)
	if cb.OnError != nil {
		cb.OnError(err.Error())
	}
}
