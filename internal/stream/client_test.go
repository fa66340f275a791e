// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects callback invocations for one session.
type recorder struct {
	mu     sync.Mutex
	tokens []string
	done   bool
	errMsg string
	errSet bool
	abort  bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnToken: func(text string) {
			r.mu.Lock()
			r.tokens = append(r.tokens, text)
			r.mu.Unlock()
		},
		OnDone: func() {
			r.mu.Lock()
			r.done = true
			r.mu.Unlock()
		},
		OnError: func(message string) {
			r.mu.Lock()
			r.errMsg = message
			r.errSet = true
			r.mu.Unlock()
		},
		OnAbort: func() {
			r.mu.Lock()
			r.abort = true
			r.mu.Unlock()
		},
	}
}

func writeFrame(t *testing.T, w http.ResponseWriter, frame string) {
	t.Helper()
	if _, err := fmt.Fprintf(w, "%s\n", frame); err != nil {
		t.Errorf("write failed: %v", err)
	}
	w.(http.Flusher).Flush()
}

func TestStartStreamsTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/chat/conv-1/send-stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("unexpected Accept header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("body is not multipart: %v", err)
		} else if got := r.FormValue("content"); got != "hello" {
			t.Errorf("content field = %q", got)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, `data: {"token":"Hi"}`)
		writeFrame(t, w, `data: {"token":" there"}`)
		writeFrame(t, w, `data: [DONE]`)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}
	h, err := c.Start(context.Background(), "conv-1", "hello", nil, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()

	if got := strings.Join(rec.tokens, ""); got != "Hi there" {
		t.Errorf("tokens = %q", got)
	}
	if !rec.done {
		t.Error("OnDone not fired")
	}
	if rec.errSet || rec.abort {
		t.Errorf("unexpected error/abort: %+v", rec)
	}
}

func TestStartSendsUploads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("multipart parse failed: %v", err)
		}
		files := r.MultipartForm.File["images"]
		if len(files) != 2 {
			t.Fatalf("expected 2 file parts, got %d", len(files))
		}
		if files[0].Filename != "a.png" || files[1].Filename != "b.pdf" {
			t.Errorf("unexpected filenames: %s, %s", files[0].Filename, files[1].Filename)
		}
		f, _ := files[0].Open()
		defer f.Close()
		buf := make([]byte, 16)
		n, _ := f.Read(buf)
		if string(buf[:n]) != "png-bytes" {
			t.Errorf("file content = %q", buf[:n])
		}

		writeFrame(t, w, `data: [DONE]`)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}
	uploads := []Upload{
		{Name: "a.png", Data: strings.NewReader("png-bytes")},
		{Name: "b.pdf", Data: strings.NewReader("pdf-bytes")},
	}
	h, err := c.Start(context.Background(), "conv-1", "look", uploads, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()
	if !rec.done {
		t.Error("OnDone not fired")
	}
}

func TestServerErrorFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `data: {"token":"partial"}`)
		writeFrame(t, w, `data: {"error":"model overloaded"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}
	h, err := c.Start(context.Background(), "conv-1", "hi", nil, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()

	if !rec.errSet || rec.errMsg != "model overloaded" {
		t.Errorf("error = %q (set=%v)", rec.errMsg, rec.errSet)
	}
	if rec.done {
		t.Error("OnDone fired after error")
	}
}

func TestNon200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conversation missing", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}
	h, err := c.Start(context.Background(), "conv-1", "hi", nil, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()

	if !rec.errSet {
		t.Fatal("OnError not fired for non-200 status")
	}
	if !strings.Contains(rec.errMsg, "404") {
		t.Errorf("error should carry status: %q", rec.errMsg)
	}
}

func TestImplicitDoneOnEOF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stream ends without an explicit sentinel.
		writeFrame(t, w, `data: {"token":"all I have"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}
	h, err := c.Start(context.Background(), "conv-1", "hi", nil, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()

	if !rec.done {
		t.Error("expected implicit Done at end of input")
	}
	if rec.errSet {
		t.Errorf("unexpected error: %q", rec.errMsg)
	}
}

func TestAbortIsSilent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `data: {"token":"partial"}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}

	// Abort only once the client has delivered the token: synchronizing on
	// the server's write would race the in-flight read.
	received := make(chan struct{})
	cb := rec.callbacks()
	recordToken := cb.OnToken
	var once sync.Once
	cb.OnToken = func(text string) {
		recordToken(text)
		once.Do(func() { close(received) })
	}

	h, err := c.Start(context.Background(), "conv-1", "hi", nil, cb)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("token never arrived")
	}
	h.Abort()
	h.Wait()

	if !rec.abort {
		t.Error("OnAbort not fired")
	}
	if rec.errSet {
		t.Errorf("abort surfaced as error: %q", rec.errMsg)
	}
	if rec.done {
		t.Error("OnDone fired for aborted session")
	}
	if got := strings.Join(rec.tokens, ""); got != "partial" {
		t.Errorf("tokens before abort lost: %q", got)
	}
}

func TestTransportFailureSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, `data: {"token":"partial"}`)
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	rec := &recorder{}
	h, err := c.Start(context.Background(), "conv-1", "hi", nil, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()

	if !rec.errSet {
		t.Error("dropped connection should surface as error")
	}
	if rec.abort {
		t.Error("OnAbort fired without Abort")
	}
}

func TestHeaderTimeoutSurfacesError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the response headers past the client's deadline.
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(server.URL, 50*time.Millisecond, nil)
	rec := &recorder{}
	h, err := c.Start(context.Background(), "conv-1", "hi", nil, rec.callbacks())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Wait()

	if !rec.errSet {
		t.Fatal("header timeout should surface as error")
	}
	if rec.abort || rec.done {
		t.Errorf("unexpected terminal state: %+v", rec)
	}
}

func TestStartRejectsBadBaseURL(t *testing.T) {
	c := NewClient("://not-a-url", 0, nil)
	if _, err := c.Start(context.Background(), "conv-1", "hi", nil, Callbacks{}); err == nil {
		t.Fatal("expected error for invalid base URL")
	}
}
