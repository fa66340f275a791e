// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dawar-eco/ecochat/internal/history"
	"github.com/dawar-eco/ecochat/internal/index"
	"github.com/dawar-eco/ecochat/internal/logging"
	"github.com/dawar-eco/ecochat/internal/model"
	"github.com/dawar-eco/ecochat/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy means the active conversation already has a live stream.
	ErrBusy = errors.New("conversation is busy streaming")
	// ErrConversationNotFound means no conversation has the given ID.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrUploadNotFound means no upload-history entry has the given ID.
	ErrUploadNotFound = errors.New("upload not found")
	// ErrSearchDisabled means the search index is not configured.
	ErrSearchDisabled = errors.New("search is disabled")
)

// =============================================================================
// STREAMER ABSTRACTION
// =============================================================================

// Handle is a cancellable reference to one live streaming session.
type Handle interface {
	Abort()
}

// Streamer starts streaming send sessions. Satisfied by stream.Client via
// NewStreamerClient; tests substitute fakes.
type Streamer interface {
	Start(ctx context.Context, conversationID, content string, uploads []stream.Upload, cb stream.Callbacks) (Handle, error)
}

type clientStreamer struct {
	c *stream.Client
}

func (cs clientStreamer) Start(ctx context.Context, conversationID, content string, uploads []stream.Upload, cb stream.Callbacks) (Handle, error) {
	h, err := cs.c.Start(ctx, conversationID, content, uploads, cb)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// NewStreamerClient adapts a stream.Client to the Streamer interface.
func NewStreamerClient(c *stream.Client) Streamer {
	return clientStreamer{c: c}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns the conversation list, the upload history, and all live
// streaming sessions.
type Orchestrator struct {
	store    *history.Store
	streamer Streamer
	index    *index.SearchIndex // nil when search is disabled
	log      *logging.Logger

	mu            sync.Mutex
	conversations []*model.Conversation // most recently updated first
	uploads       []*model.UploadHistoryItem
	activeID      string
	busy          map[string]bool
	handles       map[string]Handle

	// UI hooks, invoked outside the lock.
	onChange func()
	onToken  func(conversationID, token string)
}

// New loads persisted state and ensures the invariants hold: when no
// conversation survives loading, a fresh one is created; the most recently
// updated conversation becomes active.
func New(store *history.Store, streamer Streamer, idx *index.SearchIndex, log *logging.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		streamer: streamer,
		index:    idx,
		log:      log,
		busy:     make(map[string]bool),
		handles:  make(map[string]Handle),
	}

	o.conversations, o.uploads = store.Load()
	if len(o.conversations) == 0 {
		conv := store.CreateConversation("")
		o.conversations = []*model.Conversation{conv}
		store.Save(o.conversations)
	}
	o.activeID = o.conversations[0].ID

	if idx != nil {
		for _, conv := range o.conversations {
			if err := idx.IndexConversation(conv); err != nil {
				log.Error("failed to index conversation %s: %v", conv.ID, err)
			}
		}
	}

	return o
}

// SetOnChange registers a hook fired after any conversation or upload
// mutation. Fired from orchestrator and pump goroutines, never under the
// internal lock.
func (o *Orchestrator) SetOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// SetOnToken registers a hook fired for each streamed token.
func (o *Orchestrator) SetOnToken(fn func(conversationID, token string)) {
	o.mu.Lock()
	o.onToken = fn
	o.mu.Unlock()
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Active returns the active conversation.
func (o *Orchestrator) Active() *model.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeLocked()
}

func (o *Orchestrator) activeLocked() *model.Conversation {
	for _, conv := range o.conversations {
		if conv.ID == o.activeID {
			return conv
		}
	}
	// Unreachable while the invariants hold.
	return o.conversations[0]
}

// Conversations returns a snapshot of the conversation list, most recently
// updated first.
func (o *Orchestrator) Conversations() []*model.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.Conversation, len(o.conversations))
	copy(out, o.conversations)
	return out
}

// UploadHistory returns a snapshot of the upload history.
func (o *Orchestrator) UploadHistory() []*model.UploadHistoryItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.UploadHistoryItem, len(o.uploads))
	copy(out, o.uploads)
	return out
}

// Busy reports whether the active conversation has a live stream.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy[o.activeID]
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// NewConversation creates a conversation (empty title selects a date-stamped
// default), makes it active, and persists.
func (o *Orchestrator) NewConversation(title string) *model.Conversation {
	o.mu.Lock()
	conv := o.store.CreateConversation(title)
	o.conversations = append([]*model.Conversation{conv}, o.conversations...)
	o.activeID = conv.ID
	o.store.Save(o.conversations)
	o.mu.Unlock()

	o.notify()
	return conv
}

// SelectConversation makes the given conversation active.
func (o *Orchestrator) SelectConversation(id string) error {
	o.mu.Lock()
	found := false
	for _, conv := range o.conversations {
		if conv.ID == id {
			found = true
			break
		}
	}
	if found {
		o.activeID = id
	}
	o.mu.Unlock()

	if !found {
		return ErrConversationNotFound
	}
	o.notify()
	return nil
}

// DeleteConversation removes a conversation. A live stream on it is aborted
// first. Deleting the last conversation immediately recreates a fresh one so
// the list never empties; deleting the active conversation activates the
// most recently updated survivor. Upload history is never cascaded: entries
// keep referencing the deleted conversation's ID.
func (o *Orchestrator) DeleteConversation(id string) error {
	o.mu.Lock()
	h := o.handles[id]
	o.mu.Unlock()
	if h != nil {
		h.Abort()
	}

	o.mu.Lock()
	pos := -1
	for i, conv := range o.conversations {
		if conv.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		o.mu.Unlock()
		return ErrConversationNotFound
	}

	o.conversations = append(o.conversations[:pos], o.conversations[pos+1:]...)
	delete(o.busy, id)
	delete(o.handles, id)

	if len(o.conversations) == 0 {
		conv := o.store.CreateConversation("")
		o.conversations = []*model.Conversation{conv}
	}
	if o.activeID == id {
		o.activeID = o.conversations[0].ID
	}
	o.store.Save(o.conversations)

	idx := o.index
	o.mu.Unlock()

	if idx != nil {
		if err := idx.RemoveConversation(id); err != nil {
			o.log.Error("failed to unindex conversation %s: %v", id, err)
		}
	}
	o.notify()
	return nil
}

// SetTitle renames a conversation and persists.
func (o *Orchestrator) SetTitle(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}

	o.mu.Lock()
	var target *model.Conversation
	for i, conv := range o.conversations {
		if conv.ID == id {
			next := conv.Clone()
			next.Title = title
			o.conversations[i] = next
			target = next
			break
		}
	}
	if target != nil {
		o.store.Save(o.conversations)
	}
	o.mu.Unlock()

	if target == nil {
		return ErrConversationNotFound
	}
	o.notify()
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage sends text (plus any files) on the active conversation and
// starts a streaming session for the assistant's answer. The returned
// channel closes when the session reaches its terminal state. ErrBusy is
// returned while a previous session on the conversation is still live.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, filePaths []string) (<-chan struct{}, error) {
	var atts []*model.Attachment
	for _, path := range filePaths {
		att, err := buildAttachment(path)
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	return o.send(ctx, text, atts, false)
}

// ReuseUpload attaches a previously uploaded file to the active conversation
// and streams the assistant's answer, recording the reuse in upload history.
func (o *Orchestrator) ReuseUpload(ctx context.Context, uploadID string) (<-chan struct{}, error) {
	o.mu.Lock()
	var item *model.UploadHistoryItem
	for _, u := range o.uploads {
		if u.ID == uploadID {
			item = u
			break
		}
	}
	o.mu.Unlock()

	if item == nil || item.File == nil {
		return nil, ErrUploadNotFound
	}
	return o.send(ctx, "Reused file: "+item.File.Name, []*model.Attachment{item.File}, true)
}

// send runs the shared send path: append the user message and the streaming
// placeholder, persist, then start the stream. reuse selects whether the
// attachments create new upload-history entries or update existing ones.
func (o *Orchestrator) send(ctx context.Context, text string, atts []*model.Attachment, reuse bool) (<-chan struct{}, error) {
	uploads, closeUploads, err := openUploads(atts)
	if err != nil {
		return nil, err
	}
	defer closeUploads()

	o.mu.Lock()
	conv := o.activeLocked()
	if o.busy[conv.ID] {
		o.mu.Unlock()
		return nil, ErrBusy
	}

	conv = o.store.AddMessage(conv, model.NewUserMessage(text, atts))
	for _, att := range atts {
		if reuse {
			o.uploads = history.UpdateUploadHistoryUsage(o.uploads, att.ID, conv.ID)
		} else {
			o.uploads = append(o.uploads, o.store.AddToUploadHistory(att, conv.ID))
		}
	}
	if history.IsDefaultTitle(conv.Title) {
		conv.Title = history.GenerateConversationTitle(conv.Messages)
	}

	placeholder := model.NewAssistantMessage()
	conv = o.store.AddMessage(conv, placeholder)

	o.replaceLocked(conv)
	o.busy[conv.ID] = true
	o.store.Save(o.conversations)
	if len(atts) > 0 {
		o.store.SaveUploadHistory(o.uploads)
	}
	o.mu.Unlock()
	o.notify()

	done := make(chan struct{})
	convID := conv.ID
	cb := stream.Callbacks{
		OnToken: func(token string) {
			o.mu.Lock()
			placeholder.AppendToken(token)
			hook := o.onToken
			o.mu.Unlock()
			if hook != nil {
				hook(convID, token)
			}
		},
		OnDone: func() {
			o.finish(convID, placeholder, func(m *model.Message) { m.FinalizeStream() })
			close(done)
		},
		OnError: func(message string) {
			o.finish(convID, placeholder, func(m *model.Message) { m.Fail(message) })
			close(done)
		},
		OnAbort: func() {
			// Partial content is kept; an aborted answer is still an answer.
			o.finish(convID, placeholder, func(m *model.Message) { m.FinalizeStream() })
			close(done)
		},
	}

	h, err := o.streamer.Start(ctx, convID, text, uploads, cb)
	if err != nil {
		o.mu.Lock()
		placeholder.Fail(err.Error())
		delete(o.busy, convID)
		o.store.Save(o.conversations)
		o.mu.Unlock()
		o.notify()
		return nil, err
	}

	o.mu.Lock()
	if o.busy[convID] {
		o.handles[convID] = h
	}
	o.mu.Unlock()

	return done, nil
}

// finish applies the terminal mutation to the placeholder, releases the busy
// state, persists, and re-indexes.
func (o *Orchestrator) finish(conversationID string, placeholder *model.Message, apply func(*model.Message)) {
	o.mu.Lock()
	apply(placeholder)
	delete(o.busy, conversationID)
	delete(o.handles, conversationID)
	o.store.Save(o.conversations)

	idx := o.index
	var conv *model.Conversation
	if idx != nil {
		for _, c := range o.conversations {
			if c.ID == conversationID {
				conv = c
				break
			}
		}
	}
	o.mu.Unlock()

	if idx != nil && conv != nil {
		if err := idx.IndexConversation(conv); err != nil {
			o.log.Error("failed to index conversation %s: %v", conversationID, err)
		}
	}
	o.notify()
}

// Abort cancels the active conversation's live stream, if any. The session
// terminates silently; partial content already streamed is kept.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	h := o.handles[o.activeID]
	o.mu.Unlock()
	if h != nil {
		h.Abort()
	}
}

// replaceLocked swaps the stored conversation value for its successor and
// moves it to the front of the list.
func (o *Orchestrator) replaceLocked(conv *model.Conversation) {
	for i, c := range o.conversations {
		if c.ID == conv.ID {
			o.conversations = append(o.conversations[:i], o.conversations[i+1:]...)
			break
		}
	}
	o.conversations = append([]*model.Conversation{conv}, o.conversations...)
}

// =============================================================================
// UPLOAD HELPERS
// =============================================================================

// buildAttachment stats a local file and derives its attachment metadata.
func buildAttachment(path string) (*model.Attachment, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	typ, err := attachmentType(abs)
	if err != nil {
		return nil, err
	}
	return model.NewAttachment(filepath.Base(abs), typ, info.Size(), abs), nil
}

// attachmentType maps a file extension to its attachment type.
func attachmentType(path string) (model.AttachmentType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return model.AttachmentImage, nil
	case ".pdf":
		return model.AttachmentPDF, nil
	default:
		return "", fmt.Errorf("unsupported file type %q (images and PDFs only)", filepath.Ext(path))
	}
}

// openUploads opens each attachment's local file for the request body.
func openUploads(atts []*model.Attachment) ([]stream.Upload, func(), error) {
	var uploads []stream.Upload
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for _, att := range atts {
		f, err := os.Open(att.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("cannot open %s: %w", att.Name, err)
		}
		files = append(files, f)
		uploads = append(uploads, stream.Upload{Name: att.Name, Data: f})
	}
	return uploads, closeAll, nil
}

// =============================================================================
// SEARCH AND SHUTDOWN
// =============================================================================

// Search queries the message index.
func (o *Orchestrator) Search(query string, limit int) ([]index.Match, error) {
	if o.index == nil {
		return nil, ErrSearchDisabled
	}
	return o.index.Search(query, limit)
}

// ReloadFromDisk replaces in-memory state with the persisted records, used
// when an external process modified the history directory. Skipped while any
// stream is live: the stream's state would be clobbered.
func (o *Orchestrator) ReloadFromDisk() {
	o.mu.Lock()
	if len(o.busy) > 0 {
		o.mu.Unlock()
		return
	}
	o.conversations, o.uploads = o.store.Load()
	if len(o.conversations) == 0 {
		conv := o.store.CreateConversation("")
		o.conversations = []*model.Conversation{conv}
		o.store.Save(o.conversations)
	}
	found := false
	for _, conv := range o.conversations {
		if conv.ID == o.activeID {
			found = true
			break
		}
	}
	if !found {
		o.activeID = o.conversations[0].ID
	}
	o.mu.Unlock()
	o.notify()
}

// Close aborts all live streams and releases the search index.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	handles := make([]Handle, 0, len(o.handles))
	for _, h := range o.handles {
		handles = append(handles, h)
	}
	idx := o.index
	o.mu.Unlock()

	for _, h := range handles {
		h.Abort()
	}
	if idx != nil {
		idx.Close()
	}
}
