// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ecochat is an interactive terminal client for the DAWAR eco assistant.
//
// It keeps conversation and upload history under ~/.ecochat, streams
// assistant answers token by token, and supports reusing previously
// uploaded files across conversations.
//
// Interactive commands:
//
//	/help              Show available commands
//	/new [title]       Start a new conversation
//	/list              List conversations
//	/switch <n>        Switch to conversation n
//	/delete [n]        Delete conversation n (default: current)
//	/title <text>      Rename the current conversation
//	/upload <file> [message]   Send a file (image or PDF)
//	/uploads           List previously uploaded files
//	/reuse <n>         Attach upload n to the current conversation
//	/search <query>    Search all conversations
//	/quit              Exit
//
// Ctrl+C cancels the current answer; Ctrl+D exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/dawar-eco/ecochat/internal/config"
	"github.com/dawar-eco/ecochat/internal/history"
	"github.com/dawar-eco/ecochat/internal/index"
	"github.com/dawar-eco/ecochat/internal/logging"
	"github.com/dawar-eco/ecochat/internal/session"
	"github.com/dawar-eco/ecochat/internal/stream"
	"github.com/dawar-eco/ecochat/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ecochat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	configDir, err := config.Dir()
	if err != nil {
		return err
	}
	log := logging.New(configDir)
	defer log.Close()

	store, err := history.NewStore(cfg.HistoryDir, cfg.Greeting, log)
	if err != nil {
		return fmt.Errorf("cannot open history: %w", err)
	}

	var idx *index.SearchIndex
	if cfg.SearchEnabled {
		idx, err = index.Open(cfg.IndexPath)
		if err != nil {
			// Search is a convenience; run without it rather than refusing
			// to start.
			log.Error("search index unavailable: %v", err)
			idx = nil
		}
	}

	log.Info("starting (server %s, history %s)", cfg.ServerURL, cfg.HistoryDir)
	defer log.Info("exiting")

	client := stream.NewClient(cfg.ServerURL, time.Duration(cfg.RequestTimeoutSecs)*time.Second, log)
	orch := session.New(store, session.NewStreamerClient(client), idx, log)
	defer orch.Close()

	if cfg.WatchHistory {
		w, err := store.Watch(500*time.Millisecond, orch.ReloadFromDisk)
		if err != nil {
			log.Error("history watcher unavailable: %v", err)
		} else {
			defer w.Close()
		}
	}

	repl := newREPL(orch, configDir)
	defer repl.close()
	return repl.run()
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	orch        *session.Orchestrator
	line        *liner.State
	historyFile string
}

func newREPL(orch *session.Orchestrator, configDir string) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &repl{
		orch:        orch,
		line:        line,
		historyFile: filepath.Join(configDir, "input_history"),
	}
	if f, err := os.Open(r.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	orch.SetOnToken(func(_, token string) {
		fmt.Print(token)
	})
	return r
}

func (r *repl) close() {
	if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
	r.line.Close()
}

func (r *repl) run() error {
	// Ctrl+C during an answer cancels the stream; at the prompt, liner turns
	// it into ErrPromptAborted instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			r.orch.Abort()
		}
	}()

	fmt.Println("ecochat - type a message, /help for commands, /quit to exit")
	r.printActive()

	for {
		input, err := r.line.Prompt("> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			// EOF (Ctrl+D) or terminal gone.
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.send(input, nil); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// send dispatches a message on the active conversation and blocks until the
// streamed answer terminates.
func (r *repl) send(text string, files []string) error {
	// Label first: tokens start printing from the pump goroutine as soon as
	// the stream is live.
	fmt.Print("assistant: ")
	done, err := r.orch.SendMessage(context.Background(), text, files)
	if err != nil {
		fmt.Println()
		return err
	}
	<-done
	fmt.Println()
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func (r *repl) handleCommand(input string) (quit bool, err error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		r.printHelp()

	case "/new", "/n":
		conv := r.orch.NewConversation(strings.Join(args, " "))
		fmt.Printf("started %q\n", conv.Title)

	case "/list", "/ls":
		r.printConversations()

	case "/switch", "/s":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /switch <n>")
		}
		id, err := r.resolveConversation(args[0])
		if err != nil {
			return false, err
		}
		if err := r.orch.SelectConversation(id); err != nil {
			return false, err
		}
		r.printActive()

	case "/delete", "/d":
		id := r.orch.Active().ID
		if len(args) > 0 {
			var err error
			if id, err = r.resolveConversation(args[0]); err != nil {
				return false, err
			}
		}
		if err := r.orch.DeleteConversation(id); err != nil {
			return false, err
		}
		fmt.Println("deleted")
		r.printActive()

	case "/title", "/t":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /title <text>")
		}
		if err := r.orch.SetTitle(r.orch.Active().ID, strings.Join(args, " ")); err != nil {
			return false, err
		}

	case "/upload", "/u":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /upload <file> [message]")
		}
		text := strings.Join(args[1:], " ")
		if text == "" {
			text = "Uploaded file: " + filepath.Base(args[0])
		}
		return false, r.send(text, []string{args[0]})

	case "/uploads":
		r.printUploads()

	case "/reuse", "/r":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /reuse <n>")
		}
		id, err := r.resolveUpload(args[0])
		if err != nil {
			return false, err
		}
		fmt.Print("assistant: ")
		done, err := r.orch.ReuseUpload(context.Background(), id)
		if err != nil {
			fmt.Println()
			return false, err
		}
		<-done
		fmt.Println()

	case "/search":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /search <query>")
		}
		return false, r.printSearch(strings.Join(args, " "))

	case "/quit", "/q", "/exit":
		fmt.Println("goodbye")
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", command)
	}
	return false, nil
}

// =============================================================================
// RESOLUTION AND DISPLAY
// =============================================================================

// resolveConversation accepts a 1-based list position or an ID prefix.
func (r *repl) resolveConversation(arg string) (string, error) {
	convs := r.orch.Conversations()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation %d (have %d)", n, len(convs))
		}
		return convs[n-1].ID, nil
	}
	for _, conv := range convs {
		if strings.HasPrefix(conv.ID, arg) {
			return conv.ID, nil
		}
	}
	return "", fmt.Errorf("no conversation matching %q", arg)
}

func (r *repl) resolveUpload(arg string) (string, error) {
	items := r.orch.UploadHistory()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(items) {
			return "", fmt.Errorf("no upload %d (have %d)", n, len(items))
		}
		return items[n-1].ID, nil
	}
	for _, item := range items {
		if strings.HasPrefix(item.ID, arg) {
			return item.ID, nil
		}
	}
	return "", fmt.Errorf("no upload matching %q", arg)
}

func (r *repl) printActive() {
	conv := r.orch.Active()
	fmt.Printf("[%s] %d messages\n", conv.Title, conv.MessageCount())
}

func (r *repl) printConversations() {
	active := r.orch.Active().ID
	for i, conv := range r.orch.Conversations() {
		marker := " "
		if conv.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s  (%d messages)  %s\n",
			marker, i+1,
			util.PadRight(util.TruncateString(conv.Title, 40), 40),
			conv.MessageCount(),
			conv.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func (r *repl) printUploads() {
	items := r.orch.UploadHistory()
	if len(items) == 0 {
		fmt.Println("no uploads yet")
		return
	}
	for i, item := range items {
		fmt.Printf("%2d. %s  %s  %s  used in %d conversation(s)\n",
			i+1,
			util.PadRight(util.TruncateString(item.File.Name, 30), 30),
			item.File.Type,
			formatSize(item.File.Size),
			len(item.ConversationsUsed))
	}
}

func (r *repl) printSearch(query string) error {
	matches, err := r.orch.Search(query, 20)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}

	titles := make(map[string]string)
	for _, conv := range r.orch.Conversations() {
		titles[conv.ID] = conv.Title
	}
	for _, m := range matches {
		title := titles[m.ConversationID]
		if title == "" {
			title = m.ConversationID
		}
		fmt.Printf("[%s] %s: %s\n", util.TruncateString(title, 30), m.Role.DisplayName(), m.Snippet)
	}
	return nil
}

func (r *repl) printHelp() {
	help := []struct{ cmd, desc string }{
		{"/new [title]", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch <n>", "Switch to conversation n"},
		{"/delete [n]", "Delete conversation n (default: current)"},
		{"/title <text>", "Rename the current conversation"},
		{"/upload <file> [message]", "Send an image or PDF"},
		{"/uploads", "List previously uploaded files"},
		{"/reuse <n>", "Attach upload n to this conversation"},
		{"/search <query>", "Search all conversations"},
		{"/quit", "Exit"},
	}
	for _, h := range help {
		fmt.Printf("  %s %s\n", util.PadRight(h.cmd, 26), h.desc)
	}
	fmt.Println("  Ctrl+C cancels the current answer, Ctrl+D exits")
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
