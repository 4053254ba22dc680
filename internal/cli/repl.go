// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/morganforge/hivemind-tui/internal/chat"
	"github.com/morganforge/hivemind-tui/internal/export"
	"github.com/morganforge/hivemind-tui/internal/history"
	"github.com/morganforge/hivemind-tui/internal/orchestration"
	"github.com/morganforge/hivemind-tui/internal/storage"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
	"github.com/morganforge/hivemind-tui/internal/util"
)

// =============================================================================
// REPL
// =============================================================================

// REPL is one interactive session.
type REPL struct {
	engine   *chat.Engine
	store    *storage.Store
	history  *history.Manager
	recorder *telemetry.RunRecorder // nil disables /trends
	logger   *slog.Logger

	input     *Input
	out       io.Writer
	errOut    io.Writer
	exportDir string

	current  string
	research bool
}

// NewREPL builds a session starting on the default conversation.
func NewREPL(engine *chat.Engine, store *storage.Store, hist *history.Manager, recorder *telemetry.RunRecorder, dataDir string, logger *slog.Logger) *REPL {
	if logger == nil {
		logger = slog.Default()
	}
	return &REPL{
		engine:    engine,
		store:     store,
		history:   hist,
		recorder:  recorder,
		logger:    logger.With("component", "cli"),
		input:     NewInput(dataDir),
		out:       os.Stdout,
		errOut:    os.Stderr,
		exportDir: ".",
		current:   storage.DefaultConversationID,
	}
}

// Run drives the read-eval loop until /quit, Ctrl+C at the prompt, or
// EOF.
func (r *REPL) Run(ctx context.Context) error {
	defer r.input.Close()
	r.printWelcome()

	for {
		input, err := r.input.ReadLine(promptStyle.Render(r.prompt()))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cont, err := r.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(r.errOut, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !cont {
				return nil
			}
			continue
		}

		if err := r.sendMessage(ctx, input); err != nil {
			fmt.Fprintf(r.errOut, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// prompt shows the current conversation and mode.
func (r *REPL) prompt() string {
	if r.research {
		return fmt.Sprintf("%s [research]> ", r.current)
	}
	return fmt.Sprintf("%s> ", r.current)
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, welcomeStyle.Render("hivemind interactive chat"))
	fmt.Fprintln(r.out, infoStyle.Render(strings.Repeat("─", 30)))
	if agents := r.store.SelectedAgents(); len(agents) > 0 {
		fmt.Fprintf(r.out, "%s %s\n",
			infoStyle.Render("Agents:"), commandStyle.Render(strings.Join(agents, ", ")))
	}
	fmt.Fprintln(r.out, infoStyle.Render("Type /help for commands."))
	fmt.Fprintln(r.out)
}

// =============================================================================
// SENDING
// =============================================================================

// sendMessage routes one user turn through the engine in the current
// mode and prints the assistant reply.
func (r *REPL) sendMessage(ctx context.Context, content string) error {
	var reply *storage.Message
	var err error

	if r.research {
		reply, err = r.engine.SendResearch(ctx, r.current, content, r.printProgress)
	} else {
		reply, err = r.engine.Send(ctx, r.current, content)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out)
	if reply.AgentName != "" {
		fmt.Fprintf(r.out, "%s\n", agentStyle.Render("["+reply.AgentName+"]"))
	}
	fmt.Fprintln(r.out, assistantStyle.Render(reply.Content))
	fmt.Fprintln(r.out)
	return nil
}

// printProgress renders one orchestration event as a status line.
func (r *REPL) printProgress(ev orchestration.Event, st orchestration.State) {
	switch e := ev.(type) {
	case orchestration.SubtaskDispatch:
		fmt.Fprintf(r.out, "%s %s %s\n",
			infoStyle.Render("[dispatch]"),
			util.TruncateWidth(e.Subtask, 60),
			agentStyle.Render(strings.Join(e.Agents, ", ")))
	case orchestration.SubtaskResult:
		fmt.Fprintf(r.out, "%s %s (%d/%d)\n",
			commandStyle.Render("[result]"),
			util.TruncateWidth(e.Subtask, 60),
			st.SubtasksDone, st.SubtasksTotal)
	case orchestration.SynthesisComplete:
		fmt.Fprintln(r.out, infoStyle.Render("[synthesizing]"))
	case orchestration.ErrorEvent:
		fmt.Fprintf(r.errOut, "%s %s\n", errorStyle.Render("[stream error]"), e.Message)
	case orchestration.ParseError:
		fmt.Fprintf(r.errOut, "%s %s\n",
			infoStyle.Render("[skipped frame]"), util.TruncateWidth(e.Raw, 60))
	case orchestration.Unknown:
		fmt.Fprintf(r.out, "%s %s\n", infoStyle.Render("[event]"), e.Type)
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand dispatches one slash command. The bool reports whether
// the loop continues.
func (r *REPL) handleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		r.printHelp()
		return true, nil

	case "/new", "/n":
		conv, err := r.store.Create()
		if err != nil {
			return true, err
		}
		r.current = conv.ID
		fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[New]"), conv.ID)
		return true, nil

	case "/list", "/l":
		r.printList()
		return true, nil

	case "/switch", "/s":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /switch <id>")
		}
		if _, err := r.store.Get(args[0]); err != nil {
			return true, err
		}
		r.current = args[0]
		return true, nil

	case "/delete", "/d":
		id := r.current
		if len(args) == 1 {
			id = args[0]
		}
		if err := r.store.Delete(id); err != nil {
			return true, err
		}
		if id == r.current {
			r.current = storage.DefaultConversationID
		}
		fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[Deleted]"), id)
		return true, nil

	case "/rename":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /rename <name>")
		}
		name := strings.Join(args, " ")
		if err := r.store.Rename(r.current, name); err != nil {
			return true, err
		}
		fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[Renamed]"), name)
		return true, nil

	case "/clear", "/c":
		if err := r.store.Clear(r.current); err != nil {
			return true, err
		}
		fmt.Fprintln(r.out, commandStyle.Render("[Conversation cleared]"))
		return true, nil

	case "/agents", "/a":
		return true, r.handleAgents(args)

	case "/research", "/r":
		return true, r.handleResearch(args)

	case "/upload", "/u":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /upload <path>")
		}
		return true, r.handleUpload(ctx, args[0])

	case "/title", "/t":
		title, err := r.engine.RefreshTitle(ctx, r.current)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[Title]"), title)
		return true, nil

	case "/search":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /search <query>")
		}
		r.printSearch(strings.Join(args, " "))
		return true, nil

	case "/export", "/e":
		format := "markdown"
		if len(args) > 0 {
			format = args[0]
		}
		return true, r.handleExport(format)

	case "/sanitize":
		removed, err := r.history.Sanitize(r.current)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(r.out, "%s removed %d message(s)\n", commandStyle.Render("[Sanitize]"), removed)
		return true, nil

	case "/trends":
		days := 7
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return true, fmt.Errorf("usage: /trends [days]")
			}
			days = n
		}
		return true, r.printTrends(ctx, days)

	case "/history":
		return true, r.printHistory()

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

func (r *REPL) handleAgents(args []string) error {
	if len(args) == 0 {
		agents := r.store.SelectedAgents()
		if len(agents) == 0 {
			fmt.Fprintln(r.out, infoStyle.Render("[Agents] none selected (gateway default)"))
			return nil
		}
		fmt.Fprintf(r.out, "%s %s\n",
			infoStyle.Render("[Agents]"), commandStyle.Render(strings.Join(agents, ", ")))
		return nil
	}
	if len(args) == 1 && strings.EqualFold(args[0], "none") {
		if err := r.store.SetSelectedAgents(nil); err != nil {
			return err
		}
		fmt.Fprintln(r.out, commandStyle.Render("[Agents] selection cleared"))
		return nil
	}
	if err := r.store.SetSelectedAgents(args); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n",
		commandStyle.Render("[Agents]"), strings.Join(args, ", "))
	return nil
}

func (r *REPL) handleResearch(args []string) error {
	switch {
	case len(args) == 0:
		r.research = !r.research
	case strings.EqualFold(args[0], "on"):
		r.research = true
	case strings.EqualFold(args[0], "off"):
		r.research = false
	default:
		return fmt.Errorf("usage: /research [on|off]")
	}
	state := "off"
	if r.research {
		state = "on"
	}
	fmt.Fprintf(r.out, "%s research mode %s\n", commandStyle.Render("[Mode]"), state)
	return nil
}

func (r *REPL) handleUpload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	ack, err := r.engine.Upload(ctx, r.current, path, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[Upload]"), ack.Content)
	return nil
}

func (r *REPL) handleExport(format string) error {
	exporter, err := export.ForFormat(format, nil)
	if err != nil {
		return err
	}
	conv, err := r.store.Get(r.current)
	if err != nil {
		return err
	}
	opts := export.DefaultOptions()
	opts.OutputDir = r.exportDir
	path, err := export.ExportToFile(conv, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", commandStyle.Render("[Exported]"), path)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *REPL) printHelp() {
	help := [][2]string{
		{"/new", "start a new conversation"},
		{"/list", "list conversations"},
		{"/switch <id>", "switch to a conversation"},
		{"/delete [id]", "delete a conversation (default clears)"},
		{"/rename <name>", "rename the current conversation"},
		{"/clear", "reset the current conversation"},
		{"/agents [names|none]", "show or set selected agents"},
		{"/research [on|off]", "toggle multi-agent research mode"},
		{"/upload <path>", "upload a document for retrieval"},
		{"/title", "generate a title for this conversation"},
		{"/search <query>", "search conversations"},
		{"/export [md|json]", "export the current transcript"},
		{"/sanitize", "remove malformed history entries"},
		{"/trends [days]", "show token usage trends"},
		{"/history", "show the current transcript"},
		{"/quit", "exit"},
	}
	fmt.Fprintln(r.out)
	for _, h := range help {
		fmt.Fprintf(r.out, "  %s %s\n",
			commandStyle.Render(util.PadRight(h[0], 22)), infoStyle.Render(h[1]))
	}
	fmt.Fprintln(r.out)
}

func (r *REPL) printList() {
	for _, conv := range r.store.GetAll() {
		marker := " "
		if conv.ID == r.current {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s %s %s\n",
			marker,
			commandStyle.Render(util.PadRight(conv.ID, 12)),
			util.PadRight(util.TruncateWidth(conv.Name, 40), 40),
			infoStyle.Render(fmt.Sprintf("%d msgs", len(conv.Messages))))
	}
}

func (r *REPL) printSearch(query string) {
	matches := r.store.Search(query)
	if len(matches) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("[Search] no matches"))
		return
	}
	for _, conv := range matches {
		fmt.Fprintf(r.out, "%s %s\n",
			commandStyle.Render(util.PadRight(conv.ID, 12)),
			util.TruncateWidth(conv.Name, 50))
	}
}

func (r *REPL) printTrends(ctx context.Context, days int) error {
	if r.recorder == nil {
		return fmt.Errorf("telemetry archive not available")
	}
	trends, err := r.recorder.Trends(ctx, days)
	if err != nil {
		return err
	}
	if len(trends) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("[Trends] no archived runs"))
		return nil
	}
	for _, day := range trends {
		fmt.Fprintf(r.out, "%s runs=%d tokens=%d time=%.1fs\n",
			infoStyle.Render(day.Date.Format("2006-01-02")),
			day.RunCount, day.TotalTokens, day.Duration)
	}
	return nil
}

func (r *REPL) printHistory() error {
	msgs, err := r.history.History(r.current)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out)
	for _, msg := range msgs {
		label := msg.Role
		if msg.AgentName != "" {
			label = msg.AgentName
		}
		fmt.Fprintf(r.out, "%s %s\n",
			agentStyle.Render("["+label+"]"),
			util.Singleline(util.TruncateWidth(msg.Content, 100)))
		if msg.IsError() {
			fmt.Fprintf(r.out, "  %s %s\n", errorStyle.Render("failed:"), msg.ErrorMessage)
		}
	}
	fmt.Fprintln(r.out)
	return nil
}
