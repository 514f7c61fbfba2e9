package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nlxhq/nlx/internal/handler"
	"github.com/nlxhq/nlx/internal/session"
)

const prompt = "nlx> "

// shell is the interactive conversation front end. One instance serves one
// session; a plan awaiting approval parks in pending until the next input
// answers it.
type shell struct {
	handler      *handler.Handler
	store        *session.Store
	userID       string
	sessionID    string
	autoApprove  bool
	settingsPath string
	settings     map[string]any

	pending *handler.PendingActions
}

// runInteractive reads lines from stdin until EOF, /quit, or ctx cancels.
func (s *shell) runInteractive(ctx context.Context) error {
	fmt.Printf("nlx — session %s (type /help for commands)\n", s.sessionID)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Print(prompt)
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		case err := <-scanErr:
			fmt.Println()
			return err
		case line := <-lines:
			s.handleLine(ctx, strings.TrimSpace(line))
			fmt.Print(prompt)
		}
	}
}

// oneShot processes a single message and prints the outcome. Approval-gated
// plans are shown but not executed unless auto-approve is on.
func (s *shell) oneShot(ctx context.Context, message string) {
	resp := s.handler.ProcessMessage(ctx, message, s.autoApprove)
	if resp.Type == handler.TypeNeedsApproval {
		s.printActions(resp)
		fmt.Println("approval required; re-run with --auto-approve to execute")
		return
	}
	s.printResponse(resp)
}

func (s *shell) handleLine(ctx context.Context, line string) {
	if line == "" {
		return
	}

	if s.pending != nil {
		s.answerApproval(ctx, line)
		return
	}

	if strings.HasPrefix(line, "/") {
		s.slashCommand(ctx, line)
		return
	}

	resp := s.handler.ProcessMessage(ctx, line, s.autoApprove)
	if resp.Type == handler.TypeNeedsApproval {
		s.pending = resp.Pending
		s.printActions(resp)
		fmt.Print("approve? [y/n/indices like 1,3] ")
		return
	}
	s.printResponse(resp)
}

// answerApproval interprets the line as the answer to the pending plan.
func (s *shell) answerApproval(ctx context.Context, line string) {
	pending := s.pending
	s.pending = nil

	switch strings.ToLower(line) {
	case "y", "yes", "all":
		s.printResponse(s.handler.ApproveAndExecute(ctx, pending, nil))
		return
	case "n", "no", "none":
		fmt.Println("cancelled")
		return
	}

	var indices []int
	for _, part := range strings.Split(line, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(pending.Plan.Actions) {
			fmt.Printf("unrecognised answer %q; plan cancelled\n", line)
			return
		}
		indices = append(indices, n-1)
	}
	s.printResponse(s.handler.ApproveAndExecute(ctx, pending, indices))
}

func (s *shell) slashCommand(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Print(`commands:
  /reset           archive the conversation and start fresh
  /history [n]     show the last n turns (default 10)
  /context         show session variables and working directory
  /archives        list archived conversations
  /archive <id>    show one archived conversation
  /settings        show persisted settings
  /set <key> <v>   persist a setting
  /quit            exit
anything else is sent to the assistant.
`)

	case "/reset":
		id, err := s.handler.ResetSession(ctx)
		switch {
		case err != nil:
			fmt.Printf("reset failed: %v\n", err)
		case id != "":
			fmt.Printf("conversation archived as %s\n", id)
		default:
			fmt.Println("conversation reset")
		}

	case "/history":
		limit := 10
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			limit = n
		}
		sess := s.handler.SessionContext(ctx)
		turns := sess.Turns
		if len(turns) > limit {
			turns = turns[len(turns)-limit:]
		}
		if len(turns) == 0 {
			fmt.Println("no history yet")
		}
		for _, turn := range turns {
			fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
		}

	case "/context":
		sess := s.handler.SessionContext(ctx)
		fmt.Printf("session   %s\nworkdir   %s\nturns     %d\n", sess.SessionID, sess.WorkingDirectory, len(sess.Turns))
		for key, val := range sess.Variables {
			fmt.Printf("  %s = %v\n", key, val)
		}

	case "/archives":
		archives := s.store.ListArchives(ctx, s.userID, 0, 20)
		if len(archives) == 0 {
			fmt.Println("no archives")
		}
		for _, a := range archives {
			fmt.Printf("%s  %s  (%d turns, %s)\n", a.ID, a.Title, len(a.Turns), a.UpdatedAt.Format("2006-01-02 15:04"))
		}

	case "/archive":
		if arg == "" {
			fmt.Println("usage: /archive <id>")
			return
		}
		a := s.store.GetArchive(ctx, s.userID, arg)
		if a == nil {
			fmt.Printf("archive %s not found\n", arg)
			return
		}
		fmt.Printf("%s — %s\n", a.ID, a.Title)
		for _, turn := range a.Turns {
			fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
		}

	case "/settings":
		if len(s.settings) == 0 {
			fmt.Println("no settings")
		}
		for key, val := range s.settings {
			fmt.Printf("  %s = %v\n", key, val)
		}

	case "/set":
		key, val, ok := strings.Cut(arg, " ")
		if !ok || key == "" {
			fmt.Println("usage: /set <key> <value>")
			return
		}
		if s.settings == nil {
			s.settings = map[string]any{}
		}
		s.settings[key] = strings.TrimSpace(val)
		session.SaveSettings(s.settingsPath, s.settings)
		fmt.Printf("%s = %s\n", key, strings.TrimSpace(val))

	case "/quit", "/exit":
		fmt.Println("bye")
		os.Exit(0)

	default:
		fmt.Printf("unknown command %s (try /help)\n", cmd)
	}
}

func (s *shell) printActions(resp *handler.Response) {
	fmt.Println(resp.Message)
	for i, act := range resp.Actions {
		marker := " "
		if act.NeedsApproval {
			marker = "!"
		}
		desc := act.Description
		if desc == "" {
			desc = string(act.Kind)
		}
		fmt.Printf("  %s %d. %s\n", marker, i+1, desc)
	}
}

func (s *shell) printResponse(resp *handler.Response) {
	if resp == nil {
		return
	}
	fmt.Println(resp.Message)
	for _, act := range resp.Actions {
		if act.Result == nil {
			continue
		}
		if !act.Result.Success {
			fmt.Printf("  ✗ %s: %s\n", act.Kind, act.Result.Error)
		}
	}
	if wd, ok := resp.ContextUpdates[session.VarWorkingDirectory].(string); ok && wd != "" {
		if len(resp.Actions) > 0 {
			fmt.Printf("  (cwd: %s)\n", wd)
		}
	}
}
