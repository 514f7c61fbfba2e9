package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/session"
)

// maxCapturedOutput bounds the stdout/stderr stored in context variables
// and result details.
const maxCapturedOutput = 8 * 1024

// commandExecute runs a shell command in the session working directory with
// a hard timeout. The process inherits only the configured cwd; it is
// killed when the timeout elapses. On success a best-effort observability
// event is published on temporal.command.new.
func (o *Orchestrator) commandExecute(ctx context.Context, act *action.Action, sess *session.Context) *action.Result {
	command := act.StringParam("command")
	if command == "" {
		return action.Failure(act.Kind, action.ErrMissingParam, "command_execute requires a command")
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeouts.Shell)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = sess.WorkingDirectory
	if stdin := act.StringParam("stdin"); stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		// Killed on timeout: the exit code is undefined, so no command
		// event is published.
		return action.Failure(act.Kind, action.ErrExecutionFailure,
			"command timed out after %s", o.timeouts.Shell)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return action.Failure(act.Kind, action.ErrExecutionFailure, "start command: %v", err)
		}
	}

	details := map[string]any{
		"command":    command,
		"stdout":     truncate(stdout.String(), maxCapturedOutput),
		"stderr":     truncate(stderr.String(), maxCapturedOutput),
		"returncode": exitCode,
		"cwd":        sess.WorkingDirectory,
	}

	o.publishCommandEvent(ctx, command, sess.WorkingDirectory, exitCode, sess.UserID)

	if exitCode != 0 {
		res := action.Failure(act.Kind, action.ErrExecutionFailure, "command exited with status %d", exitCode)
		res.Details = details
		return res
	}
	return action.Success(act.Kind, details)
}

// publishCommandEvent emits the temporal.command.new observability event.
// Failures are logged, never propagated.
func (o *Orchestrator) publishCommandEvent(ctx context.Context, command, cwd string, exitCode int, user string) {
	event := map[string]any{
		"event_type": "command",
		"command":    command,
		"cwd":        cwd,
		"exit_code":  exitCode,
		"user":       user,
	}
	if err := o.bus.Publish(ctx, bus.SubjectCommandEvent, event); err != nil {
		o.log.Debug("command event publish failed", "err", err)
	}
}

// truncate bounds s to max bytes, appending a marker when cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n… [truncated]"
}

// Tokenize splits a shell command into words, honouring single and double
// quotes and backslash escapes outside single quotes. It is intentionally
// simpler than a full shell parser: enough to recognise cd/mkdir/touch/mv/cp
// argument structure for context mutation.
func Tokenize(command string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false

	const (
		modeNone = iota
		modeSingle
		modeDouble
	)
	mode := modeNone
	escaped := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range command {
		switch {
		case escaped:
			cur.WriteRune(r)
			inToken = true
			escaped = false
		case r == '\\' && mode != modeSingle:
			escaped = true
			inToken = true
		case r == '\'' && mode == modeNone:
			mode = modeSingle
			inToken = true
		case r == '\'' && mode == modeSingle:
			mode = modeNone
		case r == '"' && mode == modeNone:
			mode = modeDouble
			inToken = true
		case r == '"' && mode == modeDouble:
			mode = modeNone
		case (r == ' ' || r == '\t' || r == '\n') && mode == modeNone:
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return tokens
}
