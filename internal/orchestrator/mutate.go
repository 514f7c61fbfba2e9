package orchestrator

import (
	"path/filepath"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/pathexp"
	"github.com/nlxhq/nlx/internal/session"
)

// mutateContext applies the documented variable writes after a successful
// action. Mutations from action N are visible to placeholder substitution
// for action N+1 in the same plan.
func (o *Orchestrator) mutateContext(act *action.Action, res *action.Result, sess *session.Context) {
	switch act.Kind {
	case action.KindLLMGenerate:
		sess.SetVariable(session.VarLastGeneratedText, res.Detail("content"))

	case action.KindImageGenerate:
		sess.SetVariable(session.VarLastGeneratedImage, res.Detail("image_path"))

	case action.KindImageSave:
		sess.SetVariable(session.VarLastSavedImage, res.Detail("saved_path"))

	case action.KindMusicGenerate:
		// Pending: last_generated_music is set by the handler when the
		// async music result arrives.

	case action.KindMusicSave:
		sess.SetVariable(session.VarLastSavedMusic, res.Detail("saved_path"))

	case action.KindOCRCapture:
		sess.SetVariable(session.VarLastOCRText, res.Detail("text"))

	case action.KindDocumentQuery:
		results, _ := res.Details["results"].([]map[string]any)
		sess.SetVariable(session.VarLastQueryResults, anySlice(results))
		sess.SetVariable(session.VarLastQuery, res.Detail("query"))

	case action.KindWebSearch:
		results, _ := res.Details["results"].([]map[string]any)
		sess.SetVariable(session.VarLastSearchResults, anySlice(results))
		sess.SetVariable(session.VarLastSearchQuery, res.Detail("query"))

	case action.KindCommandExecute:
		o.mutateAfterCommand(act.StringParam("command"), res, sess)
	}
}

// mutateAfterCommand applies the command_execute variable writes plus the
// filesystem bookkeeping derived from the command itself: cd and mkdir move
// the working directory, redirections and touch/mv/cp track created files.
func (o *Orchestrator) mutateAfterCommand(command string, res *action.Result, sess *session.Context) {
	sess.SetVariable(session.VarLastCommand, command)
	sess.SetVariable(session.VarLastCommandExit, res.Details["returncode"])
	sess.SetVariable(session.VarLastCommandStdout, res.Detail("stdout"))
	sess.SetVariable(session.VarLastCommandStderr, res.Detail("stderr"))

	tokens := Tokenize(command)
	if len(tokens) == 0 {
		return
	}

	switch tokens[0] {
	case "cd":
		if len(tokens) > 1 {
			sess.SetWorkingDirectory(tokens[1])
		} else {
			sess.SetWorkingDirectory(pathexp.Home())
		}

	case "mkdir":
		var dirs []string
		for _, tok := range tokens[1:] {
			if strings.HasPrefix(tok, "-") {
				continue
			}
			dirs = append(dirs, pathexp.Expand(tok, sess.WorkingDirectory))
		}
		if len(dirs) > 0 {
			last := dirs[len(dirs)-1]
			sess.SetVariable(session.VarLastCreatedDir, last)
			for _, d := range dirs {
				sess.AppendVariable(session.VarCreatedDirs, d)
			}
			// A freshly created directory becomes the working directory
			// so follow-up utterances operate inside it.
			sess.SetWorkingDirectory(last)
		}

	case "touch":
		for _, tok := range tokens[1:] {
			if strings.HasPrefix(tok, "-") {
				continue
			}
			o.recordCreatedFile(tok, sess)
		}

	case "mv", "cp":
		args := withoutFlags(tokens[1:])
		if len(args) >= 2 {
			o.recordCreatedFile(args[len(args)-1], sess)
		}
	}

	// Redirection targets count as created files regardless of the command.
	if target := redirectTarget(tokens); target != "" {
		o.recordCreatedFile(target, sess)
	}
}

// recordCreatedFile notes a file the command produced.
func (o *Orchestrator) recordCreatedFile(path string, sess *session.Context) {
	abs := pathexp.Expand(path, sess.WorkingDirectory)
	if filepath.Base(abs) == "" {
		return
	}
	sess.SetVariable(session.VarLastCreatedFile, abs)
	sess.AppendVariable(session.VarCreatedFiles, abs)
}

// redirectTarget returns the token following the last ">" or ">>", if any.
func redirectTarget(tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		switch {
		case tok == ">" || tok == ">>":
			if i+1 < len(tokens) {
				return tokens[i+1]
			}
			return ""
		case strings.HasPrefix(tok, ">>"):
			return strings.TrimPrefix(tok, ">>")
		case strings.HasPrefix(tok, ">"):
			return strings.TrimPrefix(tok, ">")
		}
	}
	return ""
}

// withoutFlags drops "-"-prefixed tokens.
func withoutFlags(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if !strings.HasPrefix(t, "-") {
			out = append(out, t)
		}
	}
	return out
}

// anySlice converts a typed map slice into []any for stable JSON round
// tripping in the session store.
func anySlice(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}
