package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/placeholder"
	"github.com/nlxhq/nlx/internal/session"
)

// Output-chain slot names. Each successful action feeds the chain so later
// actions in the same plan can reference its output.
const (
	slotLLMOutput = "llm_output"
	slotImagePath = "image_path"
	slotMusicPath = "music_path"
)

// musicResult is the async completion published on the conversation stream.
type musicResult struct {
	Type     string `json:"type"`
	FilePath string `json:"file_path"`
	Prompt   string `json:"prompt"`
}

// execute runs actions sequentially with placeholder substitution and the
// async music join, then synthesizes the response and persists the session.
func (h *Handler) execute(ctx context.Context, sess *session.Context, actions []*action.Action, explanation string) *Response {
	// Subscribe before executing so a fast music backend cannot slip its
	// result past us.
	musicCh, sub := h.subscribeMusic()
	if sub != nil {
		defer sub.Close()
	}

	chain := map[string]string{}
	var (
		executed    int
		succeeded   int
		firstError  string
		musicIssued bool
		skippedSave *action.Action
		lastResult  *action.Result
	)

	for i, act := range actions {
		h.substituteParams(act, chain, sess)
		rewritePipedWrite(act, chain)

		res := h.orch.ExecuteAction(ctx, act, sess)
		lastResult = res

		if act.Status == action.StatusSkipped {
			if act.Kind == action.KindMusicSave {
				skippedSave = act
			}
			continue
		}

		executed++
		if res.Success {
			succeeded++
			feedChain(chain, act, res)
			if act.Kind == action.KindMusicGenerate {
				musicIssued = true
			}
		} else {
			if firstError == "" {
				firstError = res.Error
			}
			if act.NeedsApproval {
				h.log.Warn("approval-gated action failed, halting plan",
					"kind", act.Kind, "err", res.Error)
				for _, rest := range actions[i+1:] {
					rest.Status = action.StatusCancelled
				}
				break
			}
		}
	}

	musicPending := false
	if musicIssued {
		received, filePath := h.awaitMusic(ctx, musicCh)
		if received {
			sess.SetVariable(session.VarLastGeneratedMusic, filePath)
			chain[slotMusicPath] = filePath
			if skippedSave != nil {
				skippedSave.Params["src_path"] = filePath
				res := h.orch.ExecuteAction(ctx, skippedSave, sess)
				lastResult = res
				executed++
				if res.Success {
					succeeded++
				} else if firstError == "" {
					firstError = res.Error
				}
				skippedSave = nil
			}
		} else {
			musicPending = true
		}
	}

	resp := h.composeResponse(actions, executed, succeeded, firstError, musicPending, skippedSave != nil, explanation)

	assistant := session.Turn{Role: session.RoleAssistant, Content: resp.Message}
	if lastResult != nil {
		assistant.ActionResult = lastResult
	}
	sess.AddTurn(assistant)
	h.persist(ctx, sess)

	resp.ContextUpdates = contextUpdates(sess)
	return resp
}

// subscribeMusic opens the per-cycle conversation stream subscription. The
// returned channel receives at most one music result.
func (h *Handler) subscribeMusic() (chan musicResult, bus.Subscription) {
	ch := make(chan musicResult, 1)
	sub, err := h.bus.Subscribe(bus.ConversationSubject(h.sessionID), func(data []byte) {
		var mr musicResult
		if err := json.Unmarshal(data, &mr); err != nil || mr.Type != "music_result" {
			return
		}
		select {
		case ch <- mr:
		default:
		}
	})
	if err != nil {
		h.log.Warn("conversation stream subscribe failed", "err", err)
		return ch, nil
	}
	return ch, sub
}

// awaitMusic blocks until the async music result arrives or the wait bound
// elapses.
func (h *Handler) awaitMusic(ctx context.Context, ch chan musicResult) (bool, string) {
	start := time.Now()
	timer := time.NewTimer(h.musicWait)
	defer timer.Stop()

	select {
	case mr := <-ch:
		h.metrics.RecordMusicWait(ctx, "received", time.Since(start))
		return true, mr.FilePath
	case <-timer.C:
		h.metrics.RecordMusicWait(ctx, "timeout", time.Since(start))
		h.log.Warn("music result did not arrive in time", "waited", h.musicWait)
		return false, ""
	case <-ctx.Done():
		h.metrics.RecordMusicWait(ctx, "timeout", time.Since(start))
		return false, ""
	}
}

// substituteParams applies the placeholder pass to all string params:
// {{slot}} against the output chain, {var} against context variables first.
func (h *Handler) substituteParams(act *action.Action, chain map[string]string, sess *session.Context) {
	slots := placeholder.FromMap(chain)
	vars := placeholder.Lookup(func(name string) (string, bool) {
		v := sess.StringVariable(name)
		return v, v != ""
	})

	for key, val := range act.Params {
		s, ok := val.(string)
		if !ok {
			continue
		}
		// The pending-music token must survive substitution while the
		// track is unproduced; the skip logic keys on it.
		if act.Kind == action.KindMusicSave && key == "src_path" &&
			s == placeholder.MusicPending && sess.StringVariable(session.VarLastGeneratedMusic) == "" {
			continue
		}
		act.Params[key] = placeholder.Substitute(s, slots, vars)
	}
}

// echoWriteRE matches "echo '…' > file" shapes whose literal payload should
// be replaced by the chained LLM output.
var echoWriteRE = regexp.MustCompile(`^echo\s+(?:'[^']*'|"[^"]*"|\S+)\s*(>>?)\s*(\S+)$`)

// rewritePipedWrite turns file-writing commands into stdin pipes when an
// LLM output is available in the chain: "echo '…' > F" becomes "cat > F"
// with the generated text attached as stdin. A bare "cat > F" without
// stdin gets the chain output attached as well.
func rewritePipedWrite(act *action.Action, chain map[string]string) {
	if act.Kind != action.KindCommandExecute {
		return
	}
	llmOut, ok := chain[slotLLMOutput]
	if !ok || llmOut == "" {
		return
	}

	command := strings.TrimSpace(act.StringParam("command"))
	if m := echoWriteRE.FindStringSubmatch(command); m != nil {
		act.Params["command"] = fmt.Sprintf("cat %s %s", m[1], m[2])
		act.Params["stdin"] = llmOut
		return
	}
	if strings.HasPrefix(command, "cat >") && act.StringParam("stdin") == "" {
		act.Params["stdin"] = llmOut
	}
}

// feedChain records a successful action's output for later placeholder use.
func feedChain(chain map[string]string, act *action.Action, res *action.Result) {
	switch act.Kind {
	case action.KindLLMGenerate:
		chain[slotLLMOutput] = res.Detail("content")
	case action.KindImageGenerate:
		chain[slotImagePath] = res.Detail("image_path")
	case action.KindImageSave, action.KindMusicSave:
		// saved_path is terminal; nothing downstream consumes it.
	}
}

// composeResponse applies the response-type selection rules.
func (h *Handler) composeResponse(actions []*action.Action, executed, succeeded int, firstError string, musicPending, savePending bool, explanation string) *Response {
	planned := 0
	for _, act := range actions {
		if act.Status != action.StatusCancelled {
			planned++
		}
	}
	failed := executed - succeeded

	// A lone llm_generate answers verbatim.
	if planned == 1 && len(actions) >= 1 && actions[0].Kind == action.KindLLMGenerate &&
		actions[0].Result != nil && actions[0].Result.Success {
		return &Response{
			Type:    TypeSuccess,
			Message: actions[0].Result.Detail("content"),
			Actions: actions,
		}
	}

	switch {
	case musicPending || savePending || executed < planned:
		msg := summarize(executed, planned, succeeded, firstError, explanation)
		if musicPending {
			msg += " Still waiting for the music track; it will be saved when it arrives."
		} else {
			msg += " Waiting for remaining actions."
		}
		return &Response{Type: TypePartialSuccess, Message: msg, Actions: actions}

	case failed == 0:
		return &Response{
			Type:    TypeSuccess,
			Message: summarize(executed, planned, succeeded, "", explanation),
			Actions: actions,
		}

	case succeeded == 0:
		return &Response{
			Type:    TypeError,
			Message: fmt.Sprintf("All actions failed: %s", firstError),
			Actions: actions,
		}

	default:
		return &Response{
			Type:    TypePartialSuccess,
			Message: summarize(executed, planned, succeeded, firstError, explanation),
			Actions: actions,
		}
	}
}

// summarize renders the human summary for multi-action plans.
func summarize(executed, planned, succeeded int, firstError, explanation string) string {
	var sb strings.Builder
	if explanation != "" {
		sb.WriteString(explanation)
		sb.WriteString(" — ")
	}
	fmt.Fprintf(&sb, "completed %d of %d actions", succeeded, planned)
	if firstError != "" {
		fmt.Fprintf(&sb, " (first error: %s)", firstError)
	}
	sb.WriteString(".")
	return sb.String()
}

// contextUpdates snapshots the documented variables for the response.
func contextUpdates(sess *session.Context) map[string]any {
	updates := map[string]any{
		session.VarWorkingDirectory: sess.WorkingDirectory,
	}
	for _, key := range []string{
		session.VarLastGeneratedText, session.VarLastGeneratedImage,
		session.VarLastGeneratedMusic, session.VarLastSavedImage,
		session.VarLastSavedMusic, session.VarLastCreatedFile,
		session.VarLastCreatedDir, session.VarLastOCRText,
		session.VarLastQuery, session.VarLastSearchQuery,
		session.VarLastCommand, session.VarLastCommandExit,
	} {
		if v, ok := sess.GetVariable(key); ok {
			updates[key] = v
		}
	}
	return updates
}
