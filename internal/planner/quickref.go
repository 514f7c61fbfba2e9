package planner

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/session"
)

// Quick-reference patterns resolve "open link N" / "open document N"
// against the results of a prior search, deterministically and before any
// LLM sees the utterance.
var (
	openLinkRE = regexp.MustCompile(`(?i)^open\s+(?:link|result)\s+(?:number\s+)?(\d+)$`)
	openDocRE  = regexp.MustCompile(`(?i)^open\s+(?:document|doc|file)\s+(?:number\s+)?(\d+)$`)
)

// quickReference returns a single xdg-open command_execute when the
// utterance is an "open link/document N" reference into prior results, or
// nil when the pattern does not apply.
func (p *Planner) quickReference(utterance string, sess *session.Context) *Plan {
	if m := openLinkRE.FindStringSubmatch(utterance); m != nil {
		n, _ := strconv.Atoi(m[1])
		url := nthResultField(sess, session.VarLastSearchResults, n, "url")
		if url == "" {
			return nil
		}
		return openPlan(url, fmt.Sprintf("Open search result %d", n))
	}

	if m := openDocRE.FindStringSubmatch(utterance); m != nil {
		n, _ := strconv.Atoi(m[1])
		path := nthResultField(sess, session.VarLastQueryResults, n, "file_path")
		if path == "" {
			return nil
		}
		return openPlan(path, fmt.Sprintf("Open document %d", n))
	}

	return nil
}

// openPlan builds the approval-gated xdg-open action for target.
func openPlan(target, description string) *Plan {
	act := action.New(action.KindCommandExecute, map[string]any{
		"command": fmt.Sprintf("xdg-open '%s'", target),
	})
	act.NeedsApproval = true
	act.Description = description
	return &Plan{
		Actions:     []*action.Action{act},
		Explanation: description,
	}
}

// nthResultField extracts field from the 1-based nth entry of a stored
// result list variable.
func nthResultField(sess *session.Context, key string, n int, field string) string {
	list, ok := sess.GetVariable(key)
	if !ok || n < 1 {
		return ""
	}
	items, ok := list.([]any)
	if !ok || n > len(items) {
		return ""
	}
	entry, ok := items[n-1].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := entry[field].(string)
	return value
}
