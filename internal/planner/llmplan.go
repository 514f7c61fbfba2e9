package planner

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/session"
)

// planSystemPrompt instructs the LLM to emit a machine-readable plan. It
// enumerates the closed action-kind set, parameter schemas, approval rules,
// and path conventions.
const planSystemPrompt = `You are the action planner of a local AI assistant.
Turn the user's request into a JSON plan. Respond with ONE JSON object and
nothing else:

{"explanation": "<one short sentence>",
 "actions": [{"action_type": "<kind>", "params": {...},
              "description": "<short>", "needs_approval": <bool>}]}

Action kinds and parameters:
- llm_generate: {"prompt", "system_prompt"?, "temperature"?, "max_tokens"?, "use_history"?}
- image_generate: {"prompt", "width"?, "height"?, "steps"?, "guidance"?}
- image_save: {"src_path", "dst_path"}
- music_generate: {"prompt"}
- music_save: {"src_path", "dst_path"}
- ocr_capture: {"image_path"?, "region"?, "language"?}
- document_query: {"query", "limit"?}
- web_search: {"query", "limit"?}
- command_execute: {"command", "stdin"?}
- system_command: {"action", "payload"?}

Rules:
- needs_approval must be true for command_execute, system_command and
  music_generate; false otherwise.
- Paths may use ~, environment variables, or well-known folder names
  (desktop, documents, downloads, pictures, music, videos).
- To reuse earlier outputs use placeholders: {{last_generated_image}},
  {{last_generated_music}}, {{last_created_file}}, {{last_ocr_text}}, and
  within this plan {{llm_output}} for the preceding llm_generate result.
- Shell commands run in the user's working directory. To write generated
  text into a file, emit llm_generate followed by command_execute with
  "cat > FILE" and stdin "{{llm_output}}".
- Prefer a single action when one suffices. Never invent action kinds.`

// llmPlanResponse is the JSON shape the LLM is asked to produce.
type llmPlanResponse struct {
	Explanation string `json:"explanation"`
	Actions     []struct {
		ActionType    string         `json:"action_type"`
		Params        map[string]any `json:"params"`
		Description   string         `json:"description"`
		NeedsApproval bool           `json:"needs_approval"`
	} `json:"actions"`
}

// llmPlan asks the LLM backend for a plan. Parse failures are logged and
// yield nil so the deterministic planner takes over silently.
func (p *Planner) llmPlan(ctx context.Context, utterance string, sess *session.Context) *Plan {
	prompt := utterance
	if cwd := sess.WorkingDirectory; cwd != "" {
		prompt = "Working directory: " + cwd + "\nRequest: " + utterance
	}

	raw, err := p.llm.GenerateText(ctx, planSystemPrompt, prompt)
	if err != nil {
		p.log.Warn("llm planning failed, falling back", "err", err)
		return nil
	}

	obj, ok := firstJSONObject(raw)
	if !ok {
		p.log.Warn("llm plan had no JSON object, falling back")
		return nil
	}

	var resp llmPlanResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		p.log.Warn("llm plan parse failed, falling back", "err", err)
		return nil
	}

	plan := &Plan{Explanation: resp.Explanation}
	for _, a := range resp.Actions {
		kind := action.Kind(a.ActionType)
		if !kind.IsValid() {
			p.log.Warn("skipping unknown planned action", "action_type", a.ActionType)
			continue
		}
		act := action.New(kind, a.Params)
		act.Description = a.Description
		act.NeedsApproval = a.NeedsApproval || alwaysNeedsApproval(kind)
		plan.Actions = append(plan.Actions, act)
	}

	if len(plan.Actions) == 0 {
		return nil
	}
	return plan
}

// alwaysNeedsApproval enforces the approval gate regardless of what the
// LLM claimed.
func alwaysNeedsApproval(kind action.Kind) bool {
	switch kind {
	case action.KindCommandExecute, action.KindSystemCommand, action.KindMusicGenerate:
		return true
	}
	return false
}

// firstJSONObject extracts the first balanced top-level JSON object from s,
// tolerating Markdown code fences and prose around it.
func firstJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if fenced := stripFences(s); fenced != "" {
		s = fenced
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFences unwraps a ```json ... ``` (or bare ```) fence when the whole
// payload is fenced.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	body := strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
