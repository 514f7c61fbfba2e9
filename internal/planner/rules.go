package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/placeholder"
	"github.com/nlxhq/nlx/internal/resolve"
	"github.com/nlxhq/nlx/internal/session"
)

// Deterministic rule patterns, tried in order. They cover the everyday
// requests that do not justify an LLM round trip and serve as the fallback
// when the LLM plan is unusable or sanitized away entirely.
var (
	createFileRE = regexp.MustCompile(`(?i)\bcreate\b.*\bfile\b(?:\s+(?:named|called))?\s+([\w./~\-]+)`)
	createDirRE  = regexp.MustCompile(`(?i)\bcreate\b.*\b(?:directory|folder)\b(?:\s+(?:named|called))?\s+([\w./~\-]+)`)
	writeToRE    = regexp.MustCompile(`(?i)^write\s+(.+?)\s+(?:to|in|into)\s+(?:it|([\w./~\-]+))$`)
	saveImageRE  = regexp.MustCompile(`(?i)\bsave\b.*\b(?:image|picture|photo|pictures)\b`)
	saveMusicRE  = regexp.MustCompile(`(?i)\bsave\b.*\b(?:music|song|track)\b`)
	genImageRE   = regexp.MustCompile(`(?i)\b(?:generate|create|make|draw)\b.*\b(?:image|picture|photo|illustration)\b\s*(?:of|showing|with)?\s*(.*)`)
	listFilesRE  = regexp.MustCompile(`(?i)^(?:list|show)(?:\s+(?:the|my|all))?\s+files\b`)
	searchDocsRE = regexp.MustCompile(`(?i)\b(?:search|find)\b.*\b(?:documents?|files?|notes?)\b(?:\s+(?:for|about|on))?\s*(.*)`)
	searchWebRE  = regexp.MustCompile(`(?i)\bsearch\b(?:\s+the)?\s+web\s+(?:for\s+)?(.*)`)
	readFileRE   = regexp.MustCompile(`(?i)^read\s+(?:the\s+file\s+)?([\w./~\-]+)$`)
	ocrRE        = regexp.MustCompile(`(?i)\b(?:ocr|read\s+(?:my\s+)?screen|what(?:'s| is)\s+on\s+(?:my\s+)?screen)\b`)
	openAppRE    = regexp.MustCompile(`(?i)^open\s+([\w./~\-]+)$`)
	saveDstRE    = regexp.MustCompile(`(?i)\b(?:to|in|into)\s+(?:my\s+)?([\w~/.\- ]+?)(?:\s+folder|\s+directory)?\s*$`)
)

// deterministicPlan is the rule-table planner: a small, auditable mapping
// from utterance shapes to single- or two-action plans.
func (p *Planner) deterministicPlan(utterance string, sess *session.Context) *Plan {
	lower := strings.ToLower(utterance)

	if m := createDirRE.FindStringSubmatch(utterance); m != nil {
		return commandPlan(fmt.Sprintf("mkdir -p %s", m[1]), "Create directory "+m[1])
	}
	if m := createFileRE.FindStringSubmatch(utterance); m != nil {
		return commandPlan(fmt.Sprintf("touch %s", m[1]), "Create file "+m[1])
	}

	if m := writeToRE.FindStringSubmatch(utterance); m != nil {
		content, file := m[1], m[2]
		if file == "" {
			file = sess.StringVariable(session.VarLastCreatedFile)
		}
		if file != "" {
			gen := action.New(action.KindLLMGenerate, map[string]any{
				"prompt": "Write " + content + ". Output only the content itself.",
			})
			gen.Description = "Generate the content"
			write := action.New(action.KindCommandExecute, map[string]any{
				"command": fmt.Sprintf("cat > %s", file),
				"stdin":   "{{llm_output}}",
			})
			write.NeedsApproval = true
			write.Description = "Write the generated content to " + file
			return &Plan{
				Actions:     []*action.Action{gen, write},
				Explanation: "Generating the content and writing it to " + file,
			}
		}
	}

	if ocrRE.MatchString(utterance) {
		act := action.New(action.KindOCRCapture, map[string]any{})
		act.Description = "Read text from the screen"
		return &Plan{Actions: []*action.Action{act}, Explanation: "Capturing text from your screen"}
	}

	if strings.Contains(lower, "save") {
		// Split the destination clause off first: "save the image to my
		// pictures" names a pictures folder, not a second image keyword.
		head, dst := splitSaveTarget(utterance)
		switch {
		case saveImageRE.MatchString(head):
			return savePlan(action.KindImageSave, "{{last_generated_image}}", dst, "~/Pictures")
		case saveMusicRE.MatchString(head):
			return savePlan(action.KindMusicSave, "{{last_generated_music}}", dst, "~/Music")
		}
	}

	if m := genImageRE.FindStringSubmatch(utterance); m != nil {
		prompt := strings.TrimSpace(m[1])
		if len(prompt) < 3 {
			prompt = utterance
		}
		act := action.New(action.KindImageGenerate, map[string]any{"prompt": prompt})
		act.Description = "Generate an image: " + prompt
		return &Plan{Actions: []*action.Action{act}, Explanation: "Generating the image"}
	}

	if listFilesRE.MatchString(utterance) {
		return commandPlan("ls -la", "List files in the working directory")
	}

	if m := searchWebRE.FindStringSubmatch(utterance); m != nil && strings.TrimSpace(m[1]) != "" {
		act := action.New(action.KindWebSearch, map[string]any{"query": strings.TrimSpace(m[1])})
		act.Description = "Search the web"
		return &Plan{Actions: []*action.Action{act}, Explanation: "Searching the web"}
	}
	if m := searchDocsRE.FindStringSubmatch(utterance); m != nil && strings.TrimSpace(m[1]) != "" {
		act := action.New(action.KindDocumentQuery, map[string]any{"query": strings.TrimSpace(m[1])})
		act.Description = "Search indexed documents"
		return &Plan{Actions: []*action.Action{act}, Explanation: "Searching your documents"}
	}

	if m := readFileRE.FindStringSubmatch(utterance); m != nil {
		return commandPlan(fmt.Sprintf("cat %s", m[1]), "Read "+m[1])
	}

	if m := openAppRE.FindStringSubmatch(utterance); m != nil {
		return commandPlan(fmt.Sprintf("xdg-open %s", m[1]), "Open "+m[1])
	}

	// Default: hand the utterance to the LLM conversationally.
	act := action.New(action.KindLLMGenerate, map[string]any{
		"prompt":        utterance,
		"system_prompt": conversationalSystemPrompt,
		"use_history":   true,
	})
	act.Description = "Respond conversationally"
	return &Plan{Actions: []*action.Action{act}, Explanation: "Answering directly"}
}

// commandPlan builds a single approval-gated shell action.
func commandPlan(command, description string) *Plan {
	act := action.New(action.KindCommandExecute, map[string]any{"command": command})
	act.NeedsApproval = true
	act.Description = description
	return &Plan{Actions: []*action.Action{act}, Explanation: description}
}

// splitSaveTarget peels a trailing destination clause off the utterance and
// returns the remainder plus the named target, "" when none is given.
func splitSaveTarget(utterance string) (head, dst string) {
	if m := saveDstRE.FindStringSubmatchIndex(utterance); m != nil {
		return utterance[:m[0]], strings.TrimSpace(utterance[m[2]:m[3]])
	}
	return utterance, ""
}

// savePlan builds a *_save action with a placeholder source and a spoken or
// default destination.
func savePlan(kind action.Kind, src, spokenDst, defaultDst string) *Plan {
	dst := strings.TrimSpace(spokenDst)
	if dst == "" {
		dst = defaultDst
	}
	act := action.New(kind, map[string]any{
		"src_path": src,
		"dst_path": dst,
	})
	act.Description = fmt.Sprintf("Save to %s", dst)
	return &Plan{Actions: []*action.Action{act}, Explanation: act.Description}
}

// enrich substitutes known context placeholders into string params and
// merges resolved reference slots into missing params.
func enrich(actions []*action.Action, sess *session.Context, resolved resolve.Result) {
	contextVars := placeholder.FromMap(map[string]string{
		session.VarLastCreatedFile:    sess.StringVariable(session.VarLastCreatedFile),
		session.VarLastGeneratedImage: sess.StringVariable(session.VarLastGeneratedImage),
		session.VarLastGeneratedMusic: sess.StringVariable(session.VarLastGeneratedMusic),
		session.VarLastOCRText:        sess.StringVariable(session.VarLastOCRText),
	})

	for _, act := range actions {
		for key, val := range act.Params {
			if s, ok := val.(string); ok {
				act.Params[key] = placeholder.Substitute(s, contextVars, contextVars)
			}
		}
		mergeResolvedSlots(act, resolved)
	}
}

// mergeResolvedSlots fills missing params from reference-resolution slots
// (e.g. image_save.src_path from the "it" in "save it").
func mergeResolvedSlots(act *action.Action, resolved resolve.Result) {
	fill := func(param, slot string) {
		if act.StringParam(param) == "" {
			if v, ok := resolved.Values[slot]; ok && v != "" {
				act.Params[param] = v
			}
		}
	}

	switch act.Kind {
	case action.KindImageSave:
		fill("src_path", resolve.SlotImagePath)
	case action.KindMusicSave:
		fill("src_path", resolve.SlotMusicPath)
	case action.KindOCRCapture:
		fill("image_path", resolve.SlotImagePath)
	case action.KindCommandExecute:
		// No parameter merge: shell commands reference files explicitly.
	}
}

// fixOpenCommands rewrites "xdg-open <token>" into "<token> &" when the
// token is neither a URL, a path, nor a document file — the user asked to
// launch an application, not open a file.
func fixOpenCommands(actions []*action.Action) {
	for _, act := range actions {
		if act.Kind != action.KindCommandExecute {
			continue
		}
		command := act.StringParam("command")
		fixed := fixXdgOpen(command)
		if fixed != command {
			act.Params["command"] = fixed
		}
	}
}

// documentExtensions are openable by xdg-open without being paths the user
// typed with a slash.
var documentExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".txt": true, ".md": true, ".html": true, ".odt": true, ".ods": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".csv": true,
	".mp3": true, ".mp4": true, ".wav": true, ".flac": true, ".webm": true,
}

func fixXdgOpen(command string) string {
	fields := strings.Fields(command)
	if len(fields) != 2 || fields[0] != "xdg-open" {
		return command
	}
	target := strings.Trim(fields[1], `"'`)

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return command
	}
	if strings.ContainsAny(target, "/~") || strings.HasPrefix(target, ".") {
		return command
	}
	if idx := strings.LastIndexByte(target, '.'); idx >= 0 && documentExtensions[strings.ToLower(target[idx:])] {
		return command
	}
	return target + " &"
}
