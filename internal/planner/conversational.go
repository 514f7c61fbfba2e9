package planner

import (
	"regexp"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
)

// conversationalSystemPrompt keeps small talk friendly and grounded in the
// running conversation.
const conversationalSystemPrompt = "You are a helpful local AI assistant. " +
	"Answer conversationally and concisely. You have access to the recent " +
	"conversation history; use it to stay consistent."

// greetingRE matches standalone greetings and pleasantries.
var greetingRE = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good (morning|afternoon|evening)|thanks|thank you|bye|goodbye)[.!\s]*$`)

// interrogatives start questions even without a trailing question mark.
var interrogatives = []string{
	"what", "who", "when", "where", "why", "how", "which",
	"is", "are", "was", "were", "do", "does", "did",
	"can", "could", "would", "should", "will",
}

// imperativeKeywords signal the user wants work done rather than an answer.
var imperativeKeywords = []string{
	"create", "make", "generate", "write", "save", "open", "run",
	"execute", "list", "search", "find", "read", "delete", "remove",
	"move", "copy", "rename", "play", "capture", "ocr", "download",
	"install", "show",
}

// conversational returns a single history-aware llm_generate when the
// utterance is informational rather than imperative, or nil otherwise.
// Implicit music phrases carry no imperative keyword either; those fall
// through to the music fast path.
func (p *Planner) conversational(utterance string) *Plan {
	if isImplicitMusic(strings.ToLower(strings.TrimSpace(utterance))) {
		return nil
	}
	if !isInformational(utterance) {
		return nil
	}

	act := action.New(action.KindLLMGenerate, map[string]any{
		"prompt":        utterance,
		"system_prompt": conversationalSystemPrompt,
		"use_history":   true,
	})
	act.Description = "Answer conversationally"

	return &Plan{
		Actions:     []*action.Action{act},
		Explanation: "Answering your question",
	}
}

// isInformational reports whether the utterance asks rather than instructs:
// a greeting, a question, a polite information request, or text with no
// imperative keyword at all.
func isInformational(utterance string) bool {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	if lower == "" {
		return true
	}

	if greetingRE.MatchString(lower) {
		return true
	}

	if strings.HasSuffix(lower, "?") {
		return true
	}

	words := strings.Fields(lower)
	first := strings.Trim(words[0], ",.!")
	for _, q := range interrogatives {
		if first == q {
			return true
		}
	}

	// Polite forms like "please tell me about X" stay conversational as
	// long as no imperative keyword follows.
	hasImperative := false
	for _, w := range words {
		w = strings.Trim(w, ",.!:;")
		for _, kw := range imperativeKeywords {
			if w == kw {
				hasImperative = true
			}
		}
	}
	return !hasImperative
}
