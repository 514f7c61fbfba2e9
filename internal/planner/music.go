package planner

import (
	"regexp"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/placeholder"
)

var (
	// explicitMusicRE matches direct generation requests.
	explicitMusicRE = regexp.MustCompile(`(?i)\b(generate|create|make|compose|produce)\b.*\b(song|music|track|tune|melody|beat)\b`)

	// musicPrefixRE strips a full "generate [a] song about" prefix so the
	// remainder becomes the synthesis prompt.
	musicPrefixRE = regexp.MustCompile(`(?i)^(please\s+)?(generate|create|make|compose|produce)\s+(me\s+)?(a\s+|an\s+|some\s+)?(song|music|track|tune|melody|beat)\s*(about|of|with|for)?\s*`)

	// musicVerbRE strips just the request verb when the music noun is
	// embedded in the description ("generate a heavy metal song").
	musicVerbRE = regexp.MustCompile(`(?i)^(please\s+)?(generate|create|make|compose|produce)\s+(me\s+)?`)

	// saveVerbRE signals the user wants the result written somewhere.
	saveVerbRE = regexp.MustCompile(`(?i)\b(save|store|put|keep|export)\b`)

	// saveTargetRE extracts an explicit destination after a save verb.
	saveTargetRE = regexp.MustCompile(`(?i)\b(?:save|store|put|keep|export)\b(?:\s+it)?\s+(?:in|into|to|at)\s+(?:my\s+)?([\w~/.\- ]+?)(?:\s+folder|\s+directory)?$`)
)

// musicKeywords license the music routes; without one of these any
// music action is sanitized away.
var musicKeywords = []string{"music", "song", "track", "tune", "melody", "beat", "instrumental"}

// musicFastPath plans music generation directly, without the LLM. It fires
// on explicit "generate music/song" phrasing, or implicitly on a short
// descriptive phrase naming music without a command verb — unless the
// utterance is actually about lyrics or text.
func (p *Planner) musicFastPath(utterance string) *Plan {
	lower := strings.ToLower(utterance)
	if strings.Contains(lower, "lyrics") || strings.Contains(lower, "text") {
		return nil
	}

	explicit := explicitMusicRE.MatchString(utterance)
	implicit := !explicit && isImplicitMusic(lower)
	if !explicit && !implicit {
		return nil
	}

	prompt := strings.TrimSpace(musicPrefixRE.ReplaceAllString(utterance, ""))
	if prompt == strings.TrimSpace(utterance) {
		prompt = strings.TrimSpace(musicVerbRE.ReplaceAllString(utterance, ""))
	}
	prompt = strings.Trim(prompt, `"'`)
	// Strip a trailing save clause from the prompt ("... and save it").
	if idx := strings.Index(strings.ToLower(prompt), " and save"); idx > 0 {
		prompt = strings.TrimSpace(prompt[:idx])
	}
	if len(prompt) < 3 {
		prompt = utterance
	}

	gen := action.New(action.KindMusicGenerate, map[string]any{"prompt": prompt})
	gen.NeedsApproval = true
	gen.Description = "Generate music: " + prompt

	plan := &Plan{
		Actions:     []*action.Action{gen},
		Explanation: "Generating music from your description",
	}

	if saveVerbRE.MatchString(utterance) {
		dst := "~/Music"
		if m := saveTargetRE.FindStringSubmatch(utterance); m != nil {
			if t, ok := pathexpShortcutOrPath(m[1]); ok {
				dst = t
			}
		}
		save := action.New(action.KindMusicSave, map[string]any{
			"src_path": placeholder.MusicPending,
			"dst_path": dst,
		})
		save.Description = "Save the generated track to " + dst
		plan.Actions = append(plan.Actions, save)
	}

	return plan
}

// isImplicitMusic reports whether lower is a short descriptive phrase that
// names music without any command verb ("a heavy metal song"). Questions
// about music are not synthesis requests and never match.
func isImplicitMusic(lower string) bool {
	if strings.HasSuffix(lower, "?") {
		return false
	}
	words := strings.Fields(lower)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	first := strings.Trim(words[0], ",.!")
	for _, q := range interrogatives {
		if first == q {
			return false
		}
	}
	hasKeyword := false
	for _, kw := range musicKeywords {
		if strings.Contains(lower, kw) {
			hasKeyword = true
			break
		}
	}
	if !hasKeyword {
		return false
	}
	for _, w := range words {
		for _, kw := range imperativeKeywords {
			if strings.Trim(w, ",.!") == kw {
				return false
			}
		}
	}
	return true
}

// pathexpShortcutOrPath normalizes a spoken destination: bare folder names
// become home shortcuts ("music" → "~/Music"), paths pass through.
func pathexpShortcutOrPath(raw string) (string, bool) {
	t := strings.TrimSpace(raw)
	if t == "" {
		return "", false
	}
	return t, true
}
