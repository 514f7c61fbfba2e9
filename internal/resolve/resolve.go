// Package resolve binds anaphoric references in an utterance ("save it",
// "open the file") to values in the session context. Resolution is
// deliberately conservative: it only fires on an exact pronoun or phrase at
// a word boundary, and only binds a slot when the utterance also names the
// matching domain noun or the previous action was of the matching kind.
//
// The utterance text is never rewritten; the resolver produces a slot map
// that the planner merges into action parameters.
package resolve

import (
	"regexp"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/session"
)

// Stable slot names carried in [Result.Values].
const (
	SlotImagePath     = "image_path"
	SlotFilePath      = "file_path"
	SlotMusicPath     = "music_path"
	SlotOCRText       = "ocr_text"
	SlotGeneratedText = "generated_text"
)

// Result is the outcome of one resolution pass.
type Result struct {
	// Text is the utterance, unchanged.
	Text string

	// Values maps slot names to context values the utterance refers to.
	Values map[string]string
}

// pronounRE matches the closed pronoun set at word boundaries.
var pronounRE = regexp.MustCompile(`(?i)\b(it|this|that|these|those|them)\b`)

// phrases is the closed referring-phrase list, each tagged with the slot it
// suggests. Phrases are matched case-insensitively on word boundaries.
var phrases = []struct {
	re   *regexp.Regexp
	slot string
}{
	{regexp.MustCompile(`(?i)\b(the|last|that) image\b`), SlotImagePath},
	{regexp.MustCompile(`(?i)\b(the|last|that) file\b`), SlotFilePath},
	{regexp.MustCompile(`(?i)\bthe (text|summary|result)\b`), SlotGeneratedText},
	{regexp.MustCompile(`(?i)\bprevious result\b`), SlotGeneratedText},
}

// slotSources describes, per slot, the domain noun that licenses a pronoun
// binding, the context variables supplying the value (first non-empty wins),
// and the action kinds whose trailing result also licenses the binding.
var slotSources = []struct {
	slot  string
	noun  string
	vars  []string
	kinds []action.Kind
}{
	{
		slot:  SlotImagePath,
		noun:  "image",
		vars:  []string{session.VarLastGeneratedImage, session.VarLastSavedImage},
		kinds: []action.Kind{action.KindImageGenerate, action.KindImageSave},
	},
	{
		slot:  SlotMusicPath,
		noun:  "music",
		vars:  []string{session.VarLastGeneratedMusic, session.VarLastSavedMusic},
		kinds: []action.Kind{action.KindMusicGenerate, action.KindMusicSave},
	},
	{
		slot:  SlotFilePath,
		noun:  "file",
		vars:  []string{session.VarLastCreatedFile},
		kinds: []action.Kind{action.KindCommandExecute},
	},
	{
		slot:  SlotOCRText,
		noun:  "text",
		vars:  []string{session.VarLastOCRText},
		kinds: []action.Kind{action.KindOCRCapture},
	},
	{
		slot:  SlotGeneratedText,
		noun:  "text",
		vars:  []string{session.VarLastGeneratedText},
		kinds: []action.Kind{action.KindLLMGenerate},
	},
}

// Resolve binds references in utterance against ctx. The returned text is
// always the input utterance; Values is empty (non-nil) when nothing bound.
// Resolution is idempotent: resolving the same utterance against the same
// context yields the same values.
func Resolve(utterance string, ctx *session.Context) Result {
	res := Result{Text: utterance, Values: map[string]string{}}
	if ctx == nil {
		return res
	}

	lower := strings.ToLower(utterance)
	hasPronoun := pronounRE.MatchString(utterance)

	// Explicit phrases bind their slot directly when the context has a value.
	phraseSlots := map[string]bool{}
	for _, p := range phrases {
		if p.re.MatchString(utterance) {
			phraseSlots[p.slot] = true
		}
	}

	for _, src := range slotSources {
		value := firstVariable(ctx, src.vars)
		if value == "" {
			continue
		}

		switch {
		case phraseSlots[src.slot]:
			res.Values[src.slot] = value
		case hasPronoun && containsWord(lower, src.noun):
			res.Values[src.slot] = value
		case hasPronoun && lastResultMatches(ctx, src.kinds):
			res.Values[src.slot] = value
		}
	}

	return res
}

// firstVariable returns the first non-empty string variable from keys.
func firstVariable(ctx *session.Context, keys []string) string {
	for _, k := range keys {
		if v := ctx.StringVariable(k); v != "" {
			return v
		}
	}
	return ""
}

// lastResultMatches reports whether the most recent action result is one of
// the given kinds.
func lastResultMatches(ctx *session.Context, kinds []action.Kind) bool {
	last := ctx.LastActionResult("")
	if last == nil || !last.Success {
		return false
	}
	for _, k := range kinds {
		if last.Kind == k {
			return true
		}
	}
	return false
}

// containsWord reports whether lower contains word at word boundaries.
func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9') || ('A' <= b && b <= 'Z')
}
