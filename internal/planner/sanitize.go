package planner

import (
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/session"
)

// imageKeywords license image actions in a plan.
var imageKeywords = []string{"image", "picture", "photo", "drawing", "wallpaper", "illustration", "art"}

// sanitize drops hallucinated media actions that the utterance never asked
// for. LLM plans occasionally attach an image_generate or music_save to an
// unrelated request; the rules here are the deterministic backstop.
func sanitize(utterance string, sess *session.Context, actions []*action.Action) []*action.Action {
	lower := strings.ToLower(utterance)
	mentionsMusic := containsAny(lower, musicKeywords)
	mentionsImage := containsAny(lower, imageKeywords)
	hasSaveVerb := saveVerbRE.MatchString(utterance)

	var out []*action.Action
	for _, act := range actions {
		switch act.Kind {
		case action.KindMusicGenerate:
			if !mentionsMusic {
				continue
			}
		case action.KindMusicSave:
			if !mentionsMusic {
				continue
			}
			if !hasSaveVerb && sess.StringVariable(session.VarLastGeneratedMusic) == "" {
				continue
			}
		case action.KindImageGenerate:
			if !mentionsImage {
				continue
			}
		case action.KindImageSave:
			if !hasSaveVerb && sess.StringVariable(session.VarLastGeneratedImage) == "" {
				continue
			}
		}
		out = append(out, act)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
