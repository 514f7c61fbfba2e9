// Package placeholder implements the tiny substitution pass applied to
// action parameters before execution. Two syntaxes coexist:
//
//   - {{slot}} — reserved slot identifiers bound to context variables or
//     the in-plan output chain (llm_output, image_path, music_path);
//   - {var}    — resolved against context variables first and the output
//     chain second.
//
// This is deliberately not a template language: unresolved tokens are left
// in place so later passes (or a deferred re-execution) can bind them.
package placeholder

import (
	"regexp"
	"strings"
)

// MusicPending is the src_path a queued music_save carries until the async
// music result arrives; the orchestrator skips the save while it is
// unresolved.
const MusicPending = "{{last_generated_music}}"

var (
	doubleBraceRE = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)
	singleBraceRE = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)
)

// Lookup returns the substitution value for a name, and whether one exists.
type Lookup func(name string) (string, bool)

// FromMap adapts a plain map to a [Lookup].
func FromMap(m map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok && v != ""
	}
}

// Chain tries lookups in order.
func Chain(lookups ...Lookup) Lookup {
	return func(name string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(name); ok {
				return v, true
			}
		}
		return "", false
	}
}

// Substitute replaces {{name}} and {name} tokens in s. Double-brace names
// resolve through slots; single-brace names resolve through vars first,
// slots second. Unresolvable tokens survive unchanged.
func Substitute(s string, slots, vars Lookup) string {
	if !strings.Contains(s, "{") {
		return s
	}

	out := doubleBraceRE.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if v, ok := Chain(slots, vars)(name); ok {
			return v
		}
		return tok
	})

	out = singleBraceRE.ReplaceAllStringFunc(out, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := Chain(vars, slots)(name); ok {
			return v
		}
		return tok
	})

	return out
}

// Contains reports whether s still carries any substitution token.
func Contains(s string) bool {
	return doubleBraceRE.MatchString(s) || singleBraceRE.MatchString(s)
}
