package resolve

import (
	"testing"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/session"
)

func ctxWith(vars map[string]string) *session.Context {
	c := session.NewContext("s@h", "s")
	for k, v := range vars {
		c.SetVariable(k, v)
	}
	return c
}

func TestResolvePronounWithNoun(t *testing.T) {
	t.Parallel()

	ctx := ctxWith(map[string]string{session.VarLastGeneratedImage: "/tmp/cat.png"})
	res := Resolve("save it to my pictures folder, the image I mean", ctx)
	if res.Values[SlotImagePath] != "/tmp/cat.png" {
		t.Errorf("Values = %v, want image_path bound", res.Values)
	}
	if res.Text != "save it to my pictures folder, the image I mean" {
		t.Errorf("Text was rewritten: %q", res.Text)
	}
}

func TestResolvePhraseWithoutPronoun(t *testing.T) {
	t.Parallel()

	ctx := ctxWith(map[string]string{session.VarLastCreatedFile: "/work/notes.txt"})
	res := Resolve("open the file", ctx)
	if res.Values[SlotFilePath] != "/work/notes.txt" {
		t.Errorf("Values = %v, want file_path bound", res.Values)
	}
}

func TestResolvePronounWithLastActionKind(t *testing.T) {
	t.Parallel()

	// "save it" names no noun; binding comes from the trailing image result.
	ctx := ctxWith(map[string]string{session.VarLastGeneratedImage: "/tmp/cat.png"})
	ctx.AddTurn(session.Turn{
		Role:         session.RoleAssistant,
		Content:      "generated",
		ActionResult: action.Success(action.KindImageGenerate, map[string]any{"image_path": "/tmp/cat.png"}),
	})

	res := Resolve("save it", ctx)
	if res.Values[SlotImagePath] != "/tmp/cat.png" {
		t.Errorf("Values = %v, want image_path from last result kind", res.Values)
	}
}

func TestResolveNoBindingWithoutContext(t *testing.T) {
	t.Parallel()

	res := Resolve("save it", session.NewContext("s@h", "s"))
	if len(res.Values) != 0 {
		t.Errorf("Values = %v, want empty", res.Values)
	}

	res = Resolve("save it", nil)
	if res.Values == nil || len(res.Values) != 0 {
		t.Errorf("nil ctx Values = %v, want empty non-nil", res.Values)
	}
}

func TestResolveNoPronounNoPhrase(t *testing.T) {
	t.Parallel()

	ctx := ctxWith(map[string]string{session.VarLastGeneratedImage: "/tmp/cat.png"})
	res := Resolve("generate another image of a dog", ctx)
	if len(res.Values) != 0 {
		t.Errorf("Values = %v, want no binding without pronoun or phrase", res.Values)
	}
}

func TestResolveWordBoundary(t *testing.T) {
	t.Parallel()

	// "italic" contains "it" but not at a word boundary.
	ctx := ctxWith(map[string]string{session.VarLastGeneratedImage: "/tmp/cat.png"})
	res := Resolve("make the heading italic and bold", ctx)
	if _, ok := res.Values[SlotImagePath]; ok {
		t.Errorf("Values = %v, want no binding from embedded pronoun", res.Values)
	}
}

func TestResolveFailedLastResultDoesNotLicense(t *testing.T) {
	t.Parallel()

	ctx := ctxWith(map[string]string{session.VarLastGeneratedImage: "/tmp/cat.png"})
	ctx.AddTurn(session.Turn{
		Role:         session.RoleAssistant,
		ActionResult: action.Failure(action.KindImageGenerate, action.ErrRemote, "backend down"),
	})

	res := Resolve("save it", ctx)
	if _, ok := res.Values[SlotImagePath]; ok {
		t.Errorf("Values = %v, failed result should not license binding", res.Values)
	}
}

func TestResolveMultipleSlots(t *testing.T) {
	t.Parallel()

	ctx := ctxWith(map[string]string{
		session.VarLastGeneratedImage: "/tmp/cat.png",
		session.VarLastCreatedFile:    "/work/notes.txt",
	})
	res := Resolve("move that image and the file together", ctx)
	if res.Values[SlotImagePath] != "/tmp/cat.png" || res.Values[SlotFilePath] != "/work/notes.txt" {
		t.Errorf("Values = %v, want both slots bound", res.Values)
	}
}

func TestResolveIdempotent(t *testing.T) {
	t.Parallel()

	ctx := ctxWith(map[string]string{session.VarLastOCRText: "receipt total 42"})
	first := Resolve("summarize the text", ctx)
	second := Resolve("summarize the text", ctx)
	if first.Values[SlotOCRText] != second.Values[SlotOCRText] {
		t.Errorf("resolution not idempotent: %v vs %v", first.Values, second.Values)
	}
}
