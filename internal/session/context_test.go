package session

import (
	"strings"
	"testing"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/pathexp"
)

func TestNewContextDefaults(t *testing.T) {
	t.Parallel()

	c := NewContext("alice@box", "alice")
	if c.SessionID != "alice@box" || c.UserID != "alice" {
		t.Errorf("ids = %q/%q", c.SessionID, c.UserID)
	}
	if c.WorkingDirectory != pathexp.Home() {
		t.Errorf("WorkingDirectory = %q, want home", c.WorkingDirectory)
	}
	if c.Variables == nil {
		t.Error("Variables map not initialized")
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.Before(c.CreatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", c.CreatedAt, c.UpdatedAt)
	}
}

func TestAddTurnSetsTimestamp(t *testing.T) {
	t.Parallel()

	c := NewContext("s", "u")
	before := c.UpdatedAt
	time.Sleep(time.Millisecond)

	c.AddTurn(Turn{Role: RoleUser, Content: "hello"})
	if len(c.Turns) != 1 {
		t.Fatalf("Turns = %d, want 1", len(c.Turns))
	}
	if c.Turns[0].Timestamp.IsZero() {
		t.Error("turn timestamp not set")
	}
	if !c.UpdatedAt.After(before) {
		t.Error("UpdatedAt did not advance")
	}
}

func TestVariables(t *testing.T) {
	t.Parallel()

	c := NewContext("s", "u")
	c.SetVariable(VarLastCreatedFile, "/tmp/a.txt")
	c.SetVariable("", "ignored")

	if got := c.StringVariable(VarLastCreatedFile); got != "/tmp/a.txt" {
		t.Errorf("StringVariable = %q", got)
	}
	if _, ok := c.GetVariable(""); ok {
		t.Error("empty key was stored")
	}
	if got := c.StringVariable("absent"); got != "" {
		t.Errorf("absent variable = %q", got)
	}

	c.AppendVariable(VarCreatedFiles, "/tmp/a.txt")
	c.AppendVariable(VarCreatedFiles, "/tmp/b.txt")
	list, _ := c.Variables[VarCreatedFiles].([]any)
	if len(list) != 2 || list[1] != "/tmp/b.txt" {
		t.Errorf("AppendVariable list = %v", list)
	}
}

func TestSetWorkingDirectory(t *testing.T) {
	t.Parallel()

	c := NewContext("s", "u")
	c.WorkingDirectory = "/work"

	c.SetWorkingDirectory("sub/dir")
	if c.WorkingDirectory != "/work/sub/dir" {
		t.Errorf("relative cd: %q", c.WorkingDirectory)
	}
	c.SetWorkingDirectory("..")
	if c.WorkingDirectory != "/work/sub" {
		t.Errorf("cd ..: %q", c.WorkingDirectory)
	}
	if got := c.StringVariable(VarWorkingDirectory); got != "/work/sub" {
		t.Errorf("working_directory variable = %q", got)
	}
}

func TestLastActionResult(t *testing.T) {
	t.Parallel()

	c := NewContext("s", "u")
	c.AddTurn(Turn{Role: RoleUser, Content: "make an image"})
	c.AddTurn(Turn{
		Role:         RoleAssistant,
		Content:      "done",
		ActionResult: action.Success(action.KindImageGenerate, map[string]any{"image_path": "/tmp/i.png"}),
	})
	c.AddTurn(Turn{
		Role:         RoleAssistant,
		Content:      "also done",
		ActionResult: action.Success(action.KindLLMGenerate, map[string]any{"content": "hi"}),
	})

	if r := c.LastActionResult(""); r == nil || r.Kind != action.KindLLMGenerate {
		t.Errorf("LastActionResult(any) = %+v", r)
	}
	if r := c.LastActionResult(action.KindImageGenerate); r == nil || r.Detail("image_path") != "/tmp/i.png" {
		t.Errorf("LastActionResult(image) = %+v", r)
	}
	if r := c.LastActionResult(action.KindOCRCapture); r != nil {
		t.Errorf("LastActionResult(ocr) = %+v, want nil", r)
	}
}

func TestChatHistoryLimit(t *testing.T) {
	t.Parallel()

	c := NewContext("s", "u")
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		c.AddTurn(Turn{Role: role, Content: strings.Repeat("x", i+1)})
	}

	msgs := c.ChatHistory(2)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[1]["content"] != "xxxxx" {
		t.Errorf("last message = %v", msgs[1])
	}
	if got := c.ChatHistory(0); len(got) != 5 {
		t.Errorf("unlimited len = %d, want 5", len(got))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewContext("s", "u")
	c.AddTurn(Turn{Role: RoleUser, Content: "hello"})
	c.SetVariable(VarLastOCRText, "scanned")
	c.WorkingDirectory = "/work"

	data, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := DecodeContext(data, "s", "u")
	if err != nil {
		t.Fatalf("DecodeContext() error = %v", err)
	}
	if got.WorkingDirectory != "/work" || len(got.Turns) != 1 {
		t.Errorf("round trip = %+v", got)
	}
	if got.StringVariable(VarLastOCRText) != "scanned" {
		t.Errorf("variable lost: %v", got.Variables)
	}
}

func TestDecodeContextRepairsPartialPayload(t *testing.T) {
	t.Parallel()

	got, err := DecodeContext([]byte(`{"chat_history":[{"role":"user","content":"hi"}],"working_directory":"relative/path"}`), "s2", "u2")
	if err != nil {
		t.Fatalf("DecodeContext() error = %v", err)
	}
	if got.SessionID != "s2" || got.UserID != "u2" {
		t.Errorf("ids not repaired: %q/%q", got.SessionID, got.UserID)
	}
	if got.Variables == nil {
		t.Error("Variables not repaired")
	}
	if got.WorkingDirectory != pathexp.Home() {
		t.Errorf("non-absolute workdir kept: %q", got.WorkingDirectory)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("timestamps not repaired")
	}
}

func TestDecodeContextRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := DecodeContext([]byte("not json"), "s", "u"); err == nil {
		t.Error("DecodeContext(garbage) = nil error")
	}
}

func TestDeriveID(t *testing.T) {
	t.Parallel()

	id, user := DeriveID("")
	if user == "" || !strings.Contains(id, "@") || !strings.HasPrefix(id, user+"@") {
		t.Errorf("DeriveID() = %q/%q", id, user)
	}

	withSuffix, _ := DeriveID("work")
	if withSuffix != id+":work" {
		t.Errorf("DeriveID(work) = %q, want %q", withSuffix, id+":work")
	}
}
