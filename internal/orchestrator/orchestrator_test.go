package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/bus/mock"
	"github.com/nlxhq/nlx/internal/resilience"
	"github.com/nlxhq/nlx/internal/session"
	"github.com/nlxhq/nlx/internal/websearch"
)

func newTestOrch(t *testing.T, opts ...Option) (*Orchestrator, *mock.Bus, *session.Context) {
	t.Helper()
	b := mock.New()
	o := New(b, nil, opts...)
	sess := session.NewContext("alice@box", "alice")
	sess.WorkingDirectory = t.TempDir()
	return o, b, sess
}

func TestExecuteActionUnknownKind(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	act := action.New(action.Kind("teleport"), nil)
	res := o.ExecuteAction(context.Background(), act, sess)

	if res.Success {
		t.Fatal("unknown kind succeeded")
	}
	if res.ErrorKind != action.ErrUnknownKind {
		t.Errorf("ErrorKind = %q", res.ErrorKind)
	}
	if act.Status != action.StatusFailed {
		t.Errorf("Status = %q", act.Status)
	}
}

func TestLLMGenerate(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	sess.AddTurn(session.Turn{Role: session.RoleUser, Content: "earlier question"})
	sess.AddTurn(session.Turn{Role: session.RoleAssistant, Content: "earlier answer"})

	var gotPayload map[string]any
	b.Reply(bus.SubjectLLMRequest, func(data []byte) (any, error) {
		json.Unmarshal(data, &gotPayload)
		return map[string]any{"content": "a haiku"}, nil
	})

	act := action.New(action.KindLLMGenerate, map[string]any{
		"prompt":        "write a haiku",
		"system_prompt": "you are a poet",
		"use_history":   true,
	})
	res := o.ExecuteAction(context.Background(), act, sess)

	if !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	if res.Detail("content") != "a haiku" {
		t.Errorf("content = %q", res.Detail("content"))
	}
	if act.Status != action.StatusCompleted {
		t.Errorf("Status = %q", act.Status)
	}
	if sess.StringVariable(session.VarLastGeneratedText) != "a haiku" {
		t.Errorf("last_generated_text = %q", sess.StringVariable(session.VarLastGeneratedText))
	}

	msgs, _ := gotPayload["messages"].([]any)
	// system + 2 history turns + user prompt
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	last, _ := msgs[3].(map[string]any)
	if first["role"] != "system" || last["content"] != "write a haiku" {
		t.Errorf("message shape wrong: first=%v last=%v", first, last)
	}
	if gotPayload["temperature"] != 0.7 {
		t.Errorf("temperature = %v", gotPayload["temperature"])
	}
}

func TestLLMGenerateHistoryDedupesPrompt(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	sess.AddTurn(session.Turn{Role: session.RoleUser, Content: "earlier question"})
	sess.AddTurn(session.Turn{Role: session.RoleAssistant, Content: "earlier answer"})
	sess.AddTurn(session.Turn{Role: session.RoleUser, Content: "write a haiku"})

	var gotPayload map[string]any
	b.Reply(bus.SubjectLLMRequest, func(data []byte) (any, error) {
		json.Unmarshal(data, &gotPayload)
		return map[string]any{"content": "a haiku"}, nil
	})

	act := action.New(action.KindLLMGenerate, map[string]any{
		"prompt":      "write a haiku",
		"use_history": true,
	})
	if res := o.ExecuteAction(context.Background(), act, sess); !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}

	msgs, _ := gotPayload["messages"].([]any)
	// 2 history turns + user prompt; the recorded copy of the prompt is
	// not repeated.
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	seen := 0
	for _, m := range msgs {
		msg, _ := m.(map[string]any)
		if msg["content"] == "write a haiku" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("prompt appears %d times, want 1", seen)
	}
}

func TestLLMGenerateMissingPrompt(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	res := o.ExecuteAction(context.Background(), action.New(action.KindLLMGenerate, nil), sess)
	if res.Success || res.ErrorKind != action.ErrMissingParam {
		t.Errorf("res = %+v", res)
	}
}

func TestLLMGenerateRemoteError(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	b.Reply(bus.SubjectLLMRequest, func([]byte) (any, error) {
		return nil, errors.New("model not loaded")
	})

	act := action.New(action.KindLLMGenerate, map[string]any{"prompt": "hi"})
	res := o.ExecuteAction(context.Background(), act, sess)
	if res.Success || res.ErrorKind != action.ErrRemote {
		t.Errorf("res = %+v", res)
	}
	// Failures leave the context untouched.
	if sess.StringVariable(session.VarLastGeneratedText) != "" {
		t.Error("failed action mutated context")
	}
}

func TestLLMGenerateNoResponder(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	act := action.New(action.KindLLMGenerate, map[string]any{"prompt": "hi"})
	res := o.ExecuteAction(context.Background(), act, sess)
	if res.Success || res.ErrorKind != action.ErrTransportTimeout {
		t.Errorf("res = %+v", res)
	}
}

func TestGuardOpensOnTransportFailures(t *testing.T) {
	t.Parallel()
	b := mock.New()
	o := New(b, nil, WithGuard(resilience.NewGuard(resilience.BreakerConfig{Threshold: 1, CoolDown: time.Minute})))
	sess := session.NewContext("alice@box", "alice")

	act := action.New(action.KindLLMGenerate, map[string]any{"prompt": "hi"})
	if res := o.ExecuteAction(context.Background(), act, sess); res.ErrorKind != action.ErrTransportTimeout {
		t.Fatalf("first call = %+v", res)
	}

	// The breaker is open now; the second call fails fast as remote.
	act2 := action.New(action.KindLLMGenerate, map[string]any{"prompt": "hi"})
	res := o.ExecuteAction(context.Background(), act2, sess)
	if res.ErrorKind != action.ErrRemote {
		t.Errorf("second call = %+v", res)
	}
}

func TestRemoteErrorDoesNotTripGuard(t *testing.T) {
	t.Parallel()
	b := mock.New()
	o := New(b, nil, WithGuard(resilience.NewGuard(resilience.BreakerConfig{Threshold: 1, CoolDown: time.Minute})))
	sess := session.NewContext("alice@box", "alice")

	b.Reply(bus.SubjectLLMRequest, func([]byte) (any, error) {
		return nil, errors.New("prompt rejected")
	})

	for i := 0; i < 3; i++ {
		act := action.New(action.KindLLMGenerate, map[string]any{"prompt": "hi"})
		res := o.ExecuteAction(context.Background(), act, sess)
		if res.ErrorKind != action.ErrRemote {
			t.Fatalf("call %d: %+v", i, res)
		}
	}
	// A live backend returning application errors keeps the circuit closed,
	// so a later well-formed reply still gets through.
	b.Reply(bus.SubjectLLMRequest, func([]byte) (any, error) {
		return map[string]any{"content": "ok"}, nil
	})
	act := action.New(action.KindLLMGenerate, map[string]any{"prompt": "hi"})
	if res := o.ExecuteAction(context.Background(), act, sess); !res.Success {
		t.Errorf("after recovery: %+v", res)
	}
}

func TestGenerateText(t *testing.T) {
	t.Parallel()
	o, b, _ := newTestOrch(t)

	b.Reply(bus.SubjectLLMRequest, func(data []byte) (any, error) {
		var p map[string]any
		json.Unmarshal(data, &p)
		if p["temperature"] != 0.2 {
			t.Errorf("planner temperature = %v", p["temperature"])
		}
		return map[string]any{"content": `{"actions":[]}`}, nil
	})

	out, err := o.GenerateText(context.Background(), "plan", "make a file")
	if err != nil || out != `{"actions":[]}` {
		t.Errorf("GenerateText() = %q, %v", out, err)
	}
}

func TestImageGenerate(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	var gotPayload map[string]any
	b.Reply(bus.SubjectImageGenRequest, func(data []byte) (any, error) {
		json.Unmarshal(data, &gotPayload)
		return map[string]any{"image_path": "/tmp/cat.png", "model": "flux"}, nil
	})

	act := action.New(action.KindImageGenerate, map[string]any{"prompt": "a cat"})
	res := o.ExecuteAction(context.Background(), act, sess)

	if !res.Success || res.Detail("image_path") != "/tmp/cat.png" {
		t.Fatalf("res = %+v", res)
	}
	if gotPayload["width"] != float64(1024) || gotPayload["num_inference_steps"] != float64(4) {
		t.Errorf("payload defaults = %v", gotPayload)
	}
	if sess.StringVariable(session.VarLastGeneratedImage) != "/tmp/cat.png" {
		t.Error("last_generated_image not set")
	}
}

func TestMusicGeneratePublishesJob(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	act := action.New(action.KindMusicGenerate, map[string]any{"prompt": "synthwave"})
	res := o.ExecuteAction(context.Background(), act, sess)

	if !res.Success || res.Detail("status") != "pending" {
		t.Fatalf("res = %+v", res)
	}
	pubs := b.PublishedOn(bus.SubjectMusicGenerate)
	if len(pubs) != 1 {
		t.Fatalf("publications = %d, want 1", len(pubs))
	}
	var job map[string]any
	json.Unmarshal(pubs[0].Data, &job)
	if job["prompt"] != "synthwave" || job["conversation_id"] != "alice@box" {
		t.Errorf("job = %v", job)
	}
	// The variable is only set when the async result arrives.
	if sess.StringVariable(session.VarLastGeneratedMusic) != "" {
		t.Error("last_generated_music set prematurely")
	}
}

func TestMusicSaveDeferredWhilePending(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	act := action.New(action.KindMusicSave, map[string]any{
		"src_path": MusicPendingSrc,
		"dst_path": "~/Music",
	})
	res := o.ExecuteAction(context.Background(), act, sess)

	if !res.Success || !IsSkipped(res) {
		t.Fatalf("res = %+v", res)
	}
	if act.Status != action.StatusSkipped {
		t.Errorf("Status = %q", act.Status)
	}
}

func TestImageSaveIntoDirectory(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	src := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(src, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	dstDir := filepath.Join(sess.WorkingDirectory, "gallery")

	act := action.New(action.KindImageSave, map[string]any{
		"src_path": src,
		"dst_path": dstDir + "/",
	})
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}

	want := filepath.Join(dstDir, "cat.png")
	if res.Detail("saved_path") != want {
		t.Errorf("saved_path = %q, want %q", res.Detail("saved_path"), want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("copy content = %q, err = %v", data, err)
	}
	if sess.StringVariable(session.VarLastSavedImage) != want {
		t.Error("last_saved_image not set")
	}
}

func TestImageSaveOverwritesFile(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	src := filepath.Join(t.TempDir(), "new.png")
	os.WriteFile(src, []byte("new"), 0o644)
	dst := filepath.Join(sess.WorkingDirectory, "out.png")
	os.WriteFile(dst, []byte("old"), 0o644)

	act := action.New(action.KindImageSave, map[string]any{"src_path": src, "dst_path": dst})
	if res := o.ExecuteAction(context.Background(), act, sess); !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "new" {
		t.Errorf("dst = %q, want overwritten", data)
	}
}

func TestImageSaveMissingSource(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	act := action.New(action.KindImageSave, map[string]any{
		"src_path": "/nonexistent/cat.png",
		"dst_path": sess.WorkingDirectory,
	})
	res := o.ExecuteAction(context.Background(), act, sess)
	if res.Success || res.ErrorKind != action.ErrSourceNotFound {
		t.Errorf("res = %+v", res)
	}
}

func TestMusicSaveFromContextVariable(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	src := filepath.Join(t.TempDir(), "track.mp3")
	os.WriteFile(src, []byte("audio"), 0o644)
	sess.SetVariable(session.VarLastGeneratedMusic, src)

	act := action.New(action.KindMusicSave, map[string]any{
		"src_path": "",
		"dst_path": sess.WorkingDirectory + "/",
	})
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success || IsSkipped(res) {
		t.Fatalf("res = %+v", res)
	}
	if sess.StringVariable(session.VarLastSavedMusic) == "" {
		t.Error("last_saved_music not set")
	}
}

func TestCommandExecute(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	act := action.New(action.KindCommandExecute, map[string]any{"command": "echo hello"})
	res := o.ExecuteAction(context.Background(), act, sess)

	if !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	if res.Detail("stdout") != "hello\n" {
		t.Errorf("stdout = %q", res.Detail("stdout"))
	}
	if sess.StringVariable(session.VarLastCommand) != "echo hello" {
		t.Error("last_command not set")
	}
	if got, _ := sess.GetVariable(session.VarLastCommandExit); got != 0 {
		t.Errorf("last_command_exit_code = %v", got)
	}

	events := b.PublishedOn(bus.SubjectCommandEvent)
	if len(events) != 1 {
		t.Fatalf("command events = %d, want 1", len(events))
	}
	var ev map[string]any
	json.Unmarshal(events[0].Data, &ev)
	if ev["event_type"] != "command" || ev["exit_code"] != float64(0) {
		t.Errorf("event = %v", ev)
	}
}

func TestCommandExecuteNonZeroExit(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	act := action.New(action.KindCommandExecute, map[string]any{"command": "exit 3"})
	res := o.ExecuteAction(context.Background(), act, sess)

	if res.Success || res.ErrorKind != action.ErrExecutionFailure {
		t.Fatalf("res = %+v", res)
	}
	if res.Details["returncode"] != 3 {
		t.Errorf("returncode = %v", res.Details["returncode"])
	}
	// A defined exit code still produces the observability event.
	if len(b.PublishedOn(bus.SubjectCommandEvent)) != 1 {
		t.Error("no command event for failed command")
	}
}

func TestCommandExecuteStdin(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	act := action.New(action.KindCommandExecute, map[string]any{
		"command": "cat > poem.txt",
		"stdin":   "roses are red",
	})
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	data, err := os.ReadFile(filepath.Join(sess.WorkingDirectory, "poem.txt"))
	if err != nil || string(data) != "roses are red" {
		t.Errorf("poem.txt = %q, err = %v", data, err)
	}
	// The redirection target is tracked as a created file.
	want := filepath.Join(sess.WorkingDirectory, "poem.txt")
	if sess.StringVariable(session.VarLastCreatedFile) != want {
		t.Errorf("last_created_file = %q, want %q", sess.StringVariable(session.VarLastCreatedFile), want)
	}
}

func TestCommandExecuteTimeout(t *testing.T) {
	t.Parallel()
	b := mock.New()
	o := New(b, nil, WithTimeouts(Timeouts{Shell: 50 * time.Millisecond}))
	sess := session.NewContext("alice@box", "alice")
	sess.WorkingDirectory = t.TempDir()

	act := action.New(action.KindCommandExecute, map[string]any{"command": "sleep 5"})
	res := o.ExecuteAction(context.Background(), act, sess)

	if res.Success || res.ErrorKind != action.ErrExecutionFailure {
		t.Fatalf("res = %+v", res)
	}
	// Undefined exit code: no event.
	if len(b.PublishedOn(bus.SubjectCommandEvent)) != 0 {
		t.Error("timeout published a command event")
	}
}

func TestMutateCd(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	sub := filepath.Join(sess.WorkingDirectory, "projects")
	os.Mkdir(sub, 0o755)

	act := action.New(action.KindCommandExecute, map[string]any{"command": "cd projects"})
	if res := o.ExecuteAction(context.Background(), act, sess); !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	if sess.WorkingDirectory != sub {
		t.Errorf("WorkingDirectory = %q, want %q", sess.WorkingDirectory, sub)
	}
}

func TestMutateMkdirAdoptsDirectory(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)
	base := sess.WorkingDirectory

	act := action.New(action.KindCommandExecute, map[string]any{"command": "mkdir -p notes"})
	if res := o.ExecuteAction(context.Background(), act, sess); !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}

	want := filepath.Join(base, "notes")
	if sess.StringVariable(session.VarLastCreatedDir) != want {
		t.Errorf("last_created_dir = %q", sess.StringVariable(session.VarLastCreatedDir))
	}
	if sess.WorkingDirectory != want {
		t.Errorf("WorkingDirectory = %q, want adopted %q", sess.WorkingDirectory, want)
	}
}

func TestWebSearchInProcess(t *testing.T) {
	t.Parallel()
	b := mock.New()
	o := New(b, websearch.Func(func(_ context.Context, query string, limit int) ([]websearch.Item, error) {
		return []websearch.Item{{URL: "https://example.com", Title: "Example", Description: "demo"}}, nil
	}))
	sess := session.NewContext("alice@box", "alice")

	act := action.New(action.KindWebSearch, map[string]any{"query": "example"})
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	if res.Details["count"] != 1 {
		t.Errorf("count = %v", res.Details["count"])
	}
	if sess.StringVariable(session.VarLastSearchQuery) != "example" {
		t.Error("last_search_query not set")
	}
	if results, ok := sess.Variables[session.VarLastSearchResults].([]any); !ok || len(results) != 1 {
		t.Errorf("last_search_results = %v", sess.Variables[session.VarLastSearchResults])
	}
}

func TestWebSearchUnconfigured(t *testing.T) {
	t.Parallel()
	o, _, sess := newTestOrch(t)

	act := action.New(action.KindWebSearch, map[string]any{"query": "example"})
	res := o.ExecuteAction(context.Background(), act, sess)
	if res.Success || res.ErrorKind != action.ErrRemote {
		t.Errorf("res = %+v", res)
	}
}

func TestDocumentQuery(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	b.Reply(bus.SubjectFileSearch, func(data []byte) (any, error) {
		return map[string]any{"results": []map[string]any{
			{"file_path": "/docs/tax_2025.pdf", "score": 0.91},
		}}, nil
	})

	act := action.New(action.KindDocumentQuery, map[string]any{"query": "tax documents"})
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success || res.Details["count"] != 1 {
		t.Fatalf("res = %+v", res)
	}
	if sess.StringVariable(session.VarLastQuery) != "tax documents" {
		t.Error("last_query not set")
	}
}

func TestOCRCapture(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	b.Reply(bus.SubjectOCRRequest, func(data []byte) (any, error) {
		return map[string]any{"text": "invoice total 42", "confidence": 0.98}, nil
	})

	act := action.New(action.KindOCRCapture, nil)
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success || res.Detail("text") != "invoice total 42" {
		t.Fatalf("res = %+v", res)
	}
	if sess.StringVariable(session.VarLastOCRText) != "invoice total 42" {
		t.Error("last_ocr_text not set")
	}
}

func TestSystemCommand(t *testing.T) {
	t.Parallel()
	o, b, sess := newTestOrch(t)

	b.Reply(bus.SystemActionSubject("volume_set"), func(data []byte) (any, error) {
		var p map[string]any
		json.Unmarshal(data, &p)
		if p["level"] != float64(40) {
			t.Errorf("payload = %v", p)
		}
		return map[string]any{"status": "ok"}, nil
	})

	act := action.New(action.KindSystemCommand, map[string]any{
		"action":  "volume_set",
		"payload": map[string]any{"level": 40},
	})
	res := o.ExecuteAction(context.Background(), act, sess)
	if !res.Success || res.Details["action"] != "volume_set" {
		t.Errorf("res = %+v", res)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"mkdir -p 'my docs'", []string{"mkdir", "-p", "my docs"}},
		{`echo "hello world" > out.txt`, []string{"echo", "hello world", ">", "out.txt"}},
		{`touch a\ b.txt`, []string{"touch", "a b.txt"}},
		{"cd", []string{"cd"}},
		{"", nil},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}
	for _, tc := range tests {
		if got := Tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestRedirectTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"echo hi > out.txt", "out.txt"},
		{"echo hi >> log.txt", "log.txt"},
		{"echo hi >out.txt", "out.txt"},
		{"ls -la", ""},
		{"echo hi >", ""},
	}
	for _, tc := range tests {
		if got := redirectTarget(Tokenize(tc.in)); got != tc.want {
			t.Errorf("redirectTarget(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
