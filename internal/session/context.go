// Package session holds the durable per-session conversational state: the
// [Context] value type (turns, variables, working directory), the
// redis-backed [Store] that persists it, bounded per-user archives, and the
// best-effort user settings file.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/pathexp"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance from the user or the assistant. Turns are append-only
// within a session and never mutated once added.
type Turn struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Timestamp    time.Time      `json:"timestamp"`
	ActionResult *action.Result `json:"action_result,omitempty"`
}

// Documented variable keys written by the orchestrator on success. Other
// components read these; the set is stable.
const (
	VarLastGeneratedText  = "last_generated_text"
	VarLastGeneratedImage = "last_generated_image"
	VarLastGeneratedMusic = "last_generated_music"
	VarLastSavedImage     = "last_saved_image"
	VarLastSavedMusic     = "last_saved_music"
	VarLastCreatedFile    = "last_created_file"
	VarCreatedFiles       = "created_files"
	VarLastCreatedDir     = "last_created_dir"
	VarCreatedDirs        = "created_dirs"
	VarLastOCRText        = "last_ocr_text"
	VarLastQueryResults   = "last_query_results"
	VarLastQuery          = "last_query"
	VarLastSearchResults  = "last_search_results"
	VarLastSearchQuery    = "last_search_query"
	VarLastCommand        = "last_command"
	VarLastCommandExit    = "last_command_exit_code"
	VarLastCommandStdout  = "last_command_stdout"
	VarLastCommandStderr  = "last_command_stderr"
	VarWorkingDirectory   = "working_directory"
)

// Context is the in-memory model of a session: ordered turns, named
// variables, and the shell working directory. It is a plain value type —
// callers that share one across goroutines must serialize access (the
// handler serializes per session by construction).
type Context struct {
	SessionID        string         `json:"session_id"`
	UserID           string         `json:"user_id"`
	Turns            []Turn         `json:"chat_history"`
	Variables        map[string]any `json:"variables"`
	WorkingDirectory string         `json:"working_directory"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewContext creates an empty session context rooted at the user's home
// directory.
func NewContext(sessionID, userID string) *Context {
	now := time.Now()
	return &Context{
		SessionID:        sessionID,
		UserID:           userID,
		Variables:        map[string]any{},
		WorkingDirectory: pathexp.Home(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AddTurn appends a turn. The turn's timestamp is set to now when zero.
func (c *Context) AddTurn(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	c.Turns = append(c.Turns, t)
	c.touch()
}

// SetVariable stores a named value. An empty key is ignored.
func (c *Context) SetVariable(key string, value any) {
	if key == "" {
		return
	}
	if c.Variables == nil {
		c.Variables = map[string]any{}
	}
	c.Variables[key] = value
	c.touch()
}

// GetVariable returns the value for key and whether it is set.
func (c *Context) GetVariable(key string) (any, bool) {
	v, ok := c.Variables[key]
	return v, ok
}

// StringVariable returns the string value for key, or "" when unset or not
// a string.
func (c *Context) StringVariable(key string) string {
	s, _ := c.Variables[key].(string)
	return s
}

// AppendVariable appends value to the list stored under key, creating the
// list when absent. Used for created_files / created_dirs.
func (c *Context) AppendVariable(key string, value any) {
	if c.Variables == nil {
		c.Variables = map[string]any{}
	}
	list, _ := c.Variables[key].([]any)
	c.Variables[key] = append(list, value)
	c.touch()
}

// SetWorkingDirectory updates the session working directory. The path is
// expanded and canonicalized; non-absolute results are rejected silently.
func (c *Context) SetWorkingDirectory(dir string) {
	p := pathexp.Expand(dir, c.WorkingDirectory)
	if p == "" {
		return
	}
	c.WorkingDirectory = p
	c.Variables[VarWorkingDirectory] = p
	c.touch()
}

// LastActionResult returns the most recent action result, optionally
// filtered by kind (pass "" for any). Returns nil when none exists.
func (c *Context) LastActionResult(kind action.Kind) *action.Result {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		r := c.Turns[i].ActionResult
		if r == nil {
			continue
		}
		if kind == "" || r.Kind == kind {
			return r
		}
	}
	return nil
}

// ChatHistory returns the most recent turns as role/content message maps
// ready for an ai.llm.request payload. limit <= 0 means all turns.
func (c *Context) ChatHistory(limit int) []map[string]string {
	turns := c.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]map[string]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]string{
			"role":    string(t.Role),
			"content": t.Content,
		})
	}
	return out
}

// touch advances UpdatedAt monotonically.
func (c *Context) touch() {
	if now := time.Now(); now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// MarshalJSON is the default struct encoding; Context round-trips through
// JSON for persistence. normalize repairs a decoded context so invariants
// hold even for partial or corrupt payloads.
func (c *Context) normalize(sessionID, userID string) {
	if c.SessionID == "" {
		c.SessionID = sessionID
	}
	if c.UserID == "" {
		c.UserID = userID
	}
	if c.Variables == nil {
		c.Variables = map[string]any{}
	}
	if c.WorkingDirectory == "" || !os.IsPathSeparator(c.WorkingDirectory[0]) {
		c.WorkingDirectory = pathexp.Home()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.Before(c.CreatedAt) {
		c.UpdatedAt = c.CreatedAt
	}
}

// Encode serializes the context for the session KV.
func (c *Context) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("session: encode context: %w", err)
	}
	return b, nil
}

// DecodeContext deserializes a persisted context, repairing missing fields.
// A decode failure returns an error; callers fall back to a fresh context.
func DecodeContext(data []byte, sessionID, userID string) (*Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("session: decode context: %w", err)
	}
	c.normalize(sessionID, userID)
	return &c, nil
}
