// Package action defines the typed unit of work the planner emits and the
// orchestrator executes: [Action], its closed [Kind] set, the lifecycle
// [Status] values, and the [Result] produced per execution.
//
// Actions live for a single plan/execute cycle; they are never persisted
// across process restarts. Only the [Result] of the most recent action of
// each kind survives in session context.
package action

import (
	"fmt"
	"time"
)

// Kind identifies one of the ten supported action types. The set is closed:
// the orchestrator refuses unknown kinds with a fast failure.
type Kind string

const (
	KindLLMGenerate    Kind = "llm_generate"
	KindImageGenerate  Kind = "image_generate"
	KindImageSave      Kind = "image_save"
	KindMusicGenerate  Kind = "music_generate"
	KindMusicSave      Kind = "music_save"
	KindOCRCapture     Kind = "ocr_capture"
	KindDocumentQuery  Kind = "document_query"
	KindWebSearch      Kind = "web_search"
	KindCommandExecute Kind = "command_execute"
	KindSystemCommand  Kind = "system_command"
)

// Kinds lists every supported action kind in a stable order, for prompt
// construction and validation.
var Kinds = []Kind{
	KindLLMGenerate, KindImageGenerate, KindImageSave,
	KindMusicGenerate, KindMusicSave, KindOCRCapture,
	KindDocumentQuery, KindWebSearch, KindCommandExecute,
	KindSystemCommand,
}

// IsValid reports whether k is a recognised action kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindLLMGenerate, KindImageGenerate, KindImageSave,
		KindMusicGenerate, KindMusicSave, KindOCRCapture,
		KindDocumentQuery, KindWebSearch, KindCommandExecute,
		KindSystemCommand:
		return true
	}
	return false
}

// Status tracks an action through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusSkipped marks an action deliberately not executed in this pass
	// (e.g. a music_save whose source has not been produced yet).
	StatusSkipped Status = "skipped"
)

// ErrorKind classifies action failures. Every failed [Result] carries one.
type ErrorKind string

const (
	ErrMissingParam     ErrorKind = "missing_param"
	ErrInvalidParam     ErrorKind = "invalid_param"
	ErrSourceNotFound   ErrorKind = "source_not_found"
	ErrIO               ErrorKind = "io_error"
	ErrTransportTimeout ErrorKind = "transport_timeout"
	ErrRemote           ErrorKind = "remote_error"
	ErrExecutionFailure ErrorKind = "execution_failure"
	ErrPlanParse        ErrorKind = "plan_parse_error"
	ErrPersistence      ErrorKind = "persistence_error"
	ErrUnknownKind      ErrorKind = "unknown_kind"
)

// Result is the outcome of one executed action. Details carries the
// kind-specific payload (e.g. "image_path" for image_generate, "stdout"
// for command_execute).
type Result struct {
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
}

// Failure builds a failed [Result] for kind with the given classification.
func Failure(kind Kind, ek ErrorKind, format string, args ...any) *Result {
	return &Result{
		Kind:      kind,
		Timestamp: time.Now(),
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
		ErrorKind: ek,
	}
}

// Success builds a successful [Result] for kind carrying details.
func Success(kind Kind, details map[string]any) *Result {
	return &Result{
		Kind:      kind,
		Timestamp: time.Now(),
		Success:   true,
		Details:   details,
	}
}

// Detail returns the string value of a details key, or "" when absent or
// not a string.
func (r *Result) Detail(key string) string {
	if r == nil || r.Details == nil {
		return ""
	}
	s, _ := r.Details[key].(string)
	return s
}

// Action is one typed unit of work. Params are kind-specific and may contain
// {{slot}} / {var} placeholders until substitution runs just before execute.
type Action struct {
	Kind          Kind           `json:"action_type"`
	Params        map[string]any `json:"params"`
	Status        Status         `json:"status"`
	NeedsApproval bool           `json:"needs_approval"`
	Description   string         `json:"description"`
	Result        *Result        `json:"result,omitempty"`
}

// New creates a pending action of the given kind.
func New(kind Kind, params map[string]any) *Action {
	if params == nil {
		params = map[string]any{}
	}
	return &Action{Kind: kind, Params: params, Status: StatusPending}
}

// StringParam returns the string value of a param, or "" when absent or of
// another type.
func (a *Action) StringParam(key string) string {
	s, _ := a.Params[key].(string)
	return s
}

// IntParam returns the integer value of a param, tolerating JSON float64
// decoding, or def when absent.
func (a *Action) IntParam(key string, def int) int {
	switch v := a.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// FloatParam returns the float value of a param, or def when absent.
func (a *Action) FloatParam(key string, def float64) float64 {
	switch v := a.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// BoolParam returns the boolean value of a param, or def when absent.
func (a *Action) BoolParam(key string, def bool) bool {
	if v, ok := a.Params[key].(bool); ok {
		return v
	}
	return def
}

// String implements fmt.Stringer for log output.
func (a *Action) String() string {
	return fmt.Sprintf("%s[%s]", a.Kind, a.Status)
}
