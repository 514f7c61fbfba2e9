// Package orchestrator executes a single planned action against the message
// bus and applies the resulting context mutations. It owns the per-kind
// dispatch table; unknown kinds fail fast.
//
// The orchestrator is synchronous: one action at a time, each bounded by a
// per-kind timeout. The sole asynchronous kind, music_generate, publishes a
// job and returns immediately with a pending result — the handler joins the
// async completion, not the orchestrator.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/observe"
	"github.com/nlxhq/nlx/internal/placeholder"
	"github.com/nlxhq/nlx/internal/resilience"
	"github.com/nlxhq/nlx/internal/session"
	"github.com/nlxhq/nlx/internal/websearch"
)

// MusicPendingSrc is the placeholder a queued music_save carries as its
// src_path until the async music result arrives.
const MusicPendingSrc = placeholder.MusicPending

// Timeouts bounds each blocking action kind. Zero fields get the defaults
// below.
type Timeouts struct {
	LLM           time.Duration
	Image         time.Duration
	OCR           time.Duration
	DocumentQuery time.Duration
	Shell         time.Duration
	SystemCommand time.Duration
}

// withDefaults fills zero fields.
func (t Timeouts) withDefaults() Timeouts {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&t.LLM, 30*time.Second)
	def(&t.Image, 60*time.Second)
	def(&t.OCR, 20*time.Second)
	def(&t.DocumentQuery, 10*time.Second)
	def(&t.Shell, 30*time.Second)
	def(&t.SystemCommand, 10*time.Second)
	return t
}

// Orchestrator executes actions for one handler instance. It is stateless
// apart from its collaborators; all conversational state lives in the
// [session.Context] passed to [Orchestrator.ExecuteAction].
type Orchestrator struct {
	bus         bus.Bus
	searcher    websearch.Searcher
	timeouts    Timeouts
	searchLimit int
	guard       *resilience.Guard
	metrics     *observe.Metrics
	log         *slog.Logger

	dispatch map[action.Kind]func(ctx context.Context, act *action.Action, sess *session.Context) *action.Result
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithTimeouts overrides the per-kind timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

// WithSearchLimit overrides the default web_search result count.
func WithSearchLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.searchLimit = n
		}
	}
}

// WithGuard wires a circuit-breaker guard around model-backend requests.
func WithGuard(g *resilience.Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithMetrics wires metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over the given bus and web searcher.
func New(b bus.Bus, searcher websearch.Searcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:         b,
		searcher:    searcher,
		searchLimit: 5,
		log:         slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.timeouts = o.timeouts.withDefaults()

	o.dispatch = map[action.Kind]func(context.Context, *action.Action, *session.Context) *action.Result{
		action.KindLLMGenerate:    o.llmGenerate,
		action.KindImageGenerate:  o.imageGenerate,
		action.KindImageSave:      o.imageSave,
		action.KindMusicGenerate:  o.musicGenerate,
		action.KindMusicSave:      o.musicSave,
		action.KindOCRCapture:     o.ocrCapture,
		action.KindDocumentQuery:  o.documentQuery,
		action.KindWebSearch:      o.webSearch,
		action.KindCommandExecute: o.commandExecute,
		action.KindSystemCommand:  o.systemCommand,
	}
	return o
}

// ExecuteAction runs one action, attaches its result, and on success
// applies the documented context-variable mutations. A skipped action
// (deferred music_save) gets [action.StatusSkipped] and a successful result
// flagged with details["skipped"]=true; no mutation is applied for it.
func (o *Orchestrator) ExecuteAction(ctx context.Context, act *action.Action, sess *session.Context) *action.Result {
	start := time.Now()

	handler, ok := o.dispatch[act.Kind]
	if !ok {
		res := action.Failure(act.Kind, action.ErrUnknownKind, "unknown action kind %q", act.Kind)
		act.Status = action.StatusFailed
		act.Result = res
		o.metrics.RecordAction(ctx, string(act.Kind), "error", time.Since(start))
		return res
	}

	act.Status = action.StatusExecuting
	res := handler(ctx, act, sess)
	act.Result = res

	status := "ok"
	switch {
	case res.Details != nil && res.Details["skipped"] == true:
		act.Status = action.StatusSkipped
		status = "skipped"
	case res.Success:
		act.Status = action.StatusCompleted
		o.mutateContext(act, res, sess)
	default:
		act.Status = action.StatusFailed
		status = "error"
	}

	o.metrics.RecordAction(ctx, string(act.Kind), status, time.Since(start))
	o.log.Debug("action executed",
		"kind", act.Kind,
		"status", act.Status,
		"elapsed", time.Since(start))
	return res
}

// request performs a guarded bus request and maps transport failures to
// action error kinds. The reply is nil exactly when the returned result is
// non-nil (a failure).
//
// Only transport failures count against the breaker — a well-formed
// {"error": ...} reply means the backend is alive.
func (o *Orchestrator) request(ctx context.Context, kind action.Kind, subject string, payload any, timeout time.Duration) ([]byte, *action.Result) {
	var reply []byte
	var remoteMsg string
	err := o.guard.Do(subject, func() error {
		r, err := o.bus.Request(ctx, subject, payload, timeout)
		if err != nil {
			return err
		}
		if msg, isErr := bus.RemoteError(r); isErr {
			remoteMsg = msg
			return nil
		}
		reply = r
		return nil
	})
	switch {
	case err == nil && remoteMsg != "":
		o.metrics.RecordBusRequest(ctx, subject, "error")
		return nil, action.Failure(kind, action.ErrRemote, "%s: %s", subject, remoteMsg)
	case err == nil:
		o.metrics.RecordBusRequest(ctx, subject, "ok")
		return reply, nil
	case errors.Is(err, resilience.ErrOpen):
		o.metrics.RecordBusRequest(ctx, subject, "error")
		return nil, action.Failure(kind, action.ErrRemote, "backend %s unavailable (circuit open)", subject)
	case errors.Is(err, bus.ErrTimeout):
		o.metrics.RecordBusRequest(ctx, subject, "timeout")
		return nil, action.Failure(kind, action.ErrTransportTimeout, "no reply from %s within %s", subject, timeout)
	default:
		o.metrics.RecordBusRequest(ctx, subject, "error")
		return nil, action.Failure(kind, action.ErrRemote, "%s: %v", subject, err)
	}
}
