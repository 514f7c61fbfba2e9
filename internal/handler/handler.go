// Package handler coordinates one conversation: it sequences plan →
// (optional approval) → execute → publish, chains outputs between actions,
// joins asynchronous music results, and persists the session after every
// exchange.
//
// A Handler exclusively owns the session for its session id. ProcessMessage
// and ApproveAndExecute are serialized per handler; concurrent handlers for
// the same session id are an unsupported configuration (last write wins on
// persistence).
package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/observe"
	"github.com/nlxhq/nlx/internal/orchestrator"
	"github.com/nlxhq/nlx/internal/planner"
	"github.com/nlxhq/nlx/internal/resolve"
	"github.com/nlxhq/nlx/internal/session"
)

// Response types returned to the caller.
const (
	TypeSuccess        = "success"
	TypeNeedsApproval  = "needs_approval"
	TypePartialSuccess = "partial_success"
	TypeError          = "error"
)

// defaultMusicWait bounds the asynchronous music join.
const defaultMusicWait = 300 * time.Second

// Response is the outcome of one processed utterance.
type Response struct {
	Type           string           `json:"type"`
	Message        string           `json:"message"`
	Actions        []*action.Action `json:"actions,omitempty"`
	Pending        *PendingActions  `json:"-"`
	ContextUpdates map[string]any   `json:"context_updates,omitempty"`
}

// PendingActions is the retained handle for a plan awaiting approval.
type PendingActions struct {
	Plan      *planner.Plan
	Utterance string
	Resolved  resolve.Result
	CreatedAt time.Time
}

// Handler drives the conversation for one session.
type Handler struct {
	mu sync.Mutex

	sessionID string
	userID    string

	store   *session.Store
	planner *planner.Planner
	orch    *orchestrator.Orchestrator
	bus     bus.Bus
	metrics *observe.Metrics
	log     *slog.Logger

	musicWait time.Duration
}

// Config wires a [Handler].
type Config struct {
	SessionID string
	UserID    string
	Store     *session.Store
	Planner   *planner.Planner
	Orch      *orchestrator.Orchestrator
	Bus       bus.Bus
	Metrics   *observe.Metrics

	// MusicWait overrides the 300 s async music join bound (tests).
	MusicWait time.Duration
}

// New creates a Handler. The session itself is loaded lazily per message so
// a redis restart between messages only costs continuity.
func New(cfg Config) *Handler {
	wait := cfg.MusicWait
	if wait <= 0 {
		wait = defaultMusicWait
	}
	return &Handler{
		sessionID: cfg.SessionID,
		userID:    cfg.UserID,
		store:     cfg.Store,
		planner:   cfg.Planner,
		orch:      cfg.Orch,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		log:       slog.Default().With("component", "handler", "session_id", cfg.SessionID),
		musicWait: wait,
	}
}

// ProcessMessage runs the full protocol for one utterance. With autoApprove
// false, plans containing approval-gated actions are returned unexecuted as
// [TypeNeedsApproval] with a [PendingActions] handle.
func (h *Handler) ProcessMessage(ctx context.Context, utterance string, autoApprove bool) *Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.store.Load(ctx, h.sessionID, h.userID)
	sess.AddTurn(session.Turn{Role: session.RoleUser, Content: utterance})

	resolved := resolve.Resolve(utterance, sess)
	plan := h.planner.Plan(ctx, utterance, sess, resolved)

	if plan.Empty() {
		msg := "I'm not sure what to do with that — could you rephrase?"
		sess.AddTurn(session.Turn{Role: session.RoleAssistant, Content: msg})
		h.persist(ctx, sess)
		return &Response{Type: TypeSuccess, Message: msg}
	}

	if !autoApprove && needsApproval(plan.Actions) {
		h.metrics.RecordApprovalPending(ctx)
		h.persist(ctx, sess)
		return &Response{
			Type:    TypeNeedsApproval,
			Message: approvalMessage(plan),
			Actions: plan.Actions,
			Pending: &PendingActions{
				Plan:      plan,
				Utterance: utterance,
				Resolved:  resolved,
				CreatedAt: time.Now(),
			},
		}
	}

	return h.execute(ctx, sess, plan.Actions, plan.Explanation)
}

// ApproveAndExecute runs the approved subset of a pending plan. A nil or
// empty approvedIndices approves every action; indices are zero-based
// positions into the pending action list.
func (h *Handler) ApproveAndExecute(ctx context.Context, pending *PendingActions, approvedIndices []int) *Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	if pending == nil || pending.Plan.Empty() {
		return &Response{Type: TypeError, Message: "nothing pending to approve"}
	}

	actions := pending.Plan.Actions
	if len(approvedIndices) > 0 {
		approved := make(map[int]bool, len(approvedIndices))
		for _, i := range approvedIndices {
			approved[i] = true
		}
		var subset []*action.Action
		for i, act := range actions {
			if approved[i] || !act.NeedsApproval {
				act.Status = action.StatusApproved
				subset = append(subset, act)
			} else {
				act.Status = action.StatusCancelled
			}
		}
		actions = subset
	} else {
		for _, act := range actions {
			act.Status = action.StatusApproved
		}
	}

	if len(actions) == 0 {
		return &Response{Type: TypeSuccess, Message: "All actions cancelled."}
	}

	sess := h.store.Load(ctx, h.sessionID, h.userID)
	return h.execute(ctx, sess, actions, pending.Plan.Explanation)
}

// SessionContext returns a fresh load of the handler's session, for
// read-only display (history, variables).
func (h *Handler) SessionContext(ctx context.Context) *session.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Load(ctx, h.sessionID, h.userID)
}

// ResetSession archives the current session and deletes the live copy.
// The archive id is returned; an empty session archives nothing.
func (h *Handler) ResetSession(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.store.Load(ctx, h.sessionID, h.userID)
	var archiveID string
	if len(sess.Turns) > 0 {
		id, err := h.store.Archive(ctx, sess)
		if err != nil {
			return "", err
		}
		archiveID = id
	}
	return archiveID, h.store.Reset(ctx, h.sessionID)
}

// persist saves the session, logging and swallowing failures: the response
// to the user still goes out when redis is down.
func (h *Handler) persist(ctx context.Context, sess *session.Context) {
	if err := h.store.Save(ctx, sess); err != nil {
		h.log.Warn("session persistence failed", "err", err)
	}
}

// needsApproval reports whether any action in the plan is approval-gated.
func needsApproval(actions []*action.Action) bool {
	for _, act := range actions {
		if act.NeedsApproval {
			return true
		}
	}
	return false
}

// approvalMessage renders the approval request shown to the user.
func approvalMessage(plan *planner.Plan) string {
	if plan.Explanation != "" {
		return plan.Explanation + " — approval required before I run these actions."
	}
	return "These actions need your approval before I run them."
}
