// Package planner turns an utterance plus session context into an ordered
// list of typed actions and a short human explanation.
//
// Routing is priority-ordered: deterministic quick-reference patterns first
// (so "open document 10" never becomes a search query), then the
// conversational fast path (which yields implicit music phrases to the music
// route), then the music fast path, and finally the LLM-driven planner. Whatever route produced the plan, sanitization and
// parameter enrichment always run on the result; when sanitization empties
// the plan the deterministic rule planner takes over.
package planner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nlxhq/nlx/internal/action"
	"github.com/nlxhq/nlx/internal/observe"
	"github.com/nlxhq/nlx/internal/resolve"
	"github.com/nlxhq/nlx/internal/session"
)

// Routes recorded in plan metrics and logs.
const (
	RouteQuickRef       = "quick_ref"
	RouteConversational = "conversational"
	RouteMusic          = "music"
	RouteLLM            = "llm"
	RouteFallback       = "fallback"
)

// Plan is the planner's output: actions in execution order plus a short
// explanation for the user.
type Plan struct {
	Actions     []*action.Action
	Explanation string
	Route       string
}

// Empty reports whether the plan holds no actions.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Actions) == 0
}

// TextGenerator requests a completion from the LLM backend. The planner is
// the only component that plans through the LLM; it must not itself require
// approval.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Planner builds plans. Construct with [New].
type Planner struct {
	llm     TextGenerator
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Planner. llm may be nil, in which case the LLM route is
// skipped and the deterministic planner serves everything.
func New(llm TextGenerator, metrics *observe.Metrics) *Planner {
	return &Planner{
		llm:     llm,
		metrics: metrics,
		log:     slog.Default().With("component", "planner"),
	}
}

// Plan produces the action list for utterance. resolved carries the slot
// bindings from reference resolution; they are merged into missing action
// parameters during enrichment.
func (p *Planner) Plan(ctx context.Context, utterance string, sess *session.Context, resolved resolve.Result) *Plan {
	trimmed := strings.TrimSpace(utterance)

	plan := p.route(ctx, trimmed, sess)

	// Post-processing always runs, whatever route fired.
	plan.Actions = sanitize(trimmed, sess, plan.Actions)
	if len(plan.Actions) == 0 {
		fallback := p.deterministicPlan(trimmed, sess)
		fallback.Route = RouteFallback
		plan = fallback
	}
	enrich(plan.Actions, sess, resolved)
	fixOpenCommands(plan.Actions)

	p.metrics.RecordPlan(ctx, plan.Route)
	p.log.Debug("plan built",
		"route", plan.Route,
		"actions", len(plan.Actions))
	return plan
}

// route picks the first matching planning strategy.
func (p *Planner) route(ctx context.Context, utterance string, sess *session.Context) *Plan {
	if plan := p.quickReference(utterance, sess); plan != nil {
		plan.Route = RouteQuickRef
		return plan
	}
	if plan := p.conversational(utterance); plan != nil {
		plan.Route = RouteConversational
		return plan
	}
	if plan := p.musicFastPath(utterance); plan != nil {
		plan.Route = RouteMusic
		return plan
	}
	if p.llm != nil {
		if plan := p.llmPlan(ctx, utterance, sess); plan != nil {
			plan.Route = RouteLLM
			return plan
		}
	}
	plan := p.deterministicPlan(utterance, sess)
	plan.Route = RouteFallback
	return plan
}
