// Package health serves the engine's liveness and readiness probes.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; evaluates the registered dependency checks.
//
// The JSON body names the engine and carries one entry per dependency. A
// failing required dependency (the bus) takes the engine out of rotation;
// a failing optional one (the session store) only degrades it, since
// conversations still work without persistence.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const engineName = "nlx"

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency of the engine.
type Checker struct {
	// Name keys the check in the JSON report (e.g. "bus", "session_store").
	Name string

	// Optional marks a dependency the engine can serve without. Its failure
	// degrades readiness instead of failing it.
	Optional bool

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// checkState is one dependency's entry in the report.
type checkState struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// report is the JSON body served by both endpoints.
type report struct {
	Engine string                `json:"engine"`
	Status string                `json:"status"`
	Checks map[string]checkState `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe; it always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Engine: engineName, Status: "ok"})
}

// Readyz evaluates every registered [Checker] with a [checkTimeout]
// deadline. A required failure yields 503 with status "fail"; failures on
// optional dependencies only yield status "degraded" and keep the 200.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkState, len(h.checkers))
	status := "ok"
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		switch {
		case err == nil:
			checks[c.Name] = checkState{Status: "ok"}
		case c.Optional:
			checks[c.Name] = checkState{Status: "degraded", Error: err.Error()}
			if status == "ok" {
				status = "degraded"
			}
		default:
			checks[c.Name] = checkState{Status: "fail", Error: err.Error()}
			status = "fail"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, report{Engine: engineName, Status: status, Checks: checks})
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
