// Package health serves the liveness and readiness probes for the voice
// reception service.
//
// GET /healthz reports liveness and always answers 200: a process that can
// serve HTTP is alive. GET /readyz reports readiness and answers 200 only
// when every registered [Checker] passes, meaning the site store answers
// queries and the speech provider is usable. Bodies are JSON with an overall
// "status" ("ok" or "fail") and a per-check "checks" map so an operator can
// see exactly which dependency is down.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness check. A hung dependency must fail
// the probe rather than hold it open indefinitely.
const probeTimeout = 5 * time.Second

// Checker probes one dependency of the reception service.
type Checker struct {
	// Name keys this check's result in the readiness response, e.g. "store"
	// or "provider".
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error
}

// run evaluates the check under probeTimeout and renders its result line.
func (c Checker) run(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := c.Check(ctx); err != nil {
		return "fail: " + err.Error(), false
	}
	return "ok", true
}

// report is the JSON body served by both probes.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The checker set is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler that evaluates the given checkers, in order, on every
// readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe. A failing check turns the response into a
// 503 with overall status "fail"; the remaining checks still run so the
// body names every broken dependency, not just the first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		line, ok := c.run(r.Context())
		rep.Checks[c.Name] = line
		if !ok {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
