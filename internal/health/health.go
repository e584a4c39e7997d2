// Package health serves the operational probes for the Voxwire server.
//
// Liveness (/healthz) reports whether the process can still answer HTTP at
// all. Readiness (/readyz) additionally probes the dependencies a call needs
// before it can be served: the reasoning boundary and, when configured, the
// flow database. Probes run in parallel, each bounded by its own timeout, so
// one stuck dependency cannot mask the state of the others.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// probeTimeout bounds each individual dependency probe.
const probeTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve calls and must honor context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkResult is one probe's outcome in the readiness report.
type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. Safe for concurrent use; the checker
// set is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given dependency probes.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz answers the liveness probe. Reaching this handler is the proof.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: "pass"})
}

// Readyz runs every dependency probe in parallel and reports 200 only when
// all of them pass. Failures carry the probe error so an operator can tell a
// dead database from an unreachable boundary without reading logs.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			res := checkResult{Name: c.Name, Status: "pass"}
			if err := c.Check(ctx); err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	rep := report{Status: "pass", Checks: results}
	status := http.StatusOK
	for _, res := range results {
		if res.Status != "pass" {
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeReport(w, status, rep)
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
	}
}
