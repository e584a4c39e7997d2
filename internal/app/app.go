// Package app wires the Voxwire subsystems into the HTTP surface: the duplex
// call endpoint, the supervisory relay, flow management, and the operational
// probes. The [Manager] owns live calls; the [Server] owns routing.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxwire/voxwire/internal/flow"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/relay"
)

// ServerConfig wires a [Server].
type ServerConfig struct {
	Manager *Manager
	Hub     *relay.Hub

	// Store backs the flow endpoints. Nil disables them with a 503.
	Store FlowStore

	// Checkers feed the readiness probe.
	Checkers []health.Checker

	// BaseCtx is the context calls run under; it must outlive individual
	// requests and is cancelled at process shutdown.
	BaseCtx context.Context

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server is the Voxwire HTTP surface.
type Server struct {
	mgr     *Manager
	store   FlowStore
	baseCtx context.Context
	log     *slog.Logger
	met     *observe.Metrics
	router  chi.Router
}

// NewServer builds the router. cfg.Manager and cfg.Hub must be set.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("app: Manager must be set")
	}
	if cfg.Hub == nil {
		return nil, errors.New("app: Hub must be set")
	}
	s := &Server{
		mgr:     cfg.Manager,
		store:   cfg.Store,
		baseCtx: cfg.BaseCtx,
		log:     cfg.Logger,
		met:     cfg.Metrics,
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.met == nil {
		s.met = observe.DefaultMetrics()
	}

	hc := health.New(cfg.Checkers...)
	listen := relay.NewHandler(cfg.Hub,
		func() { s.met.RelayAttaches.Add(s.baseCtx, 1); s.met.ActiveListeners.Add(s.baseCtx, 1) },
		func() { s.met.ActiveListeners.Add(s.baseCtx, -1) },
	)

	r := chi.NewRouter()
	r.Use(observe.Middleware(s.met))
	r.Get("/healthz", hc.Healthz)
	r.Get("/readyz", hc.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/call", s.handleCall)
		r.Get("/calls", s.handleListCalls)
		r.Delete("/calls/{callID}", s.handleEndCall)
		r.Get("/calls/{callID}/listen", listen.ServeListen)
		r.Post("/agents/{agentID}/flow", s.handleCompileFlow)
		r.Get("/agents/{agentID}/flow", s.handleGetFlow)
	})

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// handleCall upgrades the request to the duplex audio socket and runs a call
// over it: inbound binary messages are capture frames, outbound binary
// messages are playback frames. The first text message announces the call id
// so a supervisor can attach to the relay.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	language := r.URL.Query().Get("language")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	// The session must survive request-scope cancellation quirks of the
	// upgrade, but still die with the connection: the read pump closing the
	// capture channel is the hangup signal.
	ctx := r.Context()
	dev := newWSDevice(ctx, conn, s.mgr.cfg.Audio.CaptureRate)

	callID, err := s.mgr.Start(s.baseCtx, agentID, language, dev, dev)
	if err != nil {
		s.log.Error("start call failed", "agent_id", agentID, "error", err)
		conn.Close(websocket.StatusInternalError, "could not start call")
		return
	}

	announce, _ := json.Marshal(map[string]string{"call_id": callID})
	if err := conn.Write(ctx, websocket.MessageText, announce); err != nil {
		s.mgr.End(callID)
		return
	}

	s.log.Info("call connected", "call_id", callID, "agent_id", agentID)
	dev.readPump(ctx)

	// Peer gone; make sure the session winds down too.
	s.mgr.End(callID)
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": s.mgr.List()})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if err := s.mgr.End(callID); err != nil {
		http.Error(w, "no such call", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// flowRequest is the compile-and-store payload.
type flowRequest struct {
	Script string `json:"script"`
}

// flowResponse carries the compiled steps plus the extraction contract the
// reasoning boundary will receive per step. When the script yields no
// detectable fields, Steps is empty and FallbackSlots carries the default
// slot set callers should use instead.
type flowResponse struct {
	AgentID       string          `json:"agent_id"`
	Steps         []flow.Step     `json:"steps"`
	Contracts     []flow.Contract `json:"contracts,omitempty"`
	FallbackSlots []flow.Slot     `json:"fallback_slots,omitempty"`
}

func (s *Server) handleCompileFlow(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Script == "" {
		http.Error(w, "body must be JSON with a non-empty script", http.StatusBadRequest)
		return
	}

	steps := flow.Compile(req.Script)
	resp := flowResponse{AgentID: agentID, Steps: steps}
	if len(steps) == 0 {
		resp.FallbackSlots = flow.DefaultSlots()
	}
	for _, st := range steps {
		resp.Contracts = append(resp.Contracts, flow.BuildContract(st.Slots))
	}

	if s.store != nil {
		if err := s.store.ReplaceFlow(r.Context(), agentID, req.Script, steps); err != nil {
			s.log.Error("store flow failed", "agent_id", agentID, "error", err)
			http.Error(w, "could not persist flow", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "flow persistence is not configured", http.StatusServiceUnavailable)
		return
	}
	agentID := chi.URLParam(r, "agentID")
	steps, err := s.store.LoadFlow(r.Context(), agentID)
	if err != nil {
		s.log.Error("load flow failed", "agent_id", agentID, "error", err)
		http.Error(w, "could not load flow", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{AgentID: agentID, Steps: steps})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}
