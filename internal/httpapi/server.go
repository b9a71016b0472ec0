// Package httpapi is the loopback-only HTTP surface: read-only listing
// endpoints over the persisted state plus POST endpoints for approval
// decisions and job control.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Djtony707/TITAN/internal/gateway"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/scheduler"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Server serves the dashboard API: read endpoints plus approval decisions
// and job control.
type Server struct {
	store     *store.Store
	gateway   *gateway.Gateway
	scheduler *scheduler.Scheduler
	log       *logging.Logger

	http *http.Server
}

// New builds the server around the shared components.
func New(s *store.Store, gw *gateway.Gateway, sched *scheduler.Scheduler, log *logging.Logger) *Server {
	srv := &Server{store: s, gateway: gw, scheduler: sched, log: log}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/goals", srv.listGoals)
	r.Get("/goals/{id}", srv.showGoal)
	r.Get("/goals/{id}/traces", srv.listTraces)
	r.Get("/approvals", srv.listApprovals)
	r.Get("/jobs", srv.listJobs)
	r.Get("/connectors", srv.listConnectors)

	r.Post("/approvals/{id}/approve", srv.decide(store.DecisionApproved))
	r.Post("/approvals/{id}/deny", srv.decide(store.DecisionDenied))
	r.Post("/jobs/{id}/run-now", srv.jobRunNow)
	r.Post("/jobs/{id}/pause", srv.jobEnabled(false))
	r.Post("/jobs/{id}/resume", srv.jobEnabled(true))

	srv.http = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return srv
}

// ListenAndServe binds addr, refusing anything that does not resolve to
// loopback, and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "httpapi.ListenAndServe", "bad listen address", err)
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return titanerr.New(titanerr.KindValidation, "httpapi.ListenAndServe",
			"refusing to bind non-loopback address "+addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "httpapi.ListenAndServe", "bind "+addr, err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()
	s.log.Info("http surface listening", map[string]interface{}{"addr": addr})
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case titanerr.Is(err, titanerr.KindValidation):
		status = http.StatusBadRequest
	case titanerr.Is(err, titanerr.KindNotFound):
		status = http.StatusNotFound
	case titanerr.Is(err, titanerr.KindConflict):
		status = http.StatusConflict
	case titanerr.Is(err, titanerr.KindPolicy), titanerr.Is(err, titanerr.KindApproval):
		status = http.StatusForbidden
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) listGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.store.ListGoals(r.Context(), r.URL.Query().Get("state"), 200)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, goals)
}

func (s *Server) showGoal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	goal, err := s.store.GetGoal(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	steps, err := s.store.StepsForGoal(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"goal": goal, "steps": steps})
}

func (s *Server) listTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := s.store.TracesForGoal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, traces)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("pending") == "true"
	approvals, err := s.store.ListApprovals(r.Context(), pendingOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, approvals)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) listConnectors(w http.ResponseWriter, r *http.Request) {
	connectors, err := s.store.ListConnectors(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, connectors)
}

type decideRequest struct {
	Resolver string `json:"resolver"`
	Reason   string `json:"reason"`
}

// decide routes web approvals through the same gateway resolver path as
// the CLI, so races surface as 409s instead of double-writes.
func (s *Server) decide(decision string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body decideRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Resolver == "" {
			body.Resolver = "web"
		}
		_, err := s.gateway.Ingest(r.Context(), gateway.Event{
			Origin:      "http",
			ActorID:     body.Resolver,
			PayloadKind: gateway.KindApprovalDecision,
			Payload: gateway.Payload{
				ApprovalID: chi.URLParam(r, "id"),
				Decision:   decision,
				Reason:     body.Reason,
			},
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"decision": decision})
	}
}

func (s *Server) jobRunNow(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.RunNow(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) jobEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.SetJobEnabled(r.Context(), chi.URLParam(r, "id"), enabled); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
	}
}
